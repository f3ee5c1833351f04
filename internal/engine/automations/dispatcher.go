package automations

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// Dispatcher runs the match -> gate -> execute -> log pipeline for one
// trigger event within one workspace. Repositories are constructed per call
// against the workspace database handle, mirroring how request handlers use
// the tenant pool.
type Dispatcher struct {
	registry *Registry
	log      zerolog.Logger
}

func NewDispatcher(registry *Registry, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, log: log}
}

// Trigger evaluates every active rule for the event and dispatches the ones
// that match. One rule's failure never aborts the rest of the batch; each
// attempt gets its own execution log row and counter update. Rules whose
// provider connection is missing or not actively syncing are skipped softly,
// without an execution log entry.
func (d *Dispatcher) Trigger(ctx context.Context, db *sql.DB, workspaceID, trigger string, payload map[string]interface{}) ([]DispatchResult, error) {
	rules := NewRuleRepository(db)
	connections := NewConnectionRepository(db)
	execLogs := NewExecutionLogRepository(db)

	candidates, err := rules.ListActiveByTrigger(trigger)
	if err != nil {
		return nil, fmt.Errorf("list rules for %q: %w", trigger, err)
	}

	var results []DispatchResult
	for _, rule := range candidates {
		if !MatchConditions(rule.Conditions, payload) {
			continue
		}

		conn, err := connections.GetActive(rule.Provider)
		if err != nil {
			return results, fmt.Errorf("load %s connection: %w", rule.Provider, err)
		}
		if conn == nil {
			d.log.Debug().
				Str("workspace_id", workspaceID).
				Str("automation_id", rule.ID).
				Str("provider", rule.Provider).
				Msg("skipping rule, no active provider connection")
			results = append(results, DispatchResult{
				AutomationID: rule.ID,
				Provider:     rule.Provider,
				Action:       rule.ActionType,
				Skipped:      true,
			})
			continue
		}

		result := d.dispatchOne(ctx, rule, conn, trigger, payload)

		entry := &ExecutionLog{
			AutomationID: rule.ID,
			Provider:     rule.Provider,
			ActionType:   rule.ActionType,
			TriggerEvent: trigger,
			Status:       "success",
		}
		if raw, err := json.Marshal(payload); err == nil {
			entry.TriggerPayload = string(raw)
		}
		if raw, err := json.Marshal(rule.ActionConfig); err == nil {
			entry.ActionConfig = string(raw)
		}
		if !result.Success {
			entry.Status = "failed"
			entry.ErrorMessage = result.Error
		}
		if err := execLogs.Create(entry); err != nil {
			d.log.Error().Err(err).Str("automation_id", rule.ID).Msg("failed to write execution log")
		}

		if result.Success {
			if err := rules.IncrementSuccess(rule.ID); err != nil {
				d.log.Error().Err(err).Str("automation_id", rule.ID).Msg("failed to increment success count")
			}
		} else {
			if err := rules.IncrementFailure(rule.ID); err != nil {
				d.log.Error().Err(err).Str("automation_id", rule.ID).Msg("failed to increment failure count")
			}
		}

		results = append(results, DispatchResult{
			AutomationID: rule.ID,
			Provider:     rule.Provider,
			Action:       rule.ActionType,
			Success:      result.Success,
			RateLimited:  result.RateLimited,
			Error:        result.Error,
		})
	}

	return results, nil
}

// dispatchOne isolates a single rule execution: a panicking or erroring
// action becomes a failed Result rather than taking down the batch.
func (d *Dispatcher) dispatchOne(ctx context.Context, rule *Rule, conn *Connection, trigger string, payload map[string]interface{}) (result *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error().
				Str("automation_id", rule.ID).
				Interface("panic", rec).
				Msg("action handler panicked")
			result = &Result{Success: false, Error: fmt.Sprintf("action panicked: %v", rec)}
		}
	}()

	action, err := d.registry.Resolve(rule.Provider, rule.ActionType)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}
	}

	res, err := action.Execute(ctx, conn.AuthData, rule.ActionConfig, payload)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}
	}
	if res.RateLimited {
		d.log.Warn().
			Str("automation_id", rule.ID).
			Str("provider", rule.Provider).
			Msg("provider rate limited dispatch")
	}
	return res
}
