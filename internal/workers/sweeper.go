package workers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mailflow/internal/engine/automations"
	"mailflow/internal/engine/syncqueue"
	"mailflow/internal/engine/webhooks"
	"mailflow/internal/platform/config"
	"mailflow/internal/platform/database"
	"mailflow/internal/platform/models"
	"mailflow/internal/platform/repositories"
)

// Job names accepted by Run and the /cron endpoints.
const (
	JobProcessWebhooks = "process_webhooks"
	JobProcessSync     = "process_sync"
	JobCleanup         = "cleanup"
	JobHealthCheck     = "health_check"
)

// The sync drain takes a per-workspace lease so concurrent sweepers (cron
// endpoint plus worker binary) cannot double-process a queue. The TTL caps
// how long a crashed holder can wedge a workspace.
const (
	syncLockName = "process_sync"
	syncLockTTL  = 5 * time.Minute
)

// SweepStats aggregates one sweep run across all workspaces.
type SweepStats struct {
	Workspaces int   `json:"workspaces"`
	Processed  int   `json:"processed"`
	Failed     int   `json:"failed"`
	Skipped    int   `json:"skipped"`
	Purged     int64 `json:"purged,omitempty"`
}

// Sweeper is the cron-driven batch processor. Each job walks every live
// workspace, opens its database through the shared pool and works through a
// bounded batch. One workspace's (or one event's) failure never blocks the
// rest of the run.
type Sweeper struct {
	workspaces *repositories.WorkspaceRepository
	cronLogs   *repositories.CronLogRepository
	pool       *database.TenantDBPool
	dispatcher *automations.Dispatcher
	retry      RetryPolicy
	cfg        config.WebhooksConfig
	holder     string
	log        zerolog.Logger
}

func NewSweeper(
	workspaces *repositories.WorkspaceRepository,
	cronLogs *repositories.CronLogRepository,
	pool *database.TenantDBPool,
	dispatcher *automations.Dispatcher,
	cfg config.WebhooksConfig,
	log zerolog.Logger,
) *Sweeper {
	return &Sweeper{
		workspaces: workspaces,
		cronLogs:   cronLogs,
		pool:       pool,
		dispatcher: dispatcher,
		retry: RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			Backoff:     LinearBackoff(cfg.RetryBackoff),
		},
		cfg:    cfg,
		holder: "swp_" + uuid.NewString(),
		log:    log,
	}
}

// Run executes one named job under a cron log entry. Any error or panic is
// recorded there and swallowed; the next scheduled invocation simply runs
// again.
func (s *Sweeper) Run(ctx context.Context, job string) (stats *SweepStats, err error) {
	entry, logErr := s.cronLogs.Start(job)
	if logErr != nil {
		s.log.Error().Err(logErr).Str("job", job).Msg("failed to open cron log entry")
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sweep panicked: %v", rec)
		}
		status, details := "completed", ""
		if err != nil {
			status = "error"
			details = err.Error()
			s.log.Error().Err(err).Str("job", job).Msg("sweep finished with error")
		} else if stats != nil {
			if raw, marshalErr := json.Marshal(stats); marshalErr == nil {
				details = string(raw)
			}
		}
		if entry != nil {
			if finishErr := s.cronLogs.Finish(entry.ID, status, details); finishErr != nil {
				s.log.Error().Err(finishErr).Str("job", job).Msg("failed to close cron log entry")
			}
		}
	}()

	switch job {
	case JobProcessWebhooks:
		stats, err = s.ProcessWebhooks(ctx)
	case JobProcessSync:
		stats, err = s.ProcessSync(ctx)
	case JobCleanup:
		stats, err = s.Cleanup(ctx)
	case JobHealthCheck:
		stats, err = s.HealthCheck(ctx)
	default:
		err = fmt.Errorf("unknown job %q", job)
	}
	return stats, err
}

func (s *Sweeper) eachWorkspace(fn func(ws *models.Workspace, db *sql.DB) error) (*SweepStats, error) {
	list, err := s.workspaces.List()
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}

	stats := &SweepStats{}
	for _, ws := range list {
		db, err := s.pool.Get(ws.ID, ws.DBFilePath)
		if err != nil {
			s.log.Error().Err(err).Str("workspace_id", ws.ID).Msg("failed to open workspace database")
			continue
		}
		stats.Workspaces++
		if err := fn(ws, db); err != nil {
			s.log.Error().Err(err).Str("workspace_id", ws.ID).Msg("workspace sweep failed")
		}
	}
	return stats, nil
}

// ProcessWebhooks drains pending and retryable events per workspace and runs
// the automation pipeline for each.
func (s *Sweeper) ProcessWebhooks(ctx context.Context) (*SweepStats, error) {
	var totals SweepStats
	stats, err := s.eachWorkspace(func(ws *models.Workspace, db *sql.DB) error {
		events := webhooks.NewEventRepository(db)
		batch, err := events.SelectBatch(s.cfg.EventBatchSize, s.retry.MaxAttempts, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("select event batch: %w", err)
		}

		for _, ev := range batch {
			if err := events.MarkProcessing(ev.ID); err != nil {
				s.log.Error().Err(err).Str("event_id", ev.ID).Msg("failed to mark event processing")
				continue
			}
			if err := s.processEvent(ctx, db, ws.ID, ev, events); err != nil {
				totals.Failed++
			} else {
				totals.Processed++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	stats.Processed = totals.Processed
	stats.Failed = totals.Failed
	return stats, nil
}

func (s *Sweeper) processEvent(ctx context.Context, db *sql.DB, workspaceID string, ev *webhooks.Event, events *webhooks.EventRepository) error {
	trigger, payload, parseErr := eventTrigger(ev)
	if parseErr != nil {
		s.log.Warn().Err(parseErr).Str("event_id", ev.ID).
			Msg("stored raw payload is not valid JSON, dispatching normalized fields only")
	}

	results, err := s.dispatcher.Trigger(ctx, db, workspaceID, trigger, payload)
	if err == nil {
		// a rate-limited provider gets the event back on the next sweep
		// instead of burying the 429 in a failed execution log
		for _, res := range results {
			if res.RateLimited {
				err = automations.ErrRateLimited
				break
			}
		}
	}
	if err != nil {
		attempts := ev.RetryCount + 1
		next := s.retry.NextRetryAt(attempts, time.Now())
		if markErr := events.MarkFailed(ev.ID, err.Error(), next); markErr != nil {
			s.log.Error().Err(markErr).Str("event_id", ev.ID).Msg("failed to mark event failed")
		}
		if next == nil {
			s.log.Warn().
				Str("event_id", ev.ID).
				Int("attempts", attempts).
				Msg("event failed terminally, retry budget exhausted")
		}
		return err
	}

	if err := events.MarkCompleted(ev.ID); err != nil {
		s.log.Error().Err(err).Str("event_id", ev.ID).Msg("failed to mark event completed")
	}
	return nil
}

// eventTrigger rebuilds the canonical trigger name and the flat payload rules
// match against. Normalized fields win over raw payload keys of the same name.
func eventTrigger(ev *webhooks.Event) (string, map[string]interface{}, error) {
	payload := map[string]interface{}{}
	var parseErr error
	if ev.RawCurrent != "" {
		if parseErr = json.Unmarshal([]byte(ev.RawCurrent), &payload); parseErr != nil {
			payload = map[string]interface{}{}
		}
	}

	var trigger string
	if ev.ObjectType == "message" {
		trigger = ev.Provider + "." + ev.Action
	} else {
		trigger = ev.Provider + "." + ev.ObjectType + "." + ev.Action
	}

	payload["event"] = trigger
	payload["provider"] = ev.Provider
	payload["object_type"] = ev.ObjectType
	payload["object_id"] = ev.ObjectID
	payload["action"] = ev.Action
	if ev.ActorID != "" {
		payload["actor_id"] = ev.ActorID
	}
	if ev.Recipient != "" {
		payload["recipient"] = ev.Recipient
	}
	if ev.Description != "" {
		payload["description"] = ev.Description
	}
	if ev.ObjectType == "message" {
		payload["message_id"] = ev.ObjectID
	}
	return trigger, payload, parseErr
}

// ProcessSync drains the secondary sync queue, grouped by workspace. Each
// workspace drain runs under a leased lock; a workspace whose lease is held
// elsewhere is skipped for this run. An item needs an active provider
// connection; without one it fails and keeps its attempt count.
func (s *Sweeper) ProcessSync(ctx context.Context) (*SweepStats, error) {
	var totals SweepStats
	stats, err := s.eachWorkspace(func(ws *models.Workspace, db *sql.DB) error {
		queue := syncqueue.NewRepository(db)
		connections := automations.NewConnectionRepository(db)

		acquired, err := queue.AcquireLock(syncLockName, s.holder, syncLockTTL)
		if err != nil {
			return fmt.Errorf("acquire sync lock: %w", err)
		}
		if !acquired {
			s.log.Debug().Str("workspace_id", ws.ID).Msg("sync drain already locked, skipping workspace")
			totals.Skipped++
			return nil
		}
		defer func() {
			if err := queue.ReleaseLock(syncLockName, s.holder); err != nil {
				s.log.Error().Err(err).Str("workspace_id", ws.ID).Msg("failed to release sync lock")
			}
		}()

		items, err := queue.SelectPending(s.cfg.SyncBatchSize)
		if err != nil {
			return fmt.Errorf("select sync batch: %w", err)
		}

		processed := map[string]int64{}
		for _, item := range items {
			conn, err := connections.GetActive(item.Provider)
			if err != nil {
				s.log.Error().Err(err).Str("sync_id", item.ID).Msg("failed to load connection for sync item")
				totals.Failed++
				continue
			}
			if conn == nil {
				if err := queue.MarkFailed(item.ID, "no active connection for provider "+item.Provider); err != nil {
					s.log.Error().Err(err).Str("sync_id", item.ID).Msg("failed to mark sync item failed")
				}
				totals.Failed++
				continue
			}
			if err := queue.MarkProcessed(item.ID); err != nil {
				s.log.Error().Err(err).Str("sync_id", item.ID).Msg("failed to mark sync item processed")
				totals.Failed++
				continue
			}
			processed[item.Provider]++
			totals.Processed++
		}

		for provider, count := range processed {
			if err := queue.RecordMetric(provider, "sync_items_processed", count); err != nil {
				s.log.Error().Err(err).Str("provider", provider).Msg("failed to record sync metric")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	stats.Processed = totals.Processed
	stats.Failed = totals.Failed
	stats.Skipped = totals.Skipped
	return stats, nil
}

// Cleanup applies the retention windows: completed events, sync metrics and
// expired cross-workspace sync locks.
func (s *Sweeper) Cleanup(ctx context.Context) (*SweepStats, error) {
	var purged int64
	stats, err := s.eachWorkspace(func(ws *models.Workspace, db *sql.DB) error {
		events := webhooks.NewEventRepository(db)
		queue := syncqueue.NewRepository(db)
		now := time.Now()

		n, err := events.PurgeCompleted(now.Add(-s.cfg.EventRetention).Unix())
		if err != nil {
			return fmt.Errorf("purge events: %w", err)
		}
		purged += n

		if _, err := queue.PurgeMetrics(now.Add(-s.cfg.MetricsRetention).Unix()); err != nil {
			return fmt.Errorf("purge metrics: %w", err)
		}
		if _, err := queue.ReleaseExpiredLocks(now.Unix()); err != nil {
			return fmt.Errorf("release locks: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	stats.Purged = purged
	return stats, nil
}

// HealthCheck recomputes each provider's healthy flag from whether the
// workspace saw an event inside the configured window.
func (s *Sweeper) HealthCheck(ctx context.Context) (*SweepStats, error) {
	var totals SweepStats
	stats, err := s.eachWorkspace(func(ws *models.Workspace, db *sql.DB) error {
		events := webhooks.NewEventRepository(db)
		status := webhooks.NewStatusRepository(db)

		providers, err := events.Providers()
		if err != nil {
			return fmt.Errorf("list providers: %w", err)
		}

		cutoff := time.Now().Add(-s.cfg.HealthyWindow).Unix()
		for _, provider := range providers {
			lastAt, err := events.LastEventAt(provider)
			if err != nil {
				return fmt.Errorf("last event for %s: %w", provider, err)
			}
			healthy := lastAt != nil && *lastAt >= cutoff
			if err := status.SetHealthy(provider, healthy); err != nil {
				return fmt.Errorf("set %s healthy: %w", provider, err)
			}
			totals.Processed++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	stats.Processed = totals.Processed
	return stats, nil
}
