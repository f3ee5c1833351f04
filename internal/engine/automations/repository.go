package automations

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type RuleRepository struct {
	db *sql.DB
}

func NewRuleRepository(db *sql.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

const ruleColumns = `id, name, trigger_event, trigger_conditions, provider, action_type,
	action_config, execution_order, active, success_count, failure_count, created_at, updated_at`

func (r *RuleRepository) Create(rule *Rule) error {
	if rule.ID == "" {
		rule.ID = "aut_" + uuid.NewString()
	}
	now := time.Now().Unix()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	conditions, err := marshalJSONColumn(rule.Conditions)
	if err != nil {
		return err
	}
	config, err := marshalJSONColumn(rule.ActionConfig)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		INSERT INTO automation_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)
	`, rule.ID, rule.Name, rule.TriggerEvent, conditions, rule.Provider, rule.ActionType,
		config, rule.ExecutionOrder, rule.Active, rule.CreatedAt, rule.UpdatedAt)
	return err
}

func (r *RuleRepository) scanRule(row interface{ Scan(...interface{}) error }) (*Rule, error) {
	rule := &Rule{}
	var conditions, config sql.NullString
	err := row.Scan(&rule.ID, &rule.Name, &rule.TriggerEvent, &conditions, &rule.Provider,
		&rule.ActionType, &config, &rule.ExecutionOrder, &rule.Active,
		&rule.SuccessCount, &rule.FailureCount, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if conditions.Valid && conditions.String != "" {
		json.Unmarshal([]byte(conditions.String), &rule.Conditions)
	}
	if config.Valid && config.String != "" {
		json.Unmarshal([]byte(config.String), &rule.ActionConfig)
	}
	return rule, nil
}

func (r *RuleRepository) GetByID(id string) (*Rule, error) {
	rule, err := r.scanRule(r.db.QueryRow(`SELECT `+ruleColumns+` FROM automation_rules WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rule, err
}

func (r *RuleRepository) List() ([]*Rule, error) {
	return r.queryRules(`SELECT ` + ruleColumns + ` FROM automation_rules ORDER BY execution_order ASC, created_at ASC`)
}

// ListActiveByTrigger returns the candidate rules for one trigger event in
// execution order. Condition evaluation happens in the dispatcher.
func (r *RuleRepository) ListActiveByTrigger(trigger string) ([]*Rule, error) {
	return r.queryRules(`
		SELECT `+ruleColumns+` FROM automation_rules
		WHERE active = 1 AND trigger_event = ?
		ORDER BY execution_order ASC, created_at ASC
	`, trigger)
}

func (r *RuleRepository) queryRules(query string, args ...interface{}) ([]*Rule, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *RuleRepository) Update(rule *Rule) error {
	rule.UpdatedAt = time.Now().Unix()

	conditions, err := marshalJSONColumn(rule.Conditions)
	if err != nil {
		return err
	}
	config, err := marshalJSONColumn(rule.ActionConfig)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		UPDATE automation_rules
		SET name = ?, trigger_event = ?, trigger_conditions = ?, provider = ?, action_type = ?,
		    action_config = ?, execution_order = ?, active = ?, updated_at = ?
		WHERE id = ?
	`, rule.Name, rule.TriggerEvent, conditions, rule.Provider, rule.ActionType,
		config, rule.ExecutionOrder, rule.Active, rule.UpdatedAt, rule.ID)
	return err
}

func (r *RuleRepository) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM automation_rules WHERE id = ?`, id)
	return err
}

// Counters only ever move forward; they are never reset.
func (r *RuleRepository) IncrementSuccess(id string) error {
	_, err := r.db.Exec(`UPDATE automation_rules SET success_count = success_count + 1 WHERE id = ?`, id)
	return err
}

func (r *RuleRepository) IncrementFailure(id string) error {
	_, err := r.db.Exec(`UPDATE automation_rules SET failure_count = failure_count + 1 WHERE id = ?`, id)
	return err
}

type ConnectionRepository struct {
	db *sql.DB
}

func NewConnectionRepository(db *sql.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

func (r *ConnectionRepository) Create(conn *Connection) error {
	if conn.ID == "" {
		conn.ID = "con_" + uuid.NewString()
	}
	now := time.Now().Unix()
	conn.CreatedAt = now
	conn.UpdatedAt = now
	if conn.SyncState == "" {
		conn.SyncState = "active"
	}

	authData, err := marshalJSONColumn(conn.AuthData)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		INSERT INTO integration_connections (id, provider, auth_data, sync_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, conn.ID, conn.Provider, authData, conn.SyncState, conn.CreatedAt, conn.UpdatedAt)
	return err
}

// GetActive returns the provider connection only when it is present and in
// the active sync state; nil otherwise.
func (r *ConnectionRepository) GetActive(provider string) (*Connection, error) {
	conn := &Connection{}
	var authData sql.NullString
	err := r.db.QueryRow(`
		SELECT id, provider, auth_data, sync_state, created_at, updated_at
		FROM integration_connections WHERE provider = ? AND sync_state = 'active'
		ORDER BY created_at DESC LIMIT 1
	`, provider).Scan(&conn.ID, &conn.Provider, &authData, &conn.SyncState, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if authData.Valid && authData.String != "" {
		json.Unmarshal([]byte(authData.String), &conn.AuthData)
	}
	return conn, nil
}

func (r *ConnectionRepository) List() ([]*Connection, error) {
	rows, err := r.db.Query(`
		SELECT id, provider, auth_data, sync_state, created_at, updated_at
		FROM integration_connections ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []*Connection
	for rows.Next() {
		conn := &Connection{}
		var authData sql.NullString
		if err := rows.Scan(&conn.ID, &conn.Provider, &authData, &conn.SyncState, &conn.CreatedAt, &conn.UpdatedAt); err != nil {
			return nil, err
		}
		if authData.Valid && authData.String != "" {
			json.Unmarshal([]byte(authData.String), &conn.AuthData)
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

func (r *ConnectionRepository) UpdateSyncState(id, state string) error {
	_, err := r.db.Exec(`
		UPDATE integration_connections SET sync_state = ?, updated_at = ? WHERE id = ?
	`, state, time.Now().Unix(), id)
	return err
}

type ExecutionLogRepository struct {
	db *sql.DB
}

func NewExecutionLogRepository(db *sql.DB) *ExecutionLogRepository {
	return &ExecutionLogRepository{db: db}
}

func (r *ExecutionLogRepository) Create(entry *ExecutionLog) error {
	if entry.ID == "" {
		entry.ID = "log_" + uuid.NewString()
	}
	if entry.ExecutedAt == 0 {
		entry.ExecutedAt = time.Now().Unix()
	}

	_, err := r.db.Exec(`
		INSERT INTO execution_logs
			(id, automation_id, provider, action_type, trigger_event, trigger_payload,
			 action_config, status, error_message, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.AutomationID, entry.Provider, entry.ActionType, entry.TriggerEvent,
		entry.TriggerPayload, entry.ActionConfig, entry.Status, entry.ErrorMessage, entry.ExecutedAt)
	return err
}

func (r *ExecutionLogRepository) ListByAutomation(automationID string, limit int) ([]*ExecutionLog, error) {
	return r.queryLogs(`
		SELECT id, automation_id, provider, action_type, trigger_event, trigger_payload,
		       action_config, status, error_message, executed_at
		FROM execution_logs WHERE automation_id = ? ORDER BY executed_at DESC LIMIT ?
	`, automationID, limit)
}

func (r *ExecutionLogRepository) ListRecent(limit int) ([]*ExecutionLog, error) {
	return r.queryLogs(`
		SELECT id, automation_id, provider, action_type, trigger_event, trigger_payload,
		       action_config, status, error_message, executed_at
		FROM execution_logs ORDER BY executed_at DESC LIMIT ?
	`, limit)
}

func (r *ExecutionLogRepository) queryLogs(query string, args ...interface{}) ([]*ExecutionLog, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*ExecutionLog
	for rows.Next() {
		entry := &ExecutionLog{}
		var payload, config, errMsg sql.NullString
		if err := rows.Scan(&entry.ID, &entry.AutomationID, &entry.Provider, &entry.ActionType,
			&entry.TriggerEvent, &payload, &config, &entry.Status, &errMsg, &entry.ExecutedAt); err != nil {
			return nil, err
		}
		entry.TriggerPayload = payload.String
		entry.ActionConfig = config.String
		entry.ErrorMessage = errMsg.String
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func marshalJSONColumn(m map[string]interface{}) (string, error) {
	if m == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
