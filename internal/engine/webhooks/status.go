package webhooks

import (
	"database/sql"
	"time"
)

// StatusRepository maintains the rolling per-provider health row. All writes
// are upserts: the row reflects the latest observation, not history. Updates
// are last-writer-wins; concurrent deliveries may overwrite each other's
// observation, which is acceptable for a health summary.
type StatusRepository struct {
	db *sql.DB
}

func NewStatusRepository(db *sql.DB) *StatusRepository {
	return &StatusRepository{db: db}
}

func (r *StatusRepository) RecordSuccess(provider string) error {
	now := time.Now().Unix()
	_, err := r.db.Exec(`
		INSERT INTO webhook_status (provider, last_event_at, consecutive_failures, healthy, updated_at)
		VALUES (?, ?, 0, 1, ?)
		ON CONFLICT(provider) DO UPDATE SET
			last_event_at = excluded.last_event_at,
			consecutive_failures = 0,
			healthy = 1,
			updated_at = excluded.updated_at
	`, provider, now, now)
	return err
}

func (r *StatusRepository) RecordError(provider, message string) error {
	now := time.Now().Unix()
	_, err := r.db.Exec(`
		INSERT INTO webhook_status (provider, last_error_at, last_error, consecutive_failures, healthy, updated_at)
		VALUES (?, ?, ?, 1, 0, ?)
		ON CONFLICT(provider) DO UPDATE SET
			last_error_at = excluded.last_error_at,
			last_error = excluded.last_error,
			consecutive_failures = webhook_status.consecutive_failures + 1,
			healthy = 0,
			updated_at = excluded.updated_at
	`, provider, now, message, now)
	return err
}

// SetHealthy recomputes the healthy flag without touching the error fields.
// The sweeper calls this from the health job.
func (r *StatusRepository) SetHealthy(provider string, healthy bool) error {
	now := time.Now().Unix()
	_, err := r.db.Exec(`
		INSERT INTO webhook_status (provider, healthy, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET
			healthy = excluded.healthy,
			updated_at = excluded.updated_at
	`, provider, healthy, now)
	return err
}

func (r *StatusRepository) Get(provider string) (*Status, error) {
	st := &Status{}
	var lastError sql.NullString
	err := r.db.QueryRow(`
		SELECT provider, last_event_at, last_error_at, last_error, consecutive_failures, healthy, updated_at
		FROM webhook_status WHERE provider = ?
	`, provider).Scan(&st.Provider, &st.LastEventAt, &st.LastErrorAt, &lastError,
		&st.ConsecutiveFailures, &st.Healthy, &st.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	st.LastError = lastError.String
	return st, nil
}

func (r *StatusRepository) List() ([]*Status, error) {
	rows, err := r.db.Query(`
		SELECT provider, last_event_at, last_error_at, last_error, consecutive_failures, healthy, updated_at
		FROM webhook_status ORDER BY provider ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses []*Status
	for rows.Next() {
		st := &Status{}
		var lastError sql.NullString
		if err := rows.Scan(&st.Provider, &st.LastEventAt, &st.LastErrorAt, &lastError,
			&st.ConsecutiveFailures, &st.Healthy, &st.UpdatedAt); err != nil {
			return nil, err
		}
		st.LastError = lastError.String
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}
