package webhooks

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventRepository persists inbound events in a workspace database. The
// dedup_key column carries a unique index; Record relies on it so concurrent
// redeliveries of the same logical event collapse to a single row.
type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Record stores a normalized event with status pending. A duplicate delivery
// is a success-no-op: the existing row is returned and created is false.
func (r *EventRepository) Record(workspaceID string, n *Normalized) (*Event, bool, error) {
	now := time.Now().Unix()

	ev := &Event{
		ID:          "evt_" + uuid.NewString(),
		DedupKey:    n.DedupKey(workspaceID),
		Provider:    n.Provider,
		ObjectType:  n.ObjectType,
		ObjectID:    n.ObjectID,
		Action:      n.Action,
		ActorID:     n.ActorID,
		Recipient:   n.Recipient,
		Description: n.Description,
		EventTime:   n.Timestamp.Unix(),
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if n.Current != nil {
		raw, err := json.Marshal(n.Current)
		if err != nil {
			return nil, false, err
		}
		ev.RawCurrent = string(raw)
	}
	if n.Previous != nil {
		raw, err := json.Marshal(n.Previous)
		if err != nil {
			return nil, false, err
		}
		ev.RawPrevious = string(raw)
	}

	res, err := r.db.Exec(`
		INSERT OR IGNORE INTO webhook_events
			(id, dedup_key, provider, object_type, object_id, action, actor_id, recipient,
			 description, event_time, raw_current, raw_previous, status, retry_count,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`, ev.ID, ev.DedupKey, ev.Provider, ev.ObjectType, ev.ObjectID, ev.Action, ev.ActorID,
		ev.Recipient, ev.Description, ev.EventTime, ev.RawCurrent, ev.RawPrevious,
		ev.Status, ev.CreatedAt, ev.UpdatedAt)
	if err != nil {
		return nil, false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if affected == 0 {
		existing, err := r.GetByDedupKey(ev.DedupKey)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return ev, true, nil
}

const eventColumns = `id, dedup_key, provider, object_type, object_id, action, actor_id,
	recipient, description, event_time, raw_current, raw_previous, status, retry_count,
	next_retry_at, last_error, created_at, updated_at`

func (r *EventRepository) scanEvent(row interface{ Scan(...interface{}) error }) (*Event, error) {
	ev := &Event{}
	var actorID, recipient, description, rawCurrent, rawPrevious, lastError sql.NullString
	err := row.Scan(&ev.ID, &ev.DedupKey, &ev.Provider, &ev.ObjectType, &ev.ObjectID, &ev.Action,
		&actorID, &recipient, &description, &ev.EventTime, &rawCurrent, &rawPrevious,
		&ev.Status, &ev.RetryCount, &ev.NextRetryAt, &lastError, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ev.ActorID = actorID.String
	ev.Recipient = recipient.String
	ev.Description = description.String
	ev.RawCurrent = rawCurrent.String
	ev.RawPrevious = rawPrevious.String
	ev.LastError = lastError.String
	return ev, nil
}

func (r *EventRepository) GetByID(id string) (*Event, error) {
	ev, err := r.scanEvent(r.db.QueryRow(`SELECT `+eventColumns+` FROM webhook_events WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ev, err
}

func (r *EventRepository) GetByDedupKey(key string) (*Event, error) {
	ev, err := r.scanEvent(r.db.QueryRow(`SELECT `+eventColumns+` FROM webhook_events WHERE dedup_key = ?`, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ev, err
}

// SelectBatch returns events ready for processing: pending, plus failed ones
// whose retry budget and backoff window allow another attempt. Oldest first.
func (r *EventRepository) SelectBatch(limit, maxAttempts int, now int64) ([]*Event, error) {
	rows, err := r.db.Query(`
		SELECT `+eventColumns+` FROM webhook_events
		WHERE status = ?
		   OR (status = ? AND retry_count < ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?)
		ORDER BY created_at ASC
		LIMIT ?
	`, StatusPending, StatusFailed, maxAttempts, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev, err := r.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *EventRepository) MarkProcessing(id string) error {
	_, err := r.db.Exec(`
		UPDATE webhook_events SET status = ?, updated_at = ? WHERE id = ?
	`, StatusProcessing, time.Now().Unix(), id)
	return err
}

func (r *EventRepository) MarkCompleted(id string) error {
	_, err := r.db.Exec(`
		UPDATE webhook_events SET status = ?, last_error = NULL, next_retry_at = NULL, updated_at = ?
		WHERE id = ?
	`, StatusCompleted, time.Now().Unix(), id)
	return err
}

// MarkFailed records the failure and schedules the next attempt. A nil
// nextRetryAt means the retry budget is exhausted and the event is terminal.
func (r *EventRepository) MarkFailed(id, lastError string, nextRetryAt *int64) error {
	_, err := r.db.Exec(`
		UPDATE webhook_events
		SET status = ?, retry_count = retry_count + 1, last_error = ?, next_retry_at = ?, updated_at = ?
		WHERE id = ?
	`, StatusFailed, lastError, nextRetryAt, time.Now().Unix(), id)
	return err
}

// PurgeCompleted deletes completed events created before the cutoff. Failed
// events are kept for inspection.
func (r *EventRepository) PurgeCompleted(before int64) (int64, error) {
	res, err := r.db.Exec(`
		DELETE FROM webhook_events WHERE status = ? AND created_at < ?
	`, StatusCompleted, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LastEventAt returns the creation time of the most recent event for the
// provider, or nil when none exist.
func (r *EventRepository) LastEventAt(provider string) (*int64, error) {
	var at sql.NullInt64
	err := r.db.QueryRow(`
		SELECT MAX(created_at) FROM webhook_events WHERE provider = ?
	`, provider).Scan(&at)
	if err != nil {
		return nil, err
	}
	if !at.Valid {
		return nil, nil
	}
	return &at.Int64, nil
}

func (r *EventRepository) Providers() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT provider FROM webhook_events`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var providers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}
