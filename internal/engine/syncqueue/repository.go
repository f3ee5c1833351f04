package syncqueue

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Item is one queued provider sync operation (contact push, deal refresh and
// the like) drained in batches by the sweeper.
type Item struct {
	ID          string `json:"id"`
	Provider    string `json:"provider"`
	Operation   string `json:"operation"`
	Payload     string `json:"payload,omitempty"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	LastError   string `json:"last_error,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	ProcessedAt *int64 `json:"processed_at,omitempty"`
}

type Metric struct {
	ID         string `json:"id"`
	Provider   string `json:"provider"`
	Metric     string `json:"metric"`
	Value      int64  `json:"value"`
	RecordedAt int64  `json:"recorded_at"`
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Enqueue(item *Item) error {
	if item.ID == "" {
		item.ID = "syn_" + uuid.NewString()
	}
	item.Status = "pending"
	item.CreatedAt = time.Now().Unix()

	_, err := r.db.Exec(`
		INSERT INTO sync_queue (id, provider, operation, payload, status, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`, item.ID, item.Provider, item.Operation, item.Payload, item.Status, item.CreatedAt)
	return err
}

func (r *Repository) SelectPending(limit int) ([]*Item, error) {
	rows, err := r.db.Query(`
		SELECT id, provider, operation, payload, status, attempts, last_error, created_at, processed_at
		FROM sync_queue WHERE status = 'pending' ORDER BY created_at ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item := &Item{}
		var payload, lastError sql.NullString
		if err := rows.Scan(&item.ID, &item.Provider, &item.Operation, &payload, &item.Status,
			&item.Attempts, &lastError, &item.CreatedAt, &item.ProcessedAt); err != nil {
			return nil, err
		}
		item.Payload = payload.String
		item.LastError = lastError.String
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *Repository) MarkProcessed(id string) error {
	_, err := r.db.Exec(`
		UPDATE sync_queue SET status = 'processed', processed_at = ? WHERE id = ?
	`, time.Now().Unix(), id)
	return err
}

func (r *Repository) MarkFailed(id, lastError string) error {
	_, err := r.db.Exec(`
		UPDATE sync_queue SET status = 'failed', attempts = attempts + 1, last_error = ?, processed_at = ?
		WHERE id = ?
	`, lastError, time.Now().Unix(), id)
	return err
}

func (r *Repository) RecordMetric(provider, metric string, value int64) error {
	_, err := r.db.Exec(`
		INSERT INTO sync_metrics (id, provider, metric, value, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, "met_"+uuid.NewString(), provider, metric, value, time.Now().Unix())
	return err
}

// PurgeMetrics deletes sync metrics recorded before the cutoff.
func (r *Repository) PurgeMetrics(before int64) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM sync_metrics WHERE recorded_at < ?`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReleaseExpiredLocks clears sync locks whose lease has lapsed so a crashed
// holder cannot wedge a workspace's sync forever.
func (r *Repository) ReleaseExpiredLocks(now int64) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM sync_locks WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AcquireLock takes a named lease for the holder. Returns false when a live
// lease is already held by someone else.
func (r *Repository) AcquireLock(name, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().Unix()
	expires := now + int64(ttl.Seconds())

	res, err := r.db.Exec(`
		INSERT INTO sync_locks (name, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE sync_locks.expires_at <= ?
	`, name, holder, expires, now)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *Repository) ReleaseLock(name, holder string) error {
	_, err := r.db.Exec(`DELETE FROM sync_locks WHERE name = ? AND holder = ?`, name, holder)
	return err
}
