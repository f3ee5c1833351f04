package syncqueue

import (
	"database/sql"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	query := `
	CREATE TABLE sync_queue (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		operation TEXT NOT NULL,
		payload TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at INTEGER NOT NULL,
		processed_at INTEGER
	);
	CREATE TABLE sync_metrics (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		metric TEXT NOT NULL,
		value INTEGER NOT NULL,
		recorded_at INTEGER NOT NULL
	);
	CREATE TABLE sync_locks (
		name TEXT PRIMARY KEY,
		holder TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(query); err != nil {
		t.Fatalf("Failed to create tables: %v", err)
	}
	return db
}

func TestEnqueueAndSelectPending(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	item := &Item{Provider: "pipedrive", Operation: "object_refresh", Payload: `{"object_id":"42"}`}
	if err := repo.Enqueue(item); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if !strings.HasPrefix(item.ID, "syn_") {
		t.Errorf("Expected a generated syn_ id, got %q", item.ID)
	}

	items, err := repo.SelectPending(10)
	if err != nil {
		t.Fatalf("SelectPending failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected 1 pending item, got %d", len(items))
	}
	got := items[0]
	if got.ID != item.ID || got.Status != "pending" || got.Operation != "object_refresh" {
		t.Errorf("Unexpected item %+v", got)
	}
	if got.Payload != `{"object_id":"42"}` {
		t.Errorf("Payload not round-tripped: %q", got.Payload)
	}
}

func TestAcquireLockContention(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	acquired, err := repo.AcquireLock("process_sync", "worker-1", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if !acquired {
		t.Fatal("Fresh lock must be acquired")
	}

	acquired, err = repo.AcquireLock("process_sync", "worker-2", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if acquired {
		t.Error("Live lease held by worker-1 must not be taken by worker-2")
	}

	if err := repo.ReleaseLock("process_sync", "worker-1"); err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}

	acquired, err = repo.AcquireLock("process_sync", "worker-2", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if !acquired {
		t.Error("Released lock must be acquirable")
	}
}

func TestAcquireLockExpiredLease(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)

	expired := time.Now().Add(-time.Minute).Unix()
	if _, err := db.Exec(`INSERT INTO sync_locks (name, holder, expires_at) VALUES ('process_sync', 'crashed', ?)`, expired); err != nil {
		t.Fatalf("Failed to insert lock: %v", err)
	}

	acquired, err := repo.AcquireLock("process_sync", "worker-1", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if !acquired {
		t.Fatal("Expired lease must be stealable")
	}

	var holder string
	db.QueryRow(`SELECT holder FROM sync_locks WHERE name = 'process_sync'`).Scan(&holder)
	if holder != "worker-1" {
		t.Errorf("Expected worker-1 to hold the lock, got %q", holder)
	}
}

func TestReleaseLockWrongHolder(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)

	if _, err := repo.AcquireLock("process_sync", "worker-1", time.Minute); err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if err := repo.ReleaseLock("process_sync", "worker-2"); err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}

	var count int
	db.QueryRow(`SELECT COUNT(*) FROM sync_locks`).Scan(&count)
	if count != 1 {
		t.Error("Release by a non-holder must not drop the lease")
	}
}

func TestMarkFailedKeepsAttempts(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	item := &Item{Provider: "hubspot", Operation: "push_contact"}
	if err := repo.Enqueue(item); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := repo.MarkFailed(item.ID, "no active connection"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	items, err := repo.SelectPending(10)
	if err != nil {
		t.Fatalf("SelectPending failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Failed item must leave the pending set, got %d", len(items))
	}
}
