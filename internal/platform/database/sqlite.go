package database

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mailflow/internal/platform/config"
)

// GlobalDB wraps the shared control-plane database holding workspaces, users,
// signing keys and cron logs.
type GlobalDB struct {
	DB *sql.DB
}

func NewGlobalDB(cfg config.GlobalDBConfig) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return db, nil
}

func NewGlobalDBWrapper(db *sql.DB) *GlobalDB {
	return &GlobalDB{DB: db}
}
