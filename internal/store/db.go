// Package store persists the client-side state that must survive restarts:
// the durable visitor id and reconciliation checkpoints.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const busyTimeoutMS = 5000

// DB wraps a SQLite connection for a profile's livechat.db.
type DB struct {
	*sql.DB
}

// Open opens path for reading and writing in WAL mode. One connection is
// kept so writes from timers and the caller never contend inside the process.
func Open(path string) (*DB, error) {
	return open(fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d", path, busyTimeoutMS), 1)
}

// OpenReadOnly opens an existing database without taking write locks, so it
// can be inspected while another process owns the profile.
func OpenReadOnly(path string) (*DB, error) {
	return open(fmt.Sprintf("file:%s?mode=ro&_busy_timeout=%d", path, busyTimeoutMS), 0)
}

func open(dsn string, maxConns int) (*DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}
