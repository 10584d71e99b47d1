package store

import (
	"database/sql"
	"errors"
	"time"
)

const keyVisitorID = "visitor_id"

// VisitorID returns the persisted visitor id, or "" if none was saved yet.
func (db *DB) VisitorID() (string, error) {
	return db.get("client_state", keyVisitorID)
}

// SaveVisitorID persists the visitor id.
func (db *DB) SaveVisitorID(id string) error {
	return db.put("client_state", keyVisitorID, id)
}

// UpdateCheckpoint records a sync checkpoint value.
func (db *DB) UpdateCheckpoint(key, value string) error {
	return db.put("sync_state", key, value)
}

// GetCheckpoint returns a sync checkpoint value, or "" if unset.
func (db *DB) GetCheckpoint(key string) (string, error) {
	return db.get("sync_state", key)
}

// table is always one of the constant names above.
func (db *DB) put(table, key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO `+table+` (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

func (db *DB) get(table, key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM `+table+` WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
