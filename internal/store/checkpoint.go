package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Well-known sync_state keys.
const (
	CheckpointLastSyncAt  = "last_sync_at"
	CheckpointCurrentUser = "current_user"
)

// SetCheckpoint upserts a sync bookkeeping value.
func (db *DB) SetCheckpoint(ctx context.Context, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// GetCheckpoint returns a sync bookkeeping value, or "" if unset.
func (db *DB) GetCheckpoint(ctx context.Context, key string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}
