package store

import (
	"context"

	"github.com/matheus3301/chatsync/internal/model"
)

// SaveToOfflineQueue records a send that could not be delivered.
func (db *DB) SaveToOfflineQueue(ctx context.Context, e *model.QueueEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO offline_queue (temp_id, room_id, content, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(temp_id) DO UPDATE SET
			room_id = excluded.room_id,
			content = excluded.content,
			created_at = excluded.created_at`,
		string(e.TempID), string(e.RoomID), e.Content, e.CreatedAt.UnixMilli())
	return err
}

// GetOfflineQueue returns queued entries in enqueue order.
func (db *DB) GetOfflineQueue(ctx context.Context) ([]model.QueueEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT temp_id, room_id, content, created_at
		FROM offline_queue ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []model.QueueEntry
	for rows.Next() {
		var (
			e       model.QueueEntry
			created int64
		)
		if err := rows.Scan(&e.TempID, &e.RoomID, &e.Content, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = model.FromUnixMilli(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RemoveFromOfflineQueue deletes a delivered entry.
func (db *DB) RemoveFromOfflineQueue(ctx context.Context, tempID model.ID) error {
	_, err := db.ExecContext(ctx, `DELETE FROM offline_queue WHERE temp_id = ?`, string(tempID))
	return err
}

// ClearOfflineQueue deletes every queued entry.
func (db *DB) ClearOfflineQueue(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `DELETE FROM offline_queue`)
	return err
}

// CountOfflineQueue returns the number of queued entries.
func (db *DB) CountOfflineQueue(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offline_queue`).Scan(&n)
	return n, err
}
