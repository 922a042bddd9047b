package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/chatsync/internal/model"
)

// SaveRoom inserts or replaces a room keyed by id.
func (db *DB) SaveRoom(ctx context.Context, r *model.Room) error {
	members, err := json.Marshal(nonNil(r.Members))
	if err != nil {
		return fmt.Errorf("encode members: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO rooms (id, type, name, members, last_message, created_at, updated_at, unread_count, hidden)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			members = excluded.members,
			last_message = excluded.last_message,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			unread_count = excluded.unread_count,
			hidden = excluded.hidden`,
		string(r.ID), string(r.Type), r.Name, string(members), r.LastMessage,
		r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli(), r.UnreadCount, r.Hidden)
	return err
}

// GetRooms returns every stored room. Order is unspecified.
func (db *DB) GetRooms(ctx context.Context) ([]model.Room, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, type, name, members, last_message, created_at, updated_at, unread_count, hidden
		FROM rooms`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var rooms []model.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *r)
	}
	return rooms, rows.Err()
}

// GetRoom returns a room by id, or nil if not found.
func (db *DB) GetRoom(ctx context.Context, id model.ID) (*model.Room, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, type, name, members, last_message, created_at, updated_at, unread_count, hidden
		FROM rooms WHERE id = ?`, string(id))
	r, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// DeleteRoom removes a room. Its messages are kept.
func (db *DB) DeleteRoom(ctx context.Context, id model.ID) error {
	_, err := db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, string(id))
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRoom(s scanner) (*model.Room, error) {
	var (
		r                model.Room
		members          string
		created, updated int64
	)
	if err := s.Scan(&r.ID, &r.Type, &r.Name, &members, &r.LastMessage, &created, &updated, &r.UnreadCount, &r.Hidden); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(members), &r.Members); err != nil {
		return nil, fmt.Errorf("decode members of room %s: %w", r.ID, err)
	}
	r.CreatedAt = model.FromUnixMilli(created)
	r.UpdatedAt = model.FromUnixMilli(updated)
	return &r, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
