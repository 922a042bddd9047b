package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/matheus3301/chatsync/internal/model"
)

const messageColumns = `id, room_id, user_id, user_name, content, type, file_id, file_info, created_at, read_by, pending`

// SaveMessage inserts or updates a message keyed by id. Re-saving an id keeps
// its original insertion position.
func (db *DB) SaveMessage(ctx context.Context, m *model.Message) error {
	readBy, err := json.Marshal(nonNil(m.ReadBy))
	if err != nil {
		return fmt.Errorf("encode read_by: %w", err)
	}
	var fileInfo sql.NullString
	if m.File != nil {
		b, err := json.Marshal(m.File)
		if err != nil {
			return fmt.Errorf("encode file_info: %w", err)
		}
		fileInfo = sql.NullString{String: string(b), Valid: true}
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			room_id = excluded.room_id,
			user_id = excluded.user_id,
			user_name = excluded.user_name,
			content = excluded.content,
			type = excluded.type,
			file_id = excluded.file_id,
			file_info = excluded.file_info,
			created_at = excluded.created_at,
			read_by = excluded.read_by,
			pending = excluded.pending`,
		string(m.ID), string(m.RoomID), string(m.UserID), m.UserName, m.Content, string(m.Type),
		string(m.FileID), fileInfo, m.CreatedAt.UnixMilli(), string(readBy), m.Pending)
	return err
}

// GetMessages returns the most recent limit messages of a room in ascending creation order.
func (db *DB) GetMessages(ctx context.Context, roomID model.ID, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT rowid AS seq, `+messageColumns+`
			FROM messages
			WHERE room_id = ?
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		) ORDER BY created_at ASC, seq ASC`, string(roomID), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// GetMessage returns a message by id, or nil if not found.
func (db *DB) GetMessage(ctx context.Context, id model.ID) (*model.Message, error) {
	row := db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, string(id))
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// GetLastMessageID returns the id of the newest confirmed message across all
// rooms, or "" when there is none. It is the tail sync cursor. Messages with
// equal timestamps fall back to insertion order.
func (db *DB) GetLastMessageID(ctx context.Context) (model.ID, error) {
	var id string
	err := db.QueryRowContext(ctx, `
		SELECT id FROM messages WHERE pending = 0 ORDER BY created_at DESC, rowid DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return model.ID(id), nil
}

// SearchMessages returns messages whose content contains query, newest first.
func (db *DB) SearchMessages(ctx context.Context, query string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(query) + "%"
	rows, err := db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE content LIKE ? ESCAPE '\'
		ORDER BY created_at DESC
		LIMIT ?`, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]model.Message, error) {
	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

func scanMessage(s scanner) (*model.Message, error) {
	var (
		m        model.Message
		fileInfo sql.NullString
		created  int64
		readBy   string
	)
	if err := s.Scan(&m.ID, &m.RoomID, &m.UserID, &m.UserName, &m.Content, &m.Type,
		&m.FileID, &fileInfo, &created, &readBy, &m.Pending); err != nil {
		return nil, err
	}
	if fileInfo.Valid {
		m.File = &model.FileInfo{}
		if err := json.Unmarshal([]byte(fileInfo.String), m.File); err != nil {
			return nil, fmt.Errorf("decode file_info of message %s: %w", m.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(readBy), &m.ReadBy); err != nil {
		return nil, fmt.Errorf("decode read_by of message %s: %w", m.ID, err)
	}
	m.CreatedAt = model.FromUnixMilli(created)
	return &m, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
