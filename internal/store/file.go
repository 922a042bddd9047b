package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/matheus3301/chatsync/internal/model"
)

// SaveFile inserts or updates uploaded file metadata.
func (db *DB) SaveFile(ctx context.Context, f *model.File) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO files (id, room_id, name, size, mime_type, url, thumbnail_url, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			room_id = excluded.room_id,
			name = excluded.name,
			size = excluded.size,
			mime_type = excluded.mime_type,
			url = excluded.url,
			thumbnail_url = excluded.thumbnail_url,
			uploaded_at = excluded.uploaded_at`,
		string(f.ID), string(f.RoomID), f.Name, f.Size, f.MimeType, f.URL, f.ThumbnailURL, f.UploadedAt.UnixMilli())
	return err
}

// GetFile returns file metadata by id, or nil if not found.
func (db *DB) GetFile(ctx context.Context, id model.ID) (*model.File, error) {
	var (
		f        model.File
		uploaded int64
	)
	err := db.QueryRowContext(ctx, `
		SELECT id, room_id, name, size, mime_type, url, thumbnail_url, uploaded_at
		FROM files WHERE id = ?`, string(id)).
		Scan(&f.ID, &f.RoomID, &f.Name, &f.Size, &f.MimeType, &f.URL, &f.ThumbnailURL, &uploaded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	f.UploadedAt = model.FromUnixMilli(uploaded)
	return &f, nil
}
