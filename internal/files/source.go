// Package files reads attachments from disk and checks them against the
// server's upload rules before they are sent.
package files

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// DefaultMaxBytes is the server's upload limit.
const DefaultMaxBytes int64 = 5 << 20

var (
	ErrFileTooLarge    = errors.New("file exceeds upload limit")
	ErrUnsupportedType = errors.New("file type not allowed")
	ErrNotARegularFile = errors.New("not a regular file")
)

// extTypes covers allowed types the platform mime table may not know.
var extTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".txt":  "text/plain",
	".csv":  "text/csv",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// AllowedTypes mirrors the server's upload allow-list.
var AllowedTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"application/pdf",
	"application/zip",
	"text/plain",
	"text/csv",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// Attachment is a file ready for upload.
type Attachment struct {
	Name     string
	MimeType string
	Size     int64
	Data     []byte
}

// Source loads attachments.
type Source interface {
	Load(path string) (*Attachment, error)
}

// OSSource loads attachments from the local filesystem.
type OSSource struct {
	MaxBytes int64
}

// Load stats path, enforces the size limit and allow-list, then reads it.
func (s OSSource) Load(path string) (*Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", path, ErrNotARegularFile)
	}
	limit := s.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	if info.Size() > limit {
		return nil, fmt.Errorf("%s is %d bytes, limit %d: %w", filepath.Base(path), info.Size(), limit, ErrFileTooLarge)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mt := DetectType(path, data)
	if !Allowed(mt) {
		return nil, fmt.Errorf("%s (%s): %w", filepath.Base(path), mt, ErrUnsupportedType)
	}
	return &Attachment{Name: filepath.Base(path), MimeType: mt, Size: info.Size(), Data: data}, nil
}

// DetectType guesses a mime type from the extension, falling back to
// content sniffing. Parameters such as charset are dropped.
func DetectType(path string, data []byte) string {
	ext := strings.ToLower(filepath.Ext(path))
	if mt, ok := extTypes[ext]; ok {
		return mt
	}
	mt := mime.TypeByExtension(ext)
	if mt == "" {
		mt = http.DetectContentType(data)
	}
	if base, _, err := mime.ParseMediaType(mt); err == nil {
		return base
	}
	return mt
}

// Allowed reports whether mimeType may be uploaded.
func Allowed(mimeType string) bool {
	return slices.Contains(AllowedTypes, mimeType)
}
