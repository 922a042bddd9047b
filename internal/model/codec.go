package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ID is an opaque identifier. The backend uses integers for users and
// messages while local ids are strings, so both JSON forms decode into it.
type ID string

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }

// UnmarshalJSON accepts a JSON string, a JSON number, or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("id: %w", err)
		}
		*id = ID(n.String())
		return nil
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// Timestamp is a time that tolerates the backend's zone-less ISO format
// and epoch milliseconds. Zone-less values are read as UTC.
type Timestamp struct {
	time.Time
}

// At returns a Timestamp for t.
func At(t time.Time) Timestamp { return Timestamp{t} }

// ParseTimestamp parses any of the accepted textual forms.
func ParseTimestamp(s string) (Timestamp, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return Timestamp{t}, nil
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Timestamp{time.UnixMilli(ms).UTC()}, nil
	}
	return Timestamp{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// UnixMilli returns milliseconds since epoch, or 0 for the zero value.
func (t Timestamp) UnixMilli() int64 {
	if t.IsZero() {
		return 0
	}
	return t.Time.UnixMilli()
}

// FromUnixMilli is the inverse of UnixMilli.
func FromUnixMilli(ms int64) Timestamp {
	if ms == 0 {
		return Timestamp{}
	}
	return Timestamp{time.UnixMilli(ms).UTC()}
}

// MarshalJSON encodes RFC3339 in UTC, or null when zero.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON decodes a string timestamp, epoch milliseconds, or null.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte(`""`)) {
		*t = Timestamp{}
		return nil
	}
	if data[0] != '"' {
		var ms int64
		if err := json.Unmarshal(data, &ms); err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		*t = FromUnixMilli(ms)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// UnmarshalJSON accepts both the metadata shape sent over the realtime
// channel (name, thumbnail_url) and the stored shape (filename, thumbnail).
func (f *FileInfo) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name         string `json:"name"`
		Filename     string `json:"filename"`
		Size         int64  `json:"size"`
		MimeType     string `json:"mime_type"`
		URL          string `json:"url"`
		ThumbnailURL string `json:"thumbnail_url"`
		Thumbnail    string `json:"thumbnail"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = FileInfo{
		Name:         raw.Name,
		Size:         raw.Size,
		MimeType:     raw.MimeType,
		URL:          raw.URL,
		ThumbnailURL: raw.ThumbnailURL,
	}
	if f.Name == "" {
		f.Name = raw.Filename
	}
	if f.ThumbnailURL == "" {
		f.ThumbnailURL = raw.Thumbnail
	}
	return nil
}
