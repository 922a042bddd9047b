package model

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// TempMessagePrefix marks messages created locally and not yet confirmed by the server.
	TempMessagePrefix = "temp_"
	// LocalRoomPrefix marks rooms created locally and not yet assigned a server id.
	LocalRoomPrefix = "local_"

	// FilePreview is the room preview text shown for file messages.
	FilePreview = "[파일]"
)

// RoomType distinguishes one-to-one rooms from group rooms.
type RoomType string

const (
	RoomDirect RoomType = "direct"
	RoomGroup  RoomType = "group"
)

// MessageType is the content kind of a message.
type MessageType string

const (
	MessageText MessageType = "text"
	MessageFile MessageType = "file"
)

// Member is a room participant.
type Member struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// Room is a conversation context grouping messages and members.
type Room struct {
	ID          ID        `json:"id"`
	Type        RoomType  `json:"type"`
	Name        string    `json:"name"`
	Members     []Member  `json:"members"`
	LastMessage string    `json:"last_message"`
	CreatedAt   Timestamp `json:"created_at"`
	UpdatedAt   Timestamp `json:"updated_at"`
	UnreadCount int       `json:"unread_count"`
	Hidden      bool      `json:"hidden,omitempty"`
}

// Activity returns the time used to order rooms: updated_at, else created_at.
func (r Room) Activity() time.Time {
	if !r.UpdatedAt.IsZero() {
		return r.UpdatedAt.Time
	}
	return r.CreatedAt.Time
}

// IsLocal reports whether the room has not been confirmed by the server yet.
func (r Room) IsLocal() bool {
	return strings.HasPrefix(string(r.ID), LocalRoomPrefix)
}

// Clone returns a deep copy of the room.
func (r Room) Clone() Room {
	r.Members = slices.Clone(r.Members)
	return r
}

// FileInfo is the metadata attached to a file message.
type FileInfo struct {
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mime_type"`
	URL          string `json:"url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// Message is a chat message, either server-confirmed or pending.
type Message struct {
	ID        ID          `json:"id"`
	RoomID    ID          `json:"room_id"`
	UserID    ID          `json:"user_id"`
	UserName  string      `json:"user_name"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	FileID    ID          `json:"file_id,omitempty"`
	File      *FileInfo   `json:"file_info,omitempty"`
	CreatedAt Timestamp   `json:"created_at"`
	ReadBy    []ID        `json:"read_by"`
	Pending   bool        `json:"pending,omitempty"`
}

// IsTemporary reports whether the message id was generated locally.
func (m Message) IsTemporary() bool {
	return strings.HasPrefix(string(m.ID), TempMessagePrefix)
}

// Preview returns the room preview text for this message.
func (m Message) Preview() string {
	if m.Type == MessageFile {
		return FilePreview
	}
	return m.Content
}

// HasReader reports whether userID is in the read-by set.
func (m Message) HasReader(userID ID) bool {
	return slices.Contains(m.ReadBy, userID)
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	m.ReadBy = slices.Clone(m.ReadBy)
	if m.File != nil {
		f := *m.File
		m.File = &f
	}
	return m
}

// QueueEntry is a send attempted while the transport was disconnected.
type QueueEntry struct {
	TempID    ID        `json:"temp_id"`
	RoomID    ID        `json:"room_id"`
	Content   string    `json:"content"`
	CreatedAt Timestamp `json:"created_at"`
}

// File is an uploaded attachment known to this client.
type File struct {
	ID           ID        `json:"id"`
	RoomID       ID        `json:"room_id"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"mime_type"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	UploadedAt   Timestamp `json:"uploaded_at"`
}

// User is an account known to the backend.
type User struct {
	ID       ID     `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Position string `json:"position,omitempty"`
}

// TypingUser is a member currently typing in a room.
type TypingUser struct {
	UserID   ID     `json:"user_id"`
	UserName string `json:"user_name"`
}

// NewTempID returns a temporary message id for a message created at now.
func NewTempID(now time.Time) ID {
	return ID(fmt.Sprintf("%s%d_%s", TempMessagePrefix, now.UnixMilli(), uuid.NewString()[:8]))
}

// NewLocalRoomID returns an id for a room not yet created on the server.
func NewLocalRoomID() ID {
	return ID(LocalRoomPrefix + uuid.NewString())
}
