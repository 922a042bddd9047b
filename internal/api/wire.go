package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/files"
	"github.com/matheus3301/chatsync/internal/model"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Request and response shapes. They travel as google.protobuf.Struct, so
// their JSON tags are the wire names.

type RoomRequest struct {
	RoomID model.ID `json:"room_id,omitempty"`
}

type ListRoomsRequest struct {
	All   bool   `json:"all,omitempty"`
	Query string `json:"query,omitempty"`
}

type SendTextRequest struct {
	RoomID  model.ID `json:"room_id,omitempty"`
	Content string   `json:"content"`
}

type SendFileRequest struct {
	RoomID model.ID `json:"room_id,omitempty"`
	Path   string   `json:"path"`
}

type UserRequest struct {
	UserID model.ID `json:"user_id"`
}

type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type FocusRequest struct {
	Focused bool `json:"focused"`
}

type TypingRequest struct {
	RoomID model.ID `json:"room_id,omitempty"`
	Typing bool     `json:"typing"`
}

type LoginRequest struct {
	Token string `json:"token"`
}

type WatchRequest struct {
	Namespace string `json:"namespace,omitempty"`
}

// StatusInfo describes the daemon and its session.
type StatusInfo struct {
	Session     string      `json:"session"`
	Status      string      `json:"status"`
	UptimeMs    int64       `json:"uptime_ms"`
	User        *model.User `json:"user,omitempty"`
	CurrentRoom model.ID    `json:"current_room,omitempty"`
	Rooms       int         `json:"rooms"`
	Unread      int         `json:"unread"`
}

type roomsResponse struct {
	Rooms []model.Room `json:"rooms"`
}

type messagesResponse struct {
	Messages []model.Message `json:"messages"`
}

type usersResponse struct {
	Users []model.User `json:"users"`
}

type messageResponse struct {
	Message model.Message `json:"message"`
}

type fileResponse struct {
	File *model.File `json:"file"`
}

type roomResponse struct {
	Room model.Room `json:"room"`
}

// Event is one bus event as delivered by WatchEvents.
type Event struct {
	ID           string          `json:"id"`
	Session      string          `json:"session"`
	Kind         string          `json:"kind"`
	OccurredAtMs int64           `json:"occurred_at_ms"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// encode converts v to a Struct through its JSON form.
func encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return structpb.NewStruct(m)
}

// decode fills v from s. A nil Struct leaves v untouched.
func decode(s *structpb.Struct, v any) error {
	if s == nil {
		return nil
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// toStatus maps engine errors onto gRPC codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	code := codes.Internal
	switch {
	case errors.Is(err, intsync.ErrUnknownRoom):
		code = codes.NotFound
	case errors.Is(err, intsync.ErrEmptyMessage),
		errors.Is(err, intsync.ErrNoRoomSelected),
		errors.Is(err, intsync.ErrQueryTooShort),
		errors.Is(err, files.ErrFileTooLarge),
		errors.Is(err, files.ErrUnsupportedType),
		errors.Is(err, files.ErrNotARegularFile):
		code = codes.InvalidArgument
	case errors.Is(err, intsync.ErrNotConnected), errors.Is(err, intsync.ErrStopped):
		code = codes.Unavailable
	case errors.Is(err, auth.ErrReauthRequired):
		code = codes.Unauthenticated
	}
	return grpcstatus.Error(code, err.Error())
}
