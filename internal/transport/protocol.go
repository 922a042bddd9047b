package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/chatsync/internal/model"
)

// Frame types on the wire.
const (
	TypeAuth        = "auth"
	TypeAuthSuccess = "auth_success"
	TypePing        = "ping"
	TypeMessage     = "message"
	TypeTyping      = "typing"
	TypeJoinRoom    = "join_room"
	TypeJoined      = "joined"
	TypeFile        = "file"
	TypeRead        = "read"
	TypeRoomCreated = "room_created"
	TypeError       = "error"
)

// Synthetic event types delivered through the same dispatch as frames.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
)

// Typing statuses.
const (
	TypingStart = "start"
	TypingStop  = "stop"
)

// Frame is a decoded inbound frame. Payload is the frame's "data" member when
// present, otherwise the whole frame.
type Frame struct {
	Type    string
	Payload json.RawMessage
}

// Decode unmarshals the payload into v.
func (f Frame) Decode(v any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("%s frame has no payload", f.Type)
	}
	return json.Unmarshal(f.Payload, v)
}

var errMissingType = errors.New("frame has no type")

func decodeFrame(data []byte) (Frame, error) {
	var env struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, err
	}
	if env.Type == "" {
		return Frame{}, errMissingType
	}
	payload := env.Data
	if len(payload) == 0 || string(payload) == "null" {
		payload = json.RawMessage(data)
	}
	return Frame{Type: env.Type, Payload: payload}, nil
}

// AuthFrame authenticates the connection; it is the first frame sent after open.
type AuthFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// PingFrame is the keep-alive frame.
type PingFrame struct {
	Type string `json:"type"`
}

// MessageFrame sends a text message to a room.
type MessageFrame struct {
	Type    string   `json:"type"`
	RoomID  model.ID `json:"room_id"`
	Content string   `json:"content"`
}

// TypingFrame announces that the local user started or stopped typing.
type TypingFrame struct {
	Type   string   `json:"type"`
	RoomID model.ID `json:"room_id"`
	Status string   `json:"status"`
}

// JoinRoomFrame makes room the connection's current room on the server.
type JoinRoomFrame struct {
	Type   string   `json:"type"`
	RoomID model.ID `json:"room_id"`
}

// FileFrame relays uploaded file metadata to the room.
type FileFrame struct {
	Type     string         `json:"type"`
	RoomID   model.ID       `json:"room_id"`
	FileID   model.ID       `json:"file_id"`
	Metadata model.FileInfo `json:"metadata"`
}

// NewAuthFrame authenticates the connection with a bearer token.
func NewAuthFrame(token string) AuthFrame { return AuthFrame{Type: TypeAuth, Token: token} }

// NewPingFrame is the heartbeat frame.
func NewPingFrame() PingFrame { return PingFrame{Type: TypePing} }

// NewMessageFrame posts content to roomID. The server delivers it to the
// connection's current room, so roomID must be joined first.
func NewMessageFrame(roomID model.ID, content string) MessageFrame {
	return MessageFrame{Type: TypeMessage, RoomID: roomID, Content: content}
}

// NewTypingFrame announces TypingStart or TypingStop in roomID.
func NewTypingFrame(roomID model.ID, status string) TypingFrame {
	return TypingFrame{Type: TypeTyping, RoomID: roomID, Status: status}
}

// NewJoinRoomFrame makes roomID the connection's current room.
func NewJoinRoomFrame(roomID model.ID) JoinRoomFrame {
	return JoinRoomFrame{Type: TypeJoinRoom, RoomID: roomID}
}

// NewFileFrame shares an uploaded file with roomID.
func NewFileFrame(roomID, fileID model.ID, meta model.FileInfo) FileFrame {
	return FileFrame{Type: TypeFile, RoomID: roomID, FileID: fileID, Metadata: meta}
}

// TypingEvent is the payload of an inbound typing frame. The server omits
// room_id because it only broadcasts to the room's current viewers.
type TypingEvent struct {
	RoomID   model.ID `json:"room_id"`
	UserID   model.ID `json:"user_id"`
	UserName string   `json:"user_name"`
	Status   string   `json:"status"`
}

// ReadEvent is the payload of an inbound read frame. Either MessageID or
// MessageIDs is set.
type ReadEvent struct {
	RoomID     model.ID   `json:"room_id"`
	UserID     model.ID   `json:"user_id"`
	MessageID  model.ID   `json:"message_id"`
	MessageIDs []model.ID `json:"message_ids"`
}

// IDs returns every message id the event acknowledges.
func (e ReadEvent) IDs() []model.ID {
	ids := make([]model.ID, 0, len(e.MessageIDs)+1)
	if e.MessageID != "" {
		ids = append(ids, e.MessageID)
	}
	return append(ids, e.MessageIDs...)
}

// ErrorEvent is the payload of an inbound error frame.
type ErrorEvent struct {
	Message string `json:"message"`
}

// AuthSuccessEvent is the server's reply to a valid auth frame.
type AuthSuccessEvent struct {
	UserID model.ID `json:"user_id"`
}

// JoinedEvent confirms a join_room.
type JoinedEvent struct {
	RoomID model.ID `json:"room_id"`
}
