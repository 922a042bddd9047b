// Package api exposes the sync engine to local front ends over gRPC on the
// session's unix socket. Requests and responses are google.protobuf.Struct
// values, so the service needs no generated code.
package api

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/state"
	"github.com/matheus3301/chatsync/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Engine is the part of the sync engine the control service drives.
type Engine interface {
	State() *state.Store
	Status() status.State
	SelectRoom(ctx context.Context, roomID model.ID) error
	SendText(ctx context.Context, roomID model.ID, content string) (model.Message, error)
	SendFile(ctx context.Context, roomID model.ID, path string) (*model.File, error)
	StartTyping(ctx context.Context, roomID model.ID) error
	StopTyping(ctx context.Context) error
	HideRoom(ctx context.Context, roomID model.ID) error
	CreateDirectRoom(ctx context.Context, userID model.ID) (model.Room, error)
	SearchUsers(ctx context.Context, query string) ([]model.User, error)
	SearchMessages(ctx context.Context, query string, limit int) ([]model.Message, error)
	SetFocused(focused bool)
	Reconcile(ctx context.Context) error
	Authenticate(ctx context.Context) error
	Logout(ctx context.Context) error
}

// TokenStore persists the bearer token handed over by Login.
type TokenStore interface {
	Save(token string) error
	Clear() error
}

// Service implements chatsync.v1.Control.
type Service struct {
	session   string
	startedAt time.Time
	engine    Engine
	tokens    TokenStore
	bus       *bus.Bus
	logger    *zap.Logger
}

// NewService creates the control service for a session.
func NewService(session string, engine Engine, tokens TokenStore, b *bus.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		session:   session,
		startedAt: time.Now(),
		engine:    engine,
		tokens:    tokens,
		bus:       b,
		logger:    logger,
	}
}

func (s *Service) Status(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st := s.engine.State()
	info := StatusInfo{
		Session:     s.session,
		Status:      string(s.engine.Status()),
		UptimeMs:    time.Since(s.startedAt).Milliseconds(),
		CurrentRoom: st.CurrentRoomID(),
	}
	if me, ok := st.CurrentUser(); ok {
		info.User = &me
	}
	for _, r := range st.VisibleRooms() {
		info.Rooms++
		info.Unread += r.UnreadCount
	}
	return encode(info)
}

func (s *Service) ListRooms(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ListRoomsRequest
	if err := decode(in, &req); err != nil {
		return nil, invalid(err)
	}
	st := s.engine.State()
	var rooms []model.Room
	switch {
	case req.Query != "":
		rooms = st.FilterRooms(req.Query)
	case req.All:
		rooms = st.Rooms()
	default:
		rooms = st.VisibleRooms()
	}
	return encode(roomsResponse{Rooms: rooms})
}

// ListMessages returns the loaded messages of a room, the current one by
// default. Rooms that were never selected have nothing loaded.
func (s *Service) ListMessages(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req RoomRequest
	if err := decode(in, &req); err != nil {
		return nil, invalid(err)
	}
	st := s.engine.State()
	if req.RoomID == "" {
		req.RoomID = st.CurrentRoomID()
	}
	if req.RoomID == "" {
		return nil, grpcstatus.Error(codes.FailedPrecondition, "no room selected")
	}
	return encode(messagesResponse{Messages: st.Messages(req.RoomID)})
}

func (s *Service) SelectRoom(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req RoomRequest
	if err := decode(in, &req); err != nil {
		return nil, invalid(err)
	}
	if err := s.engine.SelectRoom(ctx, req.RoomID); err != nil {
		return nil, toStatus(err)
	}
	return encode(messagesResponse{Messages: s.engine.State().Messages(req.RoomID)})
}

func (s *Service) SendText(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SendTextRequest
	if err := decode(in, &req); err != nil {
		return nil, invalid(err)
	}
	m, err := s.engine.SendText(ctx, req.RoomID, req.Content)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(messageResponse{Message: m})
}

func (s *Service) SendFile(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SendFileRequest
	if err := decode(in, &req); err != nil {
		return nil, invalid(err)
	}
	f, err := s.engine.SendFile(ctx, req.RoomID, req.Path)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(fileResponse{File: f})
}

func (s *Service) HideRoom(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req RoomRequest
	if err := decode(in, &req); err != nil {
		return nil, invalid(err)
	}
	if err := s.engine.HideRoom(ctx, req.RoomID); err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

func (s *Service) CreateDirectRoom(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req UserRequest
	if err := decode(in, &req); err != nil {
		return nil, invalid(err)
	}
	if req.UserID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "user_id is required")
	}
	r, err := s.engine.CreateDirectRoom(ctx, req.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(roomResponse{Room: r})
}

func (s *Service) SearchUsers(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SearchRequest
	if err := decode(in, &req); err != nil {
		return nil, invalid(err)
	}
	users, err := s.engine.SearchUsers(ctx, req.Query)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(usersResponse{Users: users})
}

func (s *Service) SearchMessages(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SearchRequest
	if err := decode(in, &req); err != nil {
		return nil, invalid(err)
	}
	msgs, err := s.engine.SearchMessages(ctx, req.Query, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(messagesResponse{Messages: msgs})
}

func (s *Service) SetFocus(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req FocusRequest
	if err := decode(in, &req); err != nil {
		return nil, invalid(err)
	}
	s.engine.SetFocused(req.Focused)
	return &structpb.Struct{}, nil
}

func (s *Service) Typing(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req TypingRequest
	if err := decode(in, &req); err != nil {
		return nil, invalid(err)
	}
	var err error
	if req.Typing {
		err = s.engine.StartTyping(ctx, req.RoomID)
	} else {
		err = s.engine.StopTyping(ctx)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

func (s *Service) Sync(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.engine.Reconcile(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

// Login stores a token obtained elsewhere and restarts the session with it.
func (s *Service) Login(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req LoginRequest
	if err := decode(in, &req); err != nil {
		return nil, invalid(err)
	}
	if req.Token == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "token is required")
	}
	if s.tokens == nil {
		return nil, grpcstatus.Error(codes.Unimplemented, "token storage not configured")
	}
	if err := s.tokens.Save(req.Token); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "save token: %v", err)
	}
	if err := s.engine.Authenticate(ctx); err != nil {
		return nil, toStatus(err)
	}
	return s.Status(ctx, nil)
}

func (s *Service) Logout(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.engine.Logout(ctx); err != nil {
		return nil, toStatus(err)
	}
	if s.tokens != nil {
		if err := s.tokens.Clear(); err != nil {
			return nil, grpcstatus.Errorf(codes.Internal, "clear token: %v", err)
		}
	}
	return &structpb.Struct{}, nil
}

// WatchEvents streams bus events whose kind starts with the requested
// namespace until the client goes away.
func (s *Service) WatchEvents(in *structpb.Struct, stream EventStream) error {
	var req WatchRequest
	if err := decode(in, &req); err != nil {
		return invalid(err)
	}
	ch, unsub := s.bus.Subscribe(req.Namespace, 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			out, err := s.envelope(evt)
			if err != nil {
				s.logger.Warn("dropping unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *Service) envelope(evt bus.Event) (*structpb.Struct, error) {
	m := map[string]any{
		"id":             uuid.New().String(),
		"session":        s.session,
		"kind":           evt.Kind,
		"occurred_at_ms": evt.Timestamp.UnixMilli(),
	}
	if evt.Payload != nil {
		m["payload"] = evt.Payload
	}
	return encode(m)
}

func invalid(err error) error {
	return grpcstatus.Errorf(codes.InvalidArgument, "bad request: %v", err)
}
