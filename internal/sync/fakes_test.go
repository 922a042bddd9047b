package sync

import (
	"context"
	"encoding/json"
	"errors"
	gosync "sync"

	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/notify"
	"github.com/matheus3301/chatsync/internal/transport"
)

// fakeTransport is an in-memory realtime channel. Frames sent while
// disconnected are refused.
type fakeTransport struct {
	mu        gosync.Mutex
	connected bool
	token     string
	connects  int
	frames    []any
	handlers  map[string][]transport.Handler
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string][]transport.Handler)}
}

func (f *fakeTransport) Connect(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
	f.connects++
}

// Close fires disconnected synchronously when the channel was up, like the
// real client does.
func (f *fakeTransport) Close() {
	f.mu.Lock()
	was := f.connected
	f.connected = false
	f.mu.Unlock()
	if was {
		f.deliver(transport.EventDisconnected, "")
	}
}

func (f *fakeTransport) Send(v any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return false
	}
	f.frames = append(f.frames, v)
	return true
}

func (f *fakeTransport) On(frameType string, fn transport.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[frameType] = append(f.handlers[frameType], fn)
	return func() {}
}

func (f *fakeTransport) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		return transport.Connected
	}
	return transport.Disconnected
}

// open marks the channel connected and fires the connected event.
func (f *fakeTransport) open() {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.deliver(transport.EventConnected, "")
}

// drop marks the channel disconnected and fires the disconnected event.
func (f *fakeTransport) drop() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.deliver(transport.EventDisconnected, "")
}

func (f *fakeTransport) deliver(frameType, payload string) {
	f.mu.Lock()
	hs := append([]transport.Handler(nil), f.handlers[frameType]...)
	f.mu.Unlock()
	frame := transport.Frame{Type: frameType}
	if payload != "" {
		frame.Payload = json.RawMessage(payload)
	}
	for _, h := range hs {
		h(frame)
	}
}

func (f *fakeTransport) sent() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.frames...)
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

// fakeBackend serves canned REST responses and records writes.
type fakeBackend struct {
	mu gosync.Mutex

	me       *model.User
	meErr    error
	rooms    []model.Room
	roomsErr error
	history  map[model.ID][]model.Message
	syncMsgs []model.Message

	syncAfter []model.ID
	reads     map[model.ID][]model.ID
	uploads   []string
	created   *model.Room
	createErr error
	creates   int
	users     []model.User
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		me: &model.User{ID: "3", Username: "kim", Name: "Kim"},
		rooms: []model.Room{
			{ID: "r1", Type: model.RoomGroup, Name: "Team", Members: []model.Member{{ID: "3", Name: "Kim"}, {ID: "7", Name: "Lee"}}, CreatedAt: ts(200)},
			{ID: "r2", Type: model.RoomGroup, Name: "Ops", CreatedAt: ts(100)},
		},
		history: make(map[model.ID][]model.Message),
		reads:   make(map[model.ID][]model.ID),
	}
}

func (b *fakeBackend) Rooms(context.Context) ([]model.Room, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.roomsErr != nil {
		return nil, b.roomsErr
	}
	out := make([]model.Room, len(b.rooms))
	for i, r := range b.rooms {
		out[i] = r.Clone()
	}
	return out, nil
}

func (b *fakeBackend) Messages(_ context.Context, roomID model.ID, _ int) ([]model.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.Message(nil), b.history[roomID]...), nil
}

func (b *fakeBackend) Sync(_ context.Context, lastID model.ID) ([]model.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.syncAfter = append(b.syncAfter, lastID)
	return append([]model.Message(nil), b.syncMsgs...), nil
}

func (b *fakeBackend) MarkRead(_ context.Context, roomID model.ID, ids []model.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads[roomID] = append(b.reads[roomID], ids...)
	return nil
}

func (b *fakeBackend) Upload(_ context.Context, _ model.ID, name, _ string, _ []byte) (*backend.UploadResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads = append(b.uploads, name)
	return &backend.UploadResult{FileID: "f1", URL: "/files/f1"}, nil
}

func (b *fakeBackend) Me(context.Context) (*model.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.meErr != nil {
		return nil, b.meErr
	}
	u := *b.me
	return &u, nil
}

func (b *fakeBackend) SearchUsers(context.Context, string) ([]model.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.User(nil), b.users...), nil
}

func (b *fakeBackend) CreateRoom(context.Context, model.RoomType, []model.ID) (*model.Room, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creates++
	if b.createErr != nil {
		return nil, b.createErr
	}
	r := b.created.Clone()
	b.rooms = append(b.rooms, r)
	return &r, nil
}

// switchableTokens fails with ErrReauthRequired until a token is set.
type switchableTokens struct {
	mu    gosync.Mutex
	token string
	err   error
}

func (s *switchableTokens) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return "", s.err
	}
	return s.token, nil
}

func (s *switchableTokens) set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

type fakeNotifier struct {
	mu    gosync.Mutex
	notes []notify.Notification
}

func (n *fakeNotifier) Notify(_ context.Context, note notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notes)
}

var errNetwork = errors.New("network unreachable")
