package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/state"
	"github.com/matheus3301/chatsync/internal/status"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

type calls struct {
	focused bool
	typing  []bool
	synced  int
	authed  int
	logouts int
	hidden  []model.ID
}

type fakeEngine struct {
	mu      gosync.Mutex
	state   *state.Store
	status  status.State
	authErr error
	calls
}

func newFakeEngine() *fakeEngine {
	st := state.New(nil)
	st.SetCurrentUser(model.User{ID: "3", Name: "Kim"})
	st.SetRooms([]model.Room{
		{ID: "r1", Name: "Team", UnreadCount: 2},
		{ID: "r2", Name: "Ops", Hidden: true},
	})
	return &fakeEngine{state: st, status: status.Ready}
}

func (f *fakeEngine) State() *state.Store { return f.state }
func (f *fakeEngine) Status() status.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeEngine) setStatus(s status.State) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

// snapshot returns a copy of the recorded calls.
func (f *fakeEngine) snapshot() calls {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.calls
	c.typing = append([]bool(nil), f.typing...)
	c.hidden = append([]model.ID(nil), f.hidden...)
	return c
}

func (f *fakeEngine) SelectRoom(_ context.Context, roomID model.ID) error {
	if _, ok := f.state.Room(roomID); !ok {
		return intsync.ErrUnknownRoom
	}
	f.state.SetCurrentRoom(roomID)
	f.state.SetMessages(roomID, []model.Message{{ID: "1", RoomID: roomID, Content: "hello"}})
	return nil
}

func (f *fakeEngine) SendText(_ context.Context, roomID model.ID, content string) (model.Message, error) {
	if content == "" {
		return model.Message{}, intsync.ErrEmptyMessage
	}
	return model.Message{ID: "temp_1_abc", RoomID: roomID, Content: content, Pending: true}, nil
}

func (f *fakeEngine) SendFile(_ context.Context, roomID model.ID, path string) (*model.File, error) {
	if f.Status() != status.Ready {
		return nil, intsync.ErrNotConnected
	}
	return &model.File{ID: "f1", RoomID: roomID, Name: filepath.Base(path)}, nil
}

func (f *fakeEngine) StartTyping(context.Context, model.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, true)
	return nil
}

func (f *fakeEngine) StopTyping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, false)
	return nil
}

func (f *fakeEngine) HideRoom(_ context.Context, roomID model.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hidden = append(f.hidden, roomID)
	return nil
}

func (f *fakeEngine) CreateDirectRoom(_ context.Context, userID model.ID) (model.Room, error) {
	return model.Room{ID: "d1", Type: model.RoomDirect, Members: []model.Member{{ID: userID}}}, nil
}

func (f *fakeEngine) SearchUsers(_ context.Context, query string) ([]model.User, error) {
	if len(query) < 2 {
		return nil, intsync.ErrQueryTooShort
	}
	return []model.User{{ID: "9", Name: "Park"}}, nil
}

func (f *fakeEngine) SearchMessages(_ context.Context, query string, limit int) ([]model.Message, error) {
	return []model.Message{{ID: "5", Content: query}}, nil
}

func (f *fakeEngine) SetFocused(v bool) {
	f.mu.Lock()
	f.focused = v
	f.mu.Unlock()
}

func (f *fakeEngine) Reconcile(context.Context) error {
	f.mu.Lock()
	f.synced++
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) Authenticate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authed++
	return f.authErr
}

func (f *fakeEngine) Logout(context.Context) error {
	f.mu.Lock()
	f.logouts++
	f.mu.Unlock()
	return nil
}

type memTokens struct {
	mu    gosync.Mutex
	token string
}

func (m *memTokens) Save(t string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = t
	return nil
}

func (m *memTokens) Clear() error { return m.Save("") }

func (m *memTokens) get() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

type harness struct {
	engine *fakeEngine
	tokens *memTokens
	bus    *bus.Bus
	client *Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir, err := os.MkdirTemp("", "chatapi")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	sock := filepath.Join(dir, "d.sock")

	h := &harness{engine: newFakeEngine(), tokens: &memTokens{}, bus: bus.New()}
	lis, err := net.Listen("unix", sock)
	require.NoError(t, err)
	srv := grpc.NewServer()
	Register(srv, NewService("main", h.engine, h.tokens, h.bus, nil))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := Dial(sock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	h.client = c
	return h
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	info, err := h.client.Status(ctxT(t))
	require.NoError(t, err)

	assert.Equal(t, "main", info.Session)
	assert.Equal(t, "READY", info.Status)
	require.NotNil(t, info.User)
	assert.Equal(t, model.ID("3"), info.User.ID)
	assert.Equal(t, 1, info.Rooms)
	assert.Equal(t, 2, info.Unread)
}

func TestRoomsAndMessages(t *testing.T) {
	h := newHarness(t)
	ctx := ctxT(t)

	rooms, err := h.client.Rooms(ctx, false, "")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, model.ID("r1"), rooms[0].ID)

	rooms, err = h.client.Rooms(ctx, true, "")
	require.NoError(t, err)
	assert.Len(t, rooms, 2)

	rooms, err = h.client.Rooms(ctx, false, "tea")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "Team", rooms[0].Name)

	_, err = h.client.Messages(ctx, "")
	assert.Equal(t, codes.FailedPrecondition, grpcstatus.Code(err))

	msgs, err := h.client.SelectRoom(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)

	msgs, err = h.client.Messages(ctx, "")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	_, err = h.client.SelectRoom(ctx, "nope")
	assert.Equal(t, codes.NotFound, grpcstatus.Code(err))
}

func TestActions(t *testing.T) {
	h := newHarness(t)
	ctx := ctxT(t)

	m, err := h.client.SendText(ctx, "r1", "hi")
	require.NoError(t, err)
	assert.True(t, m.Pending)
	assert.Equal(t, "hi", m.Content)

	_, err = h.client.SendText(ctx, "r1", "")
	assert.Equal(t, codes.InvalidArgument, grpcstatus.Code(err))

	f, err := h.client.SendFile(ctx, "r1", "/tmp/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", f.Name)

	h.engine.setStatus(status.Offline)
	_, err = h.client.SendFile(ctx, "r1", "/tmp/a.pdf")
	assert.Equal(t, codes.Unavailable, grpcstatus.Code(err))

	require.NoError(t, h.client.HideRoom(ctx, "r2"))
	assert.Equal(t, []model.ID{"r2"}, h.engine.snapshot().hidden)

	r, err := h.client.CreateDirectRoom(ctx, "9")
	require.NoError(t, err)
	assert.Equal(t, model.ID("d1"), r.ID)

	users, err := h.client.SearchUsers(ctx, "pa")
	require.NoError(t, err)
	assert.Len(t, users, 1)
	_, err = h.client.SearchUsers(ctx, "p")
	assert.Equal(t, codes.InvalidArgument, grpcstatus.Code(err))

	found, err := h.client.SearchMessages(ctx, "lunch", 5)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "lunch", found[0].Content)

	require.NoError(t, h.client.SetFocus(ctx, true))
	assert.True(t, h.engine.snapshot().focused)

	require.NoError(t, h.client.Typing(ctx, "r1", true))
	require.NoError(t, h.client.Typing(ctx, "r1", false))
	assert.Equal(t, []bool{true, false}, h.engine.snapshot().typing)

	require.NoError(t, h.client.Sync(ctx))
	assert.Equal(t, 1, h.engine.snapshot().synced)
}

func TestLoginLogout(t *testing.T) {
	h := newHarness(t)
	ctx := ctxT(t)

	_, err := h.client.Login(ctx, "")
	assert.Equal(t, codes.InvalidArgument, grpcstatus.Code(err))

	info, err := h.client.Login(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "main", info.Session)
	assert.Equal(t, "tok", h.tokens.get())
	assert.Equal(t, 1, h.engine.snapshot().authed)

	require.NoError(t, h.client.Logout(ctx))
	assert.Empty(t, h.tokens.get())
	assert.Equal(t, 1, h.engine.snapshot().logouts)

	h.engine.mu.Lock()
	h.engine.authErr = errors.New("boom")
	h.engine.mu.Unlock()
	_, err = h.client.Login(ctx, "tok")
	assert.Equal(t, codes.Internal, grpcstatus.Code(err))
}

func TestWatchEvents(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(ctxT(t))
	defer cancel()

	got := make(chan Event, 4)
	done := make(chan error, 1)
	go func() {
		done <- h.client.Watch(ctx, "chat.", func(e Event) error {
			select {
			case got <- e:
			default:
			}
			return nil
		})
	}()

	// The subscription is registered once the stream is open; keep
	// publishing until the first event comes through.
	payload := state.Event{Kind: state.RoomSelected, RoomID: "r1"}
	var evt Event
	require.Eventually(t, func() bool {
		h.bus.Emit("session.ignored", nil)
		h.bus.Emit(bus.ChatPrefix+string(state.RoomSelected), payload)
		select {
		case evt = <-got:
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, "chat.room_selected", evt.Kind)
	assert.Equal(t, "main", evt.Session)
	assert.NotEmpty(t, evt.ID)
	var decoded state.Event
	require.NoError(t, json.Unmarshal(evt.Payload, &decoded))
	assert.Equal(t, model.ID("r1"), decoded.RoomID)

	cancel()
	select {
	case err := <-done:
		assert.Equal(t, codes.Canceled, grpcstatus.Code(err))
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not return after cancel")
	}
}
