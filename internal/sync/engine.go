// Package sync keeps the local cache, the in-memory state and the server in
// agreement. The Engine is the only writer of the state store: every
// mutation, whether triggered by a user action or by an inbound frame, runs
// on its single loop goroutine.
package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/files"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/notify"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/state"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

var (
	ErrStopped        = errors.New("sync engine stopped")
	ErrNoRoomSelected = errors.New("no room selected")
	ErrUnknownRoom    = errors.New("unknown room")
	ErrEmptyMessage   = errors.New("message is empty")
	ErrNotConnected   = errors.New("not connected")
	ErrQueryTooShort  = errors.New("query must be at least 2 characters")
)

const (
	defaultHistoryLimit  = 50
	defaultTypingTimeout = 3 * time.Second
	minUserQuery         = 2
)

// LocalStore is the durable cache.
type LocalStore interface {
	SaveRoom(ctx context.Context, r *model.Room) error
	GetRooms(ctx context.Context) ([]model.Room, error)
	DeleteRoom(ctx context.Context, id model.ID) error
	SaveMessage(ctx context.Context, m *model.Message) error
	GetMessages(ctx context.Context, roomID model.ID, limit int) ([]model.Message, error)
	GetLastMessageID(ctx context.Context) (model.ID, error)
	SearchMessages(ctx context.Context, query string, limit int) ([]model.Message, error)
	SaveFile(ctx context.Context, f *model.File) error
	SetCheckpoint(ctx context.Context, key, value string) error
	GetCheckpoint(ctx context.Context, key string) (string, error)
}

// Transport is the realtime channel.
type Transport interface {
	Connect(token string)
	Close()
	Send(v any) bool
	On(frameType string, fn transport.Handler) (unsubscribe func())
	State() transport.State
}

// Backend is the REST API.
type Backend interface {
	Rooms(ctx context.Context) ([]model.Room, error)
	Messages(ctx context.Context, roomID model.ID, limit int) ([]model.Message, error)
	Sync(ctx context.Context, lastID model.ID) ([]model.Message, error)
	MarkRead(ctx context.Context, roomID model.ID, ids []model.ID) error
	Upload(ctx context.Context, roomID model.ID, name, mimeType string, data []byte) (*backend.UploadResult, error)
	Me(ctx context.Context) (*model.User, error)
	SearchUsers(ctx context.Context, query string) ([]model.User, error)
	CreateRoom(ctx context.Context, typ model.RoomType, memberIDs []model.ID) (*model.Room, error)
}

// Tokens yields the bearer token.
type Tokens interface {
	Token() (string, error)
}

// Outbox is the offline queue.
type Outbox interface {
	Enqueue(ctx context.Context, e model.QueueEntry) error
	Entries(ctx context.Context) ([]model.QueueEntry, error)
	Drain(ctx context.Context) (outbox.Result, error)
}

// FocusTracker knows whether the chat window has focus.
type FocusTracker interface {
	notify.Focus
	SetFocused(bool)
}

// Deps are the collaborators an Engine drives.
type Deps struct {
	Store     LocalStore
	Transport Transport
	Backend   Backend
	Tokens    Tokens
	Outbox    Outbox
	State     *state.Store
	Status    *status.Machine
	Bus       *bus.Bus
	Notifier  notify.Notifier
	Focus     FocusTracker
	Files     files.Source
}

// Options tunes an Engine.
type Options struct {
	HistoryLimit  int
	TypingTimeout time.Duration
	Now           func() time.Time
}

type op func(ctx context.Context)

// Engine orchestrates startup, reconnect reconciliation, inbound frames and
// user actions.
type Engine struct {
	store    LocalStore
	rt       Transport
	api      Backend
	tokens   Tokens
	outbox   Outbox
	state    *state.Store
	status   *status.Machine
	bus      *bus.Bus
	notifier notify.Notifier
	focus    FocusTracker
	files    files.Source

	opts   Options
	logger *zap.Logger

	// ops is an unbounded FIFO; post never blocks, even on the loop.
	opsMu  sync.Mutex
	ops    []op
	wake   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once

	// Loop-owned.
	unsubs             []func()
	handlersRegistered bool
	joined             model.ID
	typingRoom         model.ID
	typingTimer        *time.Timer
	typingGen          uint64
}

// New creates an engine. Nothing runs until Start.
func New(deps Deps, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = defaultTypingTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Focus == nil {
		deps.Focus = &notify.WindowFocus{}
	}
	if deps.Files == nil {
		deps.Files = files.OSSource{}
	}
	return &Engine{
		store:    deps.Store,
		rt:       deps.Transport,
		api:      deps.Backend,
		tokens:   deps.Tokens,
		outbox:   deps.Outbox,
		state:    deps.State,
		status:   deps.Status,
		bus:      deps.Bus,
		notifier: deps.Notifier,
		focus:    deps.Focus,
		files:    deps.Files,
		opts:     opts,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the loop and runs the startup sequence on it. A missing or
// expired token is not an error: the engine waits in AUTH_REQUIRED until
// Authenticate is called.
func (e *Engine) Start(ctx context.Context) error {
	e.startOnce.Do(func() {
		loopCtx, cancel := context.WithCancel(context.Background())
		e.cancel = cancel
		e.unsubs = append(e.unsubs, e.bridge())
		go e.loop(loopCtx)
	})
	err := e.do(ctx, e.boot)
	if errors.Is(err, auth.ErrReauthRequired) {
		return nil
	}
	return err
}

// Authenticate re-runs startup, e.g. after a new token was stored. It
// returns auth.ErrReauthRequired if the token is still unusable.
func (e *Engine) Authenticate(ctx context.Context) error {
	return e.do(ctx, e.boot)
}

// Stop closes the realtime channel and ends the loop.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.rt.Close()
		if e.cancel == nil {
			e.transition(status.Stopped)
			return
		}
		_ = e.do(context.Background(), func(context.Context) error {
			e.cancelTypingTimer()
			for _, u := range e.unsubs {
				u()
			}
			e.unsubs = nil
			return nil
		})
		e.cancel()
		<-e.done
		e.transition(status.Stopped)
	})
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-e.wake:
			for {
				fn, ok := e.next()
				if !ok {
					break
				}
				e.run(ctx, fn)
				if ctx.Err() != nil {
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) next() (op, bool) {
	e.opsMu.Lock()
	defer e.opsMu.Unlock()
	if len(e.ops) == 0 {
		return nil, false
	}
	fn := e.ops[0]
	e.ops[0] = nil
	e.ops = e.ops[1:]
	return fn, true
}

func (e *Engine) run(ctx context.Context, fn op) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("sync op panicked", zap.Any("panic", r))
		}
	}()
	fn(ctx)
}

// do runs fn on the loop and waits for its result. It must not be called
// from the loop itself.
func (e *Engine) do(ctx context.Context, fn func(ctx context.Context) error) error {
	errCh := make(chan error, 1)
	wrapped := func(context.Context) {
		defer func() {
			if r := recover(); r != nil {
				errCh <- errors.New("sync op panicked")
				panic(r)
			}
		}()
		errCh <- fn(ctx)
	}
	if !e.post(wrapped) {
		return ErrStopped
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

// post queues fn on the loop without waiting. It never blocks and reports
// false once the loop has ended.
func (e *Engine) post(fn op) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	e.opsMu.Lock()
	e.ops = append(e.ops, fn)
	e.opsMu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return true
}

// Barrier returns once every operation queued before it has run.
func (e *Engine) Barrier(ctx context.Context) error {
	return e.do(ctx, func(context.Context) error { return nil })
}

// Status returns the session status.
func (e *Engine) Status() status.State {
	if e.status == nil {
		return status.Booting
	}
	return e.status.Current()
}

func (e *Engine) transition(to status.State) {
	if e.status == nil {
		return
	}
	if err := e.status.Transition(to); err != nil {
		e.logger.Debug("status transition skipped", zap.Error(err))
	}
}

func (e *Engine) emit(kind string, payload any) {
	if e.bus != nil {
		e.bus.Emit(kind, payload)
	}
}
