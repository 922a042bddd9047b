// Package state holds the in-memory view of rooms, messages, typing and
// unread counts that the user interface renders, and notifies subscribers on
// every change.
//
// Only the sync engine mutates a Store; other goroutines read and subscribe.
// Listeners run synchronously on the mutating goroutine after the store's
// lock has been released, so they may call the read methods.
package state

import (
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/matheus3301/chatsync/internal/model"
	"go.uber.org/zap"
)

// EventKind names a change notification.
type EventKind string

const (
	RoomsUpdated    EventKind = "rooms_updated"    // Data: []model.Room
	RoomSelected    EventKind = "room_selected"    // Data: nil; RoomID is the selection ("" for none)
	MessagesUpdated EventKind = "messages_updated" // Data: []model.Message
	MessageAdded    EventKind = "message_added"    // Data: model.Message
	MessageUpdated  EventKind = "message_updated"  // Data: model.Message
	TypingUpdated   EventKind = "typing_updated"   // Data: []model.TypingUser
	UnreadUpdated   EventKind = "unread_updated"   // Data: int
	UserUpdated     EventKind = "user_updated"     // Data: model.User
	StoreCleared    EventKind = "store_cleared"    // Data: nil
)

// Event is delivered to listeners after a mutation.
type Event struct {
	Kind   EventKind `json:"kind"`
	RoomID model.ID  `json:"room_id,omitempty"`
	Data   any       `json:"data,omitempty"`
}

// Listener receives change notifications.
type Listener func(Event)

// Store is the authoritative in-memory chat state.
type Store struct {
	mu       sync.RWMutex
	user     *model.User
	rooms    []model.Room
	current  model.ID
	messages map[model.ID][]model.Message
	typing   map[model.ID][]model.TypingUser
	unread   map[model.ID]int

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int
	logger    *zap.Logger
}

// New creates an empty store.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		messages:  make(map[model.ID][]model.Message),
		typing:    make(map[model.ID][]model.TypingUser),
		unread:    make(map[model.ID]int),
		listeners: make(map[int]Listener),
		logger:    logger,
	}
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.lmu.Unlock()

	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

// notify calls every listener in subscription order. A panicking listener
// is logged and skipped.
func (s *Store) notify(evt Event) {
	s.lmu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	ls := make([]Listener, 0, len(ids))
	for _, id := range ids {
		ls = append(ls, s.listeners[id])
	}
	s.lmu.Unlock()

	for _, l := range ls {
		s.call(l, evt)
	}
}

func (s *Store) call(l Listener, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("state listener panicked", zap.String("event", string(evt.Kind)), zap.Any("panic", r))
		}
	}()
	l(evt)
}

// SetCurrentUser records the signed-in user.
func (s *Store) SetCurrentUser(u model.User) {
	s.mu.Lock()
	s.user = &u
	s.mu.Unlock()
	s.notify(Event{Kind: UserUpdated, Data: u})
}

// CurrentUser returns the signed-in user, or false if unknown.
func (s *Store) CurrentUser() (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return model.User{}, false
	}
	return *s.user, true
}

// Clear resets the store, e.g. on logout.
func (s *Store) Clear() {
	s.mu.Lock()
	s.user = nil
	s.rooms = nil
	s.current = ""
	s.messages = make(map[model.ID][]model.Message)
	s.typing = make(map[model.ID][]model.TypingUser)
	s.unread = make(map[model.ID]int)
	s.mu.Unlock()
	s.notify(Event{Kind: StoreCleared})
}

// SetCurrentRoom changes the selected room. It does not load messages.
func (s *Store) SetCurrentRoom(id model.ID) {
	s.mu.Lock()
	s.current = id
	s.mu.Unlock()
	s.notify(Event{Kind: RoomSelected, RoomID: id})
}

// CurrentRoomID returns the selected room id, or "".
func (s *Store) CurrentRoomID() model.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// CurrentRoom returns the selected room, if any.
func (s *Store) CurrentRoom() (model.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == "" {
		return model.Room{}, false
	}
	return s.roomLocked(s.current)
}

// Messages returns a copy of a room's messages in ascending creation order.
func (s *Store) Messages(roomID model.ID) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMessages(s.messages[roomID])
}

// PendingMessages returns the room's messages not yet confirmed by the server.
func (s *Store) PendingMessages(roomID model.ID) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Message
	for _, m := range s.messages[roomID] {
		if m.Pending {
			out = append(out, m.Clone())
		}
	}
	return out
}

// TypingUsers returns who is typing in a room.
func (s *Store) TypingUsers(roomID model.ID) []model.TypingUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.typing[roomID])
}

// UnreadCount returns a room's unread counter.
func (s *Store) UnreadCount(roomID model.ID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread[roomID]
}

func cloneMessages(in []model.Message) []model.Message {
	if in == nil {
		return nil
	}
	out := make([]model.Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}

// FilterRooms returns visible rooms whose name contains query, ignoring case.
func (s *Store) FilterRooms(query string) []model.Room {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []model.Room
	for _, r := range s.VisibleRooms() {
		if q == "" || strings.Contains(strings.ToLower(r.Name), q) {
			out = append(out, r)
		}
	}
	return out
}

// upperBound returns the index after the last message created at or before m,
// so equal timestamps keep arrival order.
func upperBound(list []model.Message, m model.Message) int {
	return sort.Search(len(list), func(i int) bool {
		return list[i].CreatedAt.After(m.CreatedAt.Time)
	})
}
