package state

import (
	"slices"

	"github.com/matheus3301/chatsync/internal/model"
)

// SetRooms replaces the room list. Unread counters are taken from the
// incoming rooms, except for the selected room which stays at zero.
func (s *Store) SetRooms(rooms []model.Room) {
	s.mu.Lock()
	s.rooms = make([]model.Room, 0, len(rooms))
	for _, r := range rooms {
		s.rooms = append(s.rooms, r.Clone())
		s.seedUnreadLocked(r)
	}
	sortRooms(s.rooms)
	out := s.roomsLocked()
	s.mu.Unlock()
	s.notify(Event{Kind: RoomsUpdated, Data: out})
}

// AddRoom inserts r, or replaces the room with the same id.
func (s *Store) AddRoom(r model.Room) {
	s.mu.Lock()
	if i := s.roomIndexLocked(r.ID); i >= 0 {
		s.rooms[i] = r.Clone()
	} else {
		s.rooms = append(s.rooms, r.Clone())
	}
	s.seedUnreadLocked(r)
	sortRooms(s.rooms)
	out := s.roomsLocked()
	s.mu.Unlock()
	s.notify(Event{Kind: RoomsUpdated, Data: out})
}

// UpdateRoom applies fn to the room with id. It returns false if no such
// room exists.
func (s *Store) UpdateRoom(id model.ID, fn func(*model.Room)) bool {
	s.mu.Lock()
	i := s.roomIndexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	fn(&s.rooms[i])
	s.rooms[i].ID = id
	sortRooms(s.rooms)
	out := s.roomsLocked()
	s.mu.Unlock()
	s.notify(Event{Kind: RoomsUpdated, Data: out})
	return true
}

// RemoveRoom drops a room and everything held for it.
func (s *Store) RemoveRoom(id model.ID) bool {
	s.mu.Lock()
	i := s.roomIndexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.rooms = slices.Delete(s.rooms, i, i+1)
	delete(s.messages, id)
	delete(s.typing, id)
	delete(s.unread, id)
	deselected := s.current == id
	if deselected {
		s.current = ""
	}
	out := s.roomsLocked()
	s.mu.Unlock()

	s.notify(Event{Kind: RoomsUpdated, Data: out})
	if deselected {
		s.notify(Event{Kind: RoomSelected})
	}
	return true
}

// RemapRoom replaces the room oldID with r, moving its messages, typing
// state and unread counter to r.ID. It is used when a locally created room
// is confirmed by the server.
func (s *Store) RemapRoom(oldID model.ID, r model.Room) bool {
	s.mu.Lock()
	i := s.roomIndexLocked(oldID)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.rooms = slices.Delete(s.rooms, i, i+1)
	if j := s.roomIndexLocked(r.ID); j >= 0 {
		s.rooms = slices.Delete(s.rooms, j, j+1)
	}
	s.rooms = append(s.rooms, r.Clone())
	sortRooms(s.rooms)

	if msgs, ok := s.messages[oldID]; ok {
		for k := range msgs {
			msgs[k].RoomID = r.ID
		}
		s.messages[r.ID] = msgs
		delete(s.messages, oldID)
	}
	if t, ok := s.typing[oldID]; ok {
		s.typing[r.ID] = t
		delete(s.typing, oldID)
	}
	s.unread[r.ID] = s.unread[oldID]
	delete(s.unread, oldID)

	reselected := s.current == oldID
	if reselected {
		s.current = r.ID
	}
	out := s.roomsLocked()
	s.mu.Unlock()

	s.notify(Event{Kind: RoomsUpdated, Data: out})
	if reselected {
		s.notify(Event{Kind: RoomSelected, RoomID: r.ID})
	}
	return true
}

// Rooms returns every room, most recently active first.
func (s *Store) Rooms() []model.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomsLocked()
}

// VisibleRooms returns the rooms not hidden by the user.
func (s *Store) VisibleRooms() []model.Room {
	rooms := s.Rooms()
	return slices.DeleteFunc(rooms, func(r model.Room) bool { return r.Hidden })
}

// Room returns the room with id.
func (s *Store) Room(id model.ID) (model.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomLocked(id)
}

// IncrementUnreadCount bumps a room's unread counter. The selected room is
// never counted.
func (s *Store) IncrementUnreadCount(roomID model.ID) {
	s.mu.Lock()
	if roomID == s.current {
		s.mu.Unlock()
		return
	}
	s.unread[roomID]++
	n := s.unread[roomID]
	s.mu.Unlock()
	s.notify(Event{Kind: UnreadUpdated, RoomID: roomID, Data: n})
}

// ClearUnreadCount resets a room's unread counter.
func (s *Store) ClearUnreadCount(roomID model.ID) {
	s.mu.Lock()
	s.unread[roomID] = 0
	s.mu.Unlock()
	s.notify(Event{Kind: UnreadUpdated, RoomID: roomID, Data: 0})
}

func (s *Store) seedUnreadLocked(r model.Room) {
	if r.ID == s.current {
		s.unread[r.ID] = 0
		return
	}
	s.unread[r.ID] = r.UnreadCount
}

func (s *Store) roomIndexLocked(id model.ID) int {
	return slices.IndexFunc(s.rooms, func(r model.Room) bool { return r.ID == id })
}

func (s *Store) roomLocked(id model.ID) (model.Room, bool) {
	i := s.roomIndexLocked(id)
	if i < 0 {
		return model.Room{}, false
	}
	r := s.rooms[i].Clone()
	r.UnreadCount = s.unread[id]
	return r, true
}

func (s *Store) roomsLocked() []model.Room {
	out := make([]model.Room, len(s.rooms))
	for i, r := range s.rooms {
		out[i] = r.Clone()
		out[i].UnreadCount = s.unread[r.ID]
	}
	return out
}

// sortRooms orders by last activity, newest first, keeping the existing
// order for equal times.
func sortRooms(rooms []model.Room) {
	slices.SortStableFunc(rooms, func(a, b model.Room) int {
		return b.Activity().Compare(a.Activity())
	})
}
