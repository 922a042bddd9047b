package state

import (
	"slices"

	"github.com/matheus3301/chatsync/internal/model"
)

// SetMessages replaces a room's message list, ordering it by creation time.
func (s *Store) SetMessages(roomID model.ID, msgs []model.Message) {
	list := cloneMessages(msgs)
	slices.SortStableFunc(list, func(a, b model.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt.Time)
	})
	s.mu.Lock()
	s.messages[roomID] = list
	out := cloneMessages(list)
	s.mu.Unlock()
	s.notify(Event{Kind: MessagesUpdated, RoomID: roomID, Data: out})
}

// AddMessage merges msg into the room's list.
//
// A message whose id is already present replaces it. A confirmed message
// supersedes the earliest pending message from the same sender with the same
// content. The list stays ordered by creation time, equal times in arrival
// order. The room's preview advances unless msg is older than the room's
// last activity.
func (s *Store) AddMessage(roomID model.ID, msg model.Message) {
	msg = msg.Clone()
	msg.RoomID = roomID

	s.mu.Lock()
	list := s.messages[roomID]
	if i := slices.IndexFunc(list, func(m model.Message) bool { return m.ID == msg.ID }); i >= 0 {
		list = slices.Delete(list, i, i+1)
	} else if !msg.Pending {
		if j := slices.IndexFunc(list, func(m model.Message) bool {
			return m.Pending && m.UserID == msg.UserID && m.Content == msg.Content
		}); j >= 0 {
			list = slices.Delete(list, j, j+1)
		}
	}
	list = slices.Insert(list, upperBound(list, msg), msg)
	s.messages[roomID] = list

	var rooms []model.Room
	if i := s.roomIndexLocked(roomID); i >= 0 {
		r := &s.rooms[i]
		if !msg.CreatedAt.Before(r.Activity()) {
			r.LastMessage = msg.Preview()
			r.UpdatedAt = msg.CreatedAt
			sortRooms(s.rooms)
			rooms = s.roomsLocked()
		}
	}
	s.mu.Unlock()

	s.notify(Event{Kind: MessageAdded, RoomID: roomID, Data: msg.Clone()})
	if rooms != nil {
		s.notify(Event{Kind: RoomsUpdated, Data: rooms})
	}
}

// UpdateMessage applies fn to the message with id in roomID. It returns the
// updated message, or false if none matched.
func (s *Store) UpdateMessage(roomID, id model.ID, fn func(*model.Message)) (model.Message, bool) {
	s.mu.Lock()
	list := s.messages[roomID]
	i := slices.IndexFunc(list, func(m model.Message) bool { return m.ID == id })
	if i < 0 {
		s.mu.Unlock()
		return model.Message{}, false
	}
	fn(&list[i])
	list[i].ID = id
	out := list[i].Clone()
	s.mu.Unlock()
	s.notify(Event{Kind: MessageUpdated, RoomID: roomID, Data: out.Clone()})
	return out, true
}

// AddTypingUser records u as typing in roomID. Adding a user twice is a no-op.
func (s *Store) AddTypingUser(roomID model.ID, u model.TypingUser) {
	s.mu.Lock()
	list := s.typing[roomID]
	if slices.ContainsFunc(list, func(t model.TypingUser) bool { return t.UserID == u.UserID }) {
		s.mu.Unlock()
		return
	}
	list = append(list, u)
	s.typing[roomID] = list
	out := slices.Clone(list)
	s.mu.Unlock()
	s.notify(Event{Kind: TypingUpdated, RoomID: roomID, Data: out})
}

// RemoveTypingUser clears userID's typing indicator in roomID.
func (s *Store) RemoveTypingUser(roomID, userID model.ID) {
	s.mu.Lock()
	list := s.typing[roomID]
	i := slices.IndexFunc(list, func(t model.TypingUser) bool { return t.UserID == userID })
	if i < 0 {
		s.mu.Unlock()
		return
	}
	list = slices.Delete(list, i, i+1)
	s.typing[roomID] = list
	out := slices.Clone(list)
	s.mu.Unlock()
	s.notify(Event{Kind: TypingUpdated, RoomID: roomID, Data: out})
}
