package sync

import (
	"context"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/notify"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

// registerHandlers subscribes to the realtime channel once. Each frame is
// handed to the loop so handlers never race user actions.
func (e *Engine) registerHandlers() {
	if e.handlersRegistered {
		return
	}
	e.handlersRegistered = true

	routes := map[string]func(context.Context, transport.Frame){
		transport.EventConnected:    e.onConnected,
		transport.EventDisconnected: e.onDisconnected,
		transport.TypeMessage:       e.onMessage,
		transport.TypeTyping:        e.onTyping,
		transport.TypeRead:          e.onRead,
		transport.TypeRoomCreated:   e.onRoomCreated,
		transport.TypeAuthSuccess:   e.onAuthSuccess,
		transport.TypeJoined:        e.onJoined,
		transport.TypeError:         e.onServerError,
		transport.TypePing:          func(context.Context, transport.Frame) {},
	}
	for typ, h := range routes {
		h := h
		e.unsubs = append(e.unsubs, e.rt.On(typ, func(f transport.Frame) {
			e.post(func(ctx context.Context) { h(ctx, f) })
		}))
	}
}

func (e *Engine) onConnected(ctx context.Context, _ transport.Frame) {
	e.joined = ""
	e.transition(status.Syncing)
	e.emit(bus.KindConnected, nil)
	e.reconcile(ctx)
}

func (e *Engine) onDisconnected(context.Context, transport.Frame) {
	e.joined = ""
	e.transition(status.Offline)
	e.emit(bus.KindDisconnected, nil)
}

func (e *Engine) onMessage(ctx context.Context, f transport.Frame) {
	var m model.Message
	if err := f.Decode(&m); err != nil {
		e.logger.Warn("dropping undecodable message", zap.Error(err))
		return
	}
	if m.RoomID == "" {
		m.RoomID = e.state.CurrentRoomID()
	}
	if m.RoomID == "" || m.ID == "" {
		e.logger.Warn("dropping message without room or id", zap.String("id", string(m.ID)))
		return
	}
	if m.Type == "" {
		m.Type = model.MessageText
	}
	m.Pending = false

	known := true
	if _, ok := e.state.Room(m.RoomID); !ok {
		known = false
	}
	e.ingest(ctx, m)
	e.emit(bus.KindMerged, bus.MergedPayload{Source: "realtime", RoomID: string(m.RoomID), Count: 1})

	// The server's unread count for a room we did not know already
	// includes this message.
	if !known {
		if err := e.refreshRooms(ctx); err != nil {
			e.logger.Warn("failed to load rooms for new message", zap.Error(err))
		}
	} else if m.RoomID != e.state.CurrentRoomID() {
		e.state.IncrementUnreadCount(m.RoomID)
		e.persistRoom(ctx, m.RoomID)
	}

	me, _ := e.state.CurrentUser()
	if e.notifier != nil && notify.ShouldNotify(e.focus, me.ID, m.UserID) {
		room, _ := e.state.Room(m.RoomID)
		n := notify.Notification{RoomID: m.RoomID, RoomName: room.Name, Sender: m.UserName, Preview: m.Preview()}
		if err := e.notifier.Notify(ctx, n); err != nil {
			e.logger.Warn("notification failed", zap.Error(err))
		}
	}
}

// ingest merges a confirmed message into state and the cache. A message
// for a hidden room brings the room back.
func (e *Engine) ingest(ctx context.Context, m model.Message) {
	if r, ok := e.state.Room(m.RoomID); ok && r.Hidden {
		e.state.UpdateRoom(m.RoomID, func(r *model.Room) { r.Hidden = false })
	}
	e.state.AddMessage(m.RoomID, m)
	if err := e.store.SaveMessage(ctx, &m); err != nil {
		e.logger.Error("failed to cache message", zap.String("id", string(m.ID)), zap.Error(err))
	}
	e.persistRoom(ctx, m.RoomID)
}

func (e *Engine) persistRoom(ctx context.Context, id model.ID) {
	r, ok := e.state.Room(id)
	if !ok || r.IsLocal() {
		return
	}
	if err := e.store.SaveRoom(ctx, &r); err != nil {
		e.logger.Warn("failed to cache room", zap.String("room_id", string(id)), zap.Error(err))
	}
}

func (e *Engine) onTyping(_ context.Context, f transport.Frame) {
	var ev transport.TypingEvent
	if err := f.Decode(&ev); err != nil {
		e.logger.Debug("dropping undecodable typing frame", zap.Error(err))
		return
	}
	roomID := ev.RoomID
	if roomID == "" {
		roomID = e.state.CurrentRoomID()
	}
	if roomID == "" {
		return
	}
	if me, ok := e.state.CurrentUser(); ok && me.ID == ev.UserID {
		return
	}
	if ev.Status == transport.TypingStop {
		e.state.RemoveTypingUser(roomID, ev.UserID)
		return
	}
	name := ev.UserName
	if name == "" {
		name = e.memberName(roomID, ev.UserID)
	}
	e.state.AddTypingUser(roomID, model.TypingUser{UserID: ev.UserID, UserName: name})
}

func (e *Engine) memberName(roomID, userID model.ID) string {
	if r, ok := e.state.Room(roomID); ok {
		for _, m := range r.Members {
			if m.ID == userID {
				return m.Name
			}
		}
	}
	return string(userID)
}

func (e *Engine) onRead(ctx context.Context, f transport.Frame) {
	var ev transport.ReadEvent
	if err := f.Decode(&ev); err != nil {
		e.logger.Debug("dropping undecodable read frame", zap.Error(err))
		return
	}
	roomID := ev.RoomID
	if roomID == "" {
		roomID = e.state.CurrentRoomID()
	}
	if roomID == "" || ev.UserID == "" {
		return
	}
	for _, id := range ev.IDs() {
		updated, ok := e.state.UpdateMessage(roomID, id, func(m *model.Message) {
			if !m.HasReader(ev.UserID) {
				m.ReadBy = append(m.ReadBy, ev.UserID)
			}
		})
		if !ok || updated.Pending {
			continue
		}
		if err := e.store.SaveMessage(ctx, &updated); err != nil {
			e.logger.Warn("failed to cache read receipt", zap.String("id", string(id)), zap.Error(err))
		}
	}
}

func (e *Engine) onRoomCreated(ctx context.Context, f transport.Frame) {
	var r model.Room
	if err := f.Decode(&r); err != nil || r.ID == "" {
		e.logger.Warn("dropping undecodable room_created frame", zap.Error(err))
		return
	}
	if err := e.store.SaveRoom(ctx, &r); err != nil {
		e.logger.Warn("failed to cache room", zap.String("room_id", string(r.ID)), zap.Error(err))
	}
	e.state.AddRoom(r)
}

func (e *Engine) onAuthSuccess(_ context.Context, f transport.Frame) {
	var ev transport.AuthSuccessEvent
	_ = f.Decode(&ev)
	e.logger.Info("realtime authenticated", zap.String("user_id", string(ev.UserID)))
}

func (e *Engine) onJoined(_ context.Context, f transport.Frame) {
	var ev transport.JoinedEvent
	_ = f.Decode(&ev)
	e.logger.Debug("joined room", zap.String("room_id", string(ev.RoomID)))
}

func (e *Engine) onServerError(_ context.Context, f transport.Frame) {
	var ev transport.ErrorEvent
	_ = f.Decode(&ev)
	e.logger.Warn("server error", zap.String("message", ev.Message))
	e.emit(bus.KindServerError, ev.Message)
}
