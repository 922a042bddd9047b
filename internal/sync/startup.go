package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// boot runs the startup sequence: token check, identity, cached rooms,
// queued sends shown as pending, server rooms, then connect. Only the token
// check is fatal; everything else degrades to what the cache holds.
func (e *Engine) boot(ctx context.Context) error {
	token, err := e.tokens.Token()
	if err != nil {
		if errors.Is(err, auth.ErrReauthRequired) {
			e.requireAuth(err)
		}
		return err
	}

	if err := e.loadUser(ctx); err != nil {
		return err
	}
	e.loadLocalRooms(ctx)
	e.restorePending(ctx)
	if err := e.refreshRooms(ctx); err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			e.requireAuth(err)
			return fmt.Errorf("%w: %v", auth.ErrReauthRequired, err)
		}
		e.logger.Warn("server rooms unavailable, using cache", zap.Error(err))
	}

	e.registerHandlers()
	e.transition(status.Connecting)
	e.rt.Connect(token)
	return nil
}

func (e *Engine) requireAuth(cause error) {
	e.logger.Warn("re-authentication required", zap.Error(cause))
	e.rt.Close()
	e.transition(status.AuthRequired)
	e.emit(bus.KindReauthRequired, cause.Error())
}

// loadUser fetches the signed-in user, falling back to the last one seen
// when the server is unreachable.
func (e *Engine) loadUser(ctx context.Context) error {
	me, err := e.api.Me(ctx)
	if err == nil {
		e.state.SetCurrentUser(*me)
		if data, err := json.Marshal(me); err == nil {
			if err := e.store.SetCheckpoint(ctx, store.CheckpointCurrentUser, string(data)); err != nil {
				e.logger.Warn("failed to cache current user", zap.Error(err))
			}
		}
		return nil
	}
	if errors.Is(err, backend.ErrUnauthorized) {
		e.requireAuth(err)
		return fmt.Errorf("%w: %v", auth.ErrReauthRequired, err)
	}

	e.logger.Warn("current user unavailable, using cache", zap.Error(err))
	raw, cerr := e.store.GetCheckpoint(ctx, store.CheckpointCurrentUser)
	if cerr != nil || raw == "" {
		return nil
	}
	var cached model.User
	if err := json.Unmarshal([]byte(raw), &cached); err == nil {
		e.state.SetCurrentUser(cached)
	}
	return nil
}

func (e *Engine) loadLocalRooms(ctx context.Context) {
	rooms, err := e.store.GetRooms(ctx)
	if err != nil {
		e.logger.Error("failed to load cached rooms", zap.Error(err))
		return
	}
	e.state.SetRooms(rooms)
}

// restorePending shows messages still waiting in the offline queue.
func (e *Engine) restorePending(ctx context.Context) {
	entries, err := e.outbox.Entries(ctx)
	if err != nil {
		e.logger.Error("failed to read offline queue", zap.Error(err))
		return
	}
	me, _ := e.state.CurrentUser()
	for _, q := range entries {
		e.state.AddMessage(q.RoomID, pendingMessage(me, q.TempID, q.RoomID, q.Content, q.CreatedAt))
	}
	if len(entries) > 0 {
		e.emit(bus.KindMerged, bus.MergedPayload{Source: "local", Count: len(entries)})
	}
}

func pendingMessage(me model.User, id, roomID model.ID, content string, at model.Timestamp) model.Message {
	name := me.Name
	if name == "" {
		name = "You"
	}
	return model.Message{
		ID:        id,
		RoomID:    roomID,
		UserID:    me.ID,
		UserName:  name,
		Content:   content,
		Type:      model.MessageText,
		CreatedAt: at,
		Pending:   true,
	}
}

// refreshRooms replaces the room list with the server's, keeping the
// user's hidden flags and rooms still being created locally. Rooms the
// server no longer lists are dropped from the cache.
func (e *Engine) refreshRooms(ctx context.Context) error {
	server, err := e.api.Rooms(ctx)
	if err != nil {
		return err
	}

	local := make(map[model.ID]model.Room)
	for _, r := range e.state.Rooms() {
		local[r.ID] = r
	}

	merged := make([]model.Room, 0, len(server))
	seen := make(map[model.ID]bool, len(server))
	for _, r := range server {
		if prev, ok := local[r.ID]; ok {
			r.Hidden = prev.Hidden
		}
		seen[r.ID] = true
		merged = append(merged, r)
		if err := e.store.SaveRoom(ctx, &r); err != nil {
			e.logger.Warn("failed to cache room", zap.String("room_id", string(r.ID)), zap.Error(err))
		}
	}
	for id, r := range local {
		switch {
		case seen[id]:
		case r.IsLocal():
			merged = append(merged, r)
		default:
			if err := e.store.DeleteRoom(ctx, id); err != nil {
				e.logger.Warn("failed to drop stale room", zap.String("room_id", string(id)), zap.Error(err))
			}
		}
	}
	e.state.SetRooms(merged)

	if cur := e.state.CurrentRoomID(); cur != "" && !seen[cur] {
		if _, ok := local[cur]; ok && !local[cur].IsLocal() {
			e.state.SetCurrentRoom("")
		}
	}
	return nil
}
