package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/state"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

// State exposes the state store for reading and subscribing.
func (e *Engine) State() *state.Store { return e.state }

// SelectRoom makes roomID current, loads its messages and marks them read.
func (e *Engine) SelectRoom(ctx context.Context, roomID model.ID) error {
	return e.do(ctx, func(ctx context.Context) error { return e.selectRoom(ctx, roomID) })
}

// SendText sends content to roomID, or to the current room when roomID is
// empty. The returned message is pending until the server echoes it back.
// When the realtime channel is down the message is queued for later.
func (e *Engine) SendText(ctx context.Context, roomID model.ID, content string) (model.Message, error) {
	var out model.Message
	err := e.do(ctx, func(ctx context.Context) error {
		m, err := e.sendText(ctx, roomID, content)
		out = m
		return err
	})
	return out, err
}

// SendFile uploads the file at path and announces it in roomID.
func (e *Engine) SendFile(ctx context.Context, roomID model.ID, path string) (*model.File, error) {
	var out *model.File
	err := e.do(ctx, func(ctx context.Context) error {
		f, err := e.sendFile(ctx, roomID, path)
		out = f
		return err
	})
	return out, err
}

// StartTyping tells the room the user is typing. The indicator stops by
// itself after the typing timeout unless StartTyping is called again.
func (e *Engine) StartTyping(ctx context.Context, roomID model.ID) error {
	return e.do(ctx, func(context.Context) error {
		id, err := e.resolveRoom(roomID)
		if err != nil {
			return err
		}
		e.startTyping(id)
		return nil
	})
}

// StopTyping clears the local typing indicator.
func (e *Engine) StopTyping(ctx context.Context) error {
	return e.do(ctx, func(context.Context) error {
		e.stopTyping()
		return nil
	})
}

// HideRoom removes a room from the visible list until a message arrives.
func (e *Engine) HideRoom(ctx context.Context, roomID model.ID) error {
	return e.do(ctx, func(ctx context.Context) error {
		if !e.state.UpdateRoom(roomID, func(r *model.Room) { r.Hidden = true }) {
			return fmt.Errorf("%w: %s", ErrUnknownRoom, roomID)
		}
		e.persistRoom(ctx, roomID)
		if e.state.CurrentRoomID() == roomID {
			if e.typingRoom == roomID {
				e.stopTyping()
			}
			e.state.SetCurrentRoom("")
		}
		return nil
	})
}

// CreateDirectRoom opens a one-to-one room with userID and selects it. An
// existing direct room with that user is reused.
func (e *Engine) CreateDirectRoom(ctx context.Context, userID model.ID) (model.Room, error) {
	var out model.Room
	err := e.do(ctx, func(ctx context.Context) error {
		r, err := e.createDirectRoom(ctx, userID)
		out = r
		return err
	})
	return out, err
}

// SearchUsers looks users up by name on the server.
func (e *Engine) SearchUsers(ctx context.Context, query string) ([]model.User, error) {
	q := strings.TrimSpace(query)
	if len([]rune(q)) < minUserQuery {
		return nil, ErrQueryTooShort
	}
	users, err := e.api.SearchUsers(ctx, q)
	if err != nil {
		return nil, err
	}
	if me, ok := e.state.CurrentUser(); ok {
		users = slices.DeleteFunc(users, func(u model.User) bool { return u.ID == me.ID })
	}
	return users, nil
}

// SearchMessages searches the local cache.
func (e *Engine) SearchMessages(ctx context.Context, query string, limit int) ([]model.Message, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, ErrQueryTooShort
	}
	if limit <= 0 {
		limit = e.opts.HistoryLimit
	}
	return e.store.SearchMessages(ctx, q, limit)
}

// SetFocused records whether the chat window has focus.
func (e *Engine) SetFocused(focused bool) {
	e.focus.SetFocused(focused)
}

// Reconcile drains the offline queue and fetches messages missed since the
// newest cached one. It also runs after every reconnect.
func (e *Engine) Reconcile(ctx context.Context) error {
	return e.do(ctx, e.reconcile)
}

// Logout disconnects and forgets all in-memory state. The cache is kept.
func (e *Engine) Logout(ctx context.Context) error {
	return e.do(ctx, func(context.Context) error {
		e.stopTyping()
		e.rt.Close()
		e.joined = ""
		e.state.Clear()
		e.transition(status.AuthRequired)
		e.emit(bus.KindReauthRequired, "logged out")
		return nil
	})
}

func (e *Engine) resolveRoom(roomID model.ID) (model.ID, error) {
	if roomID == "" {
		roomID = e.state.CurrentRoomID()
	}
	if roomID == "" {
		return "", ErrNoRoomSelected
	}
	if _, ok := e.state.Room(roomID); !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownRoom, roomID)
	}
	return roomID, nil
}

func (e *Engine) selectRoom(ctx context.Context, roomID model.ID) error {
	r, ok := e.state.Room(roomID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRoom, roomID)
	}
	if e.typingRoom != "" && e.typingRoom != roomID {
		e.stopTyping()
	}
	e.state.SetCurrentRoom(roomID)
	e.state.ClearUnreadCount(roomID)
	e.persistRoom(ctx, roomID)
	if !r.IsLocal() {
		e.join(roomID)
	}

	msgs := e.loadMessages(ctx, r)
	e.state.SetMessages(roomID, msgs)
	e.markRead(ctx, roomID, msgs)
	return nil
}

// loadMessages reads a room's recent history from the cache, falling back
// to the server when the cache has none. Messages still pending locally are
// kept so an offline send survives reselecting the room.
func (e *Engine) loadMessages(ctx context.Context, r model.Room) []model.Message {
	msgs, err := e.store.GetMessages(ctx, r.ID, e.opts.HistoryLimit)
	if err != nil {
		e.logger.Error("failed to read cached messages", zap.String("room_id", string(r.ID)), zap.Error(err))
	}
	if len(msgs) == 0 && !r.IsLocal() {
		fetched, err := e.api.Messages(ctx, r.ID, e.opts.HistoryLimit)
		if err != nil {
			e.logger.Warn("failed to fetch history", zap.String("room_id", string(r.ID)), zap.Error(err))
		}
		for i := range fetched {
			if fetched[i].RoomID == "" {
				fetched[i].RoomID = r.ID
			}
			if err := e.store.SaveMessage(ctx, &fetched[i]); err != nil {
				e.logger.Warn("failed to cache message", zap.String("id", string(fetched[i].ID)), zap.Error(err))
			}
		}
		if len(fetched) > 0 {
			e.emit(bus.KindMerged, bus.MergedPayload{Source: "history", RoomID: string(r.ID), Count: len(fetched)})
		}
		msgs = fetched
	}

	for _, p := range e.state.PendingMessages(r.ID) {
		if !slices.ContainsFunc(msgs, func(m model.Message) bool { return m.ID == p.ID }) {
			msgs = append(msgs, p)
		}
	}
	return msgs
}

// markRead reports every loaded message as read in one batch. Temporary ids
// are unknown to the server and are left out. Failures are logged; the
// server catches up on the next select.
func (e *Engine) markRead(ctx context.Context, roomID model.ID, msgs []model.Message) {
	var ids []model.ID
	for _, m := range msgs {
		if m.Pending || m.IsTemporary() {
			continue
		}
		ids = append(ids, m.ID)
	}
	if len(ids) == 0 {
		return
	}
	if err := e.api.MarkRead(ctx, roomID, ids); err != nil {
		e.logger.Warn("mark read failed", zap.String("room_id", string(roomID)), zap.Error(err))
	}
}

func (e *Engine) sendText(ctx context.Context, roomID model.ID, content string) (model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return model.Message{}, ErrEmptyMessage
	}
	roomID, err := e.resolveRoom(roomID)
	if err != nil {
		return model.Message{}, err
	}

	now := e.opts.Now()
	me, _ := e.state.CurrentUser()
	msg := pendingMessage(me, model.NewTempID(now), roomID, content, model.At(now.UTC()))
	e.state.AddMessage(roomID, msg)

	if !e.sendTo(roomID, transport.NewMessageFrame(roomID, content)) {
		entry := model.QueueEntry{TempID: msg.ID, RoomID: roomID, Content: content, CreatedAt: msg.CreatedAt}
		if err := e.outbox.Enqueue(ctx, entry); err != nil {
			return msg, err
		}
	}
	if e.typingRoom == roomID {
		e.stopTyping()
	}
	return msg, nil
}

func (e *Engine) sendFile(ctx context.Context, roomID model.ID, path string) (*model.File, error) {
	roomID, err := e.resolveRoom(roomID)
	if err != nil {
		return nil, err
	}
	att, err := e.files.Load(path)
	if err != nil {
		return nil, err
	}
	if e.rt.State() != transport.Connected {
		return nil, ErrNotConnected
	}

	res, err := e.api.Upload(ctx, roomID, att.Name, att.MimeType, att.Data)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", att.Name, err)
	}
	f := &model.File{
		ID:           res.FileID,
		RoomID:       roomID,
		Name:         att.Name,
		Size:         att.Size,
		MimeType:     att.MimeType,
		URL:          res.URL,
		ThumbnailURL: res.ThumbnailURL,
		UploadedAt:   model.At(e.opts.Now().UTC()),
	}
	if err := e.store.SaveFile(ctx, f); err != nil {
		e.logger.Warn("failed to cache file", zap.String("file_id", string(f.ID)), zap.Error(err))
	}

	meta := model.FileInfo{Name: f.Name, Size: f.Size, MimeType: f.MimeType, URL: f.URL, ThumbnailURL: f.ThumbnailURL}
	if !e.sendTo(roomID, transport.NewFileFrame(roomID, f.ID, meta)) {
		return f, ErrNotConnected
	}
	return f, nil
}

func (e *Engine) createDirectRoom(ctx context.Context, userID model.ID) (model.Room, error) {
	if userID == "" {
		return model.Room{}, errors.New("user id is required")
	}
	for _, r := range e.state.Rooms() {
		if r.Type == model.RoomDirect && slices.ContainsFunc(r.Members, func(m model.Member) bool { return m.ID == userID }) {
			if r.Hidden {
				e.state.UpdateRoom(r.ID, func(r *model.Room) { r.Hidden = false })
				e.persistRoom(ctx, r.ID)
			}
			return r, e.selectRoom(ctx, r.ID)
		}
	}

	now := model.At(e.opts.Now().UTC())
	placeholder := model.Room{
		ID:        model.NewLocalRoomID(),
		Type:      model.RoomDirect,
		Name:      string(userID),
		Members:   []model.Member{{ID: userID, Name: string(userID)}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.state.AddRoom(placeholder)

	created, err := e.api.CreateRoom(ctx, model.RoomDirect, []model.ID{userID})
	if err != nil {
		e.state.RemoveRoom(placeholder.ID)
		return model.Room{}, fmt.Errorf("create direct room: %w", err)
	}
	e.state.RemapRoom(placeholder.ID, *created)
	if err := e.store.SaveRoom(ctx, created); err != nil {
		e.logger.Warn("failed to cache room", zap.String("room_id", string(created.ID)), zap.Error(err))
	}
	if err := e.refreshRooms(ctx); err != nil {
		e.logger.Warn("failed to reload rooms", zap.Error(err))
	}
	if err := e.selectRoom(ctx, created.ID); err != nil {
		return *created, err
	}
	r, _ := e.state.Room(created.ID)
	return r, nil
}

// reconcile drains the queue, rejoins the current room, pulls missed
// messages and refreshes the room list.
func (e *Engine) reconcile(ctx context.Context) error {
	res, err := e.outbox.Drain(ctx)
	if err != nil {
		e.logger.Error("offline queue drain failed", zap.Error(err))
	}
	// Draining joins the rooms it sends to.
	if res.Sent > 0 || res.Remaining > 0 {
		e.joined = ""
	}
	if cur := e.state.CurrentRoomID(); cur != "" {
		if r, ok := e.state.Room(cur); ok && !r.IsLocal() {
			e.join(cur)
		}
	}

	if err := e.tailSync(ctx); err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			e.requireAuth(err)
			return fmt.Errorf("%w: %v", auth.ErrReauthRequired, err)
		}
		e.logger.Warn("tail sync failed", zap.Error(err))
	}
	if err := e.refreshRooms(ctx); err != nil {
		e.logger.Warn("room refresh failed", zap.Error(err))
	}
	if err := e.store.SetCheckpoint(ctx, store.CheckpointLastSyncAt, strconv.FormatInt(e.opts.Now().UnixMilli(), 10)); err != nil {
		e.logger.Warn("failed to record sync checkpoint", zap.Error(err))
	}

	if e.rt.State() == transport.Connected {
		e.transition(status.Ready)
	}
	e.emit(bus.KindSyncCompleted, res)
	return nil
}

// tailSync fetches messages newer than the newest cached one. With an empty
// cache there is nothing to anchor on; history loads per room instead.
func (e *Engine) tailSync(ctx context.Context) error {
	lastID, err := e.store.GetLastMessageID(ctx)
	if err != nil {
		return err
	}
	if lastID == "" {
		return nil
	}
	msgs, err := e.api.Sync(ctx, lastID)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if m.RoomID == "" || m.ID == "" {
			continue
		}
		if m.Type == "" {
			m.Type = model.MessageText
		}
		m.Pending = false
		e.ingest(ctx, m)
	}
	if len(msgs) > 0 {
		e.logger.Info("tail sync", zap.String("after", string(lastID)), zap.Int("messages", len(msgs)))
		e.emit(bus.KindMerged, bus.MergedPayload{Source: "sync", Count: len(msgs)})
	}
	return nil
}

// join makes roomID the connection's current room on the server.
func (e *Engine) join(roomID model.ID) bool {
	if !e.rt.Send(transport.NewJoinRoomFrame(roomID)) {
		return false
	}
	e.joined = roomID
	return true
}

// sendTo delivers a frame meant for roomID. The server routes by the
// connection's current room, so a frame for another room is wrapped in a
// join there and back.
func (e *Engine) sendTo(roomID model.ID, frame any) bool {
	if e.joined != roomID && !e.join(roomID) {
		return false
	}
	ok := e.rt.Send(frame)
	if cur := e.state.CurrentRoomID(); cur != "" && cur != roomID {
		if r, found := e.state.Room(cur); found && !r.IsLocal() {
			e.join(cur)
		}
	}
	return ok
}

func (e *Engine) startTyping(roomID model.ID) {
	if e.typingRoom != roomID {
		e.stopTyping()
		if !e.sendTo(roomID, transport.NewTypingFrame(roomID, transport.TypingStart)) {
			return
		}
		e.typingRoom = roomID
	}
	e.cancelTypingTimer()
	e.typingGen++
	gen := e.typingGen
	e.typingTimer = time.AfterFunc(e.opts.TypingTimeout, func() {
		e.post(func(context.Context) {
			if e.typingGen == gen {
				e.stopTyping()
			}
		})
	})
}

func (e *Engine) stopTyping() {
	e.cancelTypingTimer()
	if e.typingRoom == "" {
		return
	}
	e.sendTo(e.typingRoom, transport.NewTypingFrame(e.typingRoom, transport.TypingStop))
	e.typingRoom = ""
}

func (e *Engine) cancelTypingTimer() {
	if e.typingTimer != nil {
		e.typingTimer.Stop()
		e.typingTimer = nil
	}
	e.typingGen++
}
