// Package outbox holds text messages that could not be sent while the
// realtime channel was down and delivers them once it is back.
package outbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

// Store persists queue entries.
type Store interface {
	SaveToOfflineQueue(ctx context.Context, e *model.QueueEntry) error
	GetOfflineQueue(ctx context.Context) ([]model.QueueEntry, error)
	RemoveFromOfflineQueue(ctx context.Context, tempID model.ID) error
	CountOfflineQueue(ctx context.Context) (int, error)
}

// Sender writes a frame to the realtime channel, reporting whether it went out.
type Sender interface {
	Send(v any) bool
}

// Result summarises one drain.
type Result struct {
	Sent      int
	Remaining int
}

// Queue is the durable offline queue.
type Queue struct {
	db     Store
	sender Sender
	bus    *bus.Bus
	logger *zap.Logger

	mu sync.Mutex
}

// New creates a queue.
func New(db Store, sender Sender, b *bus.Bus, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{db: db, sender: sender, bus: b, logger: logger}
}

// Enqueue persists e for a later drain.
func (q *Queue) Enqueue(ctx context.Context, e model.QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.db.SaveToOfflineQueue(ctx, &e); err != nil {
		return fmt.Errorf("enqueue %s: %w", e.TempID, err)
	}
	depth, _ := q.db.CountOfflineQueue(ctx)
	q.logger.Info("message queued offline",
		zap.String("temp_id", string(e.TempID)),
		zap.String("room_id", string(e.RoomID)),
		zap.Int("depth", depth),
	)
	q.emit(bus.KindOutboxQueued, e, depth)
	return nil
}

// Entries returns the queued entries in enqueue order.
func (q *Queue) Entries(ctx context.Context) ([]model.QueueEntry, error) {
	return q.db.GetOfflineQueue(ctx)
}

// Drain sends queued entries in enqueue order. Before the first entry of
// each room it joins that room, since the server routes a message to the
// sender's current room. An entry is removed only after it was sent; the
// first failed send stops the drain and leaves the rest for next time.
func (q *Queue) Drain(ctx context.Context) (Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.db.GetOfflineQueue(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("read offline queue: %w", err)
	}

	var res Result
	var joined model.ID
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			res.Remaining = len(entries) - i
			return res, err
		}
		if e.RoomID != joined {
			if !q.sender.Send(transport.NewJoinRoomFrame(e.RoomID)) {
				res.Remaining = len(entries) - i
				break
			}
			joined = e.RoomID
		}
		if !q.sender.Send(transport.NewMessageFrame(e.RoomID, e.Content)) {
			res.Remaining = len(entries) - i
			break
		}
		if err := q.db.RemoveFromOfflineQueue(ctx, e.TempID); err != nil {
			res.Remaining = len(entries) - i - 1
			return res, fmt.Errorf("remove %s from offline queue: %w", e.TempID, err)
		}
		res.Sent++
		q.emit(bus.KindOutboxSent, e, len(entries)-i-1)
	}

	if res.Remaining > 0 {
		q.logger.Warn("offline queue drain deferred", zap.Int("sent", res.Sent), zap.Int("remaining", res.Remaining))
		q.emit(bus.KindOutboxDeferred, model.QueueEntry{}, res.Remaining)
	} else if res.Sent > 0 {
		q.logger.Info("offline queue drained", zap.Int("sent", res.Sent))
	}
	return res, nil
}

func (q *Queue) emit(kind string, e model.QueueEntry, depth int) {
	if q.bus == nil {
		return
	}
	q.bus.Emit(kind, bus.OutboxPayload{TempID: string(e.TempID), RoomID: string(e.RoomID), Depth: depth})
}
