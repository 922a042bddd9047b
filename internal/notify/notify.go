// Package notify raises desktop-style alerts for messages that arrive while
// the user is looking elsewhere.
package notify

import (
	"context"
	"sync/atomic"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"go.uber.org/zap"
)

// Notification describes one incoming message alert.
type Notification struct {
	RoomID   model.ID `json:"room_id"`
	RoomName string   `json:"room_name"`
	Sender   string   `json:"sender"`
	Preview  string   `json:"preview"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Focus reports whether the user is currently looking at the chat window.
type Focus interface {
	Focused() bool
}

// WindowFocus is a Focus set by the front end. It starts unfocused.
type WindowFocus struct {
	focused atomic.Bool
}

// Focused reports the last value passed to SetFocused.
func (f *WindowFocus) Focused() bool { return f.focused.Load() }

// SetFocused records whether the chat window has focus.
func (f *WindowFocus) SetFocused(v bool) { f.focused.Store(v) }

// BusNotifier publishes notifications on the event bus as notify.message,
// where any attached front end can pop them up.
type BusNotifier struct {
	bus    *bus.Bus
	logger *zap.Logger
}

// NewBusNotifier returns a notifier publishing on b. A nil logger is
// replaced by a no-op one.
func NewBusNotifier(b *bus.Bus, logger *zap.Logger) *BusNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BusNotifier{bus: b, logger: logger}
}

// Notify emits note as notify.message. It never fails.
func (n *BusNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Debug("notify",
		zap.String("room_id", string(note.RoomID)),
		zap.String("sender", note.Sender),
	)
	n.bus.Emit(bus.KindNotification, note)
	return nil
}

// ShouldNotify reports whether a message from senderID deserves an alert:
// the window is unfocused and the sender is someone else.
func ShouldNotify(f Focus, me, senderID model.ID) bool {
	if f != nil && f.Focused() {
		return false
	}
	return senderID != me
}
