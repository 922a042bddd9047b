package transport

import (
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Handler receives frames of the type it was registered for.
type Handler func(Frame)

type handlerEntry struct {
	id int
	fn Handler
}

// dispatcher routes frames to every handler registered for their type.
type dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry
	next     int
	logger   *zap.Logger
}

func newDispatcher(logger *zap.Logger) *dispatcher {
	return &dispatcher{
		handlers: make(map[string][]handlerEntry),
		logger:   logger,
	}
}

func (d *dispatcher) on(frameType string, fn Handler) func() {
	d.mu.Lock()
	id := d.next
	d.next++
	d.handlers[frameType] = append(d.handlers[frameType], handlerEntry{id: id, fn: fn})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.handlers[frameType] = slices.DeleteFunc(d.handlers[frameType], func(e handlerEntry) bool {
			return e.id == id
		})
	}
}

// emit calls the handlers in registration order. Types with no handler are ignored.
func (d *dispatcher) emit(f Frame) {
	d.mu.RLock()
	hs := slices.Clone(d.handlers[f.Type])
	d.mu.RUnlock()

	for _, h := range hs {
		d.call(h.fn, f)
	}
}

func (d *dispatcher) call(fn Handler, f Frame) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("frame handler panicked", zap.String("type", f.Type), zap.Any("panic", r))
		}
	}()
	fn(f)
}
