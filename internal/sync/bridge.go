package sync

import (
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/state"
)

// bridge republishes state changes on the bus as chat.<kind> so that
// subscribers outside the process, such as WatchEvents streams, see them.
func (e *Engine) bridge() (unsubscribe func()) {
	if e.bus == nil {
		return func() {}
	}
	return e.state.Subscribe(func(ev state.Event) {
		e.bus.Emit(bus.ChatPrefix+string(ev.Kind), ev)
	})
}
