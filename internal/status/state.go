package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State represents the session's connectivity state as shown to the user.
type State string

const (
	Booting      State = "BOOTING"
	AuthRequired State = "AUTH_REQUIRED"
	Connecting   State = "CONNECTING"
	Syncing      State = "SYNCING"
	Ready        State = "READY"
	Offline      State = "OFFLINE"
	Stopped      State = "STOPPED"
	Error        State = "ERROR"
)

// All lists every state, in display order.
var All = []State{Booting, AuthRequired, Connecting, Syncing, Ready, Offline, Stopped, Error}

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:      {AuthRequired, Connecting, Stopped, Error},
	AuthRequired: {Connecting, Stopped, Error},
	Connecting:   {Syncing, Offline, AuthRequired, Stopped, Error},
	Syncing:      {Ready, Offline, AuthRequired, Stopped, Error},
	Ready:        {Offline, Syncing, AuthRequired, Stopped, Error},
	Offline:      {Connecting, Syncing, AuthRequired, Stopped, Error},
	Stopped:      {},
	Error:        {Booting, Stopped},
}

// Machine tracks and enforces session state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
// Transitioning to the current state is a no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Emit(bus.KindStatusChanged, StatusChange{From: from, To: to})
	}
	return nil
}

// Connected reports whether the state implies a live realtime connection.
func (s State) Connected() bool {
	return s == Syncing || s == Ready
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}
