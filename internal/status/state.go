package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/wppdesk/internal/bus"
)

// State is the state of the message pane.
type State string

const (
	Idle        State = "IDLE"
	Loading     State = "LOADING"
	Loaded      State = "LOADED"
	LoadingMore State = "LOADING_MORE"
)

// EventStateChanged is published on every accepted transition.
const EventStateChanged = "pane.state_changed"

// validTransitions defines allowed state transitions. Every state can fall
// back to Idle when the selection changes; there is no error state.
var validTransitions = map[State][]State{
	Idle:        {Loading},
	Loading:     {Loaded, Idle},
	Loaded:      {LoadingMore, Loaded, Idle},
	LoadingMore: {Loaded, Idle},
}

// Machine tracks the message pane and the has-more flag of the loaded
// thread.
type Machine struct {
	mu      sync.RWMutex
	current State
	hasMore bool
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Idle state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// HasMore reports whether older history can be loaded. It is only
// meaningful in Loaded.
func (m *Machine) HasMore() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current == Loaded && m.hasMore
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(to, m.hasMore)
}

// Finish moves to Loaded with the given has-more flag.
func (m *Machine) Finish(hasMore bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(Loaded, hasMore)
}

// Reset returns to Idle from any state.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == Idle {
		return
	}
	_ = m.transition(Idle, false)
}

func (m *Machine) transition(to State, hasMore bool) error {
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	if to == Idle {
		hasMore = false
	}
	from := m.current
	m.current = to
	m.hasMore = hasMore
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      EventStateChanged,
			Timestamp: time.Now(),
			Payload: StateChange{
				From:    from,
				To:      to,
				HasMore: hasMore,
			},
		})
	}
	return nil
}

// StateChange is the payload for pane state change events.
type StateChange struct {
	From    State
	To      State
	HasMore bool
}
