// Package status tracks the bridge session state as seen by this daemon.
package status

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/skdvlpr/gomercatocrm/internal/bus"
)

// State is the session state derived from the bridge.
type State string

const (
	Booting      State = "BOOTING"
	AuthRequired State = "AUTH_REQUIRED"
	Connecting   State = "CONNECTING"
	Ready        State = "READY"
	Unreachable  State = "UNREACHABLE"
)

// TopicChanged is the bus topic of StatusChange events.
const TopicChanged = "session.status_changed"

// validTransitions defines allowed state transitions. Nothing returns to
// Booting.
var validTransitions = map[State][]State{
	Booting:      {AuthRequired, Connecting, Ready, Unreachable},
	AuthRequired: {Connecting, Ready, Unreachable},
	Connecting:   {AuthRequired, Ready, Unreachable},
	Ready:        {AuthRequired, Connecting, Unreachable},
	Unreachable:  {AuthRequired, Connecting, Ready},
}

// FromBridge maps a bridge session state label onto a State.
func FromBridge(state string) State {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "CONNECTED", "AUTHENTICATED":
		return Ready
	case "OPENING", "PAIRING", "CONNECTING", "STARTING", "TIMEOUT", "RESUMING":
		return Connecting
	default:
		// UNPAIRED, UNPAIRED_IDLE, NOT_STARTED, DISCONNECTED, CONFLICT and
		// anything unknown need an operator to log in again.
		return AuthRequired
	}
}

// Snapshot is the current state plus what the bridge last reported.
type Snapshot struct {
	State       State     `json:"state"`
	BridgeState string    `json:"bridgeState,omitempty"`
	Message     string    `json:"message,omitempty"`
	Since       time.Time `json:"since"`
}

// Machine tracks and enforces session state transitions.
type Machine struct {
	mu          sync.RWMutex
	current     State
	since       time.Time
	bridgeState string
	message     string
	bus         *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		since:   time.Now(),
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Snapshot returns the current state with the last bridge report.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{State: m.current, BridgeState: m.bridgeState, Message: m.message, Since: m.since}
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

func (m *Machine) transitionLocked(to State) error {
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.since = time.Now()
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Topic:     TopicChanged,
			Timestamp: m.since,
			Payload:   StatusChange{From: from, To: to},
		})
	}
	return nil
}

// Observe records a bridge status report and moves to the state it implies.
// It reports whether the state changed.
func (m *Machine) Observe(bridgeState, message string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bridgeState = bridgeState
	m.message = message
	to := FromBridge(bridgeState)
	if to == m.current {
		return false
	}
	return m.transitionLocked(to) == nil
}

// ObserveUnreachable records that the bridge did not answer.
func (m *Machine) ObserveUnreachable(reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.message = reason
	if m.current == Unreachable {
		return false
	}
	return m.transitionLocked(Unreachable) == nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
