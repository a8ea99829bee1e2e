package gate

import (
	"fmt"
	"sync"
)

// State is a step of the gate's state machine.
type State string

const (
	// StateUnknown means storage availability is not yet known.
	StateUnknown State = "unknown"
	// StateLoading means the identity check is in flight.
	StateLoading State = "loading"
	// StateNeedsProfileSetup means the user is signed in but has no backend profile.
	StateNeedsProfileSetup State = "needs-profile-setup"
	// StateReady means the target view can be rendered.
	StateReady State = "ready"
)

var transitions = map[State][]State{
	StateUnknown:           {StateLoading},
	StateLoading:           {StateNeedsProfileSetup, StateReady},
	StateNeedsProfileSetup: {StateLoading},
	StateReady:             {StateLoading},
}

// Machine tracks the gate state of one session.
type Machine struct {
	mu    sync.Mutex
	state State
}

// NewMachine returns a machine in StateUnknown.
func NewMachine() *Machine {
	return &Machine{state: StateUnknown}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StorageReady moves Unknown to Loading.
func (m *Machine) StorageReady() error {
	return m.transition(StateLoading, StateUnknown)
}

// Resolve ends Loading: an authenticated session without a profile needs setup,
// anything else is ready.
func (m *Machine) Resolve(authenticated, hasProfile bool) (State, error) {
	next := StateReady
	if authenticated && !hasProfile {
		next = StateNeedsProfileSetup
	}
	if err := m.transition(next, StateLoading); err != nil {
		return m.State(), err
	}
	return next, nil
}

// SessionChanged sends a resolved machine back to Loading.
func (m *Machine) SessionChanged() error {
	return m.transition(StateLoading, StateNeedsProfileSetup, StateReady)
}

func (m *Machine) transition(to State, from ...State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range from {
		if m.state == f && allowed(f, to) {
			m.state = to
			return nil
		}
	}
	return fmt.Errorf("invalid gate transition %s -> %s", m.state, to)
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
