package session

import (
	"errors"
	"fmt"
	"sync"
)

// State is a session lifecycle state.
type State int

const (
	// StateNotStarted is the initial state before consent is requested.
	StateNotStarted State = iota

	// StateAwaitingConsent means the candidate has been shown the
	// monitoring disclosure but has not accepted it.
	StateAwaitingConsent

	// StateActive means monitoring is running and answers are accepted.
	StateActive

	// StateSubmitted is terminal: the session ended normally.
	StateSubmitted

	// StateTerminated is terminal: the session was ended by policy or
	// an administrator.
	StateTerminated
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateAwaitingConsent:
		return "awaiting_consent"
	case StateActive:
		return "active"
	case StateSubmitted:
		return "submitted"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateSubmitted || s == StateTerminated
}

var ErrFinished = errors.New("session: already finished")

// InvalidTransitionError reports a forbidden state change.
type InvalidTransitionError struct {
	From, To State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("session: invalid transition %s -> %s", e.From, e.To)
}

// transitions lists the legal lifecycle edges. Answers and flags are
// only accepted in StateActive; both terminal states are absorbing.
var transitions = map[State][]State{
	StateNotStarted:      {StateAwaitingConsent},
	StateAwaitingConsent: {StateActive, StateTerminated},
	StateActive:          {StateSubmitted, StateTerminated},
}

// Machine guards the session lifecycle. Transitions are serialized;
// exactly one caller can move Active to a terminal state.
type Machine struct {
	mu    sync.Mutex
	state State
}

// NewMachine creates a Machine in StateNotStarted.
func NewMachine() *Machine {
	return &Machine{state: StateNotStarted}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to the target state, or reports why it cannot.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Terminal() {
		return fmt.Errorf("%w: state is %s", ErrFinished, m.state)
	}
	for _, allowed := range transitions[m.state] {
		if allowed == to {
			m.state = to
			return nil
		}
	}
	return &InvalidTransitionError{From: m.state, To: to}
}
