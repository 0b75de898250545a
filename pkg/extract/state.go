package extract

import (
	"errors"
	"fmt"
	"slices"
)

// State is the lifecycle of one batch inside Analyze.
type State string

const (
	StatePending   State = "PENDING"
	StateCalling   State = "CALLING"
	StateRetrying  State = "RETRYING"
	StateSucceeded State = "SUCCEEDED"
	StateDegraded  State = "DEGRADED"
)

// ErrInvalidTransition is returned when a batch tries to leave a state along
// an edge the lifecycle does not allow.
var ErrInvalidTransition = errors.New("extract: invalid state transition")

var transitions = map[State][]State{
	// PENDING -> DEGRADED covers an open circuit and offline mode
	StatePending:  {StateCalling, StateDegraded},
	StateCalling:  {StateSucceeded, StateRetrying, StateDegraded},
	StateRetrying: {StateCalling, StateDegraded},
}

// Terminal reports whether s ends the lifecycle.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateDegraded
}

type machine struct {
	state   State
	history []State
}

func newMachine() *machine {
	return &machine{state: StatePending, history: []State{StatePending}}
}

func (m *machine) to(next State) error {
	if !slices.Contains(transitions[m.state], next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, next)
	}
	m.state = next
	m.history = append(m.history, next)
	return nil
}

// must panics on a transition the Analyze loop itself can never produce.
func (m *machine) must(next State) {
	if err := m.to(next); err != nil {
		panic(err)
	}
}
