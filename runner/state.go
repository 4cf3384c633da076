// CLAUDE:SUMMARY Per-case state machine: states, allowed transitions and the recorded trace.
package runner

import (
	"fmt"

	"github.com/hazyhaar/parity/compare"
)

// State is a case's position in its lifecycle.
type State string

const (
	StatePending                State = "pending"
	StateCapturing              State = "capturing"
	StateCaptureFailed          State = "capture_failed"
	StateCaptured               State = "captured"
	StateNoGolden               State = "no_golden"
	StateComparing              State = "comparing"
	StatePass                   State = "pass"
	StateDiff                   State = "diff"
	StateFailurePacketGenerated State = "failure_packet_generated"
	StateSizeMismatch           State = "size_mismatch"
	StateInvalidImage           State = "invalid_image"
)

var transitions = map[State][]State{
	StatePending:   {StateCapturing},
	StateCapturing: {StateCaptureFailed, StateCaptured},
	StateCaptured:  {StateNoGolden, StateComparing},
	StateComparing: {StatePass, StateDiff, StateSizeMismatch, StateInvalidImage},
	StateDiff:      {StateFailurePacketGenerated},
}

// Terminal reports whether no transition leaves s. Diff is not terminal:
// it still owes a failure packet.
func (s State) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}

// CanTransition reports whether s -> to is allowed.
func (s State) CanTransition(to State) bool {
	for _, n := range transitions[s] {
		if n == to {
			return true
		}
	}
	return false
}

// machine records a case's path through the states.
type machine struct {
	trace []State
}

func newMachine() *machine {
	return &machine{trace: []State{StatePending}}
}

func (m *machine) current() State { return m.trace[len(m.trace)-1] }

func (m *machine) advance(to State) error {
	from := m.current()
	if !from.CanTransition(to) {
		return fmt.Errorf("runner: illegal transition %s -> %s", from, to)
	}
	m.trace = append(m.trace, to)
	return nil
}

// stateFor maps a comparator status reached from Comparing to its state.
func stateFor(s compare.Status) State {
	switch s {
	case compare.StatusPass:
		return StatePass
	case compare.StatusDiff:
		return StateDiff
	case compare.StatusSizeMismatch:
		return StateSizeMismatch
	}
	return StateInvalidImage
}
