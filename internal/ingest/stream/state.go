package stream

import (
	"errors"
	"fmt"
	"time"
)

// State is a stream client's position in its connection lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateStreaming  State = "streaming"
	StateBackoff    State = "backoff"
	StateTerminated State = "terminated"
)

// AllStates lists every state, used to zero the state gauge.
var AllStates = []State{StateIdle, StateConnecting, StateStreaming, StateBackoff, StateTerminated}

// ErrInvalidTransition is returned by Transition.Validate for a move the
// state machine does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidTransitions defines allowed state transitions.
// Key is the current state, value is the list of valid next states.
var ValidTransitions = map[State][]State{
	StateIdle:       {StateConnecting, StateTerminated},
	StateConnecting: {StateStreaming, StateBackoff, StateTerminated},
	StateStreaming:  {StateBackoff, StateTerminated},
	StateBackoff:    {StateConnecting, StateTerminated},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	validTargets, ok := ValidTransitions[from]
	if !ok {
		return false
	}

	for _, target := range validTargets {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a state change with metadata.
type Transition struct {
	From      State
	To        State
	Timestamp time.Time
}

// IsValid returns true if this transition is allowed by the state machine.
func (t Transition) IsValid() bool {
	return CanTransition(t.From, t.To)
}

// Validate returns ErrInvalidTransition, naming both states, when the
// transition is not allowed.
func (t Transition) Validate() error {
	if !t.IsValid() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.From, t.To)
	}
	return nil
}

// StateDescription returns a human-readable description of a state.
func StateDescription(s State) string {
	switch s {
	case StateIdle:
		return "Idle - worker created, not yet started"
	case StateConnecting:
		return "Connecting - opening the stream request"
	case StateStreaming:
		return "Streaming - reading messages"
	case StateBackoff:
		return "Backoff - waiting before reconnecting"
	case StateTerminated:
		return "Terminated - worker finished"
	default:
		return "Unknown state"
	}
}
