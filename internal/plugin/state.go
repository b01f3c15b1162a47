package plugin

import (
	"errors"
	"fmt"
)

// State represents the lifecycle state of a plugin.
type State int

// Plugin states.
const (
	// StateDiscovered - Plugin was found but its manifest is not yet checked.
	StateDiscovered State = iota

	// StateManifestValidated - Manifest parsed and validated.
	StateManifestValidated

	// StatePermissionsGranted - Requested permissions were granted.
	StatePermissionsGranted

	// StateActive - Plugin is activated and receiving events.
	StateActive

	// StateReloading - Plugin is being torn down to load again.
	StateReloading

	// StateUnloaded - Plugin was unloaded. Terminal.
	StateUnloaded

	// StateRejected - Permission grant refused. Terminal.
	StateRejected

	// StateFailed - Unrecoverable error. Terminal.
	StateFailed
)

// ErrInvalidTransition is returned for a transition the state machine forbids.
var ErrInvalidTransition = errors.New("invalid plugin state transition")

// transitions lists the legal successors of each non-terminal state, other
// than StateFailed which every non-terminal state may reach.
var transitions = map[State][]State{
	StateDiscovered:         {StateManifestValidated},
	StateManifestValidated:  {StatePermissionsGranted, StateRejected},
	StatePermissionsGranted: {StateActive},
	StateActive:             {StateReloading, StateUnloaded},
	StateReloading:          {StateManifestValidated},
}

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateManifestValidated:
		return "manifest_validated"
	case StatePermissionsGranted:
		return "permissions_granted"
	case StateActive:
		return "active"
	case StateReloading:
		return "reloading"
	case StateUnloaded:
		return "unloaded"
	case StateRejected:
		return "rejected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	return s == StateUnloaded || s == StateRejected || s == StateFailed
}

// CanTransition reports whether the state machine allows s -> to.
func (s State) CanTransition(to State) bool {
	if s.IsTerminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition is one recorded state change.
type Transition struct {
	From State
	To   State
}

// lifecycle tracks a plugin's current state and history.
type lifecycle struct {
	state   State
	history []Transition
}

func (l *lifecycle) to(next State) error {
	if !l.state.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, next)
	}
	l.history = append(l.history, Transition{From: l.state, To: next})
	l.state = next
	return nil
}
