// Copyright 2025 Joseph Cumines
//
// Loader state machine

package loader

import "fmt"

// State is the process-wide module loading mode.
type State int

const (
	// Uninitialized is the state before Start.
	Uninitialized State = iota
	// EagerLoading means every module is being imported against a timer.
	EagerLoading
	// EagerLoaded means every module was imported before the timer fired.
	// Terminal.
	EagerLoaded
	// SafeMode means modules are imported on first use. Terminal.
	SafeMode
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case EagerLoading:
		return "EAGER_LOADING"
	case EagerLoaded:
		return "EAGER_LOADED"
	case SafeMode:
		return "SAFE_MODE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no event can move the loader out of s.
func (s State) Terminal() bool {
	return s == EagerLoaded || s == SafeMode
}

// Event drives Transition.
type Event int

const (
	// EvStart begins eager loading.
	EvStart Event = iota
	// EvAllLoaded means every eager import completed.
	EvAllLoaded
	// EvImportFailed means an eager import returned an error or panicked.
	EvImportFailed
	// EvTimeout means the eager-load timer fired first.
	EvTimeout
	// EvForceSafe selects safe mode without eager loading.
	EvForceSafe
)

func (e Event) String() string {
	switch e {
	case EvStart:
		return "start"
	case EvAllLoaded:
		return "all-loaded"
	case EvImportFailed:
		return "import-failed"
	case EvTimeout:
		return "timeout"
	case EvForceSafe:
		return "force-safe"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// Transition returns the state that follows s on e. Events that do not apply
// to s leave it unchanged, so terminal states absorb everything.
func Transition(s State, e Event) State {
	switch s {
	case Uninitialized:
		switch e {
		case EvStart:
			return EagerLoading
		case EvForceSafe:
			return SafeMode
		}
	case EagerLoading:
		switch e {
		case EvAllLoaded:
			return EagerLoaded
		case EvImportFailed, EvTimeout, EvForceSafe:
			return SafeMode
		}
	}
	return s
}
