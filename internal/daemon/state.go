// Package daemon provides lifecycle management for the vaultkeeper daemon:
// single-instance locking, the file watcher, handler dispatch and the HTTP
// control surface.
package daemon

// State represents the lifecycle state of the daemon.
type State string

const (
	// StateStopped indicates the daemon holds no resources.
	StateStopped State = "stopped"

	// StateStarting indicates start is acquiring the lock and building
	// components.
	StateStarting State = "starting"

	// StateRunning indicates events are being watched and dispatched.
	StateRunning State = "running"

	// StateStopping indicates graceful shutdown is in progress.
	StateStopping State = "stopping"

	// StateCrashed indicates setup or the watcher failed. The lock has been
	// released, so a later start may succeed.
	StateCrashed State = "crashed"
)

// States lists every lifecycle state.
var States = []State{StateStopped, StateStarting, StateRunning, StateStopping, StateCrashed}

// Active reports whether the daemon holds resources in this state.
func (s State) Active() bool {
	return s == StateStarting || s == StateRunning || s == StateStopping
}

// CanTransitionTo returns true if transitioning to the target state is valid.
func (s State) CanTransitionTo(target State) bool {
	switch s {
	case StateStopped, StateCrashed:
		return target == StateStarting
	case StateStarting:
		return target == StateRunning || target == StateStopped || target == StateCrashed
	case StateRunning:
		return target == StateStopping || target == StateCrashed
	case StateStopping:
		return target == StateStopped
	default:
		return false
	}
}

func stateNames() []string {
	names := make([]string, len(States))
	for i, s := range States {
		names[i] = string(s)
	}
	return names
}
