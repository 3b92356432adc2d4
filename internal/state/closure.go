package state

import (
	"github.com/psantana5/syncwarden/internal/config"
	"github.com/psantana5/syncwarden/internal/wrapper"
)

// Tracked describes what AppState holds when the closure policy runs.
type Tracked int

const (
	TrackedNone Tracked = iota
	TrackedManaged
	TrackedExternal
)

func trackedOf(h *wrapper.Handle) Tracked {
	switch {
	case h == nil:
		return TrackedNone
	case h.Ownership() == wrapper.External:
		return TrackedExternal
	default:
		return TrackedManaged
	}
}

// Action is what the closure policy asks for on exit.
type Action struct {
	StopTracked bool // stop the tracked handle
	Sweep       bool // kill every remaining process matching the identity
}

// Plan maps a closure policy and the tracked handle's ownership to an
// action. Only handles the supervisor spawned are ever stopped directly;
// external processes are only reached by the CloseAll sweep.
func Plan(policy config.ClosurePolicy, tracked Tracked) Action {
	switch policy {
	case config.CloseAll:
		return Action{StopTracked: tracked == TrackedManaged, Sweep: true}
	case config.CloseManaged:
		return Action{StopTracked: tracked == TrackedManaged}
	default:
		return Action{}
	}
}

// ClosureResult reports what ApplyClosurePolicy did.
type ClosureResult struct {
	Action  Action
	Stopped bool
	Swept   []int
}
