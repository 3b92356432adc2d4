package state

// EventKind is what a subscriber is told. Events are prompts to re-check
// the state, not authoritative payloads.
type EventKind int

const (
	Started EventKind = iota
	Exited
	StateChanged
)

func (k EventKind) String() string {
	switch k {
	case Started:
		return "started"
	case Exited:
		return "exited"
	default:
		return "state_changed"
	}
}

// Reasons attached to events.
const (
	ReasonSpawned  = "spawned"
	ReasonStopped  = "stopped"
	ReasonExited   = "exited"
	ReasonDetected = "detected"
	ReasonPoll     = "poll"
	ReasonPolicy   = "closure_policy"
)

// Event is one notification sent to the subscriber. It names what happened
// and nothing else; the subscriber reads the rest from a Snapshot.
type Event struct {
	Kind   EventKind
	Reason string
}

func newEvent(kind EventKind, reason string) *Event {
	return &Event{Kind: kind, Reason: reason}
}
