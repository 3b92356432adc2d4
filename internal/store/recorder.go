package store

import (
	"context"
	"time"

	"github.com/psantana5/syncwarden/internal/logging"
	"github.com/psantana5/syncwarden/internal/state"
)

// Recorder writes every rendered status change to a journal. It plugs into
// the consumer as a state.Renderer.
type Recorder struct {
	journal Journal
	session string
	timeout time.Duration
	logger  *logging.Logger
}

// NewRecorder tags entries with session, the ID of this supervisor run.
func NewRecorder(j Journal, session string, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Recorder{
		journal: j,
		session: session,
		timeout: 2 * time.Second,
		logger:  logger.Component("journal"),
	}
}

// Render records cur. Journal failures are logged; they never stop the
// consumer.
func (r *Recorder) Render(_, cur state.Snapshot, source string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	err := r.journal.Record(ctx, Transition{
		Session:   r.session,
		Running:   cur.Running,
		PID:       cur.PID,
		Ownership: cur.Ownership,
		Source:    source,
	})
	if err != nil {
		r.logger.Warn("Failed to journal transition", logging.Fields{"error": err})
	}
}
