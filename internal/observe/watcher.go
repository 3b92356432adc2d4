package observe

import (
	"context"
	"time"

	"github.com/psantana5/syncwarden/internal/discover"
)

// DefaultPollInterval is used by Wait when no interval is given.
const DefaultPollInterval = 100 * time.Millisecond

// Watcher observes one PID by polling. It is the fallback for processes the
// platform cannot wait on directly, and what Stop uses to confirm a kill.
type Watcher struct {
	pid int
}

// New creates a watcher for a PID
func New(pid int) *Watcher {
	return &Watcher{pid: pid}
}

// Exists checks if PID still exists
func (w *Watcher) Exists() bool {
	return discover.PIDExists(w.pid)
}

// Wait blocks until the PID is gone or ctx ends. It returns ctx.Err() if the
// process outlived the context.
func (w *Watcher) Wait(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if !w.Exists() {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !w.Exists() {
				return nil
			}
		}
	}
}

// WaitGone waits for every pid in pids to disappear. It returns the PIDs
// still alive when ctx ended.
func WaitGone(ctx context.Context, pids []int, interval time.Duration) []int {
	var alive []int
	for _, pid := range pids {
		if err := New(pid).Wait(ctx, interval); err != nil {
			alive = append(alive, pid)
		}
	}
	return alive
}
