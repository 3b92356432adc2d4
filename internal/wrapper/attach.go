package wrapper

import (
	"github.com/psantana5/syncwarden/internal/discover"
	"github.com/psantana5/syncwarden/internal/logging"
	"github.com/psantana5/syncwarden/internal/observe"
)

// Detect looks for an already-running instance of path and returns an
// External handle for the strongest match, or nil when there is none.
// Enumeration errors are returned as DetectionFailure; callers treat them as
// "not found". No signals are sent.
func Detect(path string, onExit ExitFunc, opts Options) (*Handle, error) {
	id := discover.NewIdentity(path)
	h := newHandle(id, External, opts)

	matches, err := h.opts.Scanner.Scan(id)
	if err != nil {
		return nil, NewProcessError(DetectionFailure, opDetect, 0, "process enumeration failed", err)
	}
	m, ok := discover.Strongest(matches)
	if !ok {
		return nil, nil
	}

	h.pid = m.PID
	h.createTime = m.CreateTime
	h.timing = observe.NewTiming()

	if onExit != nil {
		pid := m.PID
		tok, err := observe.WatchPID(pid, func() { onExit(pid) })
		if err != nil {
			h.logger.Warn("Exit monitor unavailable, relying on polling", logging.Fields{
				"pid":   pid,
				"error": NewProcessError(MonitorRegistrationFailure, opMonitor, pid, "wait registration failed", err),
			})
		} else {
			h.monitor = tok
		}
	}

	h.logger.Info("Attached to running process", logging.Fields{
		"pid":  m.PID,
		"tier": m.Tier.String(),
	})
	return h, nil
}
