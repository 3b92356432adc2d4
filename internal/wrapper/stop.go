package wrapper

import (
	"context"
	"errors"
	"sort"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/psantana5/syncwarden/internal/discover"
	"github.com/psantana5/syncwarden/internal/logging"
	"github.com/psantana5/syncwarden/internal/observe"
)

// Stop terminates the tracked process. Managed trees are killed as a group
// when grouped, otherwise PID by PID; an external process gets one kill of
// its primary PID. Whatever the outcome, the handle is cleared and its
// monitor released.
func (h *Handle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.monitor.Release()
	h.monitor = nil
	if h.pid == 0 {
		h.clearLocked()
		return nil
	}

	var err error
	if h.ownership == External {
		err = h.stopExternalLocked()
	} else {
		err = h.stopManagedLocked()
	}
	h.clearLocked()
	return err
}

func (h *Handle) stopExternalLocked() error {
	pid := h.pid
	if err := h.opts.Kill(pid); err != nil {
		if isGone(err) {
			return nil
		}
		return classifyKill(opStopExternal, pid, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.opts.StopTimeout)
	defer cancel()
	if err := observe.New(pid).Wait(ctx, observe.DefaultPollInterval); err != nil {
		return NewProcessError(TerminationFailure, opStopExternal, pid, "still running after kill", err)
	}
	h.logger.Info("Stopped external process", logging.Fields{"pid": pid})
	return nil
}

func (h *Handle) stopManagedLocked() error {
	pid := h.pid
	c := h.child

	// everything besides the primary that must be gone once Stop returns
	var members []int
	for sibling := range h.tracked {
		members = append(members, sibling)
	}

	killed := false
	if h.cgroupPath != "" && h.opts.Cgroups != nil {
		if procs, err := h.opts.Cgroups.Procs(h.cgroupPath); err == nil {
			members = append(members, procs...)
		}
		if err := h.opts.Cgroups.Kill(h.cgroupPath); err != nil {
			h.logger.Warn("cgroup kill failed, falling back to process group", logging.Fields{"pid": pid, "error": err})
		} else {
			killed = true
		}
	}
	if !killed && h.pgid > 0 {
		if err := killGroup(h.pgid); err != nil && !isGone(err) {
			h.logger.Warn("Group kill failed, killing PIDs individually", logging.Fields{"pgid": h.pgid, "error": err})
		} else {
			killed = true
		}
	}

	var primaryErr error
	if !killed {
		if err := c.cmd.Process.Kill(); err != nil && !isGone(err) {
			primaryErr = classifyKill(opStop, pid, err)
		}
		for sibling := range h.tracked {
			if err := h.opts.Kill(sibling); err != nil && !isGone(err) {
				h.logger.Warn("Failed to terminate child process", logging.Fields{"pid": sibling, "error": err})
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.opts.StopTimeout)
	defer cancel()

	// success means the primary is gone, whatever happened to siblings
	var err error
	switch {
	case primaryErr != nil && !c.exited():
		err = primaryErr
	case primaryErr == nil && !c.wait(h.opts.StopTimeout):
		err = NewProcessError(TerminationFailure, opStop, pid, "still running after kill", errors.New("timed out waiting for exit"))
	}
	h.confirmGoneLocked(ctx, pid, members)
	if err != nil {
		return err
	}
	h.logger.Info("Stopped managed process", logging.Fields{"pid": pid})
	return nil
}

// confirmGoneLocked polls the non-primary members until they vanish or ctx
// ends, and logs the survivors.
func (h *Handle) confirmGoneLocked(ctx context.Context, primary int, members []int) {
	seen := make(map[int]bool, len(members))
	var pids []int
	for _, p := range members {
		if p != primary && p > 0 && !seen[p] {
			seen[p] = true
			pids = append(pids, p)
		}
	}
	if len(pids) == 0 {
		return
	}
	sort.Ints(pids)
	if alive := observe.WaitGone(ctx, pids, observe.DefaultPollInterval); len(alive) > 0 {
		h.logger.Warn("Child processes survived stop", logging.Fields{"pid": primary, "survivors": alive})
	}
}

// killPID sends SIGKILL (TerminateProcess on Windows) to one PID.
func killPID(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Kill()
}

// Sweep best-effort terminates every running process that strongly or weakly
// matches id, except the PIDs in skip. It returns the PIDs it killed and the
// joined kill errors; one failure never stops the sweep.
func Sweep(id discover.Identity, skip map[int]bool, opts Options) ([]int, error) {
	opts = opts.withDefaults()
	logger := opts.Logger.Component("wrapper")

	matches, err := opts.Scanner.Scan(id)
	if err != nil {
		return nil, NewProcessError(DetectionFailure, opDetect, 0, "process enumeration failed", err)
	}

	var killed []int
	var errs []error
	for _, m := range matches {
		if m.Tier == discover.TierNameOnly || skip[m.PID] {
			continue
		}
		if err := opts.Kill(m.PID); err != nil {
			if isGone(err) {
				continue
			}
			logger.Warn("Failed to terminate matching process", logging.Fields{"pid": m.PID, "error": err})
			errs = append(errs, classifyKill(opStopExternal, m.PID, err))
			continue
		}
		killed = append(killed, m.PID)
	}
	return killed, errors.Join(errs...)
}
