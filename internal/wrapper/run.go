package wrapper

import (
	"fmt"
	"os/exec"
	"time"

	"github.com/psantana5/syncwarden/internal/config"
	"github.com/psantana5/syncwarden/internal/discover"
	"github.com/psantana5/syncwarden/internal/logging"
	"github.com/psantana5/syncwarden/internal/observe"
)

// child is one spawned process and its reaper. err is written before done is
// closed and read only after.
type child struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (c *child) exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// wait blocks up to timeout for the reaper.
func (c *child) wait(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-c.done:
		return true
	case <-t.C:
		return false
	}
}

// Start spawns the executable with args passed verbatim. stdout and stderr
// are discarded. The child is put in its own process group where possible;
// otherwise Start waits ChildScanDelay and records new same-named processes
// as tracked children. onExit, when set, fires once when the child exits.
func (h *Handle) Start(args []string, onExit ExitFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ownership != ManagedByApp {
		return ErrExternalHandle
	}
	if h.child != nil && h.pid != 0 {
		if !h.child.exited() {
			return ErrAlreadySpawned
		}
		h.clearLocked()
	}

	cmd := exec.Command(h.identity.Path, args...)
	grouped := h.opts.Containment != config.ContainNone && setProcessGroup(cmd)

	var before map[int]bool
	if !grouped {
		before = h.snapshotLocked()
	}

	if err := cmd.Start(); err != nil {
		return NewProcessError(SpawnFailure, opSpawn, 0, fmt.Sprintf("failed to start %s", h.identity.Path), err)
	}

	pid := cmd.Process.Pid
	c := &child{cmd: cmd, done: make(chan struct{})}
	go func() {
		c.err = cmd.Wait()
		close(c.done)
	}()

	h.child = c
	h.pid = pid
	h.timing = observe.NewTiming()
	h.tracked = make(map[int]struct{})
	if grouped {
		h.pgid = pid
	}
	if ct, err := (discover.ProcessTable{}).CreateTime(pid); err == nil {
		h.createTime = ct
	}

	if h.opts.Containment == config.ContainCgroup {
		h.joinCgroupLocked(pid)
	}
	if !grouped {
		h.scanChildrenLocked(pid, before)
	}

	if onExit != nil {
		h.monitor = observe.WatchChild(pid, c.done, func() { onExit(pid) })
	}

	h.logger.Info("Spawned process", logging.Fields{
		"pid":     pid,
		"path":    h.identity.Path,
		"grouped": grouped,
		"tracked": len(h.tracked),
	})
	return nil
}

// joinCgroupLocked is best effort; process groups still cover the tree.
func (h *Handle) joinCgroupLocked(pid int) {
	if h.opts.Cgroups == nil {
		return
	}
	path, err := h.opts.Cgroups.Create(fmt.Sprintf("%s-%d", h.identity.Name, pid))
	if err == nil {
		err = h.opts.Cgroups.Join(path, pid)
		if err != nil {
			h.opts.Cgroups.Delete(path)
		}
	}
	if err != nil {
		h.logger.Warn("cgroup containment unavailable, using process group", logging.Fields{"pid": pid, "error": err})
		return
	}
	h.cgroupPath = path
}

func (h *Handle) snapshotLocked() map[int]bool {
	known := make(map[int]bool)
	matches, err := h.opts.Scanner.Scan(h.identity)
	if err != nil {
		h.logger.Warn("Pre-spawn scan failed", logging.Fields{"error": err})
		return known
	}
	for _, m := range matches {
		known[m.PID] = true
	}
	return known
}

// scanChildrenLocked is the fallback when the platform cannot group the
// tree. It holds the handle lock for ChildScanDelay.
func (h *Handle) scanChildrenLocked(pid int, before map[int]bool) {
	if h.opts.ChildScanDelay > 0 {
		time.Sleep(h.opts.ChildScanDelay)
	}
	before[pid] = true
	fresh, err := h.opts.Scanner.NewProcesses(h.identity, before)
	if err != nil {
		h.logger.Warn("Child scan failed", logging.Fields{"pid": pid, "error": err})
		return
	}
	for _, m := range fresh {
		h.tracked[m.PID] = struct{}{}
	}
}
