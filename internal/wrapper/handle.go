package wrapper

import (
	"sort"
	"sync"
	"time"

	"github.com/psantana5/syncwarden/internal/cgroups"
	"github.com/psantana5/syncwarden/internal/config"
	"github.com/psantana5/syncwarden/internal/discover"
	"github.com/psantana5/syncwarden/internal/logging"
	"github.com/psantana5/syncwarden/internal/observe"
)

// Ownership records who started the process. It is set when the handle is
// created and never changes.
type Ownership int

const (
	ManagedByApp Ownership = iota
	External
)

func (o Ownership) String() string {
	if o == External {
		return "external"
	}
	return "managed"
}

// ExitFunc is called at most once per registration when the primary process
// terminates.
type ExitFunc func(pid int)

// Options configures how a handle spawns, groups and kills.
type Options struct {
	Containment    config.Containment
	ChildScanDelay time.Duration
	StopTimeout    time.Duration
	Scanner        *discover.Scanner
	Cgroups        *cgroups.Manager
	// Kill terminates a single PID. Defaults to a gopsutil SIGKILL.
	Kill   func(pid int) error
	Logger *logging.Logger
}

func (o Options) withDefaults() Options {
	if o.Containment == "" {
		o.Containment = config.ContainGroup
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = config.DefaultStopTimeout
	}
	if o.ChildScanDelay < 0 {
		o.ChildScanDelay = 0
	}
	if o.Kill == nil {
		o.Kill = killPID
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	if o.Scanner == nil {
		o.Scanner = discover.NewScanner(nil, o.Logger)
	}
	return o
}

// Handle owns one supervised process: a child it spawned, or an external
// PID it detected. Callers serialize Start and Stop; the handle's own lock
// only protects its fields.
type Handle struct {
	mu        sync.Mutex
	identity  discover.Identity
	ownership Ownership
	opts      Options
	logger    *logging.Logger

	pid        int
	createTime int64
	tracked    map[int]struct{}
	pgid       int
	cgroupPath string
	child      *child
	monitor    *observe.Token
	timing     *observe.Timing
}

// New creates an unstarted handle that will own the process it spawns.
func New(path string, opts Options) *Handle {
	return newHandle(discover.NewIdentity(path), ManagedByApp, opts)
}

func newHandle(id discover.Identity, own Ownership, opts Options) *Handle {
	opts = opts.withDefaults()
	return &Handle{
		identity:  id,
		ownership: own,
		opts:      opts,
		logger:    opts.Logger.Component("wrapper").WithField("ownership", own.String()),
		tracked:   make(map[int]struct{}),
	}
}

// Path returns the executable path the handle was created for.
func (h *Handle) Path() string { return h.identity.Path }

// Identity returns the matching identity for the handle's executable.
func (h *Handle) Identity() discover.Identity { return h.identity }

// Ownership is fixed at creation.
func (h *Handle) Ownership() Ownership { return h.ownership }

// PrimaryPID returns the tracked primary PID, if any.
func (h *Handle) PrimaryPID() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid, h.pid != 0
}

// TrackedPIDs returns children recorded by the post-spawn scan, sorted.
// Always empty for external handles.
func (h *Handle) TrackedPIDs() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	pids := make([]int, 0, len(h.tracked))
	for pid := range h.tracked {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

// Grouped reports whether the spawned tree can be killed as a unit.
func (h *Handle) Grouped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pgid > 0 || h.cgroupPath != ""
}

// Uptime returns how long the process has been tracked.
func (h *Handle) Uptime() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timing == nil || h.pid == 0 {
		return 0
	}
	return h.timing.Duration()
}

// Monitor returns the current exit monitor token, nil when absent.
func (h *Handle) Monitor() *observe.Token {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.monitor
}

// ReleaseMonitor unregisters the exit monitor without touching the process.
func (h *Handle) ReleaseMonitor() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.monitor.Release()
	h.monitor = nil
}

// IsRunning reports whether the primary process is alive. Observing an exit
// clears the handle, so repeated calls agree.
func (h *Handle) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pid == 0 {
		return false
	}

	if h.child != nil {
		if h.child.exited() {
			h.logger.Debug("Managed process exited", logging.Fields{"pid": h.pid, "error": h.child.err})
			h.clearLocked()
			return false
		}
		return true
	}

	alive, err := h.opts.Scanner.FindPID(h.identity, h.pid, h.createTime)
	if err != nil {
		alive = discover.PIDExists(h.pid)
	}
	if !alive {
		h.logger.Debug("External process no longer running", logging.Fields{"pid": h.pid})
		h.clearLocked()
	}
	return alive
}

// clearLocked forgets the process and releases the monitor. A cgroup that
// still has members is kept so a later Stop can kill them.
func (h *Handle) clearLocked() {
	h.monitor.Release()
	h.monitor = nil
	if h.timing != nil {
		h.timing.Complete()
	}
	h.pid = 0
	h.child = nil
	h.createTime = 0
	h.pgid = 0
	h.tracked = make(map[int]struct{})
	if h.cgroupPath != "" && h.opts.Cgroups != nil {
		if err := h.opts.Cgroups.Delete(h.cgroupPath); err == nil {
			h.cgroupPath = ""
		}
	}
}
