package state

import (
	"context"
	"errors"
	"sync"
	"time"
	"weak"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/psantana5/syncwarden/internal/config"
	"github.com/psantana5/syncwarden/internal/discover"
	"github.com/psantana5/syncwarden/internal/logging"
	"github.com/psantana5/syncwarden/internal/wrapper"
)

// ErrExternalRunning is returned by Start while an instance the supervisor
// did not spawn is running.
var ErrExternalRunning = errors.New("an external instance is already running")

// Recorder receives supervision counters. report.Metrics implements it.
type Recorder interface {
	Started(ownership string)
	Stopped(ownership string)
	Exited(source string)
	Detected()
	EventDropped()
	SetRunning(running bool)
}

type nopRecorder struct{}

func (nopRecorder) Started(string)  {}
func (nopRecorder) Stopped(string)  {}
func (nopRecorder) Exited(string)   {}
func (nopRecorder) Detected()       {}
func (nopRecorder) EventDropped()   {}
func (nopRecorder) SetRunning(bool) {}

// Options wires AppState to its collaborators.
type Options struct {
	Wrapper wrapper.Options
	Metrics Recorder
	Logger  *logging.Logger
	// DetectOnQuery makes polls attach to an instance started behind the
	// supervisor's back.
	DetectOnQuery bool
}

// Snapshot is the derived status of the supervised daemon.
type Snapshot struct {
	Running   bool          `json:"running"`
	PID       int           `json:"pid,omitempty"`
	Ownership string        `json:"ownership,omitempty"`
	Tracked   []int         `json:"tracked_pids,omitempty"`
	Grouped   bool          `json:"grouped"`
	Uptime    time.Duration `json:"uptime_ns,omitempty"`
	Stopping  bool          `json:"stopping,omitempty"`
	Path      string        `json:"executable_path"`
	Policy    string        `json:"closure_policy"`
}

// Same reports whether two snapshots describe the same observable state.
func (s Snapshot) Same(o Snapshot) bool {
	return s.Running == o.Running && s.PID == o.PID && s.Ownership == o.Ownership
}

// AppState holds the configuration and at most one tracked handle. All
// mutation goes through it under one lock; events are sent after the lock
// is released. Start, Stop and the closure policy are also serialized by
// opMu, which Stop holds while it waits for the process to die so that mu
// stays free for status queries.
type AppState struct {
	opMu        sync.Mutex
	mu          sync.Mutex
	cfg         config.Config
	current     *wrapper.Handle
	stopping    *stopping
	lastRunning bool
	opts        Options
	metrics     Recorder
	logger      *logging.Logger
	tracer      trace.Tracer

	sinkMu sync.RWMutex
	sink   chan Event
}

// stopping describes a handle Stop has detached and is still killing. The
// handle itself is locked for the duration and must not be queried.
type stopping struct {
	pid       int
	ownership string
}

// New creates the application state for cfg.
func New(cfg config.Config, opts Options) *AppState {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}
	if opts.Wrapper.Logger == nil {
		opts.Wrapper.Logger = opts.Logger
	}
	if opts.Wrapper.Scanner == nil {
		opts.Wrapper.Scanner = discover.NewScanner(nil, opts.Logger)
	}
	opts.Wrapper.Containment = cfg.Containment
	opts.Wrapper.ChildScanDelay = cfg.ChildScanDelay.Std()
	opts.Wrapper.StopTimeout = cfg.StopTimeout.Std()

	return &AppState{
		cfg:     cfg,
		opts:    opts,
		metrics: opts.Metrics,
		logger:  opts.Logger.Component("state"),
		tracer:  otel.Tracer("github.com/psantana5/syncwarden/internal/state"),
	}
}

// Subscribe installs a new event channel with the given buffer and returns
// it. A previous subscription is closed.
func (a *AppState) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	a.sinkMu.Lock()
	if a.sink != nil {
		close(a.sink)
	}
	a.sink = ch
	a.sinkMu.Unlock()
	return ch
}

// Close closes the event channel; the consumer loop then exits. The tracked
// process is left alone; ApplyClosurePolicy decides its fate.
func (a *AppState) Close() {
	a.sinkMu.Lock()
	defer a.sinkMu.Unlock()
	if a.sink != nil {
		close(a.sink)
		a.sink = nil
	}
}

// emit never blocks. A full buffer drops the event; the consumer's poll
// catches up.
func (a *AppState) emit(ev *Event) {
	if ev == nil {
		return
	}
	a.sinkMu.RLock()
	defer a.sinkMu.RUnlock()
	if a.sink == nil {
		return
	}
	select {
	case a.sink <- *ev:
	default:
		a.metrics.EventDropped()
		a.logger.Warn("Event channel full, dropping event", logging.Fields{"kind": ev.Kind.String(), "reason": ev.Reason})
	}
}

// Config returns a copy of the current configuration.
func (a *AppState) Config() config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// SetClosurePolicy changes the policy used by ApplyClosurePolicy.
func (a *AppState) SetClosurePolicy(p config.ClosurePolicy) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.ClosurePolicy = p
}

// exitCallback builds the monitor callback. It reaches AppState through a
// weak pointer and does nothing once the state has been collected.
func (a *AppState) exitCallback() wrapper.ExitFunc {
	ref := weak.Make(a)
	return func(pid int) {
		owner := ref.Value()
		if owner == nil {
			return
		}
		owner.handleExit(pid)
	}
}

// handleExit runs on the monitor goroutine. Stale or repeated notifications
// are no-ops.
func (a *AppState) handleExit(pid int) {
	a.mu.Lock()
	var ev *Event
	if a.current != nil {
		if cur, ok := a.current.PrimaryPID(); ok && cur == pid {
			// the monitor saw the exit; a zombie may still be listed
			a.current.IsRunning()
			a.current.ReleaseMonitor()
			own := a.current.Ownership().String()
			a.current = nil
			a.metrics.Exited("monitor")
			a.logger.Info("Process exited", logging.Fields{"pid": pid, "ownership": own})
			ev = a.transitionLocked(Exited, ReasonExited)
		}
	}
	a.mu.Unlock()
	a.emit(ev)
}

// attachLocked makes h the tracked handle, releasing the previous monitor.
func (a *AppState) attachLocked(h *wrapper.Handle) {
	if a.current != nil && a.current != h {
		a.current.ReleaseMonitor()
	}
	a.current = h
}

// refreshLocked drops a handle whose process is gone and, when asked,
// looks for an untracked instance. Nothing is detected while a stop is in
// flight, since the dying process would match.
func (a *AppState) refreshLocked(detect bool) {
	if a.current != nil && !a.current.IsRunning() {
		pid := a.pidLocked()
		a.current.ReleaseMonitor()
		a.current = nil
		a.metrics.Exited("poll")
		a.logger.Info("Process no longer running", logging.Fields{"pid": pid})
	}
	if a.current == nil && detect && a.stopping == nil {
		a.detectLocked()
	}
}

func (a *AppState) detectLocked() bool {
	h, err := wrapper.Detect(a.cfg.ExecutablePath, a.exitCallback(), a.opts.Wrapper)
	if err != nil {
		a.logger.Warn("Detection failed, treating as not running", logging.Fields{"error": err})
		return false
	}
	if h == nil {
		return false
	}
	a.attachLocked(h)
	a.metrics.Detected()
	return true
}

func (a *AppState) pidLocked() int {
	if a.current == nil {
		if a.stopping != nil {
			return a.stopping.pid
		}
		return 0
	}
	pid, _ := a.current.PrimaryPID()
	return pid
}

// runningLocked counts a process being stopped as running until Stop has
// confirmed it gone.
func (a *AppState) runningLocked() bool {
	return a.current != nil || a.stopping != nil
}

// transitionLocked returns an event when the running status changed since
// the last observation, nil otherwise.
func (a *AppState) transitionLocked(kind EventKind, reason string) *Event {
	running := a.runningLocked()
	if running == a.lastRunning {
		return nil
	}
	a.lastRunning = running
	a.metrics.SetRunning(running)
	return newEvent(kind, reason)
}

// DetectAndAttach attaches to an already-running instance when nothing is
// tracked. It reports whether the daemon is running afterwards.
func (a *AppState) DetectAndAttach() bool {
	a.mu.Lock()
	a.refreshLocked(true)
	running := a.runningLocked()
	ev := a.transitionLocked(kindFor(running), ReasonDetected)
	a.mu.Unlock()
	a.emit(ev)
	return running
}

// IsRunning re-derives the running status; the consumer's poll calls it
// too. With DetectOnQuery it also attaches to an untracked instance.
func (a *AppState) IsRunning() bool {
	a.mu.Lock()
	a.refreshLocked(a.opts.DetectOnQuery)
	running := a.runningLocked()
	ev := a.transitionLocked(kindFor(running), ReasonPoll)
	a.mu.Unlock()
	a.emit(ev)
	return running
}

func kindFor(running bool) EventKind {
	if running {
		return StateChanged
	}
	return Exited
}

// Start spawns the daemon unless one is already tracked.
func (a *AppState) Start(ctx context.Context) error {
	_, span := a.tracer.Start(ctx, "state.Start")
	defer span.End()

	a.opMu.Lock()
	defer a.opMu.Unlock()
	a.mu.Lock()
	a.refreshLocked(a.opts.DetectOnQuery)
	if a.current != nil {
		external := a.current.Ownership() == wrapper.External
		a.mu.Unlock()
		err := wrapper.ErrAlreadySpawned
		if external {
			err = ErrExternalRunning
		}
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	h := wrapper.New(a.cfg.ExecutablePath, a.opts.Wrapper)
	if err := h.Start(a.cfg.StartupArgs, a.exitCallback()); err != nil {
		a.mu.Unlock()
		a.logger.Error("Failed to start process", logging.Fields{"path": a.cfg.ExecutablePath, "error": err})
		span.RecordError(err)
		span.SetStatus(codes.Error, "spawn failed")
		return err
	}
	a.attachLocked(h)
	pid := a.pidLocked()
	a.metrics.Started(wrapper.ManagedByApp.String())
	ev := a.transitionLocked(Started, ReasonSpawned)
	a.mu.Unlock()

	span.SetAttributes(attribute.Int("process.pid", pid))
	a.emit(ev)
	return nil
}

// Stop terminates the tracked daemon. An untracked instance is detected
// first. The handle is dropped whatever the outcome; a refused kill of an
// external process comes back as a non-fatal error (see wrapper.IsFatal).
func (a *AppState) Stop(ctx context.Context) error {
	_, span := a.tracer.Start(ctx, "state.Stop")
	defer span.End()

	a.opMu.Lock()
	defer a.opMu.Unlock()

	a.mu.Lock()
	a.refreshLocked(true)
	if a.current == nil {
		ev := a.transitionLocked(Exited, ReasonStopped)
		a.mu.Unlock()
		a.emit(ev)
		return nil
	}

	// detach under mu, wait for the kill outside it
	h := a.current
	pid := a.pidLocked()
	own := h.Ownership().String()
	a.current = nil
	a.stopping = &stopping{pid: pid, ownership: own}
	a.mu.Unlock()

	err := h.Stop()

	a.mu.Lock()
	a.stopping = nil
	a.metrics.Stopped(own)
	ev := a.transitionLocked(Exited, ReasonStopped)
	a.mu.Unlock()

	span.SetAttributes(attribute.Int("process.pid", pid), attribute.String("process.ownership", own))
	if err != nil {
		span.RecordError(err)
		if wrapper.IsFatal(err) {
			span.SetStatus(codes.Error, "stop failed")
			a.logger.Error("Failed to stop process", logging.Fields{"pid": pid, "error": err})
		} else {
			a.logger.Warn("Could not stop process", logging.Fields{"pid": pid, "error": err})
		}
	}
	a.emit(ev)
	return err
}

// ApplyClosurePolicy runs the configured closure policy. Termination errors
// are logged and never returned.
func (a *AppState) ApplyClosurePolicy(ctx context.Context) ClosureResult {
	_, span := a.tracer.Start(ctx, "state.ApplyClosurePolicy")
	defer span.End()

	a.opMu.Lock()
	defer a.opMu.Unlock()
	a.mu.Lock()
	a.refreshLocked(false)
	policy := a.cfg.ClosurePolicy
	res := ClosureResult{Action: Plan(policy, trackedOf(a.current))}
	span.SetAttributes(
		attribute.String("closure.policy", string(policy)),
		attribute.Bool("closure.stop_tracked", res.Action.StopTracked),
		attribute.Bool("closure.sweep", res.Action.Sweep),
	)

	pid := a.pidLocked()
	if res.Action.StopTracked && a.current != nil {
		if err := a.current.Stop(); err != nil {
			a.logger.Warn("Closure policy stop failed", logging.Fields{"pid": pid, "error": err})
		} else {
			res.Stopped = true
		}
		a.metrics.Stopped(wrapper.ManagedByApp.String())
		a.current = nil
	}
	if res.Action.Sweep {
		killed, err := wrapper.Sweep(discover.NewIdentity(a.cfg.ExecutablePath), nil, a.opts.Wrapper)
		if err != nil {
			a.logger.Warn("Closure policy sweep incomplete", logging.Fields{"error": err})
		}
		res.Swept = killed
		if a.current != nil {
			// the sweep reached the external handle's process too
			a.current.ReleaseMonitor()
			a.current = nil
		}
	}
	ev := a.transitionLocked(Exited, ReasonPolicy)
	a.mu.Unlock()

	a.logger.Info("Closure policy applied", logging.Fields{
		"policy":  string(policy),
		"stopped": res.Stopped,
		"swept":   len(res.Swept),
	})
	a.emit(ev)
	return res
}

// CheckAndAutostart attaches to a running instance and, when none is found
// and auto_launch is set, starts one. It reports whether it spawned.
func (a *AppState) CheckAndAutostart(ctx context.Context) (bool, error) {
	if a.DetectAndAttach() {
		return false, nil
	}
	if !a.Config().AutoLaunch {
		return false, nil
	}
	if err := a.Start(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Snapshot re-derives status from the tracked handle without detecting.
func (a *AppState) Snapshot() Snapshot {
	a.mu.Lock()
	a.refreshLocked(false)
	s := Snapshot{
		Path:   a.cfg.ExecutablePath,
		Policy: string(a.cfg.ClosurePolicy),
	}
	switch {
	case a.current != nil:
		s.Running = true
		s.PID = a.pidLocked()
		s.Ownership = a.current.Ownership().String()
		s.Tracked = a.current.TrackedPIDs()
		s.Grouped = a.current.Grouped()
		s.Uptime = a.current.Uptime()
	case a.stopping != nil:
		s.Running = true
		s.PID = a.stopping.pid
		s.Ownership = a.stopping.ownership
		s.Stopping = true
	}
	ev := a.transitionLocked(kindFor(s.Running), ReasonPoll)
	a.mu.Unlock()
	a.emit(ev)
	return s
}

// ScanHealth reports how reliably the process table could be read.
func (a *AppState) ScanHealth() discover.HealthReport {
	return a.opts.Wrapper.Scanner.Health().Report()
}
