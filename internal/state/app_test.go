//go:build unix

package state

import (
	"context"
	"errors"
	"os"
	"runtime"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
	"weak"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/syncwarden/internal/config"
	"github.com/psantana5/syncwarden/internal/discover"
	"github.com/psantana5/syncwarden/internal/wrapper"
)

func TestDetectAbsent(t *testing.T) {
	f := newFixture(t, nil, nil)
	assert.False(t, f.state.DetectAndAttach())
	assert.False(t, f.state.Snapshot().Running)
	assert.Empty(t, drain(f.events))
}

func TestDetectExternal(t *testing.T) {
	f := newFixture(t, nil, nil)
	ext := startSleeper(t)
	f.lister.add(ext.pid, f.path)

	require.True(t, f.state.DetectAndAttach())
	snap := f.state.Snapshot()
	assert.True(t, snap.Running)
	assert.Equal(t, ext.pid, snap.PID)
	assert.Equal(t, "external", snap.Ownership)
	assert.Empty(t, snap.Tracked)

	events := drain(f.events)
	require.Len(t, events, 1)
	assert.Equal(t, ReasonDetected, events[0].Reason)

	// already attached: no second event
	assert.True(t, f.state.DetectAndAttach())
	assert.Empty(t, drain(f.events))
	assert.Equal(t, 1, f.metrics.counts().found)
}

func TestStartStopEventsOnChangeOnly(t *testing.T) {
	f := newFixture(t, []string{"30"}, nil)
	ctx := context.Background()

	require.NoError(t, f.state.Start(ctx))
	ev := waitEvent(t, f.events, time.Second)
	assert.Equal(t, Started, ev.Kind)

	assert.ErrorIs(t, f.state.Start(ctx), wrapper.ErrAlreadySpawned)
	assert.True(t, f.state.IsRunning())
	assert.True(t, f.state.IsRunning())
	assert.Empty(t, drain(f.events))

	snap := f.state.Snapshot()
	assert.Equal(t, "managed", snap.Ownership)
	assert.True(t, snap.Grouped)

	require.NoError(t, f.state.Stop(ctx))
	ev = waitEvent(t, f.events, time.Second)
	assert.Equal(t, Event{Kind: Exited, Reason: ReasonStopped}, ev)
	assert.False(t, discover.PIDExists(snap.PID))

	require.NoError(t, f.state.Stop(ctx))
	assert.False(t, f.state.IsRunning())
	assert.Empty(t, drain(f.events))
	assert.Equal(t, 1, f.metrics.counts().started)
	assert.Equal(t, 1, f.metrics.counts().stopped)
}

func TestStartRefusedWhileExternalRuns(t *testing.T) {
	f := newFixture(t, []string{"30"}, func(_ *config.Config, o *Options) { o.DetectOnQuery = true })
	ext := startSleeper(t)
	f.lister.add(ext.pid, f.path)

	assert.ErrorIs(t, f.state.Start(context.Background()), ErrExternalRunning)
	assert.Equal(t, "external", f.state.Snapshot().Ownership)
}

func TestSpawnFailureSurfaces(t *testing.T) {
	f := newFixture(t, nil, func(c *config.Config, _ *Options) { c.ExecutablePath = "/nonexistent/daemon" })
	err := f.state.Start(context.Background())
	require.Error(t, err)
	assert.True(t, wrapper.IsType(err, wrapper.SpawnFailure))
	assert.False(t, f.state.IsRunning())
	assert.Empty(t, drain(f.events))
}

func TestShortLivedChildObservedByMonitor(t *testing.T) {
	f := newFixture(t, []string{"0.3"}, nil)
	require.NoError(t, f.state.Start(context.Background()))
	waitEvent(t, f.events, time.Second)
	pid := f.state.Snapshot().PID
	require.Positive(t, pid)

	ev := waitEvent(t, f.events, 3*time.Second)
	assert.Equal(t, Event{Kind: Exited, Reason: ReasonExited}, ev)

	assert.False(t, f.state.IsRunning())
	assert.Zero(t, f.state.Snapshot().PID)

	// a late duplicate notification and a poll change nothing
	f.state.handleExit(pid)
	assert.False(t, f.state.IsRunning())
	assert.Empty(t, drain(f.events))
	assert.Equal(t, 1, f.metrics.counts().exited)
}

func TestPollObservesExitWithoutMonitor(t *testing.T) {
	f := newFixture(t, nil, nil)
	ext := startSleeper(t)
	f.lister.add(ext.pid, f.path)
	require.True(t, f.state.DetectAndAttach())
	drain(f.events)

	f.lister.clear()
	assert.False(t, f.state.IsRunning())
	events := drain(f.events)
	require.Len(t, events, 1)
	assert.Equal(t, Exited, events[0].Kind)
	assert.Equal(t, ReasonPoll, events[0].Reason)
}

func TestExternalStopDenied(t *testing.T) {
	f := newFixture(t, nil, func(_ *config.Config, o *Options) {
		o.Wrapper.Kill = func(int) error { return syscall.EPERM }
	})
	ext := startSleeper(t)
	f.lister.add(ext.pid, f.path)
	require.True(t, f.state.DetectAndAttach())
	drain(f.events)

	err := f.state.Stop(context.Background())
	require.Error(t, err)
	assert.True(t, wrapper.IsPermissionDenied(err))
	assert.False(t, wrapper.IsFatal(err))

	assert.False(t, f.state.Snapshot().Running, "handle is dropped even though the kill was refused")
	assert.True(t, discover.PIDExists(ext.pid))
	events := drain(f.events)
	require.Len(t, events, 1)
	assert.Equal(t, Exited, events[0].Kind)
}

func TestReplacementReleasesMonitor(t *testing.T) {
	f := newFixture(t, nil, nil)
	a := startSleeper(t)
	b := startSleeper(t)

	detect := func(pid int) *wrapper.Handle {
		f.lister.clear()
		f.lister.add(pid, f.path)
		h, err := wrapper.Detect(f.path, f.state.exitCallback(), f.state.opts.Wrapper)
		require.NoError(t, err)
		require.NotNil(t, h)
		return h
	}
	first := detect(a.pid)
	second := detect(b.pid)
	tok := first.Monitor()
	if tok == nil {
		t.Skip("no exit wait primitive on this platform")
	}

	f.state.mu.Lock()
	f.state.attachLocked(first)
	f.state.attachLocked(second)
	f.state.mu.Unlock()

	assert.True(t, tok.Released())
	assert.False(t, second.Monitor().Released())

	// the released monitor never reaches the state
	a.kill()
	time.Sleep(100 * time.Millisecond)
	pid, ok := second.PrimaryPID()
	assert.True(t, ok)
	assert.Equal(t, b.pid, pid)
}

func TestExitCallbackAfterOwnerCollected(t *testing.T) {
	st := New(config.Default(), Options{})
	cb := st.exitCallback()
	ref := weak.Make(st)
	st = nil

	require.Eventually(t, func() bool {
		runtime.GC()
		return ref.Value() == nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.NotPanics(t, func() { cb(12345) })
}

func TestClosurePolicies(t *testing.T) {
	t.Run("close_managed leaves external", func(t *testing.T) {
		var kills atomic.Int32
		f := newFixture(t, nil, func(c *config.Config, o *Options) {
			c.ClosurePolicy = config.CloseManaged
			o.Wrapper.Kill = func(int) error { kills.Add(1); return nil }
		})
		ext := startSleeper(t)
		f.lister.add(ext.pid, f.path)
		require.True(t, f.state.DetectAndAttach())

		res := f.state.ApplyClosurePolicy(context.Background())
		assert.Equal(t, Action{}, res.Action)
		assert.Zero(t, kills.Load())
		assert.True(t, f.state.Snapshot().Running)
	})

	t.Run("close_all sweeps external", func(t *testing.T) {
		var killed atomic.Int64
		f := newFixture(t, nil, func(c *config.Config, o *Options) {
			c.ClosurePolicy = config.CloseAll
			o.Wrapper.Kill = func(pid int) error { killed.Store(int64(pid)); return nil }
		})
		ext := startSleeper(t)
		f.lister.add(ext.pid, f.path)
		require.True(t, f.state.DetectAndAttach())

		res := f.state.ApplyClosurePolicy(context.Background())
		assert.Equal(t, Action{Sweep: true}, res.Action)
		assert.Equal(t, []int{ext.pid}, res.Swept)
		assert.Equal(t, int64(ext.pid), killed.Load())
		assert.False(t, f.state.Snapshot().Running)
	})

	t.Run("close_managed stops managed", func(t *testing.T) {
		f := newFixture(t, []string{"30"}, func(c *config.Config, _ *Options) {
			c.ClosurePolicy = config.CloseManaged
		})
		require.NoError(t, f.state.Start(context.Background()))
		pid := f.state.Snapshot().PID

		res := f.state.ApplyClosurePolicy(context.Background())
		assert.True(t, res.Stopped)
		assert.False(t, discover.PIDExists(pid))
	})

	t.Run("dont_close does nothing", func(t *testing.T) {
		f := newFixture(t, []string{"30"}, func(c *config.Config, _ *Options) {
			c.ClosurePolicy = config.DontClose
		})
		require.NoError(t, f.state.Start(context.Background()))
		res := f.state.ApplyClosurePolicy(context.Background())
		assert.False(t, res.Stopped)
		assert.True(t, f.state.IsRunning())

		f.state.SetClosurePolicy(config.CloseManaged)
		assert.True(t, f.state.ApplyClosurePolicy(context.Background()).Stopped)
	})
}

func TestCheckAndAutostart(t *testing.T) {
	f := newFixture(t, []string{"30"}, func(c *config.Config, _ *Options) { c.AutoLaunch = true })
	started, err := f.state.CheckAndAutostart(context.Background())
	require.NoError(t, err)
	assert.True(t, started)
	t.Cleanup(func() { f.state.Stop(context.Background()) })

	started, err = f.state.CheckAndAutostart(context.Background())
	require.NoError(t, err)
	assert.False(t, started)

	g := newFixture(t, nil, nil)
	started, err = g.state.CheckAndAutostart(context.Background())
	require.NoError(t, err)
	assert.False(t, started, "auto_launch off")
}

func TestFullChannelDropsEvent(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.state.Subscribe(0)
	ext := startSleeper(t)
	f.lister.add(ext.pid, f.path)

	require.True(t, f.state.DetectAndAttach())
	assert.Equal(t, 1, f.metrics.counts().dropped)
}

type failingLister struct{}

func (failingLister) List() ([]discover.Candidate, error) { return nil, errors.New("access denied") }
func (failingLister) Exe(int) (string, error)             { return "", os.ErrPermission }
func (failingLister) CreateTime(int) (int64, error)       { return 0, os.ErrPermission }

func TestDetectionFailureTreatedAsNotRunning(t *testing.T) {
	f := newFixture(t, nil, func(_ *config.Config, o *Options) {
		o.Wrapper.Scanner = discover.NewScanner(failingLister{}, nil)
	})

	for i := 0; i < 4; i++ {
		if f.state.DetectAndAttach() {
			t.Fatal("enumeration failure must read as not running")
		}
	}
	report := f.state.ScanHealth()
	if report.Status != discover.HealthStatusUnhealthy.String() {
		t.Errorf("expected unhealthy scan report, got %+v", report)
	}
	if report.LastError != "access denied" {
		t.Errorf("last error = %q", report.LastError)
	}
}

func TestSnapshotDuringStop(t *testing.T) {
	ext := startSleeper(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	f := newFixture(t, nil, func(_ *config.Config, o *Options) {
		o.DetectOnQuery = true
		o.Wrapper.Kill = func(int) error {
			close(entered)
			<-release
			ext.kill()
			return nil
		}
	})
	f.lister.add(ext.pid, f.path)
	require.True(t, f.state.DetectAndAttach())
	drain(f.events)

	stopped := make(chan error, 1)
	go func() { stopped <- f.state.Stop(context.Background()) }()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop never reached the kill")
	}

	// status queries answer while the kill is pending
	snaps := make(chan Snapshot, 1)
	go func() { snaps <- f.state.Snapshot() }()
	select {
	case snap := <-snaps:
		assert.True(t, snap.Running)
		assert.True(t, snap.Stopping)
		assert.Equal(t, ext.pid, snap.PID)
		assert.Equal(t, "external", snap.Ownership)
	case <-time.After(time.Second):
		t.Fatal("Snapshot blocked behind Stop")
	}
	assert.True(t, f.state.IsRunning(), "the dying process is neither dropped nor re-detected")
	assert.Empty(t, drain(f.events))
	assert.Equal(t, 1, f.metrics.counts().found)

	close(release)
	require.NoError(t, <-stopped)
	f.lister.clear()
	assert.Equal(t, Event{Kind: Exited, Reason: ReasonStopped}, waitEvent(t, f.events, time.Second))
	snap := f.state.Snapshot()
	assert.False(t, snap.Running)
	assert.False(t, snap.Stopping)
}
