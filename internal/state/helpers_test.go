package state

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/psantana5/syncwarden/internal/config"
	"github.com/psantana5/syncwarden/internal/discover"
	"github.com/psantana5/syncwarden/internal/wrapper"
)

type fakeLister struct {
	mu    sync.Mutex
	procs []discover.Candidate
	exes  map[int]string
}

func (f *fakeLister) List() ([]discover.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]discover.Candidate(nil), f.procs...), nil
}

func (f *fakeLister) Exe(pid int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if exe, ok := f.exes[pid]; ok {
		return exe, nil
	}
	return "", os.ErrPermission
}

func (f *fakeLister) CreateTime(int) (int64, error) { return 0, errors.New("unknown") }

func (f *fakeLister) add(pid int, exe string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs = append(f.procs, discover.Candidate{PID: pid, Name: "sleep"})
	if f.exes == nil {
		f.exes = make(map[int]string)
	}
	f.exes[pid] = exe
}

func (f *fakeLister) clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs = nil
}

type recorded struct {
	started int
	stopped int
	exited  int
	found   int
	dropped int
	running bool
}

type countingRecorder struct {
	mu sync.Mutex
	c  recorded
}

func (r *countingRecorder) Started(string) { r.mu.Lock(); r.c.started++; r.mu.Unlock() }
func (r *countingRecorder) Stopped(string) { r.mu.Lock(); r.c.stopped++; r.mu.Unlock() }
func (r *countingRecorder) Exited(string)  { r.mu.Lock(); r.c.exited++; r.mu.Unlock() }
func (r *countingRecorder) Detected()      { r.mu.Lock(); r.c.found++; r.mu.Unlock() }
func (r *countingRecorder) EventDropped()  { r.mu.Lock(); r.c.dropped++; r.mu.Unlock() }
func (r *countingRecorder) SetRunning(b bool) {
	r.mu.Lock()
	r.c.running = b
	r.mu.Unlock()
}

// counts returns a copy taken under the lock.
func (r *countingRecorder) counts() recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.c
}

func sleepPath(t *testing.T) string {
	t.Helper()
	p, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	return p
}

// sleeper is a process started outside AppState, i.e. an external daemon.
type sleeper struct {
	cmd  *exec.Cmd
	pid  int
	done chan struct{}
}

func (s *sleeper) kill() {
	s.cmd.Process.Kill()
	<-s.done
}

func startSleeper(t *testing.T) *sleeper {
	t.Helper()
	cmd := exec.Command(sleepPath(t), "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleeper: %v", err)
	}
	s := &sleeper{cmd: cmd, pid: cmd.Process.Pid, done: make(chan struct{})}
	go func() {
		cmd.Wait()
		close(s.done)
	}()
	t.Cleanup(s.kill)
	return s
}

type fixture struct {
	state   *AppState
	events  <-chan Event
	lister  *fakeLister
	metrics *countingRecorder
	path    string
}

func newFixture(t *testing.T, args []string, mutate func(*config.Config, *Options)) *fixture {
	t.Helper()
	path := sleepPath(t)
	cfg := config.Default()
	cfg.ExecutablePath = path
	cfg.StartupArgs = args
	cfg.StopTimeout = config.Duration(3 * time.Second)

	lister := &fakeLister{}
	metrics := &countingRecorder{}
	opts := Options{
		Wrapper: wrapper.Options{Scanner: discover.NewScanner(lister, nil)},
		Metrics: metrics,
	}
	if mutate != nil {
		mutate(&cfg, &opts)
	}
	st := New(cfg, opts)
	return &fixture{
		state:   st,
		events:  st.Subscribe(16),
		lister:  lister,
		metrics: metrics,
		path:    path,
	}
}

// drain returns the events currently buffered.
func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func waitEvent(t *testing.T, ch <-chan Event, timeout time.Duration) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(timeout):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}
