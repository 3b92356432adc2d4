package wrapper

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"testing"

	"github.com/psantana5/syncwarden/internal/discover"
)

// fakeLister serves procs on the first List call and later, when set, on
// every subsequent call.
type fakeLister struct {
	mu      sync.Mutex
	procs   []discover.Candidate
	later   []discover.Candidate
	exes    map[int]string
	created map[int]int64
	err     error
	calls   int
}

func (f *fakeLister) List() ([]discover.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.calls > 1 && f.later != nil {
		return f.later, nil
	}
	return f.procs, nil
}

func (f *fakeLister) set(procs []discover.Candidate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs = procs
	f.later = nil
}

func (f *fakeLister) Exe(pid int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if exe, ok := f.exes[pid]; ok {
		return exe, nil
	}
	return "", os.ErrPermission
}

func (f *fakeLister) CreateTime(pid int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ct, ok := f.created[pid]; ok {
		return ct, nil
	}
	return 0, errors.New("unknown")
}

// killRecorder stands in for the OS kill.
type killRecorder struct {
	mu     sync.Mutex
	pids   []int
	result func(pid int) error
}

func (k *killRecorder) kill(pid int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pids = append(k.pids, pid)
	if k.result != nil {
		return k.result(pid)
	}
	return nil
}

func (k *killRecorder) calls() []int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]int(nil), k.pids...)
}

func sleepPath(t *testing.T) string {
	t.Helper()
	p, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	return p
}

// sleeper is a process the test owns, standing in for an external daemon.
// It is reaped in the background so a kill makes it disappear.
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
