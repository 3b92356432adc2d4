package observe

import (
	"sync"
	"sync/atomic"
)

// Token owns one exit-wait registration. Release unregisters it; calling
// Release more than once is a no-op.
//
// Release never waits for a callback that is already running: callbacks take
// the supervisor's state lock, and the releaser usually holds it.
type Token struct {
	pid      int
	once     sync.Once
	released atomic.Bool
	fired    atomic.Bool
	cancel   func()
}

func newToken(pid int, cancel func()) *Token {
	return &Token{pid: pid, cancel: cancel}
}

// PID returns the process this token watches.
func (t *Token) PID() int { return t.pid }

// Release unregisters the wait. A callback that has not started yet will not
// run.
func (t *Token) Release() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.released.Store(true)
		if t.cancel != nil {
			t.cancel()
		}
	})
}

// Released reports whether Release has been called.
func (t *Token) Released() bool { return t != nil && t.released.Load() }

// Fired reports whether the exit callback ran.
func (t *Token) Fired() bool { return t != nil && t.fired.Load() }

// fire runs fn at most once, and never after Release.
func (t *Token) fire(fn func()) {
	if t.released.Load() {
		return
	}
	if t.fired.CompareAndSwap(false, true) {
		fn()
	}
}

// WatchChild registers fn to run once when done is closed. done is the
// channel a reaper goroutine closes after cmd.Wait returns.
func WatchChild(pid int, done <-chan struct{}, fn func()) *Token {
	stop := make(chan struct{})
	t := newToken(pid, func() { close(stop) })
	go func() {
		select {
		case <-done:
			t.fire(fn)
		case <-stop:
		}
	}()
	return t
}

// WatchPID registers fn to run once when an arbitrary process exits, using
// the platform's wait primitive. Platforms without one return an error
// wrapping errors.ErrUnsupported; callers then rely on polling.
func WatchPID(pid int, fn func()) (*Token, error) {
	return watchPID(pid, fn)
}
