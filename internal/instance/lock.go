package instance

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning means another supervisor holds the lock.
var ErrAlreadyRunning = errors.New("another syncwarden instance is running")

// Lock keeps one supervisor per application directory.
type Lock struct {
	path string
	lock *flock.Flock
}

func New(path string) *Lock {
	return &Lock{path: path, lock: flock.New(path)}
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Acquire takes the lock without blocking and records our PID next to it.
func (l *Lock) Acquire() error {
	ok, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	if err := os.WriteFile(pidFile(l.path), []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		l.lock.Unlock()
		return fmt.Errorf("write lock file: %w", err)
	}
	return nil
}

// Release unlocks. Safe to call when the lock was never acquired.
func (l *Lock) Release() error {
	if !l.lock.Locked() {
		return nil
	}
	os.Remove(pidFile(l.path))
	return l.lock.Unlock()
}

// Holder returns the PID recorded by the current holder, 0 when unknown.
func Holder(path string) int {
	data, err := os.ReadFile(pidFile(path))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

func pidFile(lockPath string) string { return lockPath + ".pid" }
