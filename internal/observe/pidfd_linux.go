//go:build linux

package observe

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// watchPID waits on a pidfd, which becomes readable when the process
// terminates. A pipe is polled alongside it so Release can wake the waiter.
func watchPID(pid int, fn func()) (*Token, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid: %d", pid)
	}
	pidfd, err := unix.PidfdOpen(pid, 0)
	if err != nil {
		if errors.Is(err, unix.ENOSYS) {
			return nil, fmt.Errorf("pidfd_open: %w", errors.ErrUnsupported)
		}
		return nil, fmt.Errorf("pidfd_open %d: %w", pid, err)
	}

	r, w, err := os.Pipe()
	if err != nil {
		unix.Close(pidfd)
		return nil, fmt.Errorf("wake pipe: %w", err)
	}
	closeWake := sync.OnceFunc(func() { w.Close() })

	t := newToken(pid, closeWake)
	go func() {
		defer unix.Close(pidfd)
		defer r.Close()
		defer closeWake()

		fds := []unix.PollFd{
			{Fd: int32(pidfd), Events: unix.POLLIN},
			{Fd: int32(r.Fd()), Events: unix.POLLIN},
		}
		for {
			_, err := unix.Poll(fds, -1)
			if err == unix.EINTR {
				continue
			}
			if err != nil {
				// registration lost; the poller still covers this process
				return
			}
			break
		}
		if fds[1].Revents != 0 {
			return
		}
		if fds[0].Revents&(unix.POLLIN|unix.POLLHUP) != 0 {
			t.fire(fn)
		}
	}()
	return t, nil
}
