//go:build !linux

package observe

import (
	"errors"
	"fmt"
)

func watchPID(pid int, fn func()) (*Token, error) {
	return nil, fmt.Errorf("exit wait for pid %d: %w", pid, errors.ErrUnsupported)
}
