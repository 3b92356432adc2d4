//go:build !unix

package wrapper

import (
	"errors"
	"os/exec"
)

// No process groups here; Start falls back to the child scan.
func setProcessGroup(cmd *exec.Cmd) bool { return false }

func killGroup(pgid int) error { return errors.ErrUnsupported }
