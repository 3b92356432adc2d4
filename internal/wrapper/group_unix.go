//go:build unix

package wrapper

import (
	"os/exec"
	"syscall"
)

// setProcessGroup makes the child the leader of a new process group so the
// whole tree can be killed with one signal.
func setProcessGroup(cmd *exec.Cmd) bool {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
	cmd.SysProcAttr.Pgid = 0
	return true
}

func killGroup(pgid int) error {
	return syscall.Kill(-pgid, syscall.SIGKILL)
}
