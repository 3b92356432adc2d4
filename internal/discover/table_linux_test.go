//go:build linux

package discover

import (
	"os/exec"
	"slices"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// startZombie starts a short child and leaves it unreaped until cleanup.
func startZombie(t *testing.T) int {
	t.Helper()
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	cmd := exec.Command(sleep, "0")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { cmd.Wait() })

	pid := cmd.Process.Pid
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if p, err := process.NewProcess(int32(pid)); err == nil {
			if status, err := p.Status(); err == nil && slices.Contains(status, process.Zombie) {
				return pid
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("pid %d never became a zombie", pid)
	return 0
}

func TestZombieIsNotRunning(t *testing.T) {
	pid := startZombie(t)

	if PIDExists(pid) {
		t.Error("zombie must not count as an existing process")
	}

	candidates, err := NewProcessTable().List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, c := range candidates {
		if c.PID == pid {
			t.Fatalf("zombie %d listed as %+v", pid, c)
		}
	}

	sleep, _ := exec.LookPath("sleep")
	matches, err := NewScanner(nil, nil).Scan(NewIdentity(sleep))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	for _, m := range matches {
		if m.PID == pid {
			t.Fatalf("zombie %d matched as %s", pid, m.Tier)
		}
	}
}
