package discover

import (
	"path/filepath"
	"slices"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessTable is the Lister backed by the operating system.
type ProcessTable struct{}

func NewProcessTable() *ProcessTable { return &ProcessTable{} }

// List enumerates every live process the caller can see. Processes that
// vanish between the PID listing and the name read are skipped, and so are
// zombies: they have exited and only wait to be reaped.
func (ProcessTable) List() ([]Candidate, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || isZombie(p) {
			continue
		}
		c := Candidate{PID: int(p.Pid), Name: name}
		if ppid, err := p.Ppid(); err == nil {
			c.PPID = int(ppid)
		}
		if args, err := p.CmdlineSlice(); err == nil && len(args) > 0 {
			c.Argv0 = filepath.Base(args[0])
		}
		out = append(out, c)
	}
	return out, nil
}

// Exe resolves the executable image of pid. Fails for processes owned by
// other users on most platforms.
func (ProcessTable) Exe(pid int) (string, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return "", err
	}
	return p.Exe()
}

// CreateTime returns the process start time in ms since the epoch.
func (ProcessTable) CreateTime(pid int) (int64, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0, err
	}
	return p.CreateTime()
}

// PIDExists checks liveness without matching an identity. A zombie does
// not count as alive.
func PIDExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	if err != nil || !ok {
		return false
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	return !isZombie(p)
}

// isZombie reports whether p has exited but not been reaped. An unreadable
// status is treated as alive.
func isZombie(p *process.Process) bool {
	status, err := p.Status()
	if err != nil {
		return false
	}
	return slices.Contains(status, process.Zombie)
}
