package cgroups

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultRoot is the cgroup v2 unified hierarchy mount point.
const DefaultRoot = "/sys/fs/cgroup"

// ErrUnavailable means the hierarchy is missing, not v2, or not writable by
// this user. Callers fall back to process groups.
var ErrUnavailable = errors.New("cgroup v2 hierarchy unavailable")

// Manager handles cgroup lifecycle only.
// Create. Join. Kill. Delete. Nothing else.
type Manager struct {
	root   string
	parent string
}

// New creates a manager for leaves under <root>/<parent>. An empty root means
// DefaultRoot.
func New(root, parent string) *Manager {
	if root == "" {
		root = DefaultRoot
	}
	if parent == "" {
		parent = "syncwarden"
	}
	return &Manager{root: root, parent: parent}
}

// Version returns detected cgroup version (1 or 2)
func (m *Manager) Version() int {
	if _, err := os.Stat(filepath.Join(m.root, "cgroup.controllers")); err == nil {
		return 2
	}
	return 1
}

// Create makes a leaf cgroup and returns its path.
func (m *Manager) Create(name string) (string, error) {
	if m.Version() != 2 {
		return "", ErrUnavailable
	}
	if name == "" {
		name = fmt.Sprintf("unnamed-%d", os.Getpid())
	}
	path := filepath.Join(m.root, m.parent, name)
	if err := os.MkdirAll(path, 0755); err != nil {
		if os.IsPermission(err) || errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return "", err
	}
	return path, nil
}

// Join moves a PID into the cgroup
func (m *Manager) Join(cgroupPath string, pid int) error {
	if cgroupPath == "" {
		return nil
	}
	if pid <= 0 {
		return fmt.Errorf("invalid pid: %d", pid)
	}
	return writeExisting(filepath.Join(cgroupPath, "cgroup.procs"), strconv.Itoa(pid), true)
}

// Kill SIGKILLs every process in the cgroup at once through cgroup.kill
// (Linux 5.14+). Older kernels return errors.ErrUnsupported.
func (m *Manager) Kill(cgroupPath string) error {
	if cgroupPath == "" {
		return nil
	}
	err := writeExisting(filepath.Join(cgroupPath, "cgroup.kill"), "1", false)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cgroup.kill: %w", errors.ErrUnsupported)
	}
	return err
}

// Procs lists the PIDs currently in the cgroup.
func (m *Manager) Procs(cgroupPath string) ([]int, error) {
	data, err := os.ReadFile(filepath.Join(cgroupPath, "cgroup.procs"))
	if err != nil {
		return nil, err
	}
	var pids []int
	for _, line := range strings.Fields(string(data)) {
		if pid, err := strconv.Atoi(line); err == nil {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

// Delete removes the cgroup directory. Fails while processes remain.
func (m *Manager) Delete(cgroupPath string) error {
	if cgroupPath == "" {
		return nil
	}
	return os.Remove(cgroupPath)
}

// writeExisting writes to a cgroup interface file. The kernel provides these
// files; create is only used where a plain directory may stand in for one.
func writeExisting(path, value string, create bool) error {
	flags := os.O_WRONLY
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(value); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
