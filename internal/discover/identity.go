package discover

import (
	"os/exec"
	"path/filepath"
	"strings"
)

// executableExts are stripped before names are compared so that
// "Syncthing.EXE" and "syncthing" identify the same program.
var executableExts = []string{".exe", ".com", ".bat", ".cmd"}

// linux appends this to /proc/<pid>/exe when the binary was replaced on disk
const deletedSuffix = " (deleted)"

// Identity describes the executable the supervisor looks for. It is used
// for matching only and never persisted.
type Identity struct {
	Path     string // configured path, made absolute when possible
	Name     string // normalized base name
	resolved string // Path with symlinks evaluated
}

// NewIdentity builds an Identity for path. A bare program name is resolved
// through PATH first.
func NewIdentity(path string) Identity {
	p := strings.TrimSpace(path)
	if p != "" && !strings.ContainsAny(p, `/\`) {
		if found, err := exec.LookPath(p); err == nil {
			p = found
		}
	}
	if abs, err := filepath.Abs(p); err == nil && p != "" {
		p = abs
	}
	resolved := p
	if r, err := filepath.EvalSymlinks(p); err == nil {
		resolved = r
	}
	return Identity{
		Path:     p,
		Name:     NormalizeName(filepath.Base(p)),
		resolved: resolved,
	}
}

// NormalizeName lower-cases a base name and strips a trailing executable
// extension.
func NormalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimSuffix(n, deletedSuffix)
	for _, ext := range executableExts {
		if strings.HasSuffix(n, ext) {
			return strings.TrimSuffix(n, ext)
		}
	}
	return n
}

// MatchesName reports whether name (a base name or a path) names the same
// program. Linux truncates comm to 15 bytes, so a 15-byte name that prefixes
// the identity also matches.
func (id Identity) MatchesName(name string) bool {
	if name == "" || id.Name == "" {
		return false
	}
	n := NormalizeName(baseName(name))
	if n == id.Name {
		return true
	}
	return len(n) == 15 && strings.HasPrefix(id.Name, n)
}

// MatchesPath is the strong match: the resolved path equals the configured
// path, compared case-insensitively.
func (id Identity) MatchesPath(path string) bool {
	if path == "" || id.Path == "" {
		return false
	}
	p := filepath.Clean(strings.TrimSuffix(path, deletedSuffix))
	return strings.EqualFold(p, filepath.Clean(id.Path)) ||
		strings.EqualFold(p, filepath.Clean(id.resolved))
}

// baseName handles both separators so Windows-style paths reported by a
// lister still reduce to their last element.
func baseName(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}
