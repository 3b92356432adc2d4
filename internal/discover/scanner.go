package discover

import (
	"fmt"
	"os"
	"sort"

	"github.com/psantana5/syncwarden/internal/logging"
)

// Tier says how confidently a process was matched to an Identity.
type Tier int

const (
	// TierNameOnly: same base name, but the resolved path points elsewhere.
	TierNameOnly Tier = iota
	// TierWeak: same base name, path could not be resolved on this platform.
	TierWeak
	// TierStrong: resolved path equals the configured path.
	TierStrong
)

func (t Tier) String() string {
	switch t {
	case TierStrong:
		return "strong"
	case TierWeak:
		return "weak"
	default:
		return "name-only"
	}
}

// Candidate is one row of the process table as reported by a Lister.
type Candidate struct {
	PID   int
	PPID  int
	Name  string // comm / image name
	Argv0 string // first command line element, may be empty
}

// Lister abstracts the OS process table.
type Lister interface {
	List() ([]Candidate, error)
	Exe(pid int) (string, error)
	CreateTime(pid int) (int64, error)
}

// Match is a process whose base name matches an Identity.
type Match struct {
	PID        int
	PPID       int
	Path       string // resolved executable path, empty when unresolvable
	CreateTime int64  // ms since epoch, 0 when unknown
	Tier       Tier
}

// Scanner discovers running instances of the supervised executable.
type Scanner struct {
	lister Lister
	ownPID int
	health *Health
	logger *logging.Logger
}

// NewScanner creates a scanner over lister. A nil lister uses the OS process
// table.
func NewScanner(lister Lister, logger *logging.Logger) *Scanner {
	if lister == nil {
		lister = NewProcessTable()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scanner{
		lister: lister,
		ownPID: os.Getpid(),
		health: NewHealth(),
		logger: logger.Component("discover"),
	}
}

// Health returns the enumeration health tracker.
func (s *Scanner) Health() *Health { return s.health }

// Scan returns every process whose base name matches id, strongest tier
// first. The result is a snapshot; callers re-scan rather than cache it.
func (s *Scanner) Scan(id Identity) ([]Match, error) {
	candidates, err := s.lister.List()
	if err != nil {
		s.health.RecordFailure(err)
		return nil, fmt.Errorf("failed to enumerate processes: %w", err)
	}
	s.health.RecordSuccess()

	var matches []Match
	weak := 0
	for _, c := range candidates {
		if c.PID == s.ownPID || c.PID <= 0 {
			continue
		}
		if !id.MatchesName(c.Name) && !id.MatchesName(c.Argv0) {
			continue
		}

		m := Match{PID: c.PID, PPID: c.PPID}
		exe, err := s.lister.Exe(c.PID)
		switch {
		case err != nil || exe == "":
			m.Tier = TierWeak
			weak++
		case id.MatchesPath(exe):
			m.Path = exe
			m.Tier = TierStrong
		case !id.MatchesName(exe):
			// comm matched but the binary is something else (renamed argv0)
			continue
		default:
			m.Path = exe
			m.Tier = TierNameOnly
		}
		if ct, err := s.lister.CreateTime(c.PID); err == nil {
			m.CreateTime = ct
		}
		matches = append(matches, m)
	}

	if weak > 0 {
		s.logger.Warn("Executable path unavailable for some processes, falling back to name-only matching", logging.Fields{
			"name":  id.Name,
			"count": weak,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Tier != matches[j].Tier {
			return matches[i].Tier > matches[j].Tier
		}
		return matches[i].PID < matches[j].PID
	})
	return matches, nil
}

// FindPID reports whether pid is still a strong or weak match for id. A
// non-zero createTime must also agree, which guards against PID reuse.
func (s *Scanner) FindPID(id Identity, pid int, createTime int64) (bool, error) {
	matches, err := s.Scan(id)
	if err != nil {
		return false, err
	}
	for _, m := range matches {
		if m.PID != pid || m.Tier == TierNameOnly {
			continue
		}
		if createTime != 0 && m.CreateTime != 0 && m.CreateTime != createTime {
			return false, nil
		}
		return true, nil
	}
	return false, nil
}

// NewProcesses returns name matches whose PID is not in known, in the manner
// of a tracked-set diff.
func (s *Scanner) NewProcesses(id Identity, known map[int]bool) ([]Match, error) {
	all, err := s.Scan(id)
	if err != nil {
		return nil, err
	}
	var fresh []Match
	for _, m := range all {
		if !known[m.PID] {
			fresh = append(fresh, m)
		}
	}
	return fresh, nil
}

// Strongest picks the best candidate for attaching: the first strong match,
// otherwise the first weak one. Name-only matches never qualify.
func Strongest(matches []Match) (Match, bool) {
	for _, m := range matches {
		if m.Tier == TierStrong {
			return m, true
		}
	}
	for _, m := range matches {
		if m.Tier == TierWeak {
			return m, true
		}
	}
	return Match{}, false
}
