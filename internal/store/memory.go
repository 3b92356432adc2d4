package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryJournal is an in-memory journal, used when journaling to disk is
// disabled and in tests.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries []Transition // oldest first
	retain  int
}

// NewMemoryJournal creates a journal keeping at most retain entries (0 keeps
// everything).
func NewMemoryJournal(retain int) *MemoryJournal {
	return &MemoryJournal{retain: retain}
}

func (j *MemoryJournal) Record(_ context.Context, t Transition) error {
	fill(&t)
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, t)
	if j.retain > 0 && len(j.entries) > j.retain {
		j.entries = append([]Transition(nil), j.entries[len(j.entries)-j.retain:]...)
	}
	return nil
}

func (j *MemoryJournal) Recent(_ context.Context, limit int) ([]Transition, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Transition, 0, len(j.entries))
	for i := len(j.entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, j.entries[i])
	}
	return out, nil
}

func (j *MemoryJournal) Prune(_ context.Context, retain int) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if retain < 0 || len(j.entries) <= retain {
		return 0, nil
	}
	deleted := len(j.entries) - retain
	j.entries = append([]Transition(nil), j.entries[deleted:]...)
	return int64(deleted), nil
}

func (j *MemoryJournal) Close() error { return nil }

// fill assigns an ID and timestamp when the caller left them empty.
func fill(t *Transition) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.At.IsZero() {
		t.At = time.Now()
	}
	t.At = t.At.UTC()
}
