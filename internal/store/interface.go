package store

import (
	"context"
	"time"
)

// Transition is one rendered running/stopped change of the daemon.
type Transition struct {
	ID        string    `json:"id"`
	Session   string    `json:"session"`
	At        time.Time `json:"at"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	Ownership string    `json:"ownership,omitempty"`
	Source    string    `json:"source"`
}

// Journal persists transitions. Both MemoryJournal and SQLiteJournal
// implement it.
type Journal interface {
	Record(ctx context.Context, t Transition) error
	// Recent returns up to limit transitions, newest first.
	Recent(ctx context.Context, limit int) ([]Transition, error)
	// Prune keeps the newest retain rows and reports how many were deleted.
	Prune(ctx context.Context, retain int) (int64, error)
	Close() error
}
