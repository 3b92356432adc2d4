package observe

import "time"

// Timing records when a tracked process was first seen and when it was seen
// to end.
type Timing struct {
	StartedAt time.Time
	EndedAt   time.Time
}

// NewTiming creates timing with current start time
func NewTiming() *Timing {
	return &Timing{
		StartedAt: time.Now(),
	}
}

// Complete records the end time. Only the first call counts.
func (t *Timing) Complete() {
	if t.EndedAt.IsZero() {
		t.EndedAt = time.Now()
	}
}

// Duration returns the observed lifetime so far
func (t *Timing) Duration() time.Duration {
	if t.EndedAt.IsZero() {
		return time.Since(t.StartedAt)
	}
	return t.EndedAt.Sub(t.StartedAt)
}
