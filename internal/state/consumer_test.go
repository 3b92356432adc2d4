//go:build unix

package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/syncwarden/internal/config"
)

type recordingRenderer struct {
	mu      sync.Mutex
	sources []string
	states  []bool
}

func (r *recordingRenderer) Render(_, cur Snapshot, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, source)
	r.states = append(r.states, cur.Running)
}

func (r *recordingRenderer) snapshot() ([]string, []bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sources...), append([]bool(nil), r.states...)
}

func TestConsumerRendersTransitions(t *testing.T) {
	f := newFixture(t, []string{"30"}, nil)
	rec := &recordingRenderer{}
	c := NewConsumer(f.state, f.events, time.Hour, nil, rec)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	require.Eventually(t, func() bool { s, _ := rec.snapshot(); return len(s) == 1 }, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, f.state.Start(ctx))
	require.Eventually(t, func() bool { s, _ := rec.snapshot(); return len(s) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, f.state.Stop(ctx))
	require.Eventually(t, func() bool { s, _ := rec.snapshot(); return len(s) == 3 }, 2*time.Second, 5*time.Millisecond)

	f.state.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not exit after the channel closed")
	}

	sources, states := rec.snapshot()
	assert.Equal(t, []string{SourceInit, SourceEvent, SourceEvent}, sources)
	assert.Equal(t, []bool{false, true, false}, states)
	assert.False(t, c.Last().Running)
}

func TestConsumerPollsWithoutEvents(t *testing.T) {
	f := newFixture(t, nil, func(_ *config.Config, o *Options) { o.DetectOnQuery = true })
	rec := &recordingRenderer{}
	quiet := make(chan Event)
	c := NewConsumer(f.state, quiet, 20*time.Millisecond, nil, rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	ext := startSleeper(t)
	f.lister.add(ext.pid, f.path)
	require.Eventually(t, func() bool { s, _ := rec.snapshot(); return len(s) == 2 }, 2*time.Second, 5*time.Millisecond)

	f.lister.clear()
	require.Eventually(t, func() bool { s, _ := rec.snapshot(); return len(s) == 3 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	sources, states := rec.snapshot()
	assert.Equal(t, []string{SourceInit, SourcePoll, SourcePoll}, sources)
	assert.Equal(t, []bool{false, true, false}, states)
}

func TestConsumerLastWhileRunning(t *testing.T) {
	f := newFixture(t, nil, func(_ *config.Config, o *Options) { o.DetectOnQuery = true })
	c := NewConsumer(f.state, make(chan Event), 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	ext := startSleeper(t)
	f.lister.add(ext.pid, f.path)
	require.Eventually(t, func() bool { return c.Last().Running }, 2*time.Second, time.Millisecond)
	assert.Equal(t, ext.pid, c.Last().PID)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
