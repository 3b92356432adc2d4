package state

import (
	"context"
	"sync"
	"time"

	"github.com/psantana5/syncwarden/internal/logging"
)

// Source says what woke the consumer.
const (
	SourceEvent = "event"
	SourcePoll  = "poll"
	SourceInit  = "init"
)

// Renderer is told about every observable status change.
type Renderer interface {
	Render(prev, cur Snapshot, source string)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(prev, cur Snapshot, source string)

func (f RendererFunc) Render(prev, cur Snapshot, source string) { f(prev, cur, source) }

// Consumer waits for events with a bounded timeout, re-derives the status
// from AppState and re-renders only when it changed.
type Consumer struct {
	state     *AppState
	events    <-chan Event
	poll      time.Duration
	renderers []Renderer
	logger    *logging.Logger

	// last is written only by Run; mu guards it for Last.
	mu   sync.Mutex
	last Snapshot
}

// NewConsumer creates a consumer over events. poll bounds how long it waits
// for an event before checking anyway.
func NewConsumer(st *AppState, events <-chan Event, poll time.Duration, logger *logging.Logger, renderers ...Renderer) *Consumer {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Consumer{
		state:     st,
		events:    events,
		poll:      poll,
		renderers: renderers,
		logger:    logger.Component("consumer"),
	}
}

// Last returns the most recently rendered snapshot.
func (c *Consumer) Last() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Consumer) setLast(s Snapshot) {
	c.mu.Lock()
	c.last = s
	c.mu.Unlock()
}

// Run renders the initial status and loops until the event channel is closed
// (returns nil) or ctx ends (returns ctx.Err()).
func (c *Consumer) Run(ctx context.Context) error {
	first := c.state.Snapshot()
	c.setLast(first)
	c.render(Snapshot{Path: first.Path, Policy: first.Policy}, first, SourceInit)

	timer := time.NewTimer(c.poll)
	defer timer.Stop()

	for {
		source := SourcePoll
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-c.events:
			if !ok {
				c.logger.Debug("Event channel closed, consumer exiting")
				return nil
			}
			source = SourceEvent
			c.logger.Debug("Event received", logging.Fields{"kind": ev.Kind.String(), "reason": ev.Reason})
		case <-timer.C:
			c.state.IsRunning()
		}

		timer.Reset(c.poll)

		cur := c.state.Snapshot()
		if cur.Same(c.last) {
			continue
		}
		prev := c.last
		c.setLast(cur)
		c.render(prev, cur, source)
	}
}

func (c *Consumer) render(prev, cur Snapshot, source string) {
	c.logger.Info("Status changed", logging.Fields{
		"running":   cur.Running,
		"pid":       cur.PID,
		"ownership": cur.Ownership,
		"source":    source,
	})
	for _, r := range c.renderers {
		r.Render(prev, cur, source)
	}
}
