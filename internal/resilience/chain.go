package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAllFailed is returned when no provider of a [Chain] served the call.
// The per-provider errors are joined onto it.
var ErrAllFailed = errors.New("resilience: every provider failed")

// ChainConfig configures a [Chain].
type ChainConfig struct {
	// Breaker options applied to the breaker of every member.
	Breaker []BreakerOption

	// OnError runs for every member that fails with a real error, that is
	// not a rejection by its breaker and not a cancellation.
	OnError func(provider string, err error)

	// OnSwitch runs when a different member than last time served a call.
	OnSwitch func(from, to string)
}

// Member describes one provider of a chain for status reporting.
type Member struct {
	Name  string `json:"name"`
	State State  `json:"state"`
}

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain holds the providers of one pipeline stage in preference order, each
// behind its own [Breaker]. Members must all be added before the first call.
type Chain[T any] struct {
	stage   string
	cfg     ChainConfig
	members []member[T]

	mu      sync.Mutex
	serving string
}

// NewChain returns an empty chain for stage ("stt", "llm" or "tts").
func NewChain[T any](stage string, cfg ChainConfig) *Chain[T] {
	return &Chain[T]{stage: stage, cfg: cfg}
}

// Add appends a provider after the ones already added.
func (c *Chain[T]) Add(name string, v T) {
	c.members = append(c.members, member[T]{
		name:    name,
		value:   v,
		breaker: NewBreaker(name, c.cfg.Breaker...),
	})
}

// Stage returns the stage name given to [NewChain].
func (c *Chain[T]) Stage() string { return c.stage }

// Len returns the number of members.
func (c *Chain[T]) Len() int { return len(c.members) }

// Names returns the member names in try order.
func (c *Chain[T]) Names() []string {
	names := make([]string, len(c.members))
	for i, m := range c.members {
		names[i] = m.name
	}
	return names
}

// Members returns every member with its current breaker state.
func (c *Chain[T]) Members() []Member {
	out := make([]Member, len(c.members))
	for i, m := range c.members {
		out[i] = Member{Name: m.name, State: m.breaker.State()}
	}
	return out
}

// Available reports whether at least one member would accept a call.
func (c *Chain[T]) Available() bool {
	for _, m := range c.members {
		if m.breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// Serving returns the member that served the most recent call, or "".
func (c *Chain[T]) Serving() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serving
}

func (c *Chain[T]) served(name string) {
	c.mu.Lock()
	prev := c.serving
	c.serving = name
	c.mu.Unlock()

	if prev == "" || prev == name {
		return
	}
	slog.Info("chain: provider switched", "stage", c.stage, "from", prev, "to", name)
	if c.cfg.OnSwitch != nil {
		c.cfg.OnSwitch(prev, name)
	}
}

// Call runs fn against each member of c in order until one succeeds.
// Members whose breaker is open are skipped. A cancellation stops the walk
// and is returned unwrapped. When every member fails the error wraps
// [ErrAllFailed] and each member's error.
func Call[T, R any](c *Chain[T], fn func(T) (R, error)) (R, error) {
	var zero R
	if len(c.members) == 0 {
		return zero, fmt.Errorf("%w: no %s providers", ErrAllFailed, c.stage)
	}

	errs := make([]error, 0, len(c.members))
	for _, m := range c.members {
		var out R
		err := m.breaker.Do(func() error {
			var err error
			out, err = fn(m.value)
			return err
		})
		switch {
		case err == nil:
			c.served(m.name)
			return out, nil
		case errors.Is(err, context.Canceled):
			return zero, err
		case errors.Is(err, ErrOpen):
			slog.Debug("chain: skipping open provider", "stage", c.stage, "provider", m.name)
		default:
			slog.Warn("chain: provider failed", "stage", c.stage, "provider", m.name, "err", err)
			if c.cfg.OnError != nil {
				c.cfg.OnError(m.name, err)
			}
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
	}
	return zero, fmt.Errorf("%w (%s): %w", ErrAllFailed, c.stage, errors.Join(errs...))
}
