package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default reconnection parameters.
const (
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Backoff yields exponentially growing delays between reconnection attempts,
// doubling from an initial value up to a cap. Safe for concurrent use.
type Backoff struct {
	initial time.Duration
	max     time.Duration

	mu  sync.Mutex
	cur time.Duration
}

// NewBackoff returns a Backoff. Zero or negative values select the defaults
// (1s initial, 30s cap).
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = defaultBackoff
	}
	if max <= 0 {
		max = defaultMaxBackoff
	}
	if max < initial {
		max = initial
	}
	return &Backoff{initial: initial, max: max, cur: initial}
}

// Next returns the delay to wait now and advances to the following one.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.cur
	b.cur *= 2
	if b.cur > b.max {
		b.cur = b.max
	}
	return d
}

// Reset returns the backoff to its initial delay. Call it after a successful
// connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.cur = b.initial
	b.mu.Unlock()
}

// Sleep waits for d or until ctx is cancelled, returning ctx.Err() in the
// latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Reconnect calls connect until it succeeds or ctx is cancelled, waiting
// b.Next() between attempts. maxRetries bounds the number of attempts; zero
// means retry until ctx is cancelled. On success the backoff is reset.
func Reconnect[T any](ctx context.Context, name string, b *Backoff, maxRetries int, connect func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 1; maxRetries <= 0 || attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := connect(ctx)
		if err == nil {
			if attempt > 1 {
				slog.Info("reconnection successful", "target", name, "attempt", attempt)
			}
			b.Reset()
			return v, nil
		}

		wait := b.Next()
		slog.Warn("connection attempt failed",
			"target", name,
			"attempt", attempt,
			"retry_in", wait,
			"error", err,
		)
		if err := Sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("resilience: %s: gave up after %d attempts", name, maxRetries)
}
