// Package resilience keeps roverlink talking when its backends misbehave.
//
// A [Breaker] stops the orchestrator from waiting on a dead STT, LLM or TTS
// backend utterance after utterance. A [Chain] puts the configured backends of
// one stage behind their own breakers and walks them in order, so a voice
// turn is served by Deepgram while it is healthy and by a local whisper
// server otherwise. [Backoff] and [Reconnect] drive the reconnect loops of
// the serial link and the audio transport.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: breaker open")

// Breaker defaults.
const (
	DefaultThreshold = 5
	DefaultCooldown  = 30 * time.Second
	DefaultProbes    = 3
)

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects every call with [ErrOpen] until the cooldown passes.
	StateOpen
	// StateHalfOpen lets a few probe calls through. All of them must succeed
	// to close the breaker; one failure opens it again.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Breaker is a three-state circuit breaker around one backend.
//
// Calls that end in [context.Canceled] count neither way: a reply cut short
// by barge-in says nothing about the backend.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	probes    int
	now       func() time.Time
	onChange  func(name string, from, to State)

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	admitted int
	passed   int
}

// BreakerOption configures a [Breaker].
type BreakerOption func(*Breaker)

// WithThreshold sets how many consecutive failures open the breaker.
func WithThreshold(n int) BreakerOption {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithCooldown sets how long the breaker stays open before probing.
func WithCooldown(d time.Duration) BreakerOption {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithProbes sets how many half-open calls must succeed to close again.
func WithProbes(n int) BreakerOption {
	return func(b *Breaker) {
		if n > 0 {
			b.probes = n
		}
	}
}

// WithClock replaces [time.Now]. Tests use it to skip the cooldown.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// OnStateChange registers fn to run on every transition. fn runs with the
// breaker locked and must not call back into it.
func OnStateChange(fn func(name string, from, to State)) BreakerOption {
	return func(b *Breaker) { b.onChange = fn }
}

// NewBreaker returns a closed breaker. name labels its log lines.
func NewBreaker(name string, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		name:      name,
		threshold: DefaultThreshold,
		cooldown:  DefaultCooldown,
		probes:    DefaultProbes,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the label given to [NewBreaker].
func (b *Breaker) Name() string { return b.name }

// Do runs fn unless the breaker rejects the call, and returns fn's error.
func (b *Breaker) Do(fn func() error) error {
	settle, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	settle(err)
	return err
}

// admit reserves a call and returns the function that books its result.
func (b *Breaker) admit() (func(error), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cooldown {
			return nil, ErrOpen
		}
		b.setState(StateHalfOpen)
	}
	if b.state == StateHalfOpen {
		if b.admitted >= b.probes {
			return nil, ErrOpen
		}
		b.admitted++
		return b.settleProbe, nil
	}
	return b.settleClosed, nil
}

func (b *Breaker) settleClosed(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Another call already moved the breaker on.
	if b.state != StateClosed {
		return
	}
	switch {
	case errors.Is(err, context.Canceled):
	case err == nil:
		b.failures = 0
	default:
		b.failures++
		if b.failures >= b.threshold {
			slog.Warn("breaker: threshold reached", "name", b.name, "failures", b.failures)
			b.setState(StateOpen)
		}
	}
}

func (b *Breaker) settleProbe(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateHalfOpen {
		return
	}
	switch {
	case errors.Is(err, context.Canceled):
		b.admitted--
	case err != nil:
		b.setState(StateOpen)
	default:
		b.passed++
		if b.passed >= b.probes {
			b.setState(StateClosed)
		}
	}
}

// setState moves to to and clears the counters of the state left behind.
// Must be called with b.mu held.
func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.failures, b.admitted, b.passed = 0, 0, 0
	if to == StateOpen {
		b.openedAt = b.now()
	}

	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "breaker: state change", "name", b.name, "from", from, "to", to)
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

// State reports the current state. An open breaker whose cooldown has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and forgets every failure.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
	b.failures = 0
}
