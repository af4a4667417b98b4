package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock is a manually advanced clock for cooldown tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func fail() error { return errTest }
func ok() error   { return nil }

// tripped returns a breaker that has just opened after threshold failures.
func tripped(t *testing.T, clock *fakeClock, opts ...BreakerOption) *Breaker {
	t.Helper()
	opts = append([]BreakerOption{WithThreshold(2), WithCooldown(time.Minute), WithClock(clock.Now)}, opts...)
	b := NewBreaker("deepgram", opts...)
	_ = b.Do(fail)
	_ = b.Do(fail)
	if b.State() != StateOpen {
		t.Fatalf("state = %v after threshold failures, want open", b.State())
	}
	return b
}

func TestBreaker_Defaults(t *testing.T) {
	b := NewBreaker("x", WithThreshold(0), WithCooldown(-time.Second), WithProbes(0))
	if b.threshold != DefaultThreshold || b.cooldown != DefaultCooldown || b.probes != DefaultProbes {
		t.Errorf("got threshold=%d cooldown=%v probes=%d, want defaults", b.threshold, b.cooldown, b.probes)
	}
	if b.State() != StateClosed {
		t.Errorf("new breaker state = %v", b.State())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker("ollama", WithThreshold(3))

	_ = b.Do(fail)
	_ = b.Do(fail)
	_ = b.Do(ok)
	_ = b.Do(fail)
	_ = b.Do(fail)
	if b.State() != StateClosed {
		t.Fatal("a success in between must restart the count")
	}

	if err := b.Do(fail); !errors.Is(err, errTest) {
		t.Fatalf("third failure returned %v, want the call's own error", err)
	}
	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) || called {
		t.Errorf("open breaker: err=%v called=%v", err, called)
	}
}

func TestBreaker_ProbesCloseAfterCooldown(t *testing.T) {
	clock := newFakeClock()
	b := tripped(t, clock, WithProbes(2))

	clock.Advance(59 * time.Second)
	if err := b.Do(ok); !errors.Is(err, ErrOpen) {
		t.Fatalf("before cooldown: err = %v, want ErrOpen", err)
	}

	clock.Advance(time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v after cooldown, want half-open", b.State())
	}
	if err := b.Do(ok); err != nil {
		t.Fatal(err)
	}
	if b.State() != StateHalfOpen {
		t.Fatal("one probe out of two closed the breaker")
	}
	if err := b.Do(ok); err != nil {
		t.Fatal(err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v after all probes passed, want closed", b.State())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	clock := newFakeClock()
	b := tripped(t, clock)

	clock.Advance(time.Minute)
	_ = b.Do(fail)
	if b.State() != StateOpen {
		t.Fatalf("state = %v after failed probe, want open", b.State())
	}
	// The cooldown starts over from the failed probe.
	clock.Advance(30 * time.Second)
	if err := b.Do(ok); !errors.Is(err, ErrOpen) {
		t.Errorf("err = %v, want ErrOpen during the new cooldown", err)
	}
}

func TestBreaker_ProbeBudget(t *testing.T) {
	clock := newFakeClock()
	b := tripped(t, clock, WithProbes(1))
	clock.Advance(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Do(ok); !errors.Is(err, ErrOpen) {
		t.Errorf("second concurrent probe: err = %v, want ErrOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_CancellationNotCounted(t *testing.T) {
	b := NewBreaker("coqui", WithThreshold(1))
	if err := b.Do(func() error { return context.Canceled }); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("cancellation opened the breaker")
	}

	// A cancelled probe gives its slot back.
	clock := newFakeClock()
	b = tripped(t, clock, WithProbes(1))
	clock.Advance(time.Minute)
	_ = b.Do(func() error { return context.Canceled })
	if err := b.Do(ok); err != nil {
		t.Fatalf("probe after cancelled probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	clock := newFakeClock()
	var seen []string
	b := tripped(t, clock, WithProbes(1), OnStateChange(func(name string, from, to State) {
		seen = append(seen, name+":"+from.String()+">"+to.String())
	}))
	clock.Advance(time.Minute)
	_ = b.Do(ok)
	b.Reset() // already closed, no transition

	want := []string{"deepgram:closed>open", "deepgram:open>half-open", "deepgram:half-open>closed"}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := tripped(t, newFakeClock())
	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %v after reset", b.State())
	}
	if err := b.Do(ok); err != nil {
		t.Errorf("call after reset: %v", err)
	}
}

func TestState_Text(t *testing.T) {
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	} {
		got, err := s.MarshalText()
		if err != nil || string(got) != want {
			t.Errorf("State(%d) = %q, %v; want %q", int(s), got, err, want)
		}
	}
}
