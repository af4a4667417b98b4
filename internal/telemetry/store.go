// Package telemetry holds the latest sensor reading reported by the actuator
// board and answers how fresh it is.
//
// The [Store] is the one deliberately shared piece of mutable state in
// roverlink. It is written only by the serial link's reader worker and read by
// the safety interlock, the status server and readiness checks. Readings are
// replaced wholesale: a reading that lacks a channel means the channel is
// currently unknown, never "last known value".
package telemetry

import (
	"maps"
	"sync/atomic"
	"time"
)

// Well-known sensor channel keys.
const (
	// ChannelFront is the forward distance sensor, in centimetres.
	ChannelFront = "F"

	// ChannelLeft is the left distance sensor, in centimetres.
	ChannelLeft = "L"

	// ChannelRight is the right distance sensor, in centimetres.
	ChannelRight = "R"
)

// Reading is one complete telemetry sample. Values maps channel keys to their
// numeric value; non-numeric fields reported by the board are kept in Labels.
type Reading struct {
	Values map[string]float64
	Labels map[string]string
}

// Value returns the numeric value of channel and whether it is present.
func (r Reading) Value(channel string) (float64, bool) {
	v, ok := r.Values[channel]
	return v, ok
}

// clone returns a deep copy so callers can never alias store state.
func (r Reading) clone() Reading {
	return Reading{Values: maps.Clone(r.Values), Labels: maps.Clone(r.Labels)}
}

// Snapshot is an immutable view of the store at one instant.
type Snapshot struct {
	// Reading is the stored reading. It is empty when nothing has been
	// received since start or since the last Reset.
	Reading Reading

	// ReceivedAt is when Reading was stored. Zero when no reading is held.
	ReceivedAt time.Time

	// Age is the time elapsed between ReceivedAt and the moment the snapshot
	// was taken. Zero when no reading is held.
	Age time.Duration
}

// Known reports whether the snapshot holds a reading at all.
func (s Snapshot) Known() bool {
	return !s.ReceivedAt.IsZero()
}

// Fresh reports whether the reading is no older than timeout. A snapshot
// without a reading is never fresh.
func (s Snapshot) Fresh(timeout time.Duration) bool {
	return s.Known() && s.Age <= timeout
}

// entry is the unit published to readers. It is never mutated after Store.
type entry struct {
	reading    Reading
	receivedAt time.Time
}

// Store holds the latest [Reading]. Update and Snapshot are safe for
// concurrent use; Snapshot never blocks Update and never observes a partially
// applied update because each update publishes a new immutable entry with a
// single atomic pointer swap.
type Store struct {
	cur atomic.Pointer[entry]
	now func() time.Time
}

// Option is a functional option for [NewStore].
type Option func(*Store)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore returns an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Update replaces the stored reading and stamps it with the current time. The
// receipt time never moves backwards: if the clock is observed to step back,
// the previous timestamp is reused.
func (s *Store) Update(r Reading) {
	now := s.now()
	for {
		old := s.cur.Load()
		at := now
		if old != nil && at.Before(old.receivedAt) {
			at = old.receivedAt
		}
		next := &entry{reading: r.clone(), receivedAt: at}
		if s.cur.CompareAndSwap(old, next) {
			return
		}
	}
}

// Reset drops the stored reading so every channel reads as unknown and the
// store reports stale. It is called whenever the serial link reconnects.
func (s *Store) Reset() {
	s.cur.Store(nil)
}

// Snapshot returns the current reading and its age.
func (s *Store) Snapshot() Snapshot {
	e := s.cur.Load()
	if e == nil {
		return Snapshot{}
	}
	age := s.now().Sub(e.receivedAt)
	if age < 0 {
		age = 0
	}
	return Snapshot{Reading: e.reading.clone(), ReceivedAt: e.receivedAt, Age: age}
}
