// Package safety implements the interlock that must approve every motion
// command before it reaches the actuator link.
//
// Only forward motion is checked: the rover carries a single forward-facing
// distance sensor and every other action is passed through unconditionally.
// Forward motion is allowed only with fresh telemetry that reports a front
// distance of at least the configured clearance.
package safety

import (
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/MrWong99/roverlink/internal/command"
	"github.com/MrWong99/roverlink/internal/telemetry"
)

// Rejection reasons. Obstacle rejections carry the measured distance and are
// built by [ObstacleReason].
const (
	ReasonStale        = "stale telemetry"
	ReasonMissingFront = "missing front-distance reading"
)

// ObstacleReason returns the rejection reason for an obstacle measured at cm.
func ObstacleReason(cm float64) string {
	return "obstacle within " + strconv.FormatFloat(cm, 'f', -1, 64) + "cm"
}

// Verdict is the interlock's decision. Reason is empty when Allowed is true.
type Verdict = command.Verdict

// Thresholds configures the forward-motion check.
type Thresholds struct {
	// MinFrontClearance is the smallest front distance, in centimetres, at
	// which forward motion is allowed. A reading exactly equal to it passes.
	MinFrontClearance float64

	// FreshnessTimeout is the maximum telemetry age trusted for a decision.
	FreshnessTimeout time.Duration
}

// Evaluate decides whether cmd may be executed given snap. It has no side
// effects.
func Evaluate(cmd command.Command, snap telemetry.Snapshot, th Thresholds) Verdict {
	if cmd.Action != command.Forward {
		return Verdict{Allowed: true}
	}
	if !snap.Fresh(th.FreshnessTimeout) {
		return Verdict{Reason: ReasonStale}
	}
	front, ok := snap.Reading.Value(telemetry.ChannelFront)
	if !ok || math.IsNaN(front) {
		return Verdict{Reason: ReasonMissingFront}
	}
	if !(front >= th.MinFrontClearance) {
		return Verdict{Reason: ObstacleReason(front)}
	}
	return Verdict{Allowed: true}
}

// Snapshotter is the read side of the telemetry store.
type Snapshotter interface {
	Snapshot() telemetry.Snapshot
}

// Interlock binds [Evaluate] to a live telemetry source. Thresholds can be
// replaced at runtime; Evaluate always uses one consistent set. Safe for
// concurrent use.
type Interlock struct {
	store Snapshotter
	th    atomic.Pointer[Thresholds]
}

// New returns an Interlock reading from store.
func New(store Snapshotter, th Thresholds) *Interlock {
	il := &Interlock{store: store}
	il.SetThresholds(th)
	return il
}

// Evaluate checks cmd against the current telemetry snapshot.
func (il *Interlock) Evaluate(cmd command.Command) Verdict {
	return Evaluate(cmd, il.store.Snapshot(), *il.th.Load())
}

var _ command.Gate = (*Interlock)(nil)

// Thresholds returns the active thresholds.
func (il *Interlock) Thresholds() Thresholds {
	return *il.th.Load()
}

// SetThresholds atomically replaces the thresholds.
func (il *Interlock) SetThresholds(th Thresholds) {
	il.th.Store(&th)
}
