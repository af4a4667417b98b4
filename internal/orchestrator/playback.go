package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/roverlink/internal/observe"
	"github.com/MrWong99/roverlink/internal/segment"
	"github.com/MrWong99/roverlink/internal/transport"
)

var _ segment.Gate = (*Playback)(nil)

// Playback tracks whether a reply is being spoken. It closes the segmenter
// gate while a reply plays and for a cooldown afterwards, and owns the
// cancellation flag of the reply in flight.
//
// All methods are safe for concurrent use.
type Playback struct {
	mu       sync.Mutex
	flag     *transport.Flag
	until    time.Time
	cooldown time.Duration
	now      func() time.Time
	metrics  *observe.Metrics
}

// NewPlayback returns a tracker that keeps the gate closed for cooldown after
// each reply ends. A nil metrics uses [observe.DefaultMetrics].
func NewPlayback(cooldown time.Duration, metrics *observe.Metrics) *Playback {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Playback{cooldown: cooldown, now: time.Now, metrics: metrics}
}

// Begin marks the start of a reply and returns the flag the speaker must
// check between frames.
func (p *Playback) Begin() *transport.Flag {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flag = &transport.Flag{}
	return p.flag
}

// End marks the reply owning flag as finished. The cooldown starts now
// unless the reply was cut short by barge-in, in which case the gate opens
// immediately so the interrupting speech is heard.
func (p *Playback) End(flag *transport.Flag) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.flag != flag {
		return
	}
	p.flag = nil
	if flag.Cancelled() {
		p.until = time.Time{}
		return
	}
	p.until = p.now().Add(p.cooldown)
}

// Muted reports whether a reply is playing or the cooldown is running.
func (p *Playback) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flag != nil || p.now().Before(p.until)
}

// Playing reports whether a reply is in flight.
func (p *Playback) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flag != nil
}

// BargeIn cancels the reply in flight and ends any cooldown. It reports
// whether a reply was cancelled.
func (p *Playback) BargeIn() bool {
	p.mu.Lock()
	flag := p.flag
	p.until = time.Time{}
	p.mu.Unlock()

	if flag == nil || !flag.Cancel() {
		return false
	}
	p.metrics.BargeIns.Add(context.Background(), 1)
	return true
}
