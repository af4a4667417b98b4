// Package segment turns a live audio frame stream into utterances.
//
// The [Segmenter] asks a VAD session to classify every frame and buffers the
// frames of each speech segment. A segment ends when the VAD reports enough
// trailing silence or when it grows past the maximum duration; segments
// shorter than the minimum duration are discarded as noise. While a reply is
// being played back the gate is closed and frames never reach the VAD at
// all, so the robot does not hear itself. Closing the gate ends an utterance
// in progress. A barge-in reopens the VAD until the interrupting speech has
// become the next utterance.
package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/roverlink/internal/observe"
	"github.com/MrWong99/roverlink/pkg/audio"
	"github.com/MrWong99/roverlink/pkg/provider/vad"
)

// Config holds the segmentation parameters.
type Config struct {
	// SampleRate of the incoming frames in Hz.
	SampleRate int

	// EnergyThreshold is the VAD speech threshold.
	EnergyThreshold float64

	// SilenceFrames is the number of consecutive quiet frames that end an
	// utterance.
	SilenceFrames int

	// MinUtterance is the shortest utterance that is emitted.
	MinUtterance time.Duration

	// MaxUtterance caps an utterance; the frame that pushes it past the cap
	// ends it.
	MaxUtterance time.Duration
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("segment: sample rate must be positive, got %d", c.SampleRate))
	}
	if c.MinUtterance < 0 {
		errs = append(errs, fmt.Errorf("segment: min utterance must not be negative, got %s", c.MinUtterance))
	}
	if c.MaxUtterance <= 0 {
		errs = append(errs, fmt.Errorf("segment: max utterance must be positive, got %s", c.MaxUtterance))
	} else if c.MaxUtterance < c.MinUtterance {
		errs = append(errs, fmt.Errorf("segment: max utterance %s is below min utterance %s", c.MaxUtterance, c.MinUtterance))
	}
	return errors.Join(errs...)
}

// Gate tells the segmenter when to ignore audio. Muted is true while a reply
// is playing and during the cooldown after it.
type Gate interface {
	Muted() bool
}

// Option configures a [Segmenter].
type Option func(*Segmenter)

// WithGate installs the playback gate.
func WithGate(g Gate) Option {
	return func(s *Segmenter) { s.gate = g }
}

// WithBargeIn calls fn when a frame louder than threshold arrives while the
// gate is closed and no barge-in is already being heard. That frame starts a
// new utterance and the frames after it reach the VAD until the utterance
// ends, even though the gate is still closed. A threshold of zero disables
// barge-in.
func WithBargeIn(threshold float64, fn func()) Option {
	return func(s *Segmenter) {
		s.bargeInThreshold = threshold
		s.onBargeIn = fn
	}
}

// WithMetrics records segmenter activity on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Segmenter) { s.metrics = m }
}

// WithClock overrides the wall clock used for utterance timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Segmenter) { s.now = now }
}

// Segmenter is the VAD state machine. It is owned by one goroutine: Process
// and Run must not be called concurrently. SetThreshold may be called from
// anywhere.
type Segmenter struct {
	cfg     Config
	session vad.SessionHandle
	gate    Gate
	metrics *observe.Metrics
	now     func() time.Time

	bargeInThreshold float64
	onBargeIn        func()
	bargedIn         bool

	cur *audio.Utterance
}

// New creates a Segmenter with a fresh session from engine.
func New(engine vad.Engine, cfg Config, opts ...Option) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sess, err := engine.NewSession(vad.Config{
		SampleRate:      cfg.SampleRate,
		SpeechThreshold: cfg.EnergyThreshold,
		SilenceFrames:   cfg.SilenceFrames,
	})
	if err != nil {
		return nil, fmt.Errorf("segment: new vad session: %w", err)
	}
	s := &Segmenter{cfg: cfg, session: sess, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// SetThreshold changes the speech threshold when the VAD supports it. It
// reports whether the change was applied.
func (s *Segmenter) SetThreshold(threshold float64) bool {
	ts, ok := s.session.(vad.ThresholdSetter)
	if ok {
		ts.SetThreshold(threshold)
	}
	return ok
}

// Close releases the VAD session.
func (s *Segmenter) Close() error {
	return s.session.Close()
}

// Run reads frames until the channel closes or ctx is cancelled and sends
// every emitted utterance to out. An utterance in progress when frames closes
// is finalised like any other.
func (s *Segmenter) Run(ctx context.Context, frames <-chan audio.Frame, out chan<- audio.Utterance) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				if u, emit := s.Flush(); emit {
					return s.send(ctx, out, u)
				}
				return nil
			}
			if u, emit := s.Process(f); emit {
				if err := s.send(ctx, out, u); err != nil {
					return nil
				}
			}
		}
	}
}

func (s *Segmenter) send(ctx context.Context, out chan<- audio.Utterance, u audio.Utterance) error {
	select {
	case out <- u:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Process feeds one frame through the gate and the VAD. It returns an
// utterance when this frame completed one that is long enough.
func (s *Segmenter) Process(f audio.Frame) (audio.Utterance, bool) {
	if s.gate == nil || !s.gate.Muted() {
		s.bargedIn = false
	} else if !s.bargedIn {
		return s.gated(f)
	}
	return s.listen(f)
}

// listen runs f through the VAD.
func (s *Segmenter) listen(f audio.Frame) (audio.Utterance, bool) {
	ctx := context.Background()
	ev, err := s.session.ProcessFrame(f)
	if err != nil {
		slog.Warn("segment: vad failed", "seq", f.Seq, "err", err)
		return audio.Utterance{}, false
	}

	switch ev.Type {
	case vad.VADSilence:
		return audio.Utterance{}, false
	case vad.VADSpeechStart:
		s.begin()
		s.append(f)
	case vad.VADSpeechContinue:
		if s.cur == nil {
			s.begin()
		}
		s.append(f)
	case vad.VADSpeechEnd:
		if s.cur == nil {
			return audio.Utterance{}, false
		}
		s.append(f)
		return s.finish(ctx, "silence")
	}

	if s.cur.Duration > s.cfg.MaxUtterance {
		s.session.Reset()
		return s.finish(ctx, "max_duration")
	}
	return audio.Utterance{}, false
}

// Flush finalises an utterance in progress, applying the usual minimum
// duration. It is used when the frame stream ends.
func (s *Segmenter) Flush() (audio.Utterance, bool) {
	if s.cur == nil {
		return audio.Utterance{}, false
	}
	s.session.Reset()
	return s.finish(context.Background(), "flush")
}

// gated handles a frame that arrived while the gate was closed. An
// utterance in progress is finalised under the usual minimum duration.
func (s *Segmenter) gated(f audio.Frame) (audio.Utterance, bool) {
	if s.cur != nil {
		s.session.Reset()
		if u, ok := s.finish(context.Background(), "gated"); ok {
			return u, true
		}
	}
	if s.onBargeIn == nil || s.bargeInThreshold <= 0 || f.Energy() <= s.bargeInThreshold {
		return audio.Utterance{}, false
	}
	s.bargedIn = true
	slog.Info("segment: barge-in detected", "seq", f.Seq)
	s.onBargeIn()
	s.session.Reset()
	return s.listen(f)
}

func (s *Segmenter) begin() {
	s.cur = &audio.Utterance{ID: uuid.NewString(), Start: s.now()}
}

func (s *Segmenter) append(f audio.Frame) {
	s.cur.Frames = append(s.cur.Frames, f)
	s.cur.Duration += f.Duration()
}

// finish hands off or discards the current utterance. The segmenter keeps no
// reference to it afterwards.
func (s *Segmenter) finish(ctx context.Context, cause string) (audio.Utterance, bool) {
	u := *s.cur
	s.cur = nil
	s.bargedIn = false
	u.End = s.now()

	if u.Duration < s.cfg.MinUtterance {
		s.metrics.RecordUtterance(ctx, "discarded")
		slog.Debug("segment: utterance too short", "id", u.ID, "duration", u.Duration)
		return audio.Utterance{}, false
	}
	s.metrics.RecordUtterance(ctx, "emitted")
	s.metrics.UtteranceDuration.Record(ctx, u.Duration.Seconds())
	slog.Info("segment: utterance", "id", u.ID, "duration", u.Duration, "frames", len(u.Frames), "cause", cause)
	return u, true
}
