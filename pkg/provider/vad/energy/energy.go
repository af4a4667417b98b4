// Package energy implements a [vad.Engine] that classifies frames by their
// RMS energy against a fixed threshold.
//
// There is no noise-floor learning: the threshold is a configuration
// constant, so a noisy room needs a higher value. The only hysteresis is on
// the way out: once speech has started, it ends only after SilenceFrames
// consecutive frames at or below the threshold.
package energy

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/MrWong99/roverlink/pkg/audio"
	"github.com/MrWong99/roverlink/pkg/provider/vad"
)

// Engine creates energy VAD sessions. The zero value is ready to use.
type Engine struct{}

var _ vad.Engine = Engine{}

// New returns an energy Engine.
func New() Engine { return Engine{} }

// NewSession validates cfg and returns an idle session.
func (Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	var errs []error
	if cfg.SpeechThreshold <= 0 || math.IsNaN(cfg.SpeechThreshold) {
		errs = append(errs, fmt.Errorf("energy: speech threshold must be positive, got %v", cfg.SpeechThreshold))
	}
	if cfg.SilenceFrames < 1 {
		errs = append(errs, fmt.Errorf("energy: silence frames must be at least 1, got %d", cfg.SilenceFrames))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	s := &Session{silenceLimit: cfg.SilenceFrames}
	s.SetThreshold(cfg.SpeechThreshold)
	return s, nil
}

// Session is one energy VAD stream. ProcessFrame and Reset must be called
// from a single goroutine; SetThreshold may be called from any.
type Session struct {
	threshold    atomic.Uint64 // math.Float64bits
	silenceLimit int

	speaking bool
	silent   int
	closed   bool
}

var (
	_ vad.SessionHandle   = (*Session)(nil)
	_ vad.ThresholdSetter = (*Session)(nil)
)

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("energy: session closed")

// SetThreshold replaces the speech threshold. It takes effect on the next
// frame.
func (s *Session) SetThreshold(threshold float64) {
	s.threshold.Store(math.Float64bits(threshold))
}

// Threshold returns the current speech threshold.
func (s *Session) Threshold() float64 {
	return math.Float64frombits(s.threshold.Load())
}

// ProcessFrame classifies frame. A frame is speech when its RMS is strictly
// above the threshold.
func (s *Session) ProcessFrame(frame audio.Frame) (vad.VADEvent, error) {
	if s.closed {
		return vad.VADEvent{}, ErrClosed
	}
	level := frame.Energy()
	loud := level > s.Threshold()

	if !s.speaking {
		if !loud {
			return vad.VADEvent{Type: vad.VADSilence, Level: level}, nil
		}
		s.speaking = true
		s.silent = 0
		return vad.VADEvent{Type: vad.VADSpeechStart, Level: level}, nil
	}

	if loud {
		s.silent = 0
		return vad.VADEvent{Type: vad.VADSpeechContinue, Level: level}, nil
	}
	s.silent++
	if s.silent >= s.silenceLimit {
		s.speaking = false
		s.silent = 0
		return vad.VADEvent{Type: vad.VADSpeechEnd, Level: level}, nil
	}
	return vad.VADEvent{Type: vad.VADSpeechContinue, Level: level}, nil
}

// Reset returns the session to idle.
func (s *Session) Reset() {
	s.speaking = false
	s.silent = 0
}

// Close marks the session closed. Safe to call more than once.
func (s *Session) Close() error {
	s.closed = true
	return nil
}
