// Package mock provides scripted VAD sessions for segmenter tests.
//
//	sess := &mock.Session{Script: []vad.VADEventType{vad.VADSpeechStart, vad.VADSpeechEnd}}
//	seg, _ := segment.New(&mock.Engine{Session: sess}, cfg)
package mock

import (
	"sync"

	"github.com/MrWong99/roverlink/pkg/audio"
	"github.com/MrWong99/roverlink/pkg/provider/vad"
)

// Engine hands out Session, or a fresh silent session when it is nil.
type Engine struct {
	Session vad.SessionHandle
	Err     error

	mu      sync.Mutex
	configs []vad.Config
}

var _ vad.Engine = (*Engine)(nil)

func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = append(e.configs, cfg)
	switch {
	case e.Err != nil:
		return nil, e.Err
	case e.Session != nil:
		return e.Session, nil
	default:
		return &Session{EventResult: vad.VADEvent{Type: vad.VADSilence}}, nil
	}
}

// Configs returns the configs passed to NewSession, oldest first.
func (e *Engine) Configs() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]vad.Config(nil), e.configs...)
}

// Session answers ProcessFrame from Script, one entry per frame, and with
// EventResult once the script is used up. Level is the frame's RMS energy.
type Session struct {
	Script      []vad.VADEventType
	EventResult vad.VADEvent
	Err         error

	mu        sync.Mutex
	Frames    []audio.Frame
	resets    int
	closed    bool
	threshold float64
}

var (
	_ vad.SessionHandle   = (*Session)(nil)
	_ vad.ThresholdSetter = (*Session)(nil)
)

func (s *Session) ProcessFrame(f audio.Frame) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames = append(s.Frames, f)
	if s.Err != nil {
		return vad.VADEvent{}, s.Err
	}
	if len(s.Script) == 0 {
		return s.EventResult, nil
	}
	ev := vad.VADEvent{Type: s.Script[0], Level: f.Energy()}
	s.Script = s.Script[1:]
	return ev, nil
}

func (s *Session) Reset() {
	s.mu.Lock()
	s.resets++
	s.mu.Unlock()
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Session) SetThreshold(threshold float64) {
	s.mu.Lock()
	s.threshold = threshold
	s.mu.Unlock()
}

// Resets returns how often Reset was called.
func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Threshold returns the last value given to SetThreshold.
func (s *Session) Threshold() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threshold
}
