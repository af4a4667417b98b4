// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session keeps its own hysteresis state
// (the run of silent frames inside an utterance) so that multiple audio
// streams can be processed independently.
//
// VAD is synchronous: ProcessFrame returns immediately with a detection
// result, making it suitable for the low-latency stage that gates STT input.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import "github.com/MrWong99/roverlink/pkg/audio"

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz of the frames passed to
	// ProcessFrame.
	SampleRate int

	// SpeechThreshold is the level above which a frame is classified as
	// speech, in the engine's native scale. For the energy engine this is the
	// RMS amplitude of float32 samples in [-1, 1]. Typical: 0.03.
	SpeechThreshold float64

	// SilenceFrames is the number of consecutive non-speech frames that end
	// an active speech segment. Must be at least 1.
	SilenceFrames int
}

// VADEvent represents a voice activity detection result for a single audio frame.
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// Level is the frame's measured level in the engine's native scale.
	Level float64
}

// VADEventType enumerates VAD detection states.
type VADEventType int

const (
	// VADSpeechStart indicates speech has just begun.
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue indicates ongoing speech, including silent frames
	// that have not yet ended the segment.
	VADSpeechContinue

	// VADSpeechEnd indicates speech has just ended. The frame carrying this
	// event still belongs to the segment.
	VADSpeechEnd

	// VADSilence indicates no speech detected.
	VADSilence
)

// String returns a lowercase name for logs.
func (t VADEventType) String() string {
	switch t {
	case VADSpeechStart:
		return "speech_start"
	case VADSpeechContinue:
		return "speech_continue"
	case VADSpeechEnd:
		return "speech_end"
	case VADSilence:
		return "silence"
	default:
		return "unknown"
	}
}

// SessionHandle represents an active VAD session for a single audio stream.
// Each session maintains its own detection state; Reset clears this state
// without closing the session.
type SessionHandle interface {
	// ProcessFrame analyses a single audio frame and returns the detection
	// result. It must not block.
	ProcessFrame(frame audio.Frame) (VADEvent, error)

	// Reset returns the session to the idle state. The segmenter calls it
	// when it cuts an utterance short (for example at the maximum duration).
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// ThresholdSetter is implemented by sessions whose speech threshold can be
// changed while running.
type ThresholdSetter interface {
	SetThreshold(threshold float64)
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may call
// NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
