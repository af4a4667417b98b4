// Package stt defines the Provider interface for speech-to-text backends.
//
// A provider receives one complete utterance at a time, already segmented by
// the voice segmenter, and returns its transcript. Providers are used through
// narrow batch calls rather than streaming sessions because the segmenter
// has already decided where speech starts and ends.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe returns the text spoken in samples, which are mono float32
	// PCM at sampleRate. An empty string with a nil error means no speech was
	// recognised; callers treat it as "nothing to do", not as a failure.
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error)
}
