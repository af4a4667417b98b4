// Package audio defines the frame and utterance types that flow through the
// roverlink pipeline, together with the PCM helpers used to move them across
// process and network boundaries.
//
// All audio is mono. Samples are float32 in the range [-1, 1]; on the wire
// they are encoded as little-endian IEEE-754 without any per-frame header, so
// a receiver recovers frame boundaries purely from the fixed block size.
//
// The capture and playback abstractions ([Source] and [Sink]) live here so
// that device adapters (see audio/alsa) and test doubles (see audio/mock)
// can implement them without importing the rest of the pipeline.
package audio

import (
	"time"
)

const (
	// DefaultSampleRate is the microphone capture rate in Hz.
	DefaultSampleRate = 16000

	// DefaultBlockSize is the number of samples per captured frame.
	DefaultBlockSize = 1024

	// BytesPerSample is the wire size of one float32 sample.
	BytesPerSample = 4
)

// Frame is a fixed-size block of mono PCM samples. Frames are immutable once
// produced: consumers must not modify Samples.
type Frame struct {
	// Samples holds float32 PCM in the range [-1, 1].
	Samples []float32

	// Seq is a monotonically increasing sequence number assigned by the
	// producer. It is used for ordering and diagnostics only.
	Seq uint64

	// SampleRate in Hz (e.g., 16000 for the microphone, 24000 for TTS).
	SampleRate int
}

// Duration returns the playback duration of the frame. Returns 0 when the
// sample rate is unknown.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Energy returns the RMS energy of the frame's samples.
func (f Frame) Energy() float64 {
	return RMS(f.Samples)
}

// Utterance is one contiguous detected speech segment. It is built by the
// voice segmenter and handed off exactly once; after hand-off the segmenter
// keeps no reference to it.
type Utterance struct {
	// ID uniquely identifies the utterance in logs and traces.
	ID string

	// Frames in capture order.
	Frames []Frame

	// Start is the wall-clock time the first frame was accepted.
	Start time.Time

	// End is the wall-clock time the utterance was finalised.
	End time.Time

	// Duration is the accumulated audio duration of all frames. It is derived
	// from sample counts, not from the wall clock.
	Duration time.Duration
}

// SampleRate returns the sample rate of the utterance's frames, or 0 when the
// utterance is empty.
func (u *Utterance) SampleRate() int {
	if len(u.Frames) == 0 {
		return 0
	}
	return u.Frames[0].SampleRate
}

// Samples concatenates the samples of all frames into one slice.
func (u *Utterance) Samples() []float32 {
	n := 0
	for _, f := range u.Frames {
		n += len(f.Samples)
	}
	out := make([]float32, 0, n)
	for _, f := range u.Frames {
		out = append(out, f.Samples...)
	}
	return out
}
