package audio

import "context"

// Source produces captured microphone frames.
type Source interface {
	// Frames starts capture and returns a channel of frames in capture order.
	// The channel is closed when ctx is cancelled or the device fails; a
	// non-nil error is returned only when capture cannot start.
	Frames(ctx context.Context) (<-chan Frame, error)
}

// Sink plays synthesized speech.
type Sink interface {
	// Open starts a playback stream at sampleRate. Each reply is played through
	// its own stream.
	Open(ctx context.Context, sampleRate int) (Stream, error)
}

// Stream is an open playback stream. Write blocks until the device accepts
// the frame. Close flushes pending audio and releases the device; calling it
// more than once is safe.
type Stream interface {
	Write(f Frame) error
	Close() error
}
