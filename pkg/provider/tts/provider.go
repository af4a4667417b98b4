// Package tts defines the Provider interface for text-to-speech backends.
//
// Synthesize returns a lazy, finite stream of fixed-size frames so the speech
// sender can start transmitting before synthesis has finished and can stop
// pulling frames as soon as the reply is cancelled.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/roverlink/pkg/audio"
)

// DefaultBlockSize is the number of samples per synthesized frame.
const DefaultBlockSize = audio.DefaultBlockSize

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text to speech. The returned channel emits frames
	// in playback order and is closed when synthesis completes, fails, or ctx
	// is cancelled. Callers that stop reading early must cancel ctx or drain
	// the channel.
	//
	// A non-nil error is returned only if synthesis cannot start.
	Synthesize(ctx context.Context, text string) (<-chan audio.Frame, error)
}

// Stream emits samples as blockSize-sample frames on a channel that is closed
// after the last frame or when ctx is cancelled. It is the common tail of
// every provider that receives a whole audio clip from its backend.
func Stream(ctx context.Context, samples []float32, sampleRate, blockSize int) <-chan audio.Frame {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	frames := audio.Chunk(samples, blockSize, sampleRate, 0)
	ch := make(chan audio.Frame, 4)
	go func() {
		defer close(ch)
		for _, f := range frames {
			select {
			case ch <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
