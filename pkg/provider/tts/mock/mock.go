// Package mock provides a test double for the tts.Provider interface.
//
// Synthesize emits Frames (or, when Frames is nil, FrameCount silent frames)
// and records the text it was asked to speak.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/roverlink/pkg/audio"
	"github.com/MrWong99/roverlink/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Frames are emitted by every Synthesize call.
	Frames []audio.Frame

	// FrameCount silent frames of BlockSize samples are emitted when Frames
	// is nil.
	FrameCount int

	// BlockSize for generated frames. Default: 4.
	BlockSize int

	// SampleRate stamped on generated frames. Default: 24000.
	SampleRate int

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// Texts records the text of every Synthesize call in order.
	Texts []string
}

// Synthesize records text and streams the configured frames.
func (p *Provider) Synthesize(ctx context.Context, text string) (<-chan audio.Frame, error) {
	p.mu.Lock()
	p.Texts = append(p.Texts, text)
	err := p.Err
	frames := append([]audio.Frame(nil), p.Frames...)
	if frames == nil {
		size, rate := p.BlockSize, p.SampleRate
		if size == 0 {
			size = 4
		}
		if rate == 0 {
			rate = 24000
		}
		for i := range p.FrameCount {
			frames = append(frames, audio.Frame{Samples: make([]float32, size), Seq: uint64(i), SampleRate: rate})
		}
	}
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ch := make(chan audio.Frame)
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
	return ch, nil
}

// Spoken returns a copy of every text passed to Synthesize. Thread-safe.
func (p *Provider) Spoken() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Texts...)
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
