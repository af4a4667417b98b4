// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Sink] for use in unit tests.
//
// All mocks are safe for concurrent use. They record what they were asked to
// do so tests can assert on it, and expose fields that control return values.
//
// Typical usage:
//
//	src := &mock.Source{Input: []audio.Frame{f1, f2}}
//	sink := &mock.Sink{}
//	frames, _ := src.Frames(ctx)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/roverlink/pkg/audio"
)

// ─── Source ──────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source]. It replays Input and then
// either closes the channel or, when Hold is true, keeps it open until ctx is
// cancelled.
type Source struct {
	mu sync.Mutex

	// Input is replayed in order on every call to Frames.
	Input []audio.Frame

	// Hold keeps the channel open after Input is exhausted.
	Hold bool

	// FramesErr, if non-nil, is returned by Frames.
	FramesErr error

	// CallCountFrames records how many times Frames was called.
	CallCountFrames int
}

// Frames implements [audio.Source].
func (s *Source) Frames(ctx context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	s.CallCountFrames++
	input := append([]audio.Frame(nil), s.Input...)
	hold := s.Hold
	err := s.FramesErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ch := make(chan audio.Frame)
	go func() {
		defer close(ch)
		for _, f := range input {
			select {
			case ch <- f:
			case <-ctx.Done():
				return
			}
		}
		if hold {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

// ─── Sink ────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.Sink]. Every opened stream is kept
// in Streams.
type Sink struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// Streams holds every stream returned by Open, in order.
	Streams []*Stream
}

// Open implements [audio.Sink].
func (s *Sink) Open(_ context.Context, sampleRate int) (audio.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	st := &Stream{SampleRate: sampleRate}
	s.Streams = append(s.Streams, st)
	return st, nil
}

// OpenCount returns the number of streams opened so far.
func (s *Sink) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Streams)
}

// Last returns the most recently opened stream, or nil.
func (s *Sink) Last() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Streams) == 0 {
		return nil
	}
	return s.Streams[len(s.Streams)-1]
}

// Stream is a mock implementation of [audio.Stream] that records frames.
type Stream struct {
	mu sync.Mutex

	// SampleRate is the rate passed to Sink.Open.
	SampleRate int

	// WriteErr, if non-nil, is returned by Write.
	WriteErr error

	frames []audio.Frame
	closed bool
}

// Write implements [audio.Stream].
func (s *Stream) Write(f audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.frames = append(s.frames, f)
	return nil
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Frames returns a copy of all frames written so far.
func (s *Stream) Frames() []audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.Frame(nil), s.frames...)
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Compile-time interface assertions.
var (
	_ audio.Source = (*Source)(nil)
	_ audio.Sink   = (*Sink)(nil)
	_ audio.Stream = (*Stream)(nil)
)
