package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/MrWong99/roverlink/pkg/audio"
)

// Speaker plays one synthesized reply. Speak consumes frames until the
// channel closes, flag is raised or ctx is cancelled. When it returns early
// it keeps draining frames in the background so the producer never blocks.
type Speaker interface {
	Speak(ctx context.Context, frames <-chan audio.Frame, flag *Flag) error
}

// SpeechSender streams replies to a remote [SpeechReceiver], one connection
// per reply.
type SpeechSender struct {
	addr         string
	sampleRate   int
	primeSamples int
	dialer       net.Dialer
	writeTimeout time.Duration
}

var _ Speaker = (*SpeechSender)(nil)

// NewSpeechSender returns a sender for the receiver at addr. primeSamples of
// silence at sampleRate are written ahead of every reply; zero disables
// priming.
func NewSpeechSender(addr string, sampleRate, primeSamples int) *SpeechSender {
	if sampleRate <= 0 {
		sampleRate = DefaultTTSSampleRate
	}
	return &SpeechSender{
		addr:         addr,
		sampleRate:   sampleRate,
		primeSamples: primeSamples,
		dialer:       net.Dialer{Timeout: defaultDialTimeout},
		writeTimeout: defaultWriteTimeout,
	}
}

// Speak opens a connection, primes it and writes every frame. It returns
// [ErrCancelled] when flag stops the reply; the connection is closed after
// the last whole frame.
func (s *SpeechSender) Speak(ctx context.Context, frames <-chan audio.Frame, flag *Flag) (err error) {
	defer func() {
		if err != nil {
			go audio.Drain(frames)
		}
	}()

	conn, err := s.dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("transport: dial speech receiver %s: %w", s.addr, err)
	}
	defer conn.Close()

	write := func(samples []float32) error {
		_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		_, err := conn.Write(audio.EncodeFloat32(samples))
		return err
	}

	if s.primeSamples > 0 {
		if err := write(audio.Silence(s.primeSamples, s.sampleRate).Samples); err != nil {
			return fmt.Errorf("transport: prime: %w", err)
		}
	}

	n := 0
	for {
		if flag.Cancelled() {
			slog.Info("transport: reply cancelled", "frames_sent", n)
			return ErrCancelled
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			if flag.Cancelled() {
				slog.Info("transport: reply cancelled", "frames_sent", n)
				return ErrCancelled
			}
			if err := write(f.Samples); err != nil {
				return fmt.Errorf("transport: send speech: %w", err)
			}
			n++
		}
	}
}

// SinkPlayer plays replies on a local [audio.Sink]. It is the standalone
// counterpart of [SpeechSender].
type SinkPlayer struct {
	sink         audio.Sink
	sampleRate   int
	primeSamples int
}

var _ Speaker = (*SinkPlayer)(nil)

// NewSinkPlayer returns a player opening streams at sampleRate on sink.
func NewSinkPlayer(sink audio.Sink, sampleRate, primeSamples int) *SinkPlayer {
	if sampleRate <= 0 {
		sampleRate = DefaultTTSSampleRate
	}
	return &SinkPlayer{sink: sink, sampleRate: sampleRate, primeSamples: primeSamples}
}

// Speak plays frames through a fresh stream, checking flag between frames.
func (p *SinkPlayer) Speak(ctx context.Context, frames <-chan audio.Frame, flag *Flag) (err error) {
	defer func() {
		if err != nil {
			go audio.Drain(frames)
		}
	}()

	stream, err := p.sink.Open(ctx, p.sampleRate)
	if err != nil {
		return fmt.Errorf("transport: open playback: %w", err)
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("transport: close playback: %w", cerr)
		}
	}()

	if p.primeSamples > 0 {
		if err := stream.Write(audio.Silence(p.primeSamples, p.sampleRate)); err != nil {
			return fmt.Errorf("transport: prime: %w", err)
		}
	}
	for {
		if flag.Cancelled() {
			return ErrCancelled
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			if flag.Cancelled() {
				return ErrCancelled
			}
			if err := stream.Write(f); err != nil {
				return fmt.Errorf("transport: play: %w", err)
			}
		}
	}
}

// SpeechReceiver accepts reply streams from a [SpeechSender], one at a time,
// and plays each through its own stream on a local sink. A sender closing the
// connection early, for example after barge-in, ends playback normally.
type SpeechReceiver struct {
	sink       audio.Sink
	blockSize  int
	sampleRate int
}

// NewSpeechReceiver returns a receiver playing blockSize-sample frames at
// sampleRate on sink.
func NewSpeechReceiver(sink audio.Sink, blockSize, sampleRate int) *SpeechReceiver {
	if blockSize <= 0 {
		blockSize = audio.DefaultBlockSize
	}
	if sampleRate <= 0 {
		sampleRate = DefaultTTSSampleRate
	}
	return &SpeechReceiver{sink: sink, blockSize: blockSize, sampleRate: sampleRate}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (r *SpeechReceiver) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	slog.Info("transport: speech receiver listening", "addr", ln.Addr().String())
	return r.Serve(ctx, ln)
}

// Serve plays connections from ln until ctx is cancelled.
func (r *SpeechReceiver) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("transport: accept: %w", err)
		}
		if err := r.play(ctx, conn); err != nil && ctx.Err() == nil {
			slog.Warn("transport: speech playback failed", "remote", conn.RemoteAddr().String(), "err", err)
		}
	}
}

// play plays one connection to completion.
func (r *SpeechReceiver) play(ctx context.Context, conn net.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	stream, err := r.sink.Open(ctx, r.sampleRate)
	if err != nil {
		return fmt.Errorf("open playback: %w", err)
	}
	defer stream.Close()

	fr := audio.NewFramer(conn, r.blockSize, r.sampleRate)
	n := 0
	for {
		f, err := fr.Next()
		if errors.Is(err, io.EOF) {
			slog.Debug("transport: reply played", "frames", n)
			return nil
		}
		if err != nil {
			return err
		}
		if err := stream.Write(f); err != nil {
			return err
		}
		n++
	}
}
