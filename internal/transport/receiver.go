package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/MrWong99/roverlink/pkg/audio"
)

// AudioReceiver accepts microphone streams from an [AudioSender], one
// connection at a time, and reassembles them into frames.
type AudioReceiver struct {
	blockSize  int
	sampleRate int
	seq        uint64
}

// NewAudioReceiver returns a receiver producing blockSize-sample frames at
// sampleRate.
func NewAudioReceiver(blockSize, sampleRate int) *AudioReceiver {
	if blockSize <= 0 {
		blockSize = audio.DefaultBlockSize
	}
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	return &AudioReceiver{blockSize: blockSize, sampleRate: sampleRate}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (r *AudioReceiver) ListenAndServe(ctx context.Context, addr string, push func(audio.Frame)) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	slog.Info("transport: audio receiver listening", "addr", ln.Addr().String())
	return r.Serve(ctx, ln, push)
}

// Serve accepts connections on ln one at a time and calls push for every
// frame, in order. Sequence numbers continue across connections. It returns
// nil when ctx is cancelled.
func (r *AudioReceiver) Serve(ctx context.Context, ln net.Listener, push func(audio.Frame)) error {
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
		r.handle(ctx, conn, push)
	}
}

func (r *AudioReceiver) handle(ctx context.Context, conn net.Conn, push func(audio.Frame)) {
	remote := conn.RemoteAddr().String()
	slog.Info("transport: audio stream connected", "remote", remote)
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	fr := audio.NewFramer(conn, r.blockSize, r.sampleRate)
	n := 0
	for {
		f, err := fr.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				slog.Warn("transport: audio stream failed", "remote", remote, "err", err)
			}
			slog.Info("transport: audio stream closed", "remote", remote, "frames", n)
			return
		}
		f.Seq = r.seq
		r.seq++
		n++
		push(f)
	}
}
