// Package alsa captures and plays audio through the ALSA command-line tools
// (arecord and aplay). Both run as child processes exchanging raw
// little-endian float32 mono PCM over stdin/stdout, which is the same format
// roverlink puts on the wire, so no conversion happens on the hot path.
package alsa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/roverlink/pkg/audio"
)

// closeTimeout bounds how long Close waits for aplay to drain its buffer.
const closeTimeout = 10 * time.Second

// Option is a functional option shared by [Capture] and [Player].
type Option func(*options)

type options struct {
	device    string
	recordBin string
	playBin   string
}

// WithDevice selects the ALSA device name (e.g. "plughw:1,0"). Default: the
// system default device.
func WithDevice(dev string) Option {
	return func(o *options) { o.device = dev }
}

// WithBinaries overrides the arecord and aplay executables. Empty values keep
// the defaults.
func WithBinaries(record, play string) Option {
	return func(o *options) {
		if record != "" {
			o.recordBin = record
		}
		if play != "" {
			o.playBin = play
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{recordBin: "arecord", playBin: "aplay"}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func rawArgs(o options, sampleRate int) []string {
	args := []string{"-q", "-t", "raw", "-f", "FLOAT_LE", "-c", "1", "-r", strconv.Itoa(sampleRate)}
	if o.device != "" {
		args = append(args, "-D", o.device)
	}
	return args
}

// ─── Capture ─────────────────────────────────────────────────────────────────

// Capture is an [audio.Source] backed by arecord.
type Capture struct {
	opts       options
	sampleRate int
	blockSize  int
}

// NewCapture returns a Capture producing blockSize-sample frames at sampleRate.
func NewCapture(sampleRate, blockSize int, opts ...Option) *Capture {
	return &Capture{opts: buildOptions(opts), sampleRate: sampleRate, blockSize: blockSize}
}

// Frames starts arecord and returns its output as frames. The process is
// killed when ctx is cancelled.
func (c *Capture) Frames(ctx context.Context) (<-chan audio.Frame, error) {
	cmd := exec.CommandContext(ctx, c.opts.recordBin, rawArgs(c.opts, c.sampleRate)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("alsa: capture stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("alsa: start %s: %w", c.opts.recordBin, err)
	}

	out := make(chan audio.Frame, 8)
	go func() {
		defer close(out)
		defer func() { _ = cmd.Wait() }()
		framer := audio.NewFramer(stdout, c.blockSize, c.sampleRate)
		for {
			f, err := framer.Next()
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, io.EOF) {
					slog.Warn("alsa: capture read failed", "err", err)
				}
				return
			}
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ─── Player ──────────────────────────────────────────────────────────────────

// Player is an [audio.Sink] backed by aplay. Each Open starts a new aplay
// process for the duration of one reply.
type Player struct {
	opts options
}

// NewPlayer returns a Player.
func NewPlayer(opts ...Option) *Player {
	return &Player{opts: buildOptions(opts)}
}

// Open starts aplay at sampleRate.
func (p *Player) Open(ctx context.Context, sampleRate int) (audio.Stream, error) {
	cmd := exec.CommandContext(ctx, p.opts.playBin, rawArgs(p.opts, sampleRate)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("alsa: playback stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("alsa: start %s: %w", p.opts.playBin, err)
	}
	return &playStream{cmd: cmd, stdin: stdin}, nil
}

type playStream struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu     sync.Mutex
	buf    []byte
	closed bool
}

func (s *playStream) Write(f audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("alsa: write on closed stream")
	}
	s.buf = audio.AppendFloat32(s.buf[:0], f.Samples)
	if _, err := s.stdin.Write(s.buf); err != nil {
		return fmt.Errorf("alsa: playback write: %w", err)
	}
	return nil
}

func (s *playStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	// Closing stdin lets aplay play out what it has buffered and exit.
	_ = s.stdin.Close()
	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(closeTimeout):
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		return <-done
	}
}

// Compile-time interface assertions.
var (
	_ audio.Source = (*Capture)(nil)
	_ audio.Sink   = (*Player)(nil)
)
