// Package serial owns the connection to the actuator and sensor board.
//
// A [Link] runs one background reader that turns telemetry lines into
// [telemetry.Store] updates and exposes [Link.Send] for command lines. Writes
// are serialised under a mutex so concurrent callers never interleave bytes
// on the wire. Whenever the port cannot be opened or a read or write fails,
// the link is degraded: Send reports [ErrDegraded] without writing and the
// reader reopens the port with exponential backoff.
package serial

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/roverlink/internal/command"
	"github.com/MrWong99/roverlink/internal/observe"
	"github.com/MrWong99/roverlink/internal/resilience"
	"github.com/MrWong99/roverlink/internal/telemetry"
)

// ErrDegraded is returned by Send while the board is not connected.
var ErrDegraded = errors.New("serial: link degraded")

// maxLineBytes bounds one line read from the board.
const maxLineBytes = 4096

// Option configures a [Link].
type Option func(*Link)

// WithFormat sets the command wire format. Default: [command.FormatWord].
func WithFormat(f command.Format) Option {
	return func(l *Link) { l.format = f }
}

// WithBackoff sets the reconnect delay bounds. Default: 1s to 30s.
func WithBackoff(initial, max time.Duration) Option {
	return func(l *Link) { l.backoffMin, l.backoffMax = initial, max }
}

// WithMetrics records link activity on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Link) { l.metrics = m }
}

// Link is the serial connection to the board. It implements
// [command.Sender]. Create with [New] and start the reader with [Link.Run].
type Link struct {
	open    Opener
	store   *telemetry.Store
	format  command.Format
	metrics *observe.Metrics

	backoffMin time.Duration
	backoffMax time.Duration

	// mu guards port. Send holds it for the whole write.
	mu   sync.Mutex
	port Port
}

var _ command.Sender = (*Link)(nil)

// New returns a Link that opens the board with open and publishes telemetry
// to store.
func New(open Opener, store *telemetry.Store, opts ...Option) *Link {
	l := &Link{
		open:   open,
		store:  store,
		format: command.FormatWord,
	}
	for _, o := range opts {
		o(l)
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}
	return l
}

// Connected reports whether a port is currently attached.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port != nil
}

// Run opens the board and reads from it until ctx is cancelled, reopening
// after every failure. It returns nil on cancellation.
func (l *Link) Run(ctx context.Context) error {
	b := resilience.NewBackoff(l.backoffMin, l.backoffMax)
	for {
		port, err := resilience.Reconnect(ctx, "serial", b, 0, l.connect)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		// Readings from before the reconnect describe a board state we can
		// no longer vouch for.
		l.store.Reset()
		l.attach(port)
		slog.Info("serial: connected")

		err = l.read(ctx, port)
		l.detach(port)
		if ctx.Err() != nil {
			return nil
		}
		slog.Warn("serial: connection lost", "err", err)
		if err := resilience.Sleep(ctx, b.Next()); err != nil {
			return nil
		}
	}
}

// connect opens the port and records the attempt.
func (l *Link) connect(ctx context.Context) (Port, error) {
	p, err := l.open(ctx)
	if err != nil {
		l.metrics.RecordSerialReconnect(ctx, "error")
		return nil, err
	}
	l.metrics.RecordSerialReconnect(ctx, "ok")
	return p, nil
}

// read consumes lines from port until it fails or ctx is cancelled.
func (l *Link) read(ctx context.Context, port Port) error {
	stop := context.AfterFunc(ctx, func() { port.Close() })
	defer stop()

	sc := bufio.NewScanner(port)
	sc.Buffer(make([]byte, 0, 256), maxLineBytes)
	for sc.Scan() {
		l.handleLine(ctx, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return errors.New("serial: port closed")
}

// handleLine applies one line from the board. Telemetry lines update the
// store; anything else is firmware chatter and only logged.
func (l *Link) handleLine(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if !telemetry.IsTelemetry(line) {
		slog.Debug("serial: board", "line", line)
		return
	}
	r, err := telemetry.ParseLine(line)
	if err != nil {
		l.metrics.TelemetryMalformed.Add(ctx, 1)
		slog.Warn("serial: dropping malformed telemetry", "line", line, "err", err)
		return
	}
	l.store.Update(r)
	l.metrics.TelemetryUpdates.Add(ctx, 1)
}

func (l *Link) attach(p Port) {
	l.mu.Lock()
	l.port = p
	l.mu.Unlock()
}

// detach drops p if it is still the active port and closes it.
func (l *Link) detach(p Port) {
	l.mu.Lock()
	if l.port == p {
		l.port = nil
	}
	l.mu.Unlock()
	p.Close()
}

// Send writes c as one line. It either writes the whole line or returns an
// error; on a write error the port is closed so the reader reconnects.
func (l *Link) Send(ctx context.Context, c command.Command) error {
	line, err := command.EncodeLine(c, l.format)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		l.metrics.RecordSerialWrite(ctx, "degraded")
		return ErrDegraded
	}
	if _, err := l.port.Write(line); err != nil {
		l.metrics.RecordSerialWrite(ctx, "error")
		l.port.Close()
		l.port = nil
		return fmt.Errorf("%w: write %s: %v", ErrDegraded, c.String(), err)
	}
	l.metrics.RecordSerialWrite(ctx, "ok")
	slog.Debug("serial: wrote command", "line", strings.TrimSpace(string(line)))
	return nil
}
