package transport

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/MrWong99/roverlink/internal/observe"
	"github.com/MrWong99/roverlink/internal/resilience"
	"github.com/MrWong99/roverlink/pkg/audio"
)

// AudioSender streams captured frames to a remote [AudioReceiver] over one
// persistent connection. When the connection cannot be opened or a write
// fails, frames are dropped until a reconnect succeeds; nothing is buffered
// or replayed.
type AudioSender struct {
	addr         string
	dial         func(ctx context.Context, network, addr string) (net.Conn, error)
	writeTimeout time.Duration
	backoff      *resilience.Backoff
	metrics      *observe.Metrics
	now          func() time.Time

	conn      net.Conn
	retryAt   time.Time
	buf       []byte
	sent      uint64
	dropped   uint64
	connected bool
}

// SenderOption configures an [AudioSender].
type SenderOption func(*AudioSender)

// WithReconnectBackoff sets the delay bounds between reconnect attempts.
// Default: 1s to 30s.
func WithReconnectBackoff(initial, max time.Duration) SenderOption {
	return func(s *AudioSender) { s.backoff = resilience.NewBackoff(initial, max) }
}

// WithSenderMetrics records dropped frames on m instead of
// [observe.DefaultMetrics].
func WithSenderMetrics(m *observe.Metrics) SenderOption {
	return func(s *AudioSender) { s.metrics = m }
}

// NewAudioSender returns a sender for the receiver at addr (host:port).
func NewAudioSender(addr string, opts ...SenderOption) *AudioSender {
	d := &net.Dialer{Timeout: defaultDialTimeout}
	s := &AudioSender{
		addr:         addr,
		dial:         d.DialContext,
		writeTimeout: defaultWriteTimeout,
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.backoff == nil {
		s.backoff = resilience.NewBackoff(0, 0)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Run sends every frame from frames until the channel closes or ctx is
// cancelled. Connection failures never stop Run. It returns nil.
func (s *AudioSender) Run(ctx context.Context, frames <-chan audio.Frame) error {
	defer s.disconnect()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			if !s.send(ctx, f) {
				s.dropped++
				s.metrics.RecordFramesDropped(ctx, "audio_out", 1)
			}
		}
	}
}

// send writes one frame, connecting first when needed. It reports whether
// the frame was delivered to the socket.
func (s *AudioSender) send(ctx context.Context, f audio.Frame) bool {
	if s.conn == nil && !s.connect(ctx) {
		return false
	}
	s.buf = audio.AppendFloat32(s.buf[:0], f.Samples)
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if _, err := s.conn.Write(s.buf); err != nil {
		slog.Warn("transport: audio send failed, dropping frames until reconnect", "addr", s.addr, "err", err)
		s.disconnect()
		s.retryAt = s.now().Add(s.backoff.Next())
		return false
	}
	s.sent++
	return true
}

// connect dials the receiver unless the retry delay has not yet passed.
func (s *AudioSender) connect(ctx context.Context) bool {
	if s.now().Before(s.retryAt) {
		return false
	}
	conn, err := s.dial(ctx, "tcp", s.addr)
	if err != nil {
		wait := s.backoff.Next()
		s.retryAt = s.now().Add(wait)
		slog.Warn("transport: audio connect failed", "addr", s.addr, "retry_in", wait, "err", err)
		return false
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	s.conn = conn
	s.backoff.Reset()
	slog.Info("transport: audio connected", "addr", s.addr)
	return true
}

func (s *AudioSender) disconnect() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// Stats returns the number of frames sent and dropped. Only meaningful after
// Run has returned.
func (s *AudioSender) Stats() (sent, dropped uint64) {
	return s.sent, s.dropped
}
