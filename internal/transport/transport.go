// Package transport moves raw PCM audio between the bridge on the robot and
// the brain that runs speech recognition and the language model.
//
// Every stream is a plain TCP connection carrying little-endian float32
// samples with no per-frame header; receivers recover frame boundaries from
// the fixed block size, which is why a stream transport is required. There
// are two directions:
//
//   - microphone audio: [AudioSender] on the bridge pushes captured frames to
//     the [AudioReceiver] on the brain over one persistent connection,
//     dropping frames while the link is down.
//   - synthesized speech: [SpeechSender] on the brain opens one connection per
//     reply, primes it with silence and streams frames to the
//     [SpeechReceiver] on the bridge, which plays them.
//
// Replies can be cut short by barge-in through a [Flag] that is checked
// between frames, so a cancelled reply still ends on a frame boundary.
package transport

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrCancelled is returned when a reply was stopped through its [Flag].
var ErrCancelled = errors.New("transport: reply cancelled")

const (
	// DefaultPrimeSamples is the silence sent ahead of every reply (100ms at
	// 24kHz) so the speaker does not pop when the stream opens.
	DefaultPrimeSamples = 2400

	// DefaultTTSSampleRate is the rate of synthesized speech on the wire.
	DefaultTTSSampleRate = 24000

	defaultDialTimeout  = 3 * time.Second
	defaultWriteTimeout = 2 * time.Second
)

// Flag is an out-of-band cancellation signal for one reply. The zero value
// is an uncancelled flag. Safe for concurrent use.
type Flag struct {
	cancelled atomic.Bool
}

// Cancel raises the flag. It reports whether this call raised it.
func (f *Flag) Cancel() bool {
	return f.cancelled.CompareAndSwap(false, true)
}

// Cancelled reports whether the flag was raised.
func (f *Flag) Cancelled() bool {
	return f != nil && f.cancelled.Load()
}
