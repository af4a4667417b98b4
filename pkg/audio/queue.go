package audio

import (
	"sync"
	"sync/atomic"
)

// FrameQueue is a bounded single-producer queue between real-time capture and
// the voice segmenter. When the queue is full, Push evicts the oldest queued
// frame so the newest audio is always kept. Capture never blocks.
type FrameQueue struct {
	ch        chan Frame
	dropped   atomic.Uint64
	closeOnce sync.Once
}

// NewFrameQueue creates a queue holding at most size frames.
func NewFrameQueue(size int) *FrameQueue {
	if size < 1 {
		size = 1
	}
	return &FrameQueue{ch: make(chan Frame, size)}
}

// Push enqueues f, evicting the oldest frame while the queue is full. It
// reports whether any frame was evicted. Push must not be called after Close.
func (q *FrameQueue) Push(f Frame) (evicted bool) {
	for {
		select {
		case q.ch <- f:
			return evicted
		default:
		}
		select {
		case <-q.ch:
			evicted = true
			q.dropped.Add(1)
		default:
		}
	}
}

// C returns the receive side of the queue. It is closed by Close.
func (q *FrameQueue) C() <-chan Frame {
	return q.ch
}

// Dropped returns the total number of evicted frames.
func (q *FrameQueue) Dropped() uint64 {
	return q.dropped.Load()
}

// Close closes the queue. Calling Close more than once is safe.
func (q *FrameQueue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}
