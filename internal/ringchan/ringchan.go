// Package ringchan provides a bounded, close-safe channel with counters.
//
// Producers never block: TrySend reports a full or closed queue instead of
// waiting. This lets transport callbacks hand work to a single consumer
// goroutine without ever stalling the transport.
package ringchan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrFull is returned by TrySend when the buffer has no free slot.
	ErrFull = errors.New("ringchan: queue full")
	// ErrClosed is returned by TrySend after Close.
	ErrClosed = errors.New("ringchan: queue closed")
)

// RingChannel is a bounded channel-like buffer.
//
// Writers use TrySend. Readers use C() for a plain <-chan T, or
// Receive() when the Processed counter matters.
type RingChannel[T any] struct {
	// mu guards closed and serializes writers against Close.
	mu      sync.Mutex
	closed  bool
	ch      chan T
	metrics Metrics
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. It is closed by Close.
//
// WARNING: Reading from the returned channel bypasses metrics tracking.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// TrySend inserts v without blocking.
func (rc *RingChannel[T]) TrySend(v T) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		atomic.AddInt64(&rc.metrics.Rejected, 1)
		return ErrClosed
	}
	select {
	case rc.ch <- v:
		atomic.AddInt64(&rc.metrics.Written, 1)
		return nil
	default:
		atomic.AddInt64(&rc.metrics.Rejected, 1)
		return ErrFull
	}
}

// Receive blocks until a value is available, the channel is closed, or ctx is done.
// The ok result is false in the latter two cases.
func (rc *RingChannel[T]) Receive(ctx context.Context) (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		if ok {
			atomic.AddInt64(&rc.metrics.Processed, 1)
		}
		return v, ok
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the underlying channel. Buffered values remain readable.
// Calling Close more than once is harmless.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if !rc.closed {
		rc.closed = true
		close(rc.ch)
	}
}

// GetMetrics returns a snapshot of current counter values.
func (rc *RingChannel[T]) GetMetrics() Metrics {
	return Metrics{
		Processed: atomic.LoadInt64(&rc.metrics.Processed),
		Written:   atomic.LoadInt64(&rc.metrics.Written),
		Rejected:  atomic.LoadInt64(&rc.metrics.Rejected),
	}
}

// Metrics counts channel traffic. Processed only counts Receive calls.
type Metrics struct {
	Processed int64
	Written   int64
	Rejected  int64
}
