// Package queue holds the bounded outbound frame queue of one realtime
// connection.
//
// Producers either offer a frame, which fails immediately when the queue is
// full, or put it, which waits for room until the context ends. A single
// consumer drains the queue through Dequeue.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/parcelcast/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 256
)

// Frame is one encoded text message ready to be written to a connection.
type Frame struct {
	// Name is the event name carried by the frame, used for logs and metrics.
	Name    string
	Payload []byte
}

// Queue provides non-blocking and bounded-wait enqueue with channel-based dequeue.
type Queue interface {
	// Offer adds f without waiting. Returns false if the queue is full or closed.
	Offer(f Frame) bool

	// Put adds f, waiting for room until ctx ends. Returns ErrFull wrapped
	// with the context error on timeout and ErrClosed after Close.
	Put(ctx context.Context, f Frame) error

	// Dequeue returns the channel frames are read from. It is never closed;
	// consumers watch Done to learn the queue was closed.
	Dequeue() <-chan Frame

	// Done is closed by Close.
	Done() <-chan struct{}

	// Len returns the current number of queued frames.
	Len() int

	// Close stops accepting frames. Frames already queued stay readable.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	frames   chan Frame
	done     chan struct{}
	capacity int
	name     string

	once sync.Once
}

var _ Queue = (*InMemoryQueue)(nil)

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultQueueCapacity,
		name:     "outbound",
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.frames = make(chan Frame, q.capacity)
	return q
}

// Offer adds a frame without blocking.
func (q *InMemoryQueue) Offer(f Frame) bool {
	select {
	case <-q.done:
		metrics.RecordQueueRejected("closed")
		return false
	default:
	}

	select {
	case q.frames <- f:
		metrics.RecordQueueEnqueue()
		return true
	default:
		metrics.RecordQueueRejected("full")
		return false
	}
}

// Put adds a frame, waiting for room until ctx ends or the queue closes.
func (q *InMemoryQueue) Put(ctx context.Context, f Frame) error {
	select {
	case <-q.done:
		metrics.RecordQueueRejected("closed")
		return ErrClosed
	default:
	}

	select {
	case q.frames <- f:
		metrics.RecordQueueEnqueue()
		return nil
	case <-q.done:
		metrics.RecordQueueRejected("closed")
		return ErrClosed
	case <-ctx.Done():
		metrics.RecordQueueRejected("timeout")
		return fmt.Errorf("%s: %w: %w", q.name, ErrFull, ctx.Err())
	}
}

// Dequeue returns the frame channel.
func (q *InMemoryQueue) Dequeue() <-chan Frame { return q.frames }

// Done is closed once the queue is closed.
func (q *InMemoryQueue) Done() <-chan struct{} { return q.done }

// Len returns the current number of queued frames.
func (q *InMemoryQueue) Len() int { return len(q.frames) }

// Close stops the queue. Closing twice is a no-op.
func (q *InMemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}
