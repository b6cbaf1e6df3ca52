// Package queue provides the bounded outbound queues that sit between the
// broadcast hub and each connection's writer.
//
// An Outbox never blocks its producer. When it is full the oldest queued
// message is dropped to make room, so a slow reader sees bounded staleness
// instead of stalling everyone else.
package queue

import (
	"sync"
	"sync/atomic"

	"github.com/okian/stablezoo/pkg/metrics"
)

const defaultCapacity = 100

// Outbox is a bounded FIFO of encoded frames with drop-oldest overflow.
type Outbox struct {
	mu       sync.Mutex
	items    chan []byte
	capacity int
	name     string
	closed   bool

	enqueued atomic.Uint64
	dropped  atomic.Uint64
}

// NewOutbox creates an outbox with configuration options.
func NewOutbox(opts ...Option) *Outbox {
	o := &Outbox{
		capacity: defaultCapacity,
		name:     "events",
	}
	for _, opt := range opts {
		opt(o)
	}
	o.items = make(chan []byte, o.capacity)
	return o
}

// Enqueue adds msg, evicting the oldest message when full. It returns false
// only when the outbox is closed.
func (o *Outbox) Enqueue(msg []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return false
	}
	for {
		select {
		case o.items <- msg:
			o.enqueued.Add(1)
			return true
		default:
		}
		// Full. Producers are serialized by mu, so after taking one item
		// out the next send has room unless the reader raced us to it,
		// in which case the loop simply retries.
		select {
		case <-o.items:
			o.dropped.Add(1)
			metrics.RecordDroppedOldest(o.name)
		default:
		}
	}
}

// C returns the channel the consumer drains. It is closed by Close.
func (o *Outbox) C() <-chan []byte {
	return o.items
}

// Len returns the number of queued messages.
func (o *Outbox) Len() int {
	return len(o.items)
}

// Cap returns the capacity.
func (o *Outbox) Cap() int {
	return o.capacity
}

// Enqueued returns how many messages were accepted since creation.
func (o *Outbox) Enqueued() uint64 {
	return o.enqueued.Load()
}

// Dropped returns how many messages were evicted by overflow.
func (o *Outbox) Dropped() uint64 {
	return o.dropped.Load()
}

// Close stops accepting messages and closes the channel. Queued messages
// are left for the consumer to discard.
func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true
	close(o.items)
	return nil
}

// IsClosed reports whether Close was called.
func (o *Outbox) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
