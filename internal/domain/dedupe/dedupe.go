// Package dedupe tracks recently seen keys so redelivered records are
// recognised and not processed twice.
package dedupe

import (
	"container/list"
	"context"
	"sync"
)

// Deduper records seen keys.
type Deduper interface {
	// SeenAndRecord reports whether id was already recorded and records it
	// when it was not.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so a later delivery of it is processed again.
	// Used when a recorded item could not be handed downstream.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// inMemoryDeduper keeps a window of the most recent keys. When the window is
// full the oldest key is evicted first. maxSize <= 0 means unbounded.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // front = oldest
	maxSize int
}

// NewInMemoryDeduper creates an in-memory deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 10000,
		seen:    make(map[string]*list.Element),
		order:   list.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}
	if d.maxSize > 0 && d.order.Len() >= d.maxSize {
		oldest := d.order.Front()
		d.order.Remove(oldest)
		delete(d.seen, oldest.Value.(string))
	}
	d.seen[id] = d.order.PushBack(id)
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.seen[id]; ok {
		d.order.Remove(el)
		delete(d.seen, id)
	}
}

func (d *inMemoryDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(d.order.Len())
}
