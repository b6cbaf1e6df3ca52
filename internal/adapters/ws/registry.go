// Package ws serves game clients over websockets: a registry of live
// connections, the broadcast hub for relayed stream events, and the
// per-connection reader and writer.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/okian/stablezoo/internal/adapters/mq/queue"
	"github.com/okian/stablezoo/internal/domain/model"
	"github.com/okian/stablezoo/pkg/logger"
	"github.com/okian/stablezoo/pkg/metrics"
)

const (
	defaultQueueSize      = 100
	defaultReplyQueueSize = 32
	defaultPingInterval   = 30 * time.Second
	defaultWriteTimeout   = 10 * time.Second
)

// Registry tracks live connections and fans broadcasts out to them.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	closed bool

	queueSize      int
	replyQueueSize int
	pingInterval   time.Duration
	writeTimeout   time.Duration

	logger logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		conns:          make(map[string]*Conn),
		queueSize:      defaultQueueSize,
		replyQueueSize: defaultReplyQueueSize,
		pingInterval:   defaultPingInterval,
		writeTimeout:   defaultWriteTimeout,
		logger:         logger.Get().Named("hub"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates and tracks a new connection.
func (r *Registry) Register() (*Conn, error) {
	c := &Conn{
		id:        uuid.NewString(),
		createdAt: time.Now(),
		events:    queue.NewOutbox(queue.WithCapacity(r.queueSize), queue.WithName("events")),
		replies:   queue.NewOutbox(queue.WithCapacity(r.replyQueueSize), queue.WithName("replies")),
		registry:  r,
		done:      make(chan struct{}),
	}
	c.lastPong.Store(c.createdAt.UnixNano())

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		metrics.RecordConnectionEvent("rejected")
		return nil, ErrRegistryClosed
	}
	r.conns[c.id] = c
	n := len(r.conns)
	r.mu.Unlock()

	metrics.RecordConnectionEvent("registered")
	metrics.UpdateConnections(n)
	return c, nil
}

// Unregister removes the connection and releases its queues with a normal
// closure. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.unregister(id, websocket.CloseNormalClosure, "")
}

func (r *Registry) unregister(id string, code int, text string) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	n := len(r.conns)
	r.mu.Unlock()

	if !ok {
		return
	}
	c.release(code, text)
	metrics.RecordConnectionEvent("unregistered")
	metrics.UpdateConnections(n)
}

// Broadcast encodes ev once and queues it on every connection. It never
// waits on a connection; full queues drop their oldest message.
func (r *Registry) Broadcast(ev model.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrRegistryClosed
	}
	n := 0
	for _, c := range r.conns {
		if c.events.Enqueue(data) {
			n++
		}
	}
	r.mu.RUnlock()

	metrics.RecordBroadcast(n)
	return nil
}

// Get returns the connection with id.
func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Close stops accepting connections and broadcasts and releases every
// connection. Writers notice their closed queues and say goodbye.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	conns := r.conns
	r.conns = make(map[string]*Conn)
	r.mu.Unlock()

	for _, c := range conns {
		c.release(websocket.CloseGoingAway, "server shutting down")
	}
	metrics.UpdateConnections(0)
	r.logger.Info(context.Background(), "registry closed", logger.Int("connections", len(conns)))
}
