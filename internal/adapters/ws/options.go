package ws

import (
	"time"

	"github.com/okian/stablezoo/pkg/logger"
)

// Option applies a configuration option to the Registry.
type Option func(*Registry)

// WithQueueSize bounds each connection's broadcast queue.
func WithQueueSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithReplyQueueSize bounds each connection's reply queue.
func WithReplyQueueSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.replyQueueSize = n
		}
	}
}

// WithPingInterval sets the keepalive period. A connection that does not
// answer within twice the period is dropped.
func WithPingInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.pingInterval = d
		}
	}
}

// WithWriteTimeout bounds a single frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}
