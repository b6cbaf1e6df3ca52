package relay

import (
	"time"

	"github.com/okian/stablezoo/internal/domain/dedupe"
	"github.com/okian/stablezoo/pkg/logger"
)

// Option applies a configuration option to the Relay.
type Option func(*Relay)

// WithBatchSize sets how many records are fetched per round.
func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithWait sets how long a fetch blocks when the stream is empty.
func WithWait(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.wait = d
		}
	}
}

// WithBackoff sets the first retry delay and its cap.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(r *Relay) {
		if base > 0 {
			r.backoffBase = base
		}
		if maxDelay >= r.backoffBase {
			r.backoffMax = maxDelay
		}
	}
}

// WithDeduper replaces the default in-memory dedupe window.
func WithDeduper(d dedupe.Deduper) Option {
	return func(r *Relay) {
		if d != nil {
			r.dedupe = d
		}
	}
}

// WithStatsInterval sets how often counters are logged.
func WithStatsInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.statsInterval = d
		}
	}
}

// WithIdleWarning sets how long without records before a warning is logged.
func WithIdleWarning(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.idleWarning = d
		}
	}
}

// WithAddressDisplay sets how many characters of addresses are logged.
func WithAddressDisplay(n int) Option {
	return func(r *Relay) {
		r.addrDisplay = n
	}
}

// WithLogger sets a custom logger for the relay.
func WithLogger(l logger.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}
