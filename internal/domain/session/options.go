package session

import (
	"time"

	"github.com/okian/stablezoo/internal/domain/anticheat"
	"github.com/okian/stablezoo/internal/domain/scoring"
	"github.com/okian/stablezoo/pkg/logger"
)

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithValidator sets the anti-cheat rules.
func WithValidator(v *anticheat.Validator) Option {
	return func(m *Manager) {
		if v != nil {
			m.validator = v
		}
	}
}

// WithPolicy sets how reported values turn into points.
func WithPolicy(p *scoring.Policy) Option {
	return func(m *Manager) {
		if p != nil {
			m.policy = p
		}
	}
}

// WithSuspicionThreshold sets the suspicion count that bans a session.
func WithSuspicionThreshold(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.suspicionThreshold = n
		}
	}
}

// WithTopN sets how many entries GetLeaderboard returns.
func WithTopN(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.topN = n
		}
	}
}

// WithMaxNameLength sets the longest accepted player name in runes.
func WithMaxNameLength(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxNameLength = n
		}
	}
}

// WithIdleTimeout sets how long a session may go without an accepted event.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.idleTimeout = d
		}
	}
}

// WithScoreUpdateInterval sets the minimum spacing of ScoreUpdated messages.
func WithScoreUpdateInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.scoreUpdateInterval = d
		}
	}
}

// WithClock replaces the server clock used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}
