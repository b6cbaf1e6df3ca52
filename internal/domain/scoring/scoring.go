// Package scoring turns the value a client reports for an eaten animal into
// the points the server awards. The reported value is advisory input only.
package scoring

import "math"

const (
	defaultMaxAward   = 10000
	defaultMultiplier = 1.0
)

// Option applies a configuration option to the Policy.
type Option func(*Policy)

// WithMaxAward caps the points awarded for a single animal.
func WithMaxAward(maxAward float64) Option {
	return func(p *Policy) {
		if maxAward > 0 {
			p.maxAward = maxAward
		}
	}
}

// WithMultiplier scales reported values before clamping.
func WithMultiplier(m float64) Option {
	return func(p *Policy) {
		if m > 0 {
			p.multiplier = m
		}
	}
}

// Policy computes awarded points.
type Policy struct {
	maxAward   float64
	multiplier float64
}

// NewPolicy creates a policy that awards the reported value as-is within
// [0, 10000] unless configured otherwise.
func NewPolicy(opts ...Option) *Policy {
	p := &Policy{
		maxAward:   defaultMaxAward,
		multiplier: defaultMultiplier,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Award returns the points for a reported value, clamped to the policy
// bounds. NaN awards nothing.
func (p *Policy) Award(reported float64) float64 {
	if math.IsNaN(reported) {
		return 0
	}
	return math.Max(0, math.Min(p.maxAward, reported*p.multiplier))
}
