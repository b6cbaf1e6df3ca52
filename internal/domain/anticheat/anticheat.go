// Package anticheat decides whether a reported AnimalEaten event is
// plausible. Validate is pure: it only reads the counters it is given.
package anticheat

import (
	"math"
	"time"
)

// Rejection reasons sent to clients.
const (
	ReasonNoSession    = "No active session"
	ReasonDuplicate    = "Duplicate animal"
	ReasonInvalidValue = "Invalid animal value"
	ReasonTooFast      = "eating too fast"
	ReasonScoreTooHigh = "score too high for session duration"
)

const (
	defaultMinInterval       = 200 * time.Millisecond
	defaultMaxValue          = 10000
	defaultMaxScorePerMinute = 1000
	defaultRateWindowFloor   = time.Minute
)

// Counters is the session state the rules look at.
type Counters struct {
	Active         bool
	Consumed       map[string]struct{}
	Score          float64
	StartedAt      time.Time
	LastAcceptedAt time.Time // zero until the first accepted event
}

// Event is an incoming AnimalEaten report stamped with server arrival time.
type Event struct {
	AnimalID string
	Value    float64
	At       time.Time
}

// Verdict is the outcome of validation. Weight is the suspicion penalty of
// a rejection.
type Verdict struct {
	Accepted bool
	Reason   string
	Weight   int
}

func accept() Verdict { return Verdict{Accepted: true} }

func reject(reason string, weight int) Verdict {
	return Verdict{Reason: reason, Weight: weight}
}

// Option applies a configuration option to the Validator.
type Option func(*Validator)

// WithMinInterval sets the minimum spacing between accepted events.
func WithMinInterval(d time.Duration) Option {
	return func(v *Validator) {
		if d >= 0 {
			v.minInterval = d
		}
	}
}

// WithMaxValue sets the upper bound of a reported value.
func WithMaxValue(maxValue float64) Option {
	return func(v *Validator) {
		if maxValue >= 0 {
			v.maxValue = maxValue
		}
	}
}

// WithMaxScorePerMinute sets the plausible score rate ceiling.
func WithMaxScorePerMinute(rate float64) Option {
	return func(v *Validator) {
		if rate > 0 {
			v.maxScorePerMinute = rate
		}
	}
}

// WithRateWindowFloor sets the minimum session duration used when computing
// the score rate, so very young sessions are not judged on a tiny divisor.
func WithRateWindowFloor(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.rateWindowFloor = d
		}
	}
}

// Validator holds the rule thresholds.
type Validator struct {
	minInterval       time.Duration
	maxValue          float64
	maxScorePerMinute float64
	rateWindowFloor   time.Duration
}

// New creates a Validator with the default thresholds.
func New(opts ...Option) *Validator {
	v := &Validator{
		minInterval:       defaultMinInterval,
		maxValue:          defaultMaxValue,
		maxScorePerMinute: defaultMaxScorePerMinute,
		rateWindowFloor:   defaultRateWindowFloor,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate applies the rules in order; the first failing rule decides.
func (v *Validator) Validate(c Counters, ev Event) Verdict {
	if !c.Active {
		return reject(ReasonNoSession, 0)
	}
	if _, dup := c.Consumed[ev.AnimalID]; dup {
		return reject(ReasonDuplicate, 1)
	}
	if math.IsNaN(ev.Value) || ev.Value < 0 || ev.Value > v.maxValue {
		return reject(ReasonInvalidValue, 1)
	}
	if !c.LastAcceptedAt.IsZero() && ev.At.Sub(c.LastAcceptedAt) < v.minInterval {
		return reject(ReasonTooFast, 1)
	}
	elapsed := ev.At.Sub(c.StartedAt)
	if elapsed < v.rateWindowFloor {
		elapsed = v.rateWindowFloor
	}
	if c.Score/elapsed.Minutes() > v.maxScorePerMinute {
		return reject(ReasonScoreTooHigh, 1)
	}
	return accept()
}
