// Package session runs the per-connection gameplay state machine:
// starting a session, validating eaten animals, banning cheaters and
// writing results to the leaderboard.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/okian/stablezoo/internal/adapters/repository"
	"github.com/okian/stablezoo/internal/domain/anticheat"
	"github.com/okian/stablezoo/internal/domain/scoring"
	"github.com/okian/stablezoo/pkg/logger"
	"github.com/okian/stablezoo/pkg/metrics"
)

// Client-facing rejection reasons owned by the session layer.
const (
	ReasonInvalidName   = "invalid name"
	ReasonAlreadyActive = "session already active"
	ReasonBanned        = "session terminated due to suspicious activity"
)

const (
	defaultSuspicionThreshold  = 10
	defaultTopN                = 20
	defaultMaxNameLength       = 20
	defaultIdleTimeout         = 300 * time.Second
	defaultScoreUpdateInterval = time.Second
	tokenBytes                 = 16
)

// Sink delivers server messages to the connection that owns a session.
type Sink interface {
	Reply(msg any) error
}

// Manager holds the policy shared by every session and creates one
// Controller per connection.
type Manager struct {
	store     repository.Store
	validator *anticheat.Validator
	policy    *scoring.Policy

	suspicionThreshold  int
	topN                int
	maxNameLength       int
	idleTimeout         time.Duration
	scoreUpdateInterval time.Duration
	now                 func() time.Time

	active atomic.Int64
	logger logger.Logger
}

// NewManager creates a manager writing to store.
func NewManager(store repository.Store, opts ...Option) *Manager {
	m := &Manager{
		store:               store,
		suspicionThreshold:  defaultSuspicionThreshold,
		topN:                defaultTopN,
		maxNameLength:       defaultMaxNameLength,
		idleTimeout:         defaultIdleTimeout,
		scoreUpdateInterval: defaultScoreUpdateInterval,
		now:                 time.Now,
		logger:              logger.Get().Named("session"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.validator == nil {
		m.validator = anticheat.New()
	}
	if m.policy == nil {
		m.policy = scoring.NewPolicy()
	}
	return m
}

// Open binds a new controller to a connection. The controller starts with
// no session.
func (m *Manager) Open(connID string, out Sink) *Controller {
	return &Controller{
		m:      m,
		connID: connID,
		out:    out,
		logger: m.logger,
	}
}

// ActiveSessions returns the number of sessions currently in play.
func (m *Manager) ActiveSessions() int {
	return int(m.active.Load())
}

// TopN returns the configured leaderboard size.
func (m *Manager) TopN() int {
	return m.topN
}

func (m *Manager) sessionStarted() {
	metrics.RecordSessionStarted()
	metrics.UpdateActiveSessions(int(m.active.Add(1)))
}

func (m *Manager) sessionEnded(cause string) {
	metrics.RecordSessionEnded(cause)
	metrics.UpdateActiveSessions(int(m.active.Add(-1)))
}

// newToken returns an unguessable 128-bit session token.
func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
