package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/okian/stablezoo/internal/adapters/repository"
	"github.com/okian/stablezoo/internal/domain/anticheat"
	"github.com/okian/stablezoo/internal/domain/protocol"
	"github.com/okian/stablezoo/pkg/logger"
	"github.com/okian/stablezoo/pkg/metrics"
)

type state int

const (
	stateNone state = iota
	stateActive
	stateBanned
)

// End causes.
const (
	causeDied       = "died"
	causeDisconnect = "disconnect"
	causeIdle       = "idle"
	causeBanned     = "banned"
)

type session struct {
	token     string
	player    string
	startedAt time.Time

	score    float64
	eaten    int
	scoredAt time.Time
	consumed map[string]struct{}

	lastAcceptedAt time.Time
	suspicion      int

	limiter *rate.Limiter
	idle    *time.Timer
	flush   *time.Timer
}

func (s *session) counters() anticheat.Counters {
	return anticheat.Counters{
		Active:         true,
		Consumed:       s.consumed,
		Score:          s.score,
		StartedAt:      s.startedAt,
		LastAcceptedAt: s.lastAcceptedAt,
	}
}

func (s *session) record(flagged bool) repository.Record {
	at := s.scoredAt
	if at.IsZero() {
		at = s.startedAt
	}
	return repository.Record{
		Player:       s.player,
		Score:        s.score,
		AnimalsEaten: s.eaten,
		AchievedAt:   at,
		Flagged:      flagged,
	}
}

func (s *session) stopTimers() {
	if s.idle != nil {
		s.idle.Stop()
	}
	if s.flush != nil {
		s.flush.Stop()
		s.flush = nil
	}
}

// Controller owns the session slot of one connection. Messages from the
// connection's reader and the session's own timers are serialized by mu.
type Controller struct {
	m      *Manager
	connID string
	out    Sink

	mu     sync.Mutex
	st     state
	sess   *session
	closed bool

	logger logger.Logger
}

// HandleFrame decodes one client frame and handles it. Frames that do not
// decode are answered with InvalidAction and add no suspicion.
func (c *Controller) HandleFrame(ctx context.Context, data []byte) {
	msg, err := protocol.DecodeClient(data)
	if err != nil {
		reason := protocol.Reason(err)
		metrics.RecordEventRejected(reason)
		c.logger.Debug(ctx, "rejected client frame", logger.String("conn", c.connID), logger.Error(err))
		c.reply(ctx, protocol.NewInvalidAction(reason))
		return
	}
	c.Handle(ctx, msg)
}

// Handle applies one decoded client message.
func (c *Controller) Handle(ctx context.Context, msg protocol.ClientMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	switch m := msg.(type) {
	case protocol.StartSession:
		c.start(ctx, m)
	case protocol.AnimalEaten:
		c.eat(ctx, m)
	case protocol.PlayerDied:
		c.died(ctx)
	case protocol.GetLeaderboard:
		c.leaderboard(ctx)
	}
}

// Close ends the connection's session as a disconnect. Later calls and
// messages are ignored.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	if c.st == stateActive {
		c.finalize(ctx, causeDisconnect)
	}
}

// Token returns the active session token, or "" without an active session.
func (c *Controller) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.token
}

func (c *Controller) start(ctx context.Context, msg protocol.StartSession) {
	switch c.st {
	case stateBanned:
		c.reject(ctx, ReasonBanned)
		return
	case stateActive:
		c.reject(ctx, ReasonAlreadyActive)
		return
	}

	name, ok := c.validName(msg.PlayerName)
	if !ok {
		c.reject(ctx, ReasonInvalidName)
		return
	}
	token, err := newToken()
	if err != nil {
		c.logger.Error(ctx, "failed to mint session token", logger.Error(err))
		c.reject(ctx, "internal error")
		return
	}

	s := &session{
		token:     token,
		player:    name,
		startedAt: c.m.now(),
		consumed:  make(map[string]struct{}),
		limiter:   rate.NewLimiter(rate.Every(c.m.scoreUpdateInterval), 1),
	}
	s.idle = time.AfterFunc(c.m.idleTimeout, func() { c.expire(s) })
	c.sess = s
	c.st = stateActive
	c.m.sessionStarted()

	c.logger.Info(ctx, "session started",
		logger.String("conn", c.connID),
		logger.String("player", name))
	c.reply(ctx, protocol.NewSessionStarted(token))
}

func (c *Controller) validName(raw string) (string, bool) {
	name := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(name)
	if n == 0 || n > c.m.maxNameLength || !utf8.ValidString(name) {
		return "", false
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", false
		}
	}
	return name, true
}

func (c *Controller) eat(ctx context.Context, msg protocol.AnimalEaten) {
	if c.st == stateBanned {
		c.reject(ctx, ReasonBanned)
		return
	}

	now := c.m.now()
	var counters anticheat.Counters
	if c.st == stateActive {
		counters = c.sess.counters()
	}
	verdict := c.m.validator.Validate(counters, anticheat.Event{AnimalID: msg.AnimalID, Value: msg.Value, At: now})
	if !verdict.Accepted {
		c.penalize(ctx, verdict)
		return
	}

	s := c.sess
	s.consumed[msg.AnimalID] = struct{}{}
	s.eaten++
	s.lastAcceptedAt = now
	if award := c.m.policy.Award(msg.Value); award > 0 {
		s.score += award
		s.scoredAt = now
	}
	s.idle.Reset(c.m.idleTimeout)
	metrics.RecordEventAccepted()

	if _, err := c.m.store.Upsert(ctx, s.record(false)); err != nil && !errors.Is(err, repository.ErrPersist) {
		c.logger.Error(ctx, "leaderboard upsert failed", logger.String("player", s.player), logger.Error(err))
	}
	c.reportScore(ctx, now)
}

// penalize answers a rejected event and bans the session once suspicion
// reaches the threshold.
func (c *Controller) penalize(ctx context.Context, v anticheat.Verdict) {
	c.reject(ctx, v.Reason)
	if c.st != stateActive || v.Weight == 0 {
		return
	}
	s := c.sess
	s.suspicion += v.Weight
	if s.suspicion < c.m.suspicionThreshold {
		return
	}

	s.stopTimers()
	c.sess = nil
	c.st = stateBanned
	c.m.sessionEnded(causeBanned)
	metrics.RecordSessionBanned()

	c.logger.Warn(ctx, "session banned",
		logger.String("conn", c.connID),
		logger.String("player", s.player),
		logger.Int("suspicion", s.suspicion),
		logger.Float64("score", s.score))

	if err := c.m.store.Flag(ctx, s.player, s.score); err != nil && !errors.Is(err, repository.ErrNotFound) {
		c.logger.Error(ctx, "failed to flag banned entry", logger.String("player", s.player), logger.Error(err))
	}
}

// reportScore sends ScoreUpdated at most once per interval. A throttled
// update schedules one trailing send so the latest score always arrives.
func (c *Controller) reportScore(ctx context.Context, now time.Time) {
	s := c.sess
	if s.flush != nil {
		return
	}
	if s.limiter.AllowN(now, 1) {
		c.sendScore(ctx, s)
		return
	}
	delay := s.limiter.ReserveN(now, 1).DelayFrom(now)
	s.flush = time.AfterFunc(delay, func() { c.flushScore(s) })
}

func (c *Controller) flushScore(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.sess != s || s.flush == nil {
		return
	}
	s.flush = nil
	c.sendScore(context.Background(), s)
}

func (c *Controller) sendScore(ctx context.Context, s *session) {
	rank := 0
	if entry, err := c.m.store.Rank(ctx, s.player); err == nil {
		rank = entry.Rank
	}
	metrics.RecordScoreUpdateSent()
	c.reply(ctx, protocol.NewScoreUpdated(s.player, rank, s.score))
}

// died ends the session and acknowledges it with the final ScoreUpdated.
// The acknowledgement is not throttled, so it may follow a regular update
// within the same interval.
func (c *Controller) died(ctx context.Context) {
	switch c.st {
	case stateBanned:
		c.reject(ctx, ReasonBanned)
	case stateNone:
		c.reject(ctx, anticheat.ReasonNoSession)
	default:
		s := c.finalize(ctx, causeDied)
		c.sendScore(ctx, s)
	}
}

// finalize writes the final result and empties the slot.
func (c *Controller) finalize(ctx context.Context, cause string) *session {
	s := c.sess
	s.stopTimers()
	c.sess = nil
	c.st = stateNone
	c.m.sessionEnded(cause)

	if _, err := c.m.store.Upsert(ctx, s.record(false)); err != nil {
		c.logger.Error(ctx, "final leaderboard upsert failed", logger.String("player", s.player), logger.Error(err))
	}
	c.logger.Info(ctx, "session ended",
		logger.String("conn", c.connID),
		logger.String("player", s.player),
		logger.String("cause", cause),
		logger.Float64("score", s.score),
		logger.Int("animals_eaten", s.eaten))
	return s
}

func (c *Controller) expire(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.sess != s || c.st != stateActive {
		return
	}
	c.finalize(context.Background(), causeIdle)
}

func (c *Controller) leaderboard(ctx context.Context) {
	entries, err := c.m.store.TopN(ctx, c.m.topN)
	if err != nil {
		c.logger.Error(ctx, "leaderboard query failed", logger.Error(err))
	}
	c.reply(ctx, protocol.NewLeaderboard(entries))
}

func (c *Controller) reject(ctx context.Context, reason string) {
	metrics.RecordEventRejected(reason)
	c.reply(ctx, protocol.NewInvalidAction(reason))
}

func (c *Controller) reply(ctx context.Context, msg any) {
	if err := c.out.Reply(msg); err != nil {
		c.logger.Debug(ctx, "reply dropped", logger.String("conn", c.connID), logger.Error(err))
	}
}
