// Package service assembles the leaderboard store, the session manager, the
// websocket hub and the upstream relay, and exposes what the HTTP API needs.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/okian/stablezoo/internal/adapters/http/api"
	"github.com/okian/stablezoo/internal/adapters/mq/natsstream"
	"github.com/okian/stablezoo/internal/adapters/mq/relay"
	"github.com/okian/stablezoo/internal/adapters/repository"
	"github.com/okian/stablezoo/internal/adapters/repository/sqlite"
	"github.com/okian/stablezoo/internal/adapters/ws"
	"github.com/okian/stablezoo/internal/config"
	"github.com/okian/stablezoo/internal/domain/anticheat"
	"github.com/okian/stablezoo/internal/domain/dedupe"
	"github.com/okian/stablezoo/internal/domain/scoring"
	"github.com/okian/stablezoo/internal/domain/session"
	"github.com/okian/stablezoo/internal/domain/types"
	"github.com/okian/stablezoo/pkg/logger"
)

var (
	// ErrNotStarted is returned by queries made before Start.
	ErrNotStarted = errors.New("service not started")
	// ErrStopped is returned when starting a service that was stopped.
	ErrStopped = errors.New("service stopped")
)

// Service implements the API dependencies for the relay and the game.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	// Core components
	store    *repository.TreapStore
	db       *sqlite.Store
	sessions *session.Manager
	registry *ws.Registry
	handler  *ws.Handler
	source   relay.Source
	relay    *relay.Relay

	// State
	started   bool
	stopped   bool
	startedAt time.Time
	relayDone chan struct{}

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the process configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithSource relays from src instead of dialing upstream_url.
func WithSource(src relay.Source) Option {
	return func(s *Service) {
		s.source = src
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service. Without WithConfig the defaults apply and
// the relay stays disabled.
func New(opts ...Option) *Service {
	s := &Service{cfg: config.New(context.Background())}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the components and starts the relay when an upstream is
// configured. A failure leaves nothing running.
func (s *Service) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.stopped {
		return ErrStopped
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	cfg := s.cfg
	s.logger.Info(ctx, "starting service...")

	defer func() {
		if err != nil {
			s.release(ctx)
		}
	}()

	if err := s.openStore(ctx); err != nil {
		return err
	}

	s.sessions = session.NewManager(s.store,
		session.WithValidator(anticheat.New(
			anticheat.WithMinInterval(cfg.MinEatInterval()),
			anticheat.WithMaxValue(cfg.MaxAnimalValue),
			anticheat.WithMaxScorePerMinute(cfg.MaxScorePerMinute),
		)),
		session.WithPolicy(scoring.NewPolicy(scoring.WithMaxAward(cfg.MaxAnimalValue))),
		session.WithSuspicionThreshold(cfg.SuspicionThreshold),
		session.WithTopN(cfg.LeaderboardTopN),
		session.WithMaxNameLength(cfg.MaxNameLength),
		session.WithIdleTimeout(cfg.SessionIdleTimeout()),
		session.WithScoreUpdateInterval(cfg.ScoreUpdateInterval()),
		session.WithLogger(s.logger.Named("session")),
	)
	s.registry = ws.NewRegistry(
		ws.WithQueueSize(cfg.QueueSize),
		ws.WithReplyQueueSize(cfg.ReplyQueueSize),
		ws.WithPingInterval(cfg.PingInterval()),
		ws.WithWriteTimeout(cfg.WriteTimeout()),
		ws.WithLogger(s.logger.Named("ws")),
	)
	s.handler = ws.NewHandler(s.registry, s.sessions, cfg.AllowedOrigins)

	if s.source == nil && cfg.UpstreamURL != "" {
		client, err := natsstream.Dial(ctx, natsstream.Options{
			URL:         cfg.UpstreamURL,
			Stream:      cfg.UpstreamStream,
			Subject:     cfg.UpstreamSubject,
			Name:        cfg.ConsumerName,
			Retries:     cfg.ConnectRetries,
			BackoffBase: cfg.BackoffBase(),
			BackoffMax:  cfg.BackoffMax(),
		})
		if err != nil {
			return err
		}
		src, err := client.Source(ctx, cfg.ConsumerGroup)
		if err != nil {
			_ = client.Close()
			return err
		}
		s.source = src
	}

	if s.source != nil {
		s.relay = relay.New(s.source, s.registry,
			relay.WithBatchSize(cfg.BatchSize),
			relay.WithWait(cfg.BlockTimeout()),
			relay.WithBackoff(cfg.BackoffBase(), cfg.BackoffMax()),
			relay.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize))),
			relay.WithStatsInterval(cfg.StatsInterval()),
			relay.WithIdleWarning(cfg.IdleWarning()),
			relay.WithAddressDisplay(cfg.AddressDisplay),
			relay.WithLogger(s.logger.Named("relay")),
		)
		s.relayDone = make(chan struct{})
		// The relay outlives the start request; Stop ends it.
		go func(r *relay.Relay, done chan struct{}) {
			defer close(done)
			if err := r.Run(context.WithoutCancel(ctx)); err != nil {
				s.logger.Error(context.Background(), "relay exited", logger.Error(err))
			}
		}(s.relay, s.relayDone)
	} else {
		s.logger.Warn(ctx, "upstream_url not set, relay disabled")
	}

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "service started",
		logger.Bool("relay", s.relay != nil),
		logger.Bool("persistent", s.db != nil),
		logger.Int("players", s.store.Count(ctx)))
	return nil
}

func (s *Service) openStore(ctx context.Context) error {
	opts := []repository.Option{repository.WithTopCacheSize(s.cfg.MaxLeaderboardLimit)}
	if path := s.cfg.LeaderboardDBPath; path != "" {
		db, err := sqlite.Open(path)
		if err != nil {
			return fmt.Errorf("open leaderboard db: %w", err)
		}
		s.db = db
		opts = append(opts, repository.WithPersister(db))
	}
	s.store = repository.NewTreapStore(opts...)
	if s.db == nil {
		return nil
	}

	recs, err := s.db.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load leaderboard: %w", err)
	}
	if err := s.store.Restore(ctx, recs); err != nil {
		return fmt.Errorf("restore leaderboard: %w", err)
	}
	s.logger.Info(ctx, "leaderboard restored", logger.Int("players", s.store.Count(ctx)))
	return nil
}

// Stop stops the relay, says goodbye to every client and closes storage.
// A stopped Service cannot be started again.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping service...")

	var errs []error
	if s.relay != nil {
		if err := s.relay.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.release(ctx)

	s.started = false
	s.stopped = true
	s.logger.Info(ctx, "service stopped")
	return errors.Join(errs...)
}

// release closes whatever Start managed to open.
func (s *Service) release(ctx context.Context) {
	if s.source != nil {
		if err := s.source.Close(); err != nil {
			s.logger.Warn(ctx, "closing upstream failed", logger.Error(err))
		}
	}
	if s.registry != nil {
		s.registry.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn(ctx, "closing leaderboard db failed", logger.Error(err))
		}
		s.db = nil
	}
}

// Handler returns the websocket upgrade handler, or nil before Start.
func (s *Service) Handler() http.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.handler == nil {
		return nil
	}
	return s.handler
}

// TopN returns the top n leaderboard entries.
func (s *Service) TopN(ctx context.Context, n int) ([]types.Entry, error) {
	store := s.leaderboard()
	if store == nil {
		return nil, ErrNotStarted
	}
	return store.TopN(ctx, n)
}

// Rank returns the leaderboard entry for player.
func (s *Service) Rank(ctx context.Context, player string) (types.Entry, error) {
	store := s.leaderboard()
	if store == nil {
		return types.Entry{}, ErrNotStarted
	}
	return store.Rank(ctx, player)
}

func (s *Service) leaderboard() *repository.TreapStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store
}

// Status reports health. The service is healthy while started and either
// relaying from a connected upstream or running without one.
func (s *Service) Status(_ context.Context) api.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := api.Status{
		Status:    api.StatusUnhealthy,
		Timestamp: time.Now().UTC(),
	}
	if !s.started {
		return st
	}

	st.Services.WebSocket = api.WebSocketStatus{
		ConnectedClients: s.registry.Count(),
		ActiveSessions:   s.sessions.ActiveSessions(),
	}
	st.Services.Upstream.Enabled = s.relay != nil
	if s.relay != nil {
		rs := s.relay.Stats()
		st.Services.Upstream.Connected = rs.Connected
		st.MessagesProcessed = rs.Relayed
	}
	if !st.Services.Upstream.Enabled || st.Services.Upstream.Connected {
		st.Status = api.StatusHealthy
	}
	return st
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":          s.started,
		"upstream_enabled": s.relay != nil,
		"persistent":       s.db != nil,
	}
	if !s.started {
		return stats
	}

	stats["uptime_seconds"] = int64(time.Since(s.startedAt).Seconds())
	stats["connected_clients"] = s.registry.Count()
	stats["active_sessions"] = s.sessions.ActiveSessions()
	stats["leaderboard_players"] = s.store.Count(context.Background())
	if s.relay != nil {
		stats["relay"] = s.relay.Stats()
	}
	return stats
}

// Wait blocks until the relay goroutine exits or ctx is done. It returns at
// once when no relay runs.
func (s *Service) Wait(ctx context.Context) error {
	s.mu.RLock()
	done := s.relayDone
	s.mu.RUnlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
