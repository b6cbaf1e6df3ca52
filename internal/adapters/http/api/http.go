// Package api wires the HTTP surface: the websocket endpoint, health and
// metrics, service stats and read-only leaderboard queries.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/okian/stablezoo/internal/adapters/repository"
	"github.com/okian/stablezoo/internal/domain/types"
)

const (
	defaultWSPath   = "/ws"
	defaultMaxLimit = 100
	defaultLimit    = 20
)

// Leaderboard is the read side of the leaderboard store.
type Leaderboard interface {
	TopN(ctx context.Context, n int) ([]types.Entry, error)
	Rank(ctx context.Context, player string) (types.Entry, error)
}

// Server wires HTTP routes.
type Server struct {
	wsPath      string
	ws          http.Handler
	limiter     *IPRateLimiter
	health      *HealthHandler
	stats       *StatsHandler
	leaderboard *LeaderboardHandler
	rank        *RankHandler
}

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithWebsocket mounts the websocket upgrade handler at path.
func WithWebsocket(path string, h http.Handler) Option {
	return func(s *Server) {
		if path != "" {
			s.wsPath = path
		}
		s.ws = h
	}
}

// WithConnectLimit bounds websocket upgrades per client IP.
func WithConnectLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond > 0 && burst > 0 {
			s.limiter = NewIPRateLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithMaxLeaderboardLimit caps the limit query parameter.
func WithMaxLeaderboardLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.leaderboard.maxLimit = n
		}
	}
}

// NewServer creates the API server.
func NewServer(status StatusProvider, stats StatsProvider, lb Leaderboard, opts ...Option) *Server {
	s := &Server{
		wsPath:      defaultWSPath,
		health:      NewHealthHandler(status),
		stats:       NewStatsHandler(stats),
		leaderboard: NewLeaderboardHandler(lb, defaultMaxLimit),
		rank:        NewRankHandler(lb),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	if s.ws != nil {
		var ws http.Handler = s.ws
		if s.limiter != nil {
			ws = RateLimitMiddleware(s.limiter)(ws)
		}
		// not wrapped by MetricsMiddleware: the upgrade hijacks the writer
		mux.Handle(s.wsPath, ws)
	}
	mux.HandleFunc("/health", MetricsMiddleware(s.health.HandleStatus, "health"))
	mux.HandleFunc("/healthz", MetricsMiddleware(s.health.HandleMetrics, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.stats.HandleStats, "stats"))
	mux.HandleFunc("/leaderboard", MetricsMiddleware(s.leaderboard.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("/rank/", MetricsMiddleware(s.rank.HandleGetRank, "rank"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
