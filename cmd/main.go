package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/stablezoo/internal/adapters/http/api"
	"github.com/okian/stablezoo/internal/adapters/http/swagger"
	app "github.com/okian/stablezoo/internal/app"
	"github.com/okian/stablezoo/internal/config"
	"github.com/okian/stablezoo/pkg/logger"
	"github.com/okian/stablezoo/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// logger isn't configured yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.InitWith(os.Stdout, cfg.LogFormat); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	svc := app.New(app.WithConfig(cfg), app.WithLogger(log))
	if err := svc.Start(ctx); err != nil {
		log.Fatal(ctx, "failed to start service", logger.Error(err))
	}

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(cfg, svc),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.String("ws_path", cfg.WSPath),
			logger.String("upstream", config.MaskURL(cfg.UpstreamURL)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info(ctx, "shutting down server...")
	case err := <-serveErr:
		log.Error(ctx, "HTTP server failed", logger.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}
	// Hijacked websocket connections are not tracked by Shutdown; Stop
	// closes them.
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "service shutdown failed", logger.Error(err))
	}
	log.Info(shutdownCtx, "server stopped")
}

// newMux registers the API, websocket and documentation routes.
func newMux(cfg *config.Config, svc *app.Service) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(mux)
	api.NewServer(svc, svc, svc,
		api.WithWebsocket(cfg.WSPath, svc.Handler()),
		api.WithConnectLimit(cfg.ConnectRatePerSec, cfg.ConnectBurst),
		api.WithMaxLeaderboardLimit(cfg.MaxLeaderboardLimit),
	).Register(mux)
	return mux
}

// startSystemMetricsUpdater samples runtime statistics until ctx is done.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater refreshes service gauges until ctx is done.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if m.NumGC > 0 {
		metrics.UpdateSystemGCPause(float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond)
	}
}

// updateServiceMetrics re-syncs gauges that components only set on change.
func updateServiceMetrics(svc *app.Service) {
	stats := svc.GetStats()
	if n, ok := stats["connected_clients"].(int); ok {
		metrics.UpdateConnections(n)
	}
	if n, ok := stats["active_sessions"].(int); ok {
		metrics.UpdateActiveSessions(n)
	}
	if n, ok := stats["leaderboard_players"].(int); ok {
		metrics.UpdateLeaderboardEntries(n)
	}
}
