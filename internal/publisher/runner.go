package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/stablezoo/internal/adapters/mq/natsstream"
	"github.com/okian/stablezoo/internal/config"
	"github.com/okian/stablezoo/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	filePermission      = 0600
)

// Run generates and publishes one batch of synthetic transfers, then waits
// for the relay to report them when a service URL is configured.
func Run(ctx context.Context, cfg *Config) error {
	stats := &Stats{StartTime: time.Now()}

	logger.Get().Info(ctx, "starting publisher",
		logger.String("upstream", config.MaskURL(cfg.UpstreamURL)),
		logger.String("subject", cfg.Subject),
		logger.String("serviceURL", cfg.ServiceURL),
		logger.Int("events", cfg.NumEvents),
		logger.Int("workers", cfg.Workers),
		logger.Float64("rate", cfg.Rate))

	var client *HTTPClient
	if cfg.ServiceURL != "" {
		client = newHTTPClient(cfg.ServiceURL, cfg.Timeout)
		h, err := client.Health(ctx)
		if err != nil {
			return fmt.Errorf("service health check failed: %w", err)
		}
		stats.ProcessedBefore = h.MessagesProcessed
		logger.Get().Info(ctx, "service reachable",
			logger.String("status", h.Status),
			logger.Bool("upstreamConnected", h.Services.Upstream.Connected),
			logger.Uint64("messagesProcessed", h.MessagesProcessed))
	}

	records, err := generateRecords(ctx, cfg, stats)
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}

	stream, err := natsstream.Dial(ctx, natsstream.Options{
		URL:     cfg.UpstreamURL,
		Stream:  cfg.Stream,
		Subject: cfg.Subject,
		Name:    "stablezoo-publisher",
	})
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close() }()

	if err := publishRecords(ctx, cfg, stream, records, stats); err != nil {
		return fmt.Errorf("publishing failed: %w", err)
	}

	if client != nil {
		if err := waitForRelay(ctx, cfg, client, stats); err != nil {
			return fmt.Errorf("relay verification failed: %w", err)
		}
	}

	if cfg.OutputFile != "" {
		if err := saveRecords(ctx, cfg.OutputFile, records); err != nil {
			logger.Get().Warn(ctx, "failed to save records", logger.Error(err))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)
	return nil
}

// saveRecords writes the generated records as a JSON array.
func saveRecords(ctx context.Context, filename string, records []Record) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal records: %w", err)
	}
	if err := os.WriteFile(filename, data, filePermission); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	logger.Get().Info(ctx, "records saved to file", logger.String("filename", filename))
	return nil
}

func displayFinalStats(ctx context.Context, stats *Stats) {
	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.Published) / stats.Duration.Seconds()
	}
	logger.Get().Info(ctx, "final statistics",
		logger.Int("generated", stats.Generated),
		logger.Int("malformed", stats.Malformed),
		logger.Int("published", stats.Published),
		logger.Int("failed", stats.Failed),
		logger.Uint64("lastSequence", stats.LastSequence),
		logger.Uint64("relayed", stats.ProcessedAfter-stats.ProcessedBefore),
		logger.Duration("duration", stats.Duration),
		logger.Float64("publishedPerSecond", perSecond))
}
