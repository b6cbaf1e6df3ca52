package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/stablezoo/pkg/logger"
)

// waitForRelay polls /health until the relay has processed every valid
// record published in this run or the settle timeout passes.
func waitForRelay(ctx context.Context, config *Config, client *HTTPClient, stats *Stats) error {
	expected := stats.ProcessedBefore + uint64(stats.ValidPublished)
	logger.Get().Info(ctx, "waiting for relay to catch up",
		logger.Uint64("expected", expected),
		logger.Duration("timeout", config.SettleTimeout))

	ctx, cancel := context.WithTimeout(ctx, config.SettleTimeout)
	defer cancel()
	ticker := time.NewTicker(HealthPollInterval)
	defer ticker.Stop()

	for {
		h, err := client.Health(ctx)
		if err == nil {
			stats.ProcessedAfter = h.MessagesProcessed
			if h.MessagesProcessed >= expected {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("relay processed %d of %d records before timeout",
				stats.ProcessedAfter-stats.ProcessedBefore, expected-stats.ProcessedBefore)
		case <-ticker.C:
		}
	}
}
