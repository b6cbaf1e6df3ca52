package publisher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/stablezoo/pkg/logger"
)

// Publisher appends one payload to the upstream stream. msgID lets the
// server drop duplicate publishes.
type Publisher interface {
	Publish(ctx context.Context, data []byte, msgID string) (uint64, error)
}

// publishRecords sends records through workers sharing one rate limiter.
func publishRecords(ctx context.Context, config *Config, pub Publisher, records []Record, stats *Stats) error {
	log := logger.Get()
	workers := max(config.Workers, 1)
	limiter := rate.NewLimiter(rate.Limit(config.Rate), max(config.Burst, 1))
	if config.Rate <= 0 {
		limiter.SetLimit(rate.Inf)
	}

	log.Info(ctx, "publishing records",
		logger.Int("records", len(records)),
		logger.Int("workers", workers),
		logger.Float64("rate", config.Rate))

	var (
		published atomic.Int64
		valid     atomic.Int64
		failed    atomic.Int64
		lastSeq   atomic.Uint64
	)

	recordChan := make(chan Record, workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range recordChan {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				seq, err := pub.Publish(ctx, rec.Payload, rec.MsgID)
				if err != nil {
					failed.Add(1)
					if config.Verbose {
						log.Warn(ctx, "publish failed", logger.String("msgID", rec.MsgID), logger.Error(err))
					}
					continue
				}
				published.Add(1)
				if !rec.Malformed {
					valid.Add(1)
				}
				for {
					cur := lastSeq.Load()
					if seq <= cur || lastSeq.CompareAndSwap(cur, seq) {
						break
					}
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				log.Info(ctx, "progress",
					logger.Int64("published", published.Load()),
					logger.Int64("failed", failed.Load()),
					logger.Int("total", len(records)))
			}
		}
	}()

feed:
	for _, rec := range records {
		select {
		case <-ctx.Done():
			break feed
		case recordChan <- rec:
		}
	}
	close(recordChan)
	wg.Wait()
	close(done)

	stats.Published = int(published.Load())
	stats.ValidPublished = int(valid.Load())
	stats.Failed = int(failed.Load())
	stats.LastSequence = lastSeq.Load()
	return ctx.Err()
}
