package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/stablezoo/internal/publisher"
)

// Default configuration constants.
const (
	defaultNumEvents = 1000
	defaultRate      = 50
	defaultBurst     = 10
	defaultWorkers   = 4
	defaultTimeout   = 10 * time.Second
	defaultSettle    = time.Minute
	defaultRunLimit  = 30 * time.Minute
)

func main() {
	var (
		natsURL    = flag.String("nats", "nats://localhost:4222", "NATS server URL")
		stream     = flag.String("stream", "STABLECOIN", "JetStream stream name")
		subject    = flag.String("subject", "stablecoin.transactions", "Subject to publish on")
		serviceURL = flag.String("service", "http://localhost:8080", "Relay base URL to verify against, empty to skip")
		numEvents  = flag.Int("events", defaultNumEvents, "Number of transfers to publish")
		rateLimit  = flag.Float64("rate", defaultRate, "Transfers per second, 0 for unlimited")
		burst      = flag.Int("burst", defaultBurst, "Rate limiter burst")
		workers    = flag.Int("workers", defaultWorkers, "Concurrent publishers")
		malformed  = flag.Float64("malformed", 0, "Share of deliberately malformed records")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		settle     = flag.Duration("settle", defaultSettle, "How long to wait for the relay to catch up")
		outputFile = flag.String("output", "", "Write the generated records to this JSON file")
		logFile    = flag.String("log", "", "Also log to this file")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		publisher.ShowHelp()
		return
	}

	if err := publisher.SetupLogging(*logFile, *verbose); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunLimit)
	defer cancel()

	cfg := &publisher.Config{
		ServiceURL:     *serviceURL,
		UpstreamURL:    *natsURL,
		Stream:         *stream,
		Subject:        *subject,
		NumEvents:      *numEvents,
		Rate:           *rateLimit,
		Burst:          *burst,
		Workers:        *workers,
		MalformedRatio: *malformed,
		Timeout:        *timeout,
		SettleTimeout:  *settle,
		OutputFile:     *outputFile,
		Verbose:        *verbose,
	}

	if err := publisher.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("Publish failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
