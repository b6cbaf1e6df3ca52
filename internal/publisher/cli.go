package publisher

import (
	"fmt"
	"io"
	"os"

	"github.com/okian/stablezoo/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging logs to stdout and, when logFile is set, to that file too.
func SetupLogging(logFile string, verbose bool) error {
	var w io.Writer = os.Stdout
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, file)
	}
	if err := logger.InitWith(w, "text"); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		return logger.SetLevelString("debug")
	}
	return nil
}

// ShowHelp prints usage information for the publisher.
func ShowHelp() {
	os.Stdout.WriteString(`Stablezoo Event Publisher
=========================

Publishes synthetic stablecoin transfers to the upstream JetStream stream
and, optionally, waits for a running relay to report them on /health.

Usage:
  go run ./cmd/publish-events [options]

Options:
  -nats string
        NATS server URL (default "nats://localhost:4222")
  -stream string
        JetStream stream name (default "STABLECOIN")
  -subject string
        Subject to publish on (default "stablecoin.transactions")
  -service string
        Relay base URL to verify against, empty to skip (default "http://localhost:8080")
  -events int
        Number of transfers to publish (default 1000)
  -rate float
        Transfers per second, 0 for unlimited (default 50)
  -burst int
        Rate limiter burst (default 10)
  -workers int
        Concurrent publishers (default 4)
  -malformed float
        Share of deliberately malformed records (default 0)
  -timeout duration
        HTTP request timeout (default 10s)
  -settle duration
        How long to wait for the relay to catch up (default 1m)
  -output string
        Write the generated records to this JSON file
  -log string
        Also log to this file
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  # Trickle transfers into a local stack
  go run ./cmd/publish-events -events 100 -rate 5

  # Exercise the relay's malformed-record path
  go run ./cmd/publish-events -events 5000 -rate 0 -malformed 0.05
`)
}
