// Package config defines service configuration and its defaults.
//
// Keys are flat and map 1:1 to YAML keys and STABLEZOO_* environment
// variables, e.g. STABLEZOO_BATCH_SIZE -> batch_size.
package config

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`
	// WSPath is the websocket upgrade route.
	WSPath string `koanf:"ws_path"`
	// AllowedOrigins restricts websocket origins. Empty allows any origin.
	AllowedOrigins []string `koanf:"allowed_origins"`
	// ConnectRatePerSec and ConnectBurst bound websocket upgrades per client IP.
	ConnectRatePerSec float64 `koanf:"connect_rate_per_sec"`
	ConnectBurst      int     `koanf:"connect_burst"`

	// UpstreamURL is the NATS server URL. The relay is disabled when empty.
	UpstreamURL      string `koanf:"upstream_url"`
	UpstreamStream   string `koanf:"upstream_stream"`
	UpstreamSubject  string `koanf:"upstream_subject"`
	ConsumerGroup    string `koanf:"consumer_group"`
	ConsumerName     string `koanf:"consumer_name"`
	BatchSize        int    `koanf:"batch_size"`
	BlockTimeoutMS   int    `koanf:"block_timeout_ms"`
	BackoffBaseMS    int    `koanf:"backoff_base_ms"`
	BackoffMaxMS     int    `koanf:"backoff_max_ms"`
	ConnectRetries   int    `koanf:"upstream_connect_retries"`
	DedupeSize       int    `koanf:"dedupe_size"`
	StatsIntervalSec int    `koanf:"stats_interval_secs"`
	IdleWarningSec   int    `koanf:"idle_warning_secs"`
	AddressDisplay   int    `koanf:"address_display_length"`

	// QueueSize bounds each connection's broadcast queue.
	QueueSize int `koanf:"queue_size"`
	// ReplyQueueSize bounds each connection's reply queue.
	ReplyQueueSize  int `koanf:"reply_queue_size"`
	PingIntervalSec int `koanf:"ping_interval_secs"`
	WriteTimeoutMS  int `koanf:"write_timeout_ms"`

	LeaderboardTopN       int     `koanf:"leaderboard_top_n"`
	MaxLeaderboardLimit   int     `koanf:"max_leaderboard_limit"`
	MinEatIntervalMS      int     `koanf:"min_eat_interval_ms"`
	MaxAnimalValue        float64 `koanf:"max_animal_value"`
	MaxScorePerMinute     float64 `koanf:"max_score_per_minute"`
	SuspicionThreshold    int     `koanf:"suspicion_threshold"`
	ScoreUpdateIntervalMS int     `koanf:"score_update_interval_ms"`
	SessionIdleTimeoutSec int     `koanf:"session_idle_timeout_secs"`
	MaxNameLength         int     `koanf:"max_name_length"`

	// LeaderboardDBPath enables SQLite persistence of the leaderboard.
	LeaderboardDBPath string `koanf:"leaderboard_db_path"`
}

// New returns a Config populated with defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		Addr:              ":8080",
		WSPath:            "/ws",
		ConnectRatePerSec: 5,
		ConnectBurst:      20,

		UpstreamStream:   "STABLECOIN",
		UpstreamSubject:  "stablecoin.transactions",
		ConsumerGroup:    "websocket-publisher",
		ConsumerName:     "consumer-" + uuid.NewString(),
		BatchSize:        10,
		BlockTimeoutMS:   1000,
		BackoffBaseMS:    1000,
		BackoffMaxMS:     30000,
		ConnectRetries:   5,
		DedupeSize:       10000,
		StatsIntervalSec: 30,
		IdleWarningSec:   60,
		AddressDisplay:   10,

		QueueSize:       100,
		ReplyQueueSize:  32,
		PingIntervalSec: 30,
		WriteTimeoutMS:  10000,

		LeaderboardTopN:       20,
		MaxLeaderboardLimit:   100,
		MinEatIntervalMS:      200,
		MaxAnimalValue:        10000,
		MaxScorePerMinute:     1000,
		SuspicionThreshold:    10,
		ScoreUpdateIntervalMS: 1000,
		SessionIdleTimeoutSec: 300,
		MaxNameLength:         20,
	}
}

// Validate checks the invariants the service relies on.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.WSPath == "" || c.WSPath[0] != '/':
		return fmt.Errorf("%w: ws_path must start with /", ErrInvalidConfig)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch_size must be greater than 0", ErrInvalidConfig)
	case c.BlockTimeoutMS <= 0:
		return fmt.Errorf("%w: block_timeout_ms must be greater than 0", ErrInvalidConfig)
	case c.BackoffBaseMS <= 0 || c.BackoffMaxMS < c.BackoffBaseMS:
		return fmt.Errorf("%w: backoff_base_ms must be positive and not exceed backoff_max_ms", ErrInvalidConfig)
	case c.QueueSize <= 0 || c.ReplyQueueSize <= 0:
		return fmt.Errorf("%w: queue sizes must be greater than 0", ErrInvalidConfig)
	case c.PingIntervalSec <= 0:
		return fmt.Errorf("%w: ping_interval_secs must be greater than 0", ErrInvalidConfig)
	case c.LeaderboardTopN <= 0 || c.MaxLeaderboardLimit <= 0:
		return fmt.Errorf("%w: leaderboard limits must be greater than 0", ErrInvalidConfig)
	case c.SuspicionThreshold <= 0:
		return fmt.Errorf("%w: suspicion_threshold must be greater than 0", ErrInvalidConfig)
	case c.MaxNameLength <= 0:
		return fmt.Errorf("%w: max_name_length must be greater than 0", ErrInvalidConfig)
	case c.MaxAnimalValue < 0 || c.MaxScorePerMinute <= 0:
		return fmt.Errorf("%w: scoring bounds must be positive", ErrInvalidConfig)
	case c.UpstreamURL != "" && (c.UpstreamStream == "" || c.UpstreamSubject == "" || c.ConsumerGroup == ""):
		return fmt.Errorf("%w: upstream stream, subject and consumer_group are required", ErrInvalidConfig)
	}
	return nil
}

func ms(v int) time.Duration  { return time.Duration(v) * time.Millisecond }
func sec(v int) time.Duration { return time.Duration(v) * time.Second }

func (c *Config) BlockTimeout() time.Duration        { return ms(c.BlockTimeoutMS) }
func (c *Config) BackoffBase() time.Duration         { return ms(c.BackoffBaseMS) }
func (c *Config) BackoffMax() time.Duration          { return ms(c.BackoffMaxMS) }
func (c *Config) StatsInterval() time.Duration       { return sec(c.StatsIntervalSec) }
func (c *Config) IdleWarning() time.Duration         { return sec(c.IdleWarningSec) }
func (c *Config) PingInterval() time.Duration        { return sec(c.PingIntervalSec) }
func (c *Config) WriteTimeout() time.Duration        { return ms(c.WriteTimeoutMS) }
func (c *Config) MinEatInterval() time.Duration      { return ms(c.MinEatIntervalMS) }
func (c *Config) ScoreUpdateInterval() time.Duration { return ms(c.ScoreUpdateIntervalMS) }
func (c *Config) SessionIdleTimeout() time.Duration  { return sec(c.SessionIdleTimeoutSec) }

// MaskURL hides credentials in a connection URL so it can be logged.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		if raw == "" {
			return ""
		}
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	return u.Redacted()
}
