package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/stablezoo/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it loads the defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.BatchSize, convey.ShouldEqual, 10)
				convey.So(cfg.UpstreamURL, convey.ShouldEqual, "")
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("STABLEZOO_ADDR", ":9090")
			_ = os.Setenv("STABLEZOO_BATCH_SIZE", "25")
			_ = os.Setenv("STABLEZOO_UPSTREAM_URL", "nats://localhost:4222")
			_ = os.Setenv("STABLEZOO_ALLOWED_ORIGINS", "https://a.example, https://b.example")

			cfg, err := config.Load(ctx)

			convey.Convey("Then env overrides defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.BatchSize, convey.ShouldEqual, 25)
				convey.So(cfg.UpstreamURL, convey.ShouldEqual, "nats://localhost:4222")
				convey.So(cfg.AllowedOrigins, convey.ShouldResemble, []string{"https://a.example", "https://b.example"})
			})
		})

		convey.Convey("When loading config with a YAML file and env", func() {
			path := writeTempConfig(t, `
addr: ":7070"
queue_size: 250
suspicion_threshold: 5
`)
			_ = os.Setenv("STABLEZOO_CONFIG", path)
			_ = os.Setenv("STABLEZOO_QUEUE_SIZE", "300")

			cfg, err := config.Load(ctx)

			convey.Convey("Then env wins over the file and the file over defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 300)
				convey.So(cfg.SuspicionThreshold, convey.ShouldEqual, 5)
				convey.So(cfg.LeaderboardTopN, convey.ShouldEqual, 20)
			})
		})

		convey.Convey("When the YAML file is invalid", func() {
			_ = os.Setenv("STABLEZOO_CONFIG", writeTempConfig(t, `invalid: yaml: content: [`))

			cfg, err := config.Load(ctx)

			convey.Convey("Then a load error is returned", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the config file does not exist", func() {
			_ = os.Setenv("STABLEZOO_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load(ctx)
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(cfg, convey.ShouldBeNil)
		})

		convey.Convey("When batch_size is invalid", func() {
			_ = os.Setenv("STABLEZOO_BATCH_SIZE", "0")

			cfg, err := config.Load(ctx)

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func writeTempConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearConfigEnvVars() {
	for _, k := range []string{
		"STABLEZOO_CONFIG", "STABLEZOO_ADDR", "STABLEZOO_BATCH_SIZE", "STABLEZOO_UPSTREAM_URL",
		"STABLEZOO_ALLOWED_ORIGINS", "STABLEZOO_QUEUE_SIZE",
	} {
		_ = os.Unsetenv(k)
	}
}
