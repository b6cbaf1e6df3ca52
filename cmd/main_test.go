package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smartystreets/goconvey/convey"

	app "github.com/okian/stablezoo/internal/app"
	"github.com/okian/stablezoo/internal/config"
	"github.com/okian/stablezoo/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func TestMainConfiguration(t *testing.T) {
	convey.Convey("Given STABLEZOO_* overrides", t, func() {
		t.Setenv("STABLEZOO_ADDR", ":9090")
		t.Setenv("STABLEZOO_QUEUE_SIZE", "250")
		t.Setenv("STABLEZOO_WS_PATH", "/play")

		convey.Convey("Then configuration picks them up", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
			convey.So(cfg.QueueSize, convey.ShouldEqual, 250)
			convey.So(cfg.WSPath, convey.ShouldEqual, "/play")
		})
	})

	convey.Convey("Given an invalid override", t, func() {
		t.Setenv("STABLEZOO_BATCH_SIZE", "0")

		convey.Convey("Then loading fails", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(cfg, convey.ShouldBeNil)
		})
	})
}

func TestMainMux(t *testing.T) {
	convey.Convey("Given a started service behind the main mux", t, func() {
		ctx := context.Background()
		cfg := config.New(ctx)
		cfg.WSPath = "/play"
		svc := app.New(app.WithConfig(cfg))
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		srv := httptest.NewServer(newMux(cfg, svc))
		defer srv.Close()

		convey.Convey("Then /health reports a healthy service", func() {
			resp, err := http.Get(srv.URL + "/health")
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)

			var body map[string]any
			convey.So(json.NewDecoder(resp.Body).Decode(&body), convey.ShouldBeNil)
			convey.So(body["status"], convey.ShouldEqual, "healthy")
		})

		convey.Convey("Then the API docs are served", func() {
			resp, err := http.Get(srv.URL + "/openapi.yaml")
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
		})

		convey.Convey("Then the websocket answers on the configured path", func() {
			url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/play"
			c, _, err := websocket.DefaultDialer.Dial(url, nil)
			convey.So(err, convey.ShouldBeNil)
			defer c.Close()

			convey.So(c.WriteJSON(map[string]any{"type": "GetLeaderboard"}), convey.ShouldBeNil)
			convey.So(c.SetReadDeadline(time.Now().Add(2*time.Second)), convey.ShouldBeNil)
			var msg map[string]any
			convey.So(c.ReadJSON(&msg), convey.ShouldBeNil)
			convey.So(msg["type"], convey.ShouldEqual, "Leaderboard")
		})
	})
}

func TestMainMetricsUpdaters(t *testing.T) {
	convey.Convey("Given the background metrics updaters", t, func() {
		svc := app.New()
		convey.So(svc.Start(context.Background()), convey.ShouldBeNil)
		defer func() { _ = svc.Stop(context.Background()) }()

		convey.Convey("Then they return once the context ends", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			convey.So(func() { startSystemMetricsUpdater(ctx) }, convey.ShouldNotPanic)
			convey.So(func() { startServiceMetricsUpdater(ctx, svc) }, convey.ShouldNotPanic)
		})

		convey.Convey("Then a single update does not panic", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
			convey.So(func() { updateServiceMetrics(svc) }, convey.ShouldNotPanic)
		})
	})
}
