package service_test

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/stablezoo/internal/app"
	"github.com/okian/stablezoo/internal/adapters/http/api"
	"github.com/okian/stablezoo/internal/adapters/mq/relay"
	"github.com/okian/stablezoo/internal/adapters/repository"
	"github.com/okian/stablezoo/internal/config"
	"github.com/okian/stablezoo/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

type delivery struct {
	seq  uint64
	data []byte
}

func (d *delivery) Sequence() uint64          { return d.seq }
func (d *delivery) Data() []byte              { return d.data }
func (d *delivery) Ack(context.Context) error { return nil }
func (d *delivery) Nak(context.Context) error { return nil }

// stubSource hands out queued records one batch per fetch.
type stubSource struct {
	mu      sync.Mutex
	pending []relay.Delivery
	closed  bool
}

func (s *stubSource) push(ds ...relay.Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, ds...)
}

func (s *stubSource) Fetch(ctx context.Context, _ int, wait time.Duration) ([]relay.Delivery, error) {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()
	if len(batch) > 0 {
		return batch, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(min(wait, 20*time.Millisecond)):
		return nil, nil
	}
}

func (s *stubSource) Connected() bool { return true }

func (s *stubSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func transfer(seq uint64) *delivery {
	payload := fmt.Sprintf(`{"stablecoin":"usdt","amount":"12.5","from":"0x1111111111111111",`+
		`"to":"0x2222222222222222","block_number":%d,"tx_hash":"0xtx%d"}`, 500+seq, seq)
	return &delivery{seq: seq, data: []byte(payload)}
}

func dial(svc *service.Service) (*websocket.Conn, func(), error) {
	srv := httptest.NewServer(svc.Handler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		return nil, nil, err
	}
	return c, func() { _ = c.Close(); srv.Close() }, nil
}

func readJSON(c *websocket.Conn) (map[string]any, error) {
	if err := c.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		return nil, err
	}
	var msg map[string]any
	err := c.ReadJSON(&msg)
	return msg, err
}

// readType skips relayed events until a message of the given type arrives.
func readType(c *websocket.Conn, typ string) (map[string]any, error) {
	for {
		msg, err := readJSON(c)
		if err != nil {
			return nil, err
		}
		if msg["type"] == typ {
			return msg, nil
		}
	}
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a service without an upstream", t, func() {
		ctx := context.Background()
		svc := service.New()

		Convey("Queries before Start fail", func() {
			_, err := svc.TopN(ctx, 5)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			_, err = svc.Rank(ctx, "nobody")
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(svc.Handler(), ShouldBeNil)
			So(svc.Status(ctx).Status, ShouldEqual, api.StatusUnhealthy)
		})

		Convey("When started", func() {
			So(svc.Start(ctx), ShouldBeNil)
			defer func() { _ = svc.Stop(ctx) }()

			Convey("Then it is healthy with the relay disabled", func() {
				st := svc.Status(ctx)
				So(st.Status, ShouldEqual, api.StatusHealthy)
				So(st.Services.Upstream.Enabled, ShouldBeFalse)
				So(st.MessagesProcessed, ShouldEqual, uint64(0))

				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
				So(stats["upstream_enabled"], ShouldEqual, false)
				So(stats["leaderboard_players"], ShouldEqual, 0)
			})

			Convey("Then a second Start is a no-op", func() {
				So(svc.Start(ctx), ShouldBeNil)
			})

			Convey("Then the leaderboard is empty", func() {
				entries, err := svc.TopN(ctx, 10)
				So(err, ShouldBeNil)
				So(entries, ShouldBeEmpty)
				_, err = svc.Rank(ctx, "nobody")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})

			Convey("When stopped", func() {
				So(svc.Stop(ctx), ShouldBeNil)

				Convey("Then it reports stopped and cannot restart", func() {
					So(svc.GetStats()["started"], ShouldEqual, false)
					So(svc.Status(ctx).Status, ShouldEqual, api.StatusUnhealthy)
					So(errors.Is(svc.Start(ctx), service.ErrStopped), ShouldBeTrue)
				})
			})
		})
	})
}

func TestService_Relay(t *testing.T) {
	Convey("Given a service relaying from a stub source", t, func() {
		ctx := context.Background()
		src := &stubSource{}
		cfg := config.New(ctx)
		cfg.BlockTimeoutMS = 20
		svc := service.New(service.WithConfig(cfg), service.WithSource(src))
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		c, done, err := dial(svc)
		So(err, ShouldBeNil)
		defer done()

		Convey("When records arrive upstream", func() {
			// wait for the registration to land before publishing
			for i := 0; i < 100 && svc.Status(ctx).Services.WebSocket.ConnectedClients == 0; i++ {
				time.Sleep(10 * time.Millisecond)
			}
			src.push(transfer(1), transfer(1))

			Convey("Then connected clients receive each record once", func() {
				msg, err := readJSON(c)
				So(err, ShouldBeNil)
				So(msg["stablecoin"], ShouldEqual, "USDT")
				So(msg["amount"], ShouldEqual, "12.5")
				So(msg["tx_hash"], ShouldEqual, "0xtx1")

				st := svc.Status(ctx)
				So(st.Services.Upstream.Enabled, ShouldBeTrue)
				So(st.Services.Upstream.Connected, ShouldBeTrue)
				So(st.Status, ShouldEqual, api.StatusHealthy)
				So(st.MessagesProcessed, ShouldEqual, uint64(1))

				var rs relay.Stats
				for i := 0; i < 100 && rs.Duplicates == 0; i++ {
					time.Sleep(10 * time.Millisecond)
					rs, _ = svc.GetStats()["relay"].(relay.Stats)
				}
				So(rs.Duplicates, ShouldEqual, uint64(1))
				So(rs.Relayed, ShouldEqual, uint64(1))
			})
		})

		Convey("When the service stops", func() {
			So(svc.Stop(ctx), ShouldBeNil)
			So(svc.Wait(ctx), ShouldBeNil)

			Convey("Then the source is closed", func() {
				So(src.isClosed(), ShouldBeTrue)
			})
		})
	})
}

func TestService_Persistence(t *testing.T) {
	Convey("Given a service backed by a leaderboard database", t, func() {
		ctx := context.Background()
		cfg := config.New(ctx)
		cfg.LeaderboardDBPath = filepath.Join(t.TempDir(), "leaderboard.db")

		svc := service.New(service.WithConfig(cfg))
		So(svc.Start(ctx), ShouldBeNil)

		Convey("When a player finishes a session", func() {
			c, done, err := dial(svc)
			So(err, ShouldBeNil)

			So(c.WriteJSON(map[string]any{"type": "StartSession", "player_name": "zebra"}), ShouldBeNil)
			_, err = readType(c, "SessionStarted")
			So(err, ShouldBeNil)

			So(c.WriteJSON(map[string]any{"type": "AnimalEaten", "animal_id": "a1", "animal_value": 40}), ShouldBeNil)
			So(c.WriteJSON(map[string]any{"type": "PlayerDied"}), ShouldBeNil)

			final, err := readType(c, "ScoreUpdated")
			So(err, ShouldBeNil)
			So(final["player_name"], ShouldEqual, "zebra")
			So(final["rank"], ShouldEqual, float64(1))

			// Replies keep frame order, so the session is over once the
			// leaderboard arrives.
			So(c.WriteJSON(map[string]any{"type": "GetLeaderboard"}), ShouldBeNil)
			board, err := readType(c, "Leaderboard")
			So(err, ShouldBeNil)
			So(board["entries"], ShouldHaveLength, 1)
			So(svc.GetStats()["active_sessions"], ShouldEqual, 0)
			done()

			So(svc.Stop(ctx), ShouldBeNil)

			Convey("Then a restarted service restores the entry", func() {
				again := service.New(service.WithConfig(cfg))
				So(again.Start(ctx), ShouldBeNil)
				defer func() { _ = again.Stop(ctx) }()

				entry, err := again.Rank(ctx, "zebra")
				So(err, ShouldBeNil)
				So(entry.Rank, ShouldEqual, 1)
				So(entry.Score, ShouldBeGreaterThan, 0)
				So(entry.AnimalsEaten, ShouldEqual, 1)
				So(again.GetStats()["persistent"], ShouldEqual, true)
			})
		})
	})
}
