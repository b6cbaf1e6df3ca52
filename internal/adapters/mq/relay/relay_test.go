package relay_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/stablezoo/internal/adapters/mq/relay"
	"github.com/okian/stablezoo/internal/domain/model"
	logging "github.com/okian/stablezoo/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

// eventLog records broadcasts and acknowledgements in the order they happen.
type eventLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf(format, args...))
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func (l *eventLog) count(entry string) int {
	n := 0
	for _, e := range l.snapshot() {
		if e == entry {
			n++
		}
	}
	return n
}

type fakeDelivery struct {
	seq         uint64
	data        []byte
	log         *eventLog
	ackFailures atomic.Int32
}

func (d *fakeDelivery) Sequence() uint64 { return d.seq }
func (d *fakeDelivery) Data() []byte     { return d.data }

func (d *fakeDelivery) Ack(_ context.Context) error {
	if d.ackFailures.Add(-1) >= 0 {
		return errors.New("ack lost")
	}
	d.log.add("ack:%d", d.seq)
	return nil
}

func (d *fakeDelivery) Nak(_ context.Context) error {
	d.log.add("nak:%d", d.seq)
	return nil
}

type fakeSource struct {
	mu        sync.Mutex
	batches   [][]relay.Delivery
	fetchErrs int
	fetches   int
}

func (s *fakeSource) push(batch ...relay.Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
}

func (s *fakeSource) Fetch(ctx context.Context, _ int, wait time.Duration) ([]relay.Delivery, error) {
	s.mu.Lock()
	s.fetches++
	if s.fetchErrs > 0 {
		s.fetchErrs--
		s.mu.Unlock()
		return nil, errors.New("upstream unavailable")
	}
	if len(s.batches) > 0 {
		b := s.batches[0]
		s.batches = s.batches[1:]
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wait):
		return nil, nil
	}
}

func (s *fakeSource) Connected() bool { return true }
func (s *fakeSource) Close() error    { return nil }

type fakeSink struct {
	log    *eventLog
	refuse atomic.Bool
}

func (s *fakeSink) Broadcast(ev model.StreamEvent) error {
	if s.refuse.Load() {
		return errors.New("hub closed")
	}
	s.log.add("broadcast:%d", ev.Sequence)
	return nil
}

func transfer(seq uint64, tx string, log *eventLog) *fakeDelivery {
	payload := fmt.Sprintf(`{"stablecoin":"usdc","amount":"100.50","from":"0xaaaaaaaaaaaaaaaa",`+
		`"to":"0xbbbbbbbbbbbbbbbb","block_number":%d,"tx_hash":"%s"}`, 1000+seq, tx)
	return &fakeDelivery{seq: seq, data: []byte(payload), log: log}
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func startRelay(src *fakeSource, sink *fakeSink) (*relay.Relay, chan error) {
	r := relay.New(src, sink,
		relay.WithWait(10*time.Millisecond),
		relay.WithBackoff(time.Millisecond, 5*time.Millisecond),
		relay.WithStatsInterval(20*time.Millisecond),
		relay.WithIdleWarning(30*time.Millisecond),
	)
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(context.Background()) }()
	return r, errCh
}

func stop(r *relay.Relay, errCh chan error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		return err
	}
	return <-errCh
}

func TestRelay(t *testing.T) {
	convey.Convey("Given a relay between a fake stream and a fake hub", t, func() {
		_ = logging.Init()
		log := &eventLog{}
		src := &fakeSource{}
		sink := &fakeSink{log: log}

		convey.Convey("When valid records arrive", func() {
			src.push(transfer(1, "0xt1", log), transfer(2, "0xt2", log))
			r, errCh := startRelay(src, sink)

			convey.So(eventually(func() bool { return log.count("ack:2") == 1 }), convey.ShouldBeTrue)
			convey.So(stop(r, errCh), convey.ShouldBeNil)

			convey.Convey("Then each is broadcast before it is acknowledged", func() {
				convey.So(log.snapshot(), convey.ShouldResemble,
					[]string{"broadcast:1", "ack:1", "broadcast:2", "ack:2"})
				convey.So(r.Stats().Relayed, convey.ShouldEqual, 2)
				convey.So(r.Stats().LastEventAt.IsZero(), convey.ShouldBeFalse)
			})
		})

		convey.Convey("When a record is redelivered", func() {
			src.push(transfer(7, "0xdup", log))
			src.push(transfer(7, "0xdup", log))
			r, errCh := startRelay(src, sink)

			convey.So(eventually(func() bool { return log.count("ack:7") == 2 }), convey.ShouldBeTrue)
			convey.So(stop(r, errCh), convey.ShouldBeNil)

			convey.Convey("Then it is broadcast once and acknowledged both times", func() {
				convey.So(log.count("broadcast:7"), convey.ShouldEqual, 1)
				convey.So(r.Stats().Duplicates, convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When a malformed record is in the batch", func() {
			bad := &fakeDelivery{seq: 3, data: []byte(`{"amount":"oops"}`), log: log}
			src.push(bad, transfer(4, "0xt4", log))
			r, errCh := startRelay(src, sink)

			convey.So(eventually(func() bool { return log.count("ack:4") == 1 }), convey.ShouldBeTrue)
			convey.So(stop(r, errCh), convey.ShouldBeNil)

			convey.Convey("Then it is skipped and acknowledged without stopping the relay", func() {
				convey.So(log.count("broadcast:3"), convey.ShouldEqual, 0)
				convey.So(log.count("ack:3"), convey.ShouldEqual, 1)
				convey.So(log.count("broadcast:4"), convey.ShouldEqual, 1)
				convey.So(r.Stats().Malformed, convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When fetching fails a few times", func() {
			src.fetchErrs = 3
			src.push(transfer(5, "0xt5", log))
			r, errCh := startRelay(src, sink)

			convey.So(eventually(func() bool { return log.count("ack:5") == 1 }), convey.ShouldBeTrue)
			convey.So(stop(r, errCh), convey.ShouldBeNil)

			convey.Convey("Then the relay retries until the record is relayed", func() {
				convey.So(r.Stats().FetchErrors, convey.ShouldEqual, 3)
				convey.So(log.count("broadcast:5"), convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When the hub refuses a record", func() {
			sink.refuse.Store(true)
			src.push(transfer(8, "0xt8", log))
			r, errCh := startRelay(src, sink)

			convey.So(eventually(func() bool { return log.count("nak:8") == 1 }), convey.ShouldBeTrue)

			convey.Convey("Then it is nak'd and relayed on redelivery", func() {
				convey.So(log.count("ack:8"), convey.ShouldEqual, 0)
				convey.So(r.Stats().Refused, convey.ShouldEqual, 1)

				sink.refuse.Store(false)
				src.push(transfer(8, "0xt8", log))
				convey.So(eventually(func() bool { return log.count("ack:8") == 1 }), convey.ShouldBeTrue)
				convey.So(log.count("broadcast:8"), convey.ShouldEqual, 1)
				convey.So(stop(r, errCh), convey.ShouldBeNil)
			})
		})

		convey.Convey("When an acknowledgement fails", func() {
			d := transfer(9, "0xt9", log)
			d.ackFailures.Store(2)
			src.push(d)
			r, errCh := startRelay(src, sink)

			convey.So(eventually(func() bool { return log.count("ack:9") == 1 }), convey.ShouldBeTrue)
			convey.So(stop(r, errCh), convey.ShouldBeNil)

			convey.Convey("Then the ack is retried without a second broadcast", func() {
				convey.So(log.count("broadcast:9"), convey.ShouldEqual, 1)
				convey.So(r.Stats().AckErrors, convey.ShouldEqual, 2)
				convey.So(r.Stats().PendingAcks, convey.ShouldEqual, 0)
			})
		})
	})
}

func TestRelayShutdown(t *testing.T) {
	convey.Convey("Given a relay", t, func() {
		_ = logging.Init()
		src := &fakeSource{}
		sink := &fakeSink{log: &eventLog{}}

		convey.Convey("When shut down before running", func() {
			r := relay.New(src, sink)

			convey.Convey("Then shutdown returns immediately", func() {
				convey.So(r.Shutdown(context.Background()), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the run context is canceled", func() {
			r := relay.New(src, sink, relay.WithWait(10*time.Millisecond))
			ctx, cancel := context.WithCancel(context.Background())
			errCh := make(chan error, 1)
			go func() { errCh <- r.Run(ctx) }()
			cancel()

			convey.Convey("Then Run returns nil", func() {
				select {
				case err := <-errCh:
					convey.So(err, convey.ShouldBeNil)
				case <-time.After(2 * time.Second):
					t.Fatal("relay did not stop")
				}
			})
		})
	})
}
