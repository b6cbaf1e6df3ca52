// Package relay moves stablecoin transfer records from the upstream stream
// into the broadcast hub.
//
// Records are acknowledged only after the hub accepted them. Redeliveries are
// recognised by a bounded dedupe window, malformed records are skipped, and
// upstream failures are retried with exponential backoff for as long as the
// relay runs.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/okian/stablezoo/internal/domain/dedupe"
	"github.com/okian/stablezoo/internal/domain/model"
	"github.com/okian/stablezoo/pkg/logger"
	"github.com/okian/stablezoo/pkg/metrics"
)

const (
	defaultBatchSize     = 10
	defaultWait          = time.Second
	defaultBackoffBase   = time.Second
	defaultBackoffMax    = 30 * time.Second
	defaultStatsInterval = 30 * time.Second
	defaultIdleWarning   = 60 * time.Second
	defaultAddrDisplay   = 10
)

// Outcome labels.
const (
	outcomeRelayed   = "relayed"
	outcomeMalformed = "malformed"
	outcomeDuplicate = "duplicate"
	outcomeRefused   = "refused"
)

// Delivery is one record handed out by a Source.
type Delivery interface {
	Sequence() uint64
	Data() []byte
	// Ack confirms the record so it is not delivered again.
	Ack(ctx context.Context) error
	// Nak asks upstream to redeliver the record.
	Nak(ctx context.Context) error
}

// Source is a consumer-group cursor over the upstream stream.
type Source interface {
	// Fetch returns up to batch records, waiting at most wait when none are
	// available. An empty result with a nil error means nothing arrived.
	Fetch(ctx context.Context, batch int, wait time.Duration) ([]Delivery, error)
	Connected() bool
	Close() error
}

// Sink accepts decoded events. The websocket hub is the production Sink.
type Sink interface {
	Broadcast(ev model.StreamEvent) error
}

// Stats is a point-in-time view of relay counters.
type Stats struct {
	Relayed     uint64    `json:"relayed"`
	Malformed   uint64    `json:"malformed"`
	Duplicates  uint64    `json:"duplicates"`
	Refused     uint64    `json:"refused"`
	FetchErrors uint64    `json:"fetch_errors"`
	AckErrors   uint64    `json:"ack_errors"`
	PendingAcks int       `json:"pending_acks"`
	LastEventAt time.Time `json:"last_event_at"`
	Connected   bool      `json:"connected"`
}

// Relay runs the fetch, broadcast, acknowledge loop.
type Relay struct {
	src    Source
	sink   Sink
	dedupe dedupe.Deduper

	batchSize     int
	wait          time.Duration
	backoffBase   time.Duration
	backoffMax    time.Duration
	statsInterval time.Duration
	idleWarning   time.Duration
	addrDisplay   int

	// pending holds records that reached the hub but whose ack failed.
	// Only the Run goroutine touches it; pendingLen mirrors its size.
	pending    []Delivery
	pendingLen atomic.Int64

	relayed     atomic.Uint64
	malformed   atomic.Uint64
	duplicates  atomic.Uint64
	refused     atomic.Uint64
	fetchErrors atomic.Uint64
	ackErrors   atomic.Uint64
	lastEventAt atomic.Int64

	started      atomic.Bool
	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// New creates a relay from src into sink.
func New(src Source, sink Sink, opts ...Option) *Relay {
	r := &Relay{
		src:           src,
		sink:          sink,
		batchSize:     defaultBatchSize,
		wait:          defaultWait,
		backoffBase:   defaultBackoffBase,
		backoffMax:    defaultBackoffMax,
		statsInterval: defaultStatsInterval,
		idleWarning:   defaultIdleWarning,
		addrDisplay:   defaultAddrDisplay,
		shutdown:      make(chan struct{}),
		done:          make(chan struct{}),
		logger:        logger.Get().Named("relay"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.dedupe == nil {
		r.dedupe = dedupe.NewInMemoryDeduper()
	}
	return r
}

// Run relays until ctx is canceled or Shutdown is called. The batch in hand
// when stopping is completed. It returns nil on a clean stop.
func (r *Relay) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("relay: already running")
	}
	defer close(r.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.shutdown:
			cancel()
		case <-ctx.Done():
		}
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.backoffBase
	bo.MaxInterval = r.backoffMax
	bo.Reset()

	statsTicker := time.NewTicker(r.statsInterval)
	defer statsTicker.Stop()

	r.lastEventAt.Store(time.Now().UnixNano())
	idleWarned := false

	r.logger.Info(ctx, "relay started",
		logger.Int("batch_size", r.batchSize),
		logger.Duration("wait", r.wait))

	for ctx.Err() == nil {
		select {
		case <-statsTicker.C:
			r.logStats(ctx)
		default:
		}

		if err := r.flushPending(ctx); err != nil {
			r.sleep(ctx, bo, "pending acknowledgements failed", err)
			continue
		}

		batch, err := r.src.Fetch(ctx, r.batchSize, r.wait)
		metrics.UpdateUpstreamConnected(r.src.Connected())
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			r.fetchErrors.Add(1)
			metrics.RecordRelayFetchError()
			r.sleep(ctx, bo, "fetch failed", err)
			continue
		}
		bo.Reset()
		metrics.UpdateRelayBackoff(0)

		if len(batch) == 0 {
			idle := time.Since(time.Unix(0, r.lastEventAt.Load()))
			if !idleWarned && idle >= r.idleWarning {
				r.logger.Warn(ctx, "no records received", logger.Duration("idle", idle.Round(time.Second)))
				idleWarned = true
			}
			continue
		}
		idleWarned = false
		r.lastEventAt.Store(time.Now().UnixNano())
		r.process(ctx, batch)
	}

	if n := len(r.pending); n > 0 {
		r.logger.Warn(ctx, "leaving unacknowledged records for redelivery", logger.Int("count", n))
	}
	r.logStats(ctx)
	r.logger.Info(ctx, "relay stopped")
	return nil
}

// process relays one batch. Acknowledgements are not tied to ctx so a stop
// request does not leave the batch half handled.
func (r *Relay) process(ctx context.Context, batch []Delivery) {
	start := time.Now()
	defer func() { metrics.RecordRelayBatchLatency(time.Since(start).Seconds()) }()

	ackCtx := context.WithoutCancel(ctx)
	for _, d := range batch {
		ev, err := model.DecodeStreamEvent(d.Data(), d.Sequence())
		if err != nil {
			r.malformed.Add(1)
			metrics.RecordRelayOutcome(outcomeMalformed)
			r.logger.Warn(ctx, "skipping malformed record",
				logger.Uint64("sequence", d.Sequence()),
				logger.Error(err))
			r.ack(ackCtx, d)
			continue
		}

		key := ev.Key()
		if r.dedupe.SeenAndRecord(ctx, key) {
			r.duplicates.Add(1)
			metrics.RecordRelayOutcome(outcomeDuplicate)
			r.logger.Debug(ctx, "duplicate record", logger.String("key", key))
			r.ack(ackCtx, d)
			continue
		}

		if err := r.sink.Broadcast(ev); err != nil {
			r.dedupe.Unrecord(ctx, key)
			r.refused.Add(1)
			metrics.RecordRelayOutcome(outcomeRefused)
			r.logger.Warn(ctx, "hub refused record, requesting redelivery",
				logger.Uint64("sequence", d.Sequence()),
				logger.Error(err))
			if err := d.Nak(ackCtx); err != nil {
				r.logger.Warn(ctx, "nak failed", logger.Uint64("sequence", d.Sequence()), logger.Error(err))
			}
			continue
		}

		r.relayed.Add(1)
		metrics.RecordRelayOutcome(outcomeRelayed)
		r.logger.Debug(ctx, "relayed", logger.String("event", ev.Display(r.addrDisplay)))
		r.ack(ackCtx, d)
	}
}

func (r *Relay) ack(ctx context.Context, d Delivery) {
	if err := d.Ack(ctx); err != nil {
		r.ackErrors.Add(1)
		metrics.RecordRelayAckError()
		r.logger.Warn(ctx, "ack failed, will retry",
			logger.Uint64("sequence", d.Sequence()),
			logger.Error(err))
		r.pending = append(r.pending, d)
		r.pendingLen.Store(int64(len(r.pending)))
	}
}

// flushPending retries failed acknowledgements. It returns an error when any
// remain unacknowledged.
func (r *Relay) flushPending(ctx context.Context) error {
	if len(r.pending) == 0 {
		return nil
	}
	ackCtx := context.WithoutCancel(ctx)
	var (
		kept    []Delivery
		lastErr error
	)
	for _, d := range r.pending {
		if err := d.Ack(ackCtx); err != nil {
			r.ackErrors.Add(1)
			metrics.RecordRelayAckError()
			kept = append(kept, d)
			lastErr = err
		}
	}
	r.pending = kept
	r.pendingLen.Store(int64(len(kept)))
	if lastErr != nil {
		return fmt.Errorf("%d acknowledgements pending: %w", len(kept), lastErr)
	}
	return nil
}

func (r *Relay) sleep(ctx context.Context, bo *backoff.ExponentialBackOff, msg string, cause error) {
	d := bo.NextBackOff()
	if d == backoff.Stop {
		d = r.backoffMax
	}
	metrics.UpdateRelayBackoff(d.Seconds())
	r.logger.Warn(ctx, msg, logger.Error(cause), logger.Duration("retry_in", d))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (r *Relay) logStats(ctx context.Context) {
	s := r.Stats()
	r.logger.Info(ctx, "relay stats",
		logger.Uint64("relayed", s.Relayed),
		logger.Uint64("malformed", s.Malformed),
		logger.Uint64("duplicates", s.Duplicates),
		logger.Uint64("refused", s.Refused),
		logger.Int("pending_acks", s.PendingAcks),
		logger.Int64("dedupe_size", r.dedupe.Size()),
		logger.Bool("upstream_connected", s.Connected))
}

// Stats returns the relay counters.
func (r *Relay) Stats() Stats {
	s := Stats{
		Relayed:     r.relayed.Load(),
		Malformed:   r.malformed.Load(),
		Duplicates:  r.duplicates.Load(),
		Refused:     r.refused.Load(),
		FetchErrors: r.fetchErrors.Load(),
		AckErrors:   r.ackErrors.Load(),
		PendingAcks: int(r.pendingLen.Load()),
		Connected:   r.src.Connected(),
	}
	if ns := r.lastEventAt.Load(); ns > 0 {
		s.LastEventAt = time.Unix(0, ns)
	}
	return s
}

// Shutdown stops Run and waits for it to return or ctx to expire.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.shutdownOnce.Do(func() { close(r.shutdown) })
	if !r.started.Load() {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		r.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("relay shutdown timed out: %w", ctx.Err())
	}
}
