package natsstream

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/okian/stablezoo/internal/adapters/mq/relay"
)

// Source is a relay.Source over a durable pull consumer.
type Source struct {
	client *Client
	cons   jetstream.Consumer
}

var _ relay.Source = (*Source)(nil)

// Fetch pulls up to batch messages, waiting at most wait.
func (s *Source) Fetch(ctx context.Context, batch int, wait time.Duration) ([]relay.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msgs, err := s.cons.Fetch(batch, jetstream.FetchMaxWait(wait))
	if err != nil {
		return nil, err
	}

	out := make([]relay.Delivery, 0, batch)
	for msg := range msgs.Messages() {
		out = append(out, newDelivery(msg))
	}
	if err := msgs.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, jetstream.ErrNoMessages) {
		if len(out) > 0 {
			// Hand over what arrived; the error surfaces on the next fetch.
			return out, nil
		}
		return nil, err
	}
	return out, nil
}

// Connected reports the state of the underlying connection.
func (s *Source) Connected() bool {
	return s.client.Connected()
}

// Close closes the client the source was created from.
func (s *Source) Close() error {
	return s.client.Close()
}

type delivery struct {
	msg jetstream.Msg
	seq uint64
}

func newDelivery(msg jetstream.Msg) *delivery {
	d := &delivery{msg: msg}
	if md, err := msg.Metadata(); err == nil {
		d.seq = md.Sequence.Stream
	}
	return d
}

func (d *delivery) Sequence() uint64 { return d.seq }
func (d *delivery) Data() []byte     { return d.msg.Data() }

// Ack waits for the server to confirm the acknowledgement.
func (d *delivery) Ack(ctx context.Context) error {
	return d.msg.DoubleAck(ctx)
}

func (d *delivery) Nak(_ context.Context) error {
	return d.msg.Nak()
}
