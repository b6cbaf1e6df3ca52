// Package natsstream connects the relay to a NATS JetStream stream of
// stablecoin transfers.
package natsstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/okian/stablezoo/internal/config"
	"github.com/okian/stablezoo/pkg/logger"
	"github.com/okian/stablezoo/pkg/metrics"
)

// ErrDial is wrapped by every connection failure.
var ErrDial = errors.New("natsstream: dial failed")

const (
	defaultAckWait       = 30 * time.Second
	defaultRetries       = 5
	defaultReconnectWait = 2 * time.Second
)

// Options configures Dial.
type Options struct {
	URL     string
	Stream  string
	Subject string
	// Name identifies this process to the server.
	Name string
	// Retries bounds connection attempts. Zero means the default of five.
	Retries     int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	AckWait     time.Duration
}

// Client is a connected JetStream handle bound to one stream.
type Client struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	stream  jetstream.Stream
	subject string
	ackWait time.Duration
	logger  logger.Logger
}

// Dial connects with exponential backoff and makes sure the stream exists,
// creating it with opts.Subject when it does not.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.URL == "" || opts.Stream == "" || opts.Subject == "" {
		return nil, fmt.Errorf("%w: url, stream and subject are required", ErrDial)
	}
	if opts.Retries <= 0 {
		opts.Retries = defaultRetries
	}
	if opts.AckWait <= 0 {
		opts.AckWait = defaultAckWait
	}
	log := logger.Get().Named("natsstream")

	bo := backoff.NewExponentialBackOff()
	if opts.BackoffBase > 0 {
		bo.InitialInterval = opts.BackoffBase
	}
	if opts.BackoffMax > 0 {
		bo.MaxInterval = opts.BackoffMax
	}

	attempt := 0
	nc, err := backoff.Retry(ctx, func() (*nats.Conn, error) {
		attempt++
		nc, err := nats.Connect(opts.URL,
			nats.Name(opts.Name),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(defaultReconnectWait),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				metrics.UpdateUpstreamConnected(false)
				log.Warn(context.Background(), "upstream disconnected", logger.Error(err))
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				metrics.UpdateUpstreamConnected(true)
				log.Info(context.Background(), "upstream reconnected", logger.String("server", c.ConnectedUrlRedacted()))
			}),
		)
		if err != nil {
			log.Warn(ctx, "connect attempt failed",
				logger.Int("attempt", attempt),
				logger.String("url", config.MaskURL(opts.URL)),
				logger.Error(err))
			return nil, err
		}
		return nc, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(opts.Retries)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrDial, config.MaskURL(opts.URL), attempt, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: jetstream: %v", ErrDial, err)
	}

	stream, err := js.Stream(ctx, opts.Stream)
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		log.Info(ctx, "creating stream", logger.String("stream", opts.Stream), logger.String("subject", opts.Subject))
		stream, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:     opts.Stream,
			Subjects: []string{opts.Subject},
		})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: stream %s: %v", ErrDial, opts.Stream, err)
	}

	metrics.UpdateUpstreamConnected(true)
	log.Info(ctx, "connected to upstream",
		logger.String("url", config.MaskURL(opts.URL)),
		logger.String("stream", opts.Stream))

	return &Client{
		nc:      nc,
		js:      js,
		stream:  stream,
		subject: opts.Subject,
		ackWait: opts.AckWait,
		logger:  log,
	}, nil
}

// Source creates or updates the durable pull consumer shared by every
// instance in the group and returns a cursor over it.
func (c *Client) Source(ctx context.Context, group string) (*Source, error) {
	cons, err := c.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       group,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.ackWait,
		FilterSubject: c.subject,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("consumer %s: %w", group, err)
	}
	return &Source{client: c, cons: cons}, nil
}

// Publish appends one record to the stream. msgID lets the server drop
// duplicate publishes.
func (c *Client) Publish(ctx context.Context, data []byte, msgID string) (uint64, error) {
	var opts []jetstream.PublishOpt
	if msgID != "" {
		opts = append(opts, jetstream.WithMsgID(msgID))
	}
	ack, err := c.js.Publish(ctx, c.subject, data, opts...)
	if err != nil {
		return 0, fmt.Errorf("publish: %w", err)
	}
	return ack.Sequence, nil
}

// Connected reports whether the connection is currently up.
func (c *Client) Connected() bool {
	return c.nc != nil && c.nc.IsConnected()
}

// Close drains the connection.
func (c *Client) Close() error {
	if c.nc == nil || c.nc.IsClosed() {
		return nil
	}
	metrics.UpdateUpstreamConnected(false)
	return c.nc.Drain()
}
