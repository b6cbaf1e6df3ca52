package queue

// Option applies a configuration option to the Outbox.
type Option func(*Outbox)

// WithCapacity sets the maximum number of queued messages.
func WithCapacity(capacity int) Option {
	return func(o *Outbox) {
		if capacity > 0 {
			o.capacity = capacity
		}
	}
}

// WithName labels the outbox in metrics, e.g. "events" or "replies".
func WithName(name string) Option {
	return func(o *Outbox) {
		if name != "" {
			o.name = name
		}
	}
}
