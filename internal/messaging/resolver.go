package messaging

import (
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stonefield/matchwire/internal/infrastructure/metrics"
)

// Resolver settles one delivery exactly once. Invariant: every dispatched
// delivery is acked or rejected exactly once; a second settlement attempt is
// a no-op rather than a double-count on the channel.
type Resolver struct {
	acker    amqp.Acknowledger
	tag      uint64
	stats    *metrics.Collector
	resolved bool
}

func newResolver(d amqp.Delivery, stats *metrics.Collector) *Resolver {
	return &Resolver{
		acker: d.Acknowledger,
		tag:   d.DeliveryTag,
		stats: stats,
	}
}

// NewTestResolver builds a resolver around an explicit acknowledger. It
// exists for exercising dispatch without a live broker.
func NewTestResolver(acker amqp.Acknowledger, tag uint64) *Resolver {
	return &Resolver{acker: acker, tag: tag}
}

func (r *Resolver) Ack() error {
	if r.resolved {
		return ErrAlreadyResolved
	}
	r.resolved = true

	if r.stats != nil {
		r.stats.Acked.Inc()
	}
	if r.acker == nil {
		return nil
	}
	return r.acker.Ack(r.tag, false)
}

// Reject drops the delivery without requeue.
func (r *Resolver) Reject() error {
	if r.resolved {
		return ErrAlreadyResolved
	}
	r.resolved = true

	if r.stats != nil {
		r.stats.Rejected.Inc()
	}
	if r.acker == nil {
		return nil
	}
	return r.acker.Reject(r.tag, false)
}

// Resolved reports whether the delivery has been settled.
func (r *Resolver) Resolved() bool {
	return r.resolved
}
