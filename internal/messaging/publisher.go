package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stonefield/matchwire/internal/infrastructure/logging"
	"github.com/stonefield/matchwire/internal/infrastructure/metrics"
)

// Publisher sends messages through the broker's exchanges and implements the
// synchronous request/await-reply pattern on top of the asynchronous broker.
type Publisher struct {
	broker   *Broker
	channel  *amqp.Channel
	registry *Registry
	logger   logging.Logger
	stats    *metrics.Collector

	replyMu    sync.Mutex
	replyQueue string
	pending    map[string]struct{}
}

// replyDisposition is what Request does with a delivery from the shared reply
// queue.
type replyDisposition int

const (
	// replyMatched answers the caller's own request.
	replyMatched replyDisposition = iota
	// replyRequeue belongs to another request still in flight on this
	// publisher; put it back for that waiter.
	replyRequeue
	// replyDrop answers a request nobody is waiting on anymore. Requeueing
	// it would make the broker redeliver it forever.
	replyDrop
)

func NewPublisher(broker *Broker, registry *Registry, logger logging.Logger, stats *metrics.Collector) (*Publisher, error) {
	ch, err := broker.Channel()
	if err != nil {
		return nil, err
	}

	return &Publisher{
		broker:   broker,
		channel:  ch,
		registry: registry,
		logger:   logger,
		stats:    stats,
		pending:  make(map[string]struct{}),
	}, nil
}

// Publish hands the message to the broker for asynchronous delivery. There is
// no delivery guarantee, only acceptance by the channel.
func (p *Publisher) Publish(ctx context.Context, kind ExchangeKind, msg *Message) error {
	pub, err := msg.Serialize()
	if err != nil {
		return err
	}

	routingKey := msg.RoutingKey
	if kind == Fanout {
		routingKey = ""
	}

	if err := p.channel.PublishWithContext(
		ctx,
		p.broker.ExchangeName(kind),
		routingKey,
		false, // mandatory
		false, // immediate
		pub,
	); err != nil {
		return fmt.Errorf("failed to publish message %s: %w", msg.MessageID, err)
	}

	if p.stats != nil {
		p.stats.Published.WithLabelValues(kind.String()).Inc()
	}

	p.logger.Debug(logging.Broker, logging.Publish, "published message", map[logging.ExtraKey]any{
		logging.MessageID:   msg.MessageID,
		logging.MessageType: msg.Type,
		logging.RoutingKey:  msg.RoutingKey,
	})

	return nil
}

// Request publishes msg to its routing key on the direct exchange and blocks
// the calling goroutine until the correlated reply arrives or the timeout
// elapses.
//
// All in-flight requests from one publisher share a single exclusive,
// auto-deleted reply queue. Each call consumes with its own consumer tag and
// inspects every delivery it is handed: a matching correlation id is acked
// and returned; one correlated to another in-flight request is requeued for
// its waiter; one correlated to nothing in flight (its requester already
// timed out) is acked and dropped. The consumer is always cancelled on the
// way out.
func (p *Publisher) Request(ctx context.Context, msg *Message, timeout time.Duration) (*Message, error) {
	if timeout <= 0 {
		timeout = p.broker.Config().ReplyTimeout
	}

	replyQueue, err := p.ensureReplyQueue()
	if err != nil {
		return nil, err
	}
	msg.ReplyTo = replyQueue

	p.trackPending(msg.MessageID)
	defer p.untrackPending(msg.MessageID)

	tag := "request-" + uuid.NewString()
	deliveries, err := p.channel.Consume(
		replyQueue,
		tag,
		false, // manual ack: only the matching waiter acks
		false, // exclusive consumer would break concurrent waiters
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume reply queue: %w", err)
	}
	defer func() {
		if cancelErr := p.channel.Cancel(tag, false); cancelErr != nil {
			p.logger.Warn(logging.Broker, logging.Reply, "failed to cancel reply consumer", map[logging.ExtraKey]any{
				logging.ErrorMessage: cancelErr.Error(),
			})
		}
	}()

	if err := p.Publish(ctx, Direct, msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return nil, fmt.Errorf("reply consumer closed while awaiting message %s", msg.MessageID)
			}

			reply, err := Deserialize(d, p.registry)
			if err != nil {
				// Garbage on our private reply queue; drop it.
				d.Reject(false)
				p.logger.Debug(logging.Broker, logging.Reply, "undecodable reply dropped", map[logging.ExtraKey]any{
					logging.ErrorMessage: err.Error(),
				})
				continue
			}

			switch p.classifyReply(reply, msg) {
			case replyRequeue:
				d.Reject(true)
				continue
			case replyDrop:
				d.Ack(false)
				if p.stats != nil {
					p.stats.OrphanReplies.Inc()
				}
				p.logger.Debug(logging.Broker, logging.Reply, "unclaimed reply dropped", map[logging.ExtraKey]any{
					logging.MessageID:     reply.MessageID,
					logging.CorrelationID: reply.CorrelationID,
				})
				continue
			}

			d.Ack(false)
			return reply, nil

		case <-timer.C:
			if p.stats != nil {
				p.stats.ReplyTimeouts.Inc()
			}
			return nil, &ReplyTimeoutError{
				MessageID:   msg.MessageID,
				Destination: msg.RoutingKey,
				Timeout:     timeout,
			}

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// classifyReply decides how a delivery from the shared reply queue is settled
// relative to the caller's own request.
func (p *Publisher) classifyReply(reply, request *Message) replyDisposition {
	if reply.ValidReplyTo(request) {
		return replyMatched
	}
	if p.isPending(reply.CorrelationID) {
		return replyRequeue
	}
	return replyDrop
}

func (p *Publisher) trackPending(messageID string) {
	p.replyMu.Lock()
	p.pending[messageID] = struct{}{}
	p.replyMu.Unlock()
}

func (p *Publisher) untrackPending(messageID string) {
	p.replyMu.Lock()
	delete(p.pending, messageID)
	p.replyMu.Unlock()
}

func (p *Publisher) isPending(correlationID string) bool {
	if correlationID == "" {
		return false
	}
	p.replyMu.Lock()
	defer p.replyMu.Unlock()
	_, ok := p.pending[correlationID]
	return ok
}

func (p *Publisher) ensureReplyQueue() (string, error) {
	p.replyMu.Lock()
	defer p.replyMu.Unlock()

	if p.replyQueue != "" {
		return p.replyQueue, nil
	}

	q, err := p.channel.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // auto-delete
		true,  // exclusive to this connection
		false, // no-wait
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("failed to declare reply queue: %w", err)
	}

	// Replies travel the direct exchange like every other message, so the
	// queue's own name becomes its routing key.
	cfg := p.broker.Config()
	if err := p.channel.QueueBind(q.Name, q.Name, cfg.DirectExchange, false, nil); err != nil {
		return "", fmt.Errorf("failed to bind reply queue: %w", err)
	}

	p.replyQueue = q.Name
	return q.Name, nil
}

func (p *Publisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
}
