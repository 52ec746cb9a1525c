package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stonefield/matchwire/internal/infrastructure/logging"
	"github.com/stonefield/matchwire/internal/infrastructure/metrics"
	"github.com/stonefield/matchwire/internal/infrastructure/reporting"
)

// Handler processes one typed message. Returning a non-nil message publishes
// it as the reply; at most one handler per dispatch may do so.
type Handler func(ctx context.Context, msg *Message) (*Message, error)

type registration struct {
	typeName string
	handler  Handler
}

// QueueOptions shapes a QueueWorker's broker binding.
type QueueOptions struct {
	// Name is the logical queue; it doubles as the direct-exchange routing
	// key for point-to-point sends.
	Name string

	// Topics are extra topic-exchange binding patterns, e.g. "server.*".
	Topics []string

	// Exclusive restricts the queue to a single consumer. The MatchMaker
	// relies on this to keep ticket transitions totally ordered.
	Exclusive bool
}

// replySender publishes replies back through the broker. *Publisher is the
// production implementation.
type replySender interface {
	Publish(ctx context.Context, kind ExchangeKind, msg *Message) error
}

// QueueWorker extends Worker with a broker binding: it consumes a queue,
// decodes deliveries into typed messages on the event loop, and dispatches
// them to the handlers registered for each type.
type QueueWorker struct {
	*Worker

	broker    *Broker
	channel   *amqp.Channel
	registry  *Registry
	publisher replySender
	stats     *metrics.Collector

	opts          QueueOptions
	registrations []registration
	consumerTag   string

	// replyTTL bounds how long an unclaimed reply sits on a reply queue
	// before the broker discards it.
	replyTTL time.Duration
}

func NewQueueWorker(
	broker *Broker,
	registry *Registry,
	publisher *Publisher,
	logger logging.Logger,
	reporter reporting.Reporter,
	stats *metrics.Collector,
	opts QueueOptions,
) (*QueueWorker, error) {
	ch, err := broker.Channel()
	if err != nil {
		return nil, err
	}

	qw := &QueueWorker{
		Worker:      NewWorker(opts.Name, logger, reporter),
		broker:      broker,
		channel:     ch,
		registry:    registry,
		stats:       stats,
		opts:        opts,
		consumerTag: opts.Name + "-" + uuid.NewString(),
		replyTTL:    broker.Config().ReplyTimeout,
	}
	if publisher != nil {
		qw.publisher = publisher
	}

	if err := qw.declareAndBind(); err != nil {
		ch.Close()
		return nil, err
	}

	return qw, nil
}

// On registers a handler for a message type. A handler registered for a base
// type also receives every type that extends it. Handlers run in registration
// order.
func (qw *QueueWorker) On(typeName string, handler Handler) {
	qw.registrations = append(qw.registrations, registration{typeName: typeName, handler: handler})
}

// Run starts consuming and enters the event loop. It blocks until Stop.
func (qw *QueueWorker) Run() error {
	deliveries, err := qw.channel.Consume(
		qw.opts.Name,
		qw.consumerTag,
		false, // manual ack
		qw.opts.Exclusive,
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %s: %w", qw.opts.Name, err)
	}

	go func() {
		for d := range deliveries {
			delivery := d
			qw.Schedule(func() {
				qw.dispatch(context.Background(), delivery)
			})
		}
	}()

	qw.Worker.Run()
	return nil
}

// Stop cancels the consumer so no new deliveries arrive, then lets the event
// loop drain.
func (qw *QueueWorker) Stop() {
	if err := qw.channel.Cancel(qw.consumerTag, false); err != nil {
		qw.logger.Warn(logging.Broker, logging.Consume, "failed to cancel consumer", map[logging.ExtraKey]any{
			logging.Queue:        qw.opts.Name,
			logging.ErrorMessage: err.Error(),
		})
	}
	qw.Worker.Stop()
}

func (qw *QueueWorker) dispatch(ctx context.Context, d amqp.Delivery) {
	if qw.stats != nil {
		qw.stats.Consumed.WithLabelValues(qw.opts.Name).Inc()
	}

	res := newResolver(d, qw.stats)

	msg, err := Deserialize(d, qw.registry)
	if err != nil {
		qw.logger.Error(logging.Dispatch, logging.Handler, "undecodable delivery rejected", map[logging.ExtraKey]any{
			logging.Queue:        qw.opts.Name,
			logging.MessageType:  d.Type,
			logging.Envelope:     fmt.Sprintf("%+v", d),
			logging.ErrorMessage: err.Error(),
		})
		qw.reporter.CaptureError(err, map[string]string{"queue": qw.opts.Name, "type": d.Type})
		if qw.stats != nil {
			qw.stats.DispatchErrors.WithLabelValues("decode").Inc()
		}
		res.Reject()
		return
	}

	qw.DispatchMessage(ctx, msg, res)
}

// DispatchMessage runs the registered handlers for msg in order and settles
// the delivery exactly once. It is the single place the ack/reject and
// default-reply contracts live.
func (qw *QueueWorker) DispatchMessage(ctx context.Context, msg *Message, res *Resolver) {
	schema, _ := qw.registry.Resolve(msg.Type)
	handlers := qw.matchHandlers(msg.Type)

	if len(handlers) == 0 {
		if msg.IsReply() {
			// A reply nobody is waiting for; legitimate when requests race.
			qw.logger.Debug(logging.Dispatch, logging.Reply, "orphan reply discarded", map[logging.ExtraKey]any{
				logging.Queue:         qw.opts.Name,
				logging.MessageID:     msg.MessageID,
				logging.CorrelationID: msg.CorrelationID,
			})
			if qw.stats != nil {
				qw.stats.OrphanReplies.Inc()
			}
			res.Ack()
			return
		}

		// A known type this queue has no handler for points at a binding
		// mistake. Acked so it cannot loop, but never answered with a
		// success it did not earn.
		qw.logger.Warn(logging.Dispatch, logging.Handler, "no handler registered for message type", map[logging.ExtraKey]any{
			logging.Queue:       qw.opts.Name,
			logging.MessageID:   msg.MessageID,
			logging.MessageType: msg.Type,
		})
		if qw.stats != nil {
			qw.stats.DispatchErrors.WithLabelValues("unhandled").Inc()
		}
		res.Ack()
		return
	}

	ctx = WithProtocolVersion(ctx, msg.ProtocolVersion())

	if qw.stats != nil {
		qw.stats.Dispatched.WithLabelValues(msg.Type).Inc()
	}

	var reply *Message
	for _, h := range handlers {
		out, err := h(ctx, msg)
		if err != nil {
			qw.handleDispatchError(ctx, msg, schema, res, err)
			return
		}
		if out == nil {
			continue
		}
		if reply != nil {
			// Two handlers answering one request is a registration bug;
			// stop this dispatch loudly instead of picking one.
			panic(fmt.Errorf("%w: type %s on queue %s", ErrConflictingReply, msg.Type, qw.opts.Name))
		}
		reply = out
	}

	if reply == nil && msg.NeedsReply() {
		reply = NewSuccessReply(msg)
	}

	if reply != nil {
		qw.sendReply(ctx, msg, reply, "success")
	}

	res.Ack()
}

func (qw *QueueWorker) handleDispatchError(ctx context.Context, msg *Message, schema Schema, res *Resolver, err error) {
	qw.logger.Error(logging.Dispatch, logging.Handler, "handler failed", map[logging.ExtraKey]any{
		logging.Queue:        qw.opts.Name,
		logging.MessageID:    msg.MessageID,
		logging.MessageType:  msg.Type,
		logging.ErrorMessage: err.Error(),
	})
	qw.reporter.CaptureError(err, map[string]string{"queue": qw.opts.Name, "type": msg.Type})
	if qw.stats != nil {
		qw.stats.DispatchErrors.WithLabelValues("handler").Inc()
	}

	if schema.DrainOnError {
		// Self-test poison: acknowledged so it never loops, never replied.
		res.Ack()
		return
	}

	if msg.NeedsReply() {
		qw.sendReply(ctx, msg, NewFailureReply(msg, err.Error()), "failure")
	}

	// No requeue: a poison message must not reprocess forever.
	res.Reject()
}

func (qw *QueueWorker) sendReply(ctx context.Context, request, reply *Message, outcome string) {
	if qw.publisher == nil {
		return
	}

	// A reply whose requester already gave up should die on the broker, not
	// sit on the reply queue until the next restart.
	if reply.Expiration == 0 && qw.replyTTL > 0 {
		reply.Expiration = qw.replyTTL
	}

	if err := qw.publisher.Publish(ctx, Direct, reply); err != nil {
		qw.logger.Error(logging.Broker, logging.Reply, "failed to publish reply", map[logging.ExtraKey]any{
			logging.MessageID:     reply.MessageID,
			logging.CorrelationID: reply.CorrelationID,
			logging.ErrorMessage:  err.Error(),
		})
		qw.reporter.CaptureError(err, map[string]string{"queue": qw.opts.Name, "type": request.Type})
		return
	}

	if qw.stats != nil {
		qw.stats.RepliesSent.WithLabelValues(outcome).Inc()
	}
}

func (qw *QueueWorker) matchHandlers(typeName string) []Handler {
	ancestry := qw.registry.Ancestry(typeName)
	if len(ancestry) == 0 {
		return nil
	}

	matches := make(map[string]bool, len(ancestry))
	for _, name := range ancestry {
		matches[name] = true
	}

	var handlers []Handler
	for _, reg := range qw.registrations {
		if matches[reg.typeName] {
			handlers = append(handlers, reg.handler)
		}
	}

	return handlers
}

func (qw *QueueWorker) declareAndBind() error {
	err := qw.declareQueue()
	if isPreconditionFailed(err) {
		// Parameters changed since the queue was first declared. The
		// failed declare killed the channel, so reopen, then delete and
		// recreate the queue with the new parameters.
		qw.logger.Warn(logging.Broker, logging.Topology, "queue parameters changed, recreating", map[logging.ExtraKey]any{
			logging.Queue: qw.opts.Name,
		})

		qw.channel, err = qw.broker.Channel()
		if err != nil {
			return err
		}
		if _, err := qw.channel.QueueDelete(qw.opts.Name, false, false, false); err != nil {
			return fmt.Errorf("failed to delete queue %s: %w", qw.opts.Name, err)
		}
		err = qw.declareQueue()
	}
	if err != nil {
		return err
	}

	cfg := qw.broker.Config()

	if err := qw.channel.QueueBind(qw.opts.Name, qw.opts.Name, cfg.DirectExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s to direct exchange: %w", qw.opts.Name, err)
	}
	if err := qw.channel.QueueBind(qw.opts.Name, "", cfg.FanoutExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s to fanout exchange: %w", qw.opts.Name, err)
	}
	for _, pattern := range qw.opts.Topics {
		if err := qw.channel.QueueBind(qw.opts.Name, pattern, cfg.TopicExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s to topic %s: %w", qw.opts.Name, pattern, err)
		}
	}

	if err := qw.channel.Qos(cfg.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch on queue %s: %w", qw.opts.Name, err)
	}

	return nil
}

func (qw *QueueWorker) declareQueue() error {
	_, err := qw.channel.QueueDeclare(
		qw.opts.Name,
		true, // durable
		false,
		qw.opts.Exclusive,
		false,
		nil,
	)
	return err
}

func isPreconditionFailed(err error) bool {
	var amqpErr *amqp.Error
	return errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed
}
