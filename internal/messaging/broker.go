package messaging

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stonefield/matchwire/internal/infrastructure/configs"
	"github.com/stonefield/matchwire/internal/infrastructure/logging"
)

// ExchangeKind selects which of the three process-wide exchanges a publish
// goes through.
type ExchangeKind int

const (
	Direct ExchangeKind = iota
	Fanout
	Topic
)

func (k ExchangeKind) String() string {
	switch k {
	case Direct:
		return "direct"
	case Fanout:
		return "fanout"
	case Topic:
		return "topic"
	}
	return "unknown"
}

// Broker owns the process-wide AMQP connection and the exchange topology.
// Each worker and publisher opens its own channel so they cannot interfere
// with one another.
type Broker struct {
	conn   *amqp.Connection
	cfg    configs.BrokerConfig
	logger logging.Logger
}

func Connect(cfg configs.BrokerConfig, logger logging.Logger) (*Broker, error) {
	conn, err := amqp.Dial(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	b := &Broker{
		conn:   conn,
		cfg:    cfg,
		logger: logger,
	}

	if err := b.declareExchanges(); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info(logging.Broker, logging.Startup, "connected to broker", map[logging.ExtraKey]any{
		logging.Exchange: cfg.DirectExchange,
	})

	return b, nil
}

func (b *Broker) declareExchanges() error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to create channel: %w", err)
	}
	defer ch.Close()

	exchanges := []struct {
		name string
		kind string
	}{
		{b.cfg.DirectExchange, "direct"},
		{b.cfg.FanoutExchange, "fanout"},
		{b.cfg.TopicExchange, "topic"},
	}

	for _, ex := range exchanges {
		if err := ch.ExchangeDeclare(
			ex.name,
			ex.kind,
			true,  // durable
			false, // auto-delete
			false, // internal
			false, // no-wait
			nil,
		); err != nil {
			return fmt.Errorf("failed to declare %s exchange %s: %w", ex.kind, ex.name, err)
		}
	}

	return nil
}

// ExchangeName maps an exchange kind to its configured name.
func (b *Broker) ExchangeName(kind ExchangeKind) string {
	switch kind {
	case Direct:
		return b.cfg.DirectExchange
	case Fanout:
		return b.cfg.FanoutExchange
	case Topic:
		return b.cfg.TopicExchange
	}
	return ""
}

// Channel opens a fresh channel on the shared connection.
func (b *Broker) Channel() (*amqp.Channel, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	return ch, nil
}

func (b *Broker) Config() configs.BrokerConfig {
	return b.cfg
}

func (b *Broker) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}
