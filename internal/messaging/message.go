package messaging

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ContentTypeJSON = "application/json"

	HeaderProtocolVersion = "protocol_version"
	HeaderModelName       = "model_name"
	HeaderDocumentID      = "document_id"

	// DefaultProtocolVersion is stamped on every outbound message and
	// assumed for inbound messages that carry no version header.
	DefaultProtocolVersion = 2

	appID = "matchwire"
)

// Message is the typed envelope the framework moves around: a JSON-compatible
// payload plus the broker metadata that routes it and correlates replies.
// A Message is owned by whichever component is currently processing it and is
// never shared across goroutines.
type Message struct {
	Type          string
	Payload       map[string]any
	Headers       map[string]any
	MessageID     string
	CorrelationID string
	ReplyTo       string
	Expiration    time.Duration
	Timestamp     time.Time
	RoutingKey    string
	ContentType   string
	Persistent    bool
	AppID         string
}

type Option func(*Message)

func WithHeaders(headers map[string]any) Option {
	return func(m *Message) {
		for k, v := range headers {
			m.Headers[k] = v
		}
	}
}

func WithRoutingKey(key string) Option {
	return func(m *Message) { m.RoutingKey = key }
}

func WithReplyTo(dest string) Option {
	return func(m *Message) { m.ReplyTo = dest }
}

func WithCorrelationID(id string) Option {
	return func(m *Message) { m.CorrelationID = id }
}

func WithExpiration(d time.Duration) Option {
	return func(m *Message) { m.Expiration = d }
}

func WithPersistent(persistent bool) Option {
	return func(m *Message) { m.Persistent = persistent }
}

func WithContentType(ct string) Option {
	return func(m *Message) { m.ContentType = ct }
}

// New builds an outbound message: id generated, app tag set, protocol version
// header merged in, persistent unless overridden.
func New(typeName string, payload map[string]any, opts ...Option) *Message {
	if payload == nil {
		payload = map[string]any{}
	}

	m := &Message{
		Type:        typeName,
		Payload:     payload,
		Headers:     map[string]any{HeaderProtocolVersion: DefaultProtocolVersion},
		MessageID:   uuid.NewString(),
		Timestamp:   time.Now(),
		ContentType: ContentTypeJSON,
		Persistent:  true,
		AppID:       appID,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// IsReply reports whether this message answers an earlier request.
func (m *Message) IsReply() bool {
	return m.CorrelationID != ""
}

// NeedsReply reports whether the sender expects an answer.
func (m *Message) NeedsReply() bool {
	return m.ReplyTo != ""
}

// ValidReplyTo reports whether this message is the reply to request: the
// correlation id must match the request's message id and the request's
// reply-to destination must match where this message was actually routed.
// A mismatch means cross-talk between in-flight requests.
func (m *Message) ValidReplyTo(request *Message) bool {
	if request == nil {
		return false
	}
	return m.CorrelationID == request.MessageID && request.ReplyTo == m.RoutingKey
}

// ProtocolVersion returns the version header, or the current default when the
// header is missing or not numeric.
func (m *Message) ProtocolVersion() int {
	v, ok := m.Headers[HeaderProtocolVersion]
	if !ok {
		return DefaultProtocolVersion
	}

	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return DefaultProtocolVersion
	}
}

// GetString reads a payload field as a string; absent or non-string fields
// come back empty.
func (m *Message) GetString(key string) string {
	if v, ok := m.Payload[key].(string); ok {
		return v
	}
	return ""
}

// GetInt reads a payload field as an int, tolerating the float64 values
// json decoding produces.
func (m *Message) GetInt(key string) int {
	switch v := m.Payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func (m *Message) GetBool(key string) bool {
	if v, ok := m.Payload[key].(bool); ok {
		return v
	}
	return false
}

// DecodePayload unmarshals the payload map into a typed struct.
func (m *Message) DecodePayload(out any) error {
	raw, err := json.Marshal(m.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

// Reply builds a response correlated to this message and routed to its
// reply-to destination.
func (m *Message) Reply(typeName string, payload map[string]any) *Message {
	return New(typeName, payload,
		WithCorrelationID(m.MessageID),
		WithRoutingKey(m.ReplyTo),
	)
}

// Serialize renders the message as an AMQP publishing. JSON content types
// encode the payload as the body; anything else passes a raw "body" payload
// field through unchanged.
func (m *Message) Serialize() (amqp.Publishing, error) {
	var body []byte

	if m.ContentType == ContentTypeJSON {
		encoded, err := json.Marshal(m.Payload)
		if err != nil {
			return amqp.Publishing{}, fmt.Errorf("failed to encode message %s: %w", m.MessageID, err)
		}
		body = encoded
	} else if raw, ok := m.Payload["body"].([]byte); ok {
		body = raw
	}

	deliveryMode := amqp.Transient
	if m.Persistent {
		deliveryMode = amqp.Persistent
	}

	var expiration string
	if m.Expiration > 0 {
		expiration = strconv.FormatInt(m.Expiration.Milliseconds(), 10)
	}

	return amqp.Publishing{
		Type:          m.Type,
		Body:          body,
		Headers:       amqp.Table(m.Headers),
		ContentType:   m.ContentType,
		MessageId:     m.MessageID,
		CorrelationId: m.CorrelationID,
		ReplyTo:       m.ReplyTo,
		Expiration:    expiration,
		Timestamp:     m.Timestamp,
		DeliveryMode:  deliveryMode,
		AppId:         m.AppID,
	}, nil
}

// Deserialize turns an inbound delivery back into a typed Message. The type
// field must resolve in the registry and a JSON body must parse; both failures
// are rejections, not defaults.
func Deserialize(d amqp.Delivery, registry *Registry) (*Message, error) {
	if d.Type == "" {
		return nil, &UnknownTypeError{}
	}
	if _, ok := registry.Resolve(d.Type); !ok {
		return nil, &UnknownTypeError{Type: d.Type}
	}

	payload := map[string]any{}
	if d.ContentType == ContentTypeJSON || d.ContentType == "" {
		if len(d.Body) > 0 {
			if err := json.Unmarshal(d.Body, &payload); err != nil {
				return nil, &MalformedPayloadError{Type: d.Type, Err: err}
			}
		}
	} else {
		payload["body"] = d.Body
	}

	headers := map[string]any{}
	for k, v := range d.Headers {
		headers[k] = v
	}

	var expiration time.Duration
	if d.Expiration != "" {
		if ms, err := strconv.ParseInt(d.Expiration, 10, 64); err == nil {
			expiration = time.Duration(ms) * time.Millisecond
		}
	}

	ts := d.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return &Message{
		Type:          d.Type,
		Payload:       payload,
		Headers:       headers,
		MessageID:     d.MessageId,
		CorrelationID: d.CorrelationId,
		ReplyTo:       d.ReplyTo,
		Expiration:    expiration,
		Timestamp:     ts,
		RoutingKey:    d.RoutingKey,
		ContentType:   d.ContentType,
		Persistent:    d.DeliveryMode == amqp.Persistent,
		AppID:         d.AppId,
	}, nil
}
