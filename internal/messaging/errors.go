package messaging

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrPollArguments    = errors.New("poll requires exactly one of interval or delay")
	ErrWorkerStopped    = errors.New("worker is stopped")
	ErrAlreadyResolved  = errors.New("delivery already acked or rejected")
	ErrDuplicateSchema  = errors.New("message type already registered")
	ErrMissingReplyTo   = errors.New("message has no reply-to destination")
	ErrConflictingReply = errors.New("multiple handlers returned a reply for one dispatch")
)

// UnknownTypeError marks an inbound delivery whose type field is missing or
// does not resolve to a registered schema. Such messages are rejected, never
// defaulted.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	if e.Type == "" {
		return "message has no type"
	}
	return fmt.Sprintf("unknown message type %q", e.Type)
}

// MalformedPayloadError marks a body that claims a JSON content type but does
// not parse.
type MalformedPayloadError struct {
	Type string
	Err  error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed payload for message type %q: %v", e.Type, e.Err)
}

func (e *MalformedPayloadError) Unwrap() error {
	return e.Err
}

// ReplyTimeoutError is returned by Publisher.Request when no correlated reply
// arrived within the deadline. It names the original message so callers can
// tell a timeout from a delivery failure.
type ReplyTimeoutError struct {
	MessageID   string
	Destination string
	Timeout     time.Duration
}

func (e *ReplyTimeoutError) Error() string {
	return fmt.Sprintf("no reply to message %s on %s within %s", e.MessageID, e.Destination, e.Timeout)
}
