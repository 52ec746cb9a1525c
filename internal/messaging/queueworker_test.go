package messaging

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stonefield/matchwire/internal/infrastructure/logging"
	"github.com/stonefield/matchwire/internal/infrastructure/reporting"
)

// fakeAcker records settle calls the way a live channel would receive them.
type fakeAcker struct {
	acks    int
	rejects int
}

func (a *fakeAcker) Ack(tag uint64, multiple bool) error {
	a.acks++
	return nil
}

func (a *fakeAcker) Nack(tag uint64, multiple bool, requeue bool) error {
	return nil
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	a.rejects++
	return nil
}

// captureSender records replies instead of publishing them.
type captureSender struct {
	sent []*Message
	err  error
}

func (s *captureSender) Publish(ctx context.Context, kind ExchangeKind, msg *Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func newDispatchWorker(t *testing.T, sender replySender) *QueueWorker {
	t.Helper()
	return &QueueWorker{
		Worker:    NewWorker("testq", logging.NewNopLogger(), (*reporting.Tracker)(nil)),
		registry:  testRegistry(t),
		publisher: sender,
		opts:      QueueOptions{Name: "testq"},
	}
}

func TestDispatchDefaultSuccessReply(t *testing.T) {
	sender := &captureSender{}
	qw := newDispatchWorker(t, sender)

	handled := false
	qw.On(TypePlayGame, func(ctx context.Context, msg *Message) (*Message, error) {
		handled = true
		return nil, nil
	})

	msg := New(TypePlayGame, map[string]any{"userId": "u1"}, WithReplyTo("requester"))
	acker := &fakeAcker{}
	qw.DispatchMessage(context.Background(), msg, NewTestResolver(acker, 1))

	if !handled {
		t.Fatal("handler never ran")
	}
	if acker.acks != 1 {
		t.Fatalf("acks = %d, want 1", acker.acks)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("replies sent = %d, want 1", len(sender.sent))
	}

	reply := sender.sent[0]
	if reply.Type != TypeReply {
		t.Errorf("reply type = %q, want %q", reply.Type, TypeReply)
	}
	if !reply.GetBool("success") {
		t.Error("default reply should report success")
	}
	if reply.CorrelationID != msg.MessageID {
		t.Errorf("reply correlation = %q, want %q", reply.CorrelationID, msg.MessageID)
	}
	if reply.RoutingKey != "requester" {
		t.Errorf("reply routing key = %q, want %q", reply.RoutingKey, "requester")
	}
}

func TestDispatchExplicitReplySuppressesDefault(t *testing.T) {
	sender := &captureSender{}
	qw := newDispatchWorker(t, sender)

	qw.On(TypeCycleRequest, func(ctx context.Context, msg *Message) (*Message, error) {
		return NewCycleResponse(msg, map[string]*string{"u1": nil}), nil
	})

	msg := New(TypeCycleRequest, map[string]any{"serverId": "s1"}, WithReplyTo("server-s1"))
	acker := &fakeAcker{}
	qw.DispatchMessage(context.Background(), msg, NewTestResolver(acker, 1))

	if len(sender.sent) != 1 {
		t.Fatalf("replies sent = %d, want exactly 1", len(sender.sent))
	}
	if sender.sent[0].Type != TypeCycleResponse {
		t.Errorf("reply type = %q, want %q", sender.sent[0].Type, TypeCycleResponse)
	}
	if acker.acks != 1 {
		t.Fatalf("acks = %d, want 1", acker.acks)
	}
}

func TestDispatchNoReplyWithoutReplyTo(t *testing.T) {
	sender := &captureSender{}
	qw := newDispatchWorker(t, sender)

	qw.On(TypePlayGame, func(ctx context.Context, msg *Message) (*Message, error) {
		return nil, nil
	})

	msg := New(TypePlayGame, map[string]any{"userId": "u1"})
	acker := &fakeAcker{}
	qw.DispatchMessage(context.Background(), msg, NewTestResolver(acker, 1))

	if len(sender.sent) != 0 {
		t.Fatalf("replies sent = %d, want 0 for fire-and-forget", len(sender.sent))
	}
	if acker.acks != 1 {
		t.Fatalf("acks = %d, want 1", acker.acks)
	}
}

func TestDispatchHandlerErrorSendsFailureReply(t *testing.T) {
	sender := &captureSender{}
	qw := newDispatchWorker(t, sender)

	qw.On(TypePlayGame, func(ctx context.Context, msg *Message) (*Message, error) {
		return nil, fmt.Errorf("storage down")
	})

	msg := New(TypePlayGame, map[string]any{"userId": "u1"}, WithReplyTo("requester"))
	acker := &fakeAcker{}
	qw.DispatchMessage(context.Background(), msg, NewTestResolver(acker, 1))

	if acker.rejects != 1 {
		t.Fatalf("rejects = %d, want 1", acker.rejects)
	}
	if acker.acks != 0 {
		t.Fatalf("acks = %d, want 0", acker.acks)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("replies sent = %d, want 1", len(sender.sent))
	}

	reply := sender.sent[0]
	if reply.GetBool("success") {
		t.Error("failure reply must not report success")
	}
	if got := reply.GetString("error"); got != "storage down" {
		t.Errorf("error = %q, want %q", got, "storage down")
	}
}

func TestDispatchHandlerErrorWithoutReplyToJustRejects(t *testing.T) {
	sender := &captureSender{}
	qw := newDispatchWorker(t, sender)

	qw.On(TypePlayGame, func(ctx context.Context, msg *Message) (*Message, error) {
		return nil, fmt.Errorf("nope")
	})

	msg := New(TypePlayGame, map[string]any{"userId": "u1"})
	acker := &fakeAcker{}
	qw.DispatchMessage(context.Background(), msg, NewTestResolver(acker, 1))

	if acker.rejects != 1 || acker.acks != 0 {
		t.Fatalf("acks=%d rejects=%d, want 0/1", acker.acks, acker.rejects)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("replies sent = %d, want 0", len(sender.sent))
	}
}

func TestDispatchDrainOnErrorAcks(t *testing.T) {
	sender := &captureSender{}
	qw := newDispatchWorker(t, sender)

	qw.On(TypePing, func(ctx context.Context, msg *Message) (*Message, error) {
		return nil, fmt.Errorf("requested exception")
	})

	msg := New(TypePing, map[string]any{"replyWith": "exception"}, WithReplyTo("requester"))
	acker := &fakeAcker{}
	qw.DispatchMessage(context.Background(), msg, NewTestResolver(acker, 1))

	// The ping schema drains on error: acknowledged, never replied, never
	// requeued.
	if acker.acks != 1 || acker.rejects != 0 {
		t.Fatalf("acks=%d rejects=%d, want 1/0", acker.acks, acker.rejects)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("replies sent = %d, want 0", len(sender.sent))
	}
}

func TestDispatchOrphanReplyDiscarded(t *testing.T) {
	sender := &captureSender{}
	qw := newDispatchWorker(t, sender)

	msg := New(TypeReply, map[string]any{"success": true}, WithCorrelationID("long-gone"))
	acker := &fakeAcker{}
	qw.DispatchMessage(context.Background(), msg, NewTestResolver(acker, 1))

	if acker.acks != 1 {
		t.Fatalf("acks = %d, want 1; orphan replies must not requeue", acker.acks)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("replies sent = %d, want 0", len(sender.sent))
	}
}

func TestDispatchPolymorphicHandler(t *testing.T) {
	sender := &captureSender{}
	qw := newDispatchWorker(t, sender)

	var received string
	qw.On(TypeReply, func(ctx context.Context, msg *Message) (*Message, error) {
		received = msg.Type
		return nil, nil
	})

	// cycle_response extends reply; the base handler must receive it.
	msg := New(TypeCycleResponse, map[string]any{"success": true}, WithCorrelationID("req-1"))
	acker := &fakeAcker{}
	qw.DispatchMessage(context.Background(), msg, NewTestResolver(acker, 1))

	if received != TypeCycleResponse {
		t.Fatalf("handler received %q, want %q", received, TypeCycleResponse)
	}
	if acker.acks != 1 {
		t.Fatalf("acks = %d, want 1", acker.acks)
	}
}

func TestDispatchHandlersRunInRegistrationOrder(t *testing.T) {
	qw := newDispatchWorker(t, &captureSender{})

	var order []string
	qw.On(TypeReply, func(ctx context.Context, msg *Message) (*Message, error) {
		order = append(order, "base")
		return nil, nil
	})
	qw.On(TypeCycleResponse, func(ctx context.Context, msg *Message) (*Message, error) {
		order = append(order, "leaf")
		return nil, nil
	})

	msg := New(TypeCycleResponse, nil, WithCorrelationID("req-1"))
	qw.DispatchMessage(context.Background(), msg, NewTestResolver(&fakeAcker{}, 1))

	if len(order) != 2 || order[0] != "base" || order[1] != "leaf" {
		t.Fatalf("order = %v, want [base leaf]", order)
	}
}

func TestDispatchConflictingRepliesPanics(t *testing.T) {
	qw := newDispatchWorker(t, &captureSender{})

	answer := func(ctx context.Context, msg *Message) (*Message, error) {
		return NewSuccessReply(msg), nil
	}
	qw.On(TypeReply, answer)
	qw.On(TypeCycleResponse, answer)

	msg := New(TypeCycleResponse, nil, WithCorrelationID("req-1"), WithReplyTo("requester"))

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a panic for conflicting replies")
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrConflictingReply) {
			t.Fatalf("panic value = %v, want ErrConflictingReply", r)
		}
	}()

	qw.DispatchMessage(context.Background(), msg, NewTestResolver(&fakeAcker{}, 1))
}

func TestDispatchPropagatesProtocolVersion(t *testing.T) {
	qw := newDispatchWorker(t, &captureSender{})

	var seen int
	qw.On(TypePlayGame, func(ctx context.Context, msg *Message) (*Message, error) {
		seen = ProtocolVersionFrom(ctx)
		return nil, nil
	})

	msg := New(TypePlayGame, nil)
	msg.Headers[HeaderProtocolVersion] = 1
	qw.DispatchMessage(context.Background(), msg, NewTestResolver(&fakeAcker{}, 1))

	if seen != 1 {
		t.Fatalf("handler saw protocol version %d, want 1", seen)
	}
}

func TestDispatchReplyCarriesExpiration(t *testing.T) {
	sender := &captureSender{}
	qw := newDispatchWorker(t, sender)
	qw.replyTTL = 30 * time.Second

	qw.On(TypePlayGame, func(ctx context.Context, msg *Message) (*Message, error) {
		return nil, nil
	})

	msg := New(TypePlayGame, nil, WithReplyTo("requester"))
	qw.DispatchMessage(context.Background(), msg, NewTestResolver(&fakeAcker{}, 1))

	if len(sender.sent) != 1 {
		t.Fatalf("replies sent = %d, want 1", len(sender.sent))
	}
	if got := sender.sent[0].Expiration; got != 30*time.Second {
		t.Fatalf("reply expiration = %s, want 30s", got)
	}
}

func TestDispatchUnhandledTypeGetsNoDefaultReply(t *testing.T) {
	sender := &captureSender{}
	qw := newDispatchWorker(t, sender)

	// No handler registered for this type on this queue.
	msg := New(TypePlayGame, map[string]any{"userId": "u1"}, WithReplyTo("requester"))
	acker := &fakeAcker{}
	qw.DispatchMessage(context.Background(), msg, NewTestResolver(acker, 1))

	if acker.acks != 1 {
		t.Fatalf("acks = %d, want 1", acker.acks)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("replies sent = %d, want none for an unhandled type", len(sender.sent))
	}
}
