package messaging

import (
	"testing"

	"github.com/stonefield/matchwire/internal/infrastructure/logging"
)

func newTestPublisher() *Publisher {
	return &Publisher{
		logger:  logging.NewNopLogger(),
		pending: make(map[string]struct{}),
	}
}

func TestClassifyReplyMatchesOwnRequest(t *testing.T) {
	p := newTestPublisher()

	request := New(TypePing, nil, WithReplyTo("amq.gen-reply"))
	p.trackPending(request.MessageID)

	reply := request.Reply(TypeReply, nil)
	if got := p.classifyReply(reply, request); got != replyMatched {
		t.Fatalf("disposition = %d, want matched", got)
	}
}

func TestClassifyReplyRequeuesForOtherWaiter(t *testing.T) {
	p := newTestPublisher()

	mine := New(TypePing, nil, WithReplyTo("amq.gen-reply"))
	theirs := New(TypePing, nil, WithReplyTo("amq.gen-reply"))
	p.trackPending(mine.MessageID)
	p.trackPending(theirs.MessageID)

	// Their reply arrives on my consumer first; it must go back for them.
	reply := theirs.Reply(TypeReply, nil)
	if got := p.classifyReply(reply, mine); got != replyRequeue {
		t.Fatalf("disposition = %d, want requeue", got)
	}
}

func TestClassifyReplyDropsTimedOutWaiter(t *testing.T) {
	p := newTestPublisher()

	mine := New(TypePing, nil, WithReplyTo("amq.gen-reply"))
	theirs := New(TypePing, nil, WithReplyTo("amq.gen-reply"))
	p.trackPending(mine.MessageID)
	p.trackPending(theirs.MessageID)

	reply := theirs.Reply(TypeReply, nil)

	// Their request times out before the reply lands; nothing will ever
	// claim it, so requeueing would just redeliver it forever.
	p.untrackPending(theirs.MessageID)
	if got := p.classifyReply(reply, mine); got != replyDrop {
		t.Fatalf("disposition = %d, want drop", got)
	}
}

func TestClassifyReplyDropsUncorrelated(t *testing.T) {
	p := newTestPublisher()

	mine := New(TypePing, nil, WithReplyTo("amq.gen-reply"))
	p.trackPending(mine.MessageID)

	stray := New(TypeReply, nil)
	if got := p.classifyReply(stray, mine); got != replyDrop {
		t.Fatalf("disposition = %d, want drop", got)
	}
}

func TestPendingTracking(t *testing.T) {
	p := newTestPublisher()

	if p.isPending("m1") {
		t.Fatal("nothing tracked yet")
	}

	p.trackPending("m1")
	if !p.isPending("m1") {
		t.Fatal("m1 should be pending")
	}

	p.untrackPending("m1")
	if p.isPending("m1") {
		t.Fatal("m1 should be gone after untrack")
	}
	if p.isPending("") {
		t.Fatal("empty correlation id can never be pending")
	}
}
