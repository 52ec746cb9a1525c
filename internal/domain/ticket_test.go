package domain

import (
	"testing"
	"time"
)

func TestNewTicket(t *testing.T) {
	ticket := NewTicket("u1", "arena", 5*time.Minute)

	if ticket.ID == "" {
		t.Fatal("expected a generated id")
	}
	if ticket.State != TicketQueued {
		t.Errorf("state = %s, want queued", ticket.State)
	}
	if !ticket.Active() {
		t.Error("queued tickets are active")
	}
	if ticket.Expired(time.Now()) {
		t.Error("a fresh ticket must not be expired")
	}
	if !ticket.Expired(time.Now().Add(6 * time.Minute)) {
		t.Error("ticket should expire after its ttl")
	}
}

func TestTicketTransitions(t *testing.T) {
	t.Run("queued to arrived", func(t *testing.T) {
		ticket := NewTicket("u1", "", time.Minute)
		if err := ticket.Assign("s1"); err != nil {
			t.Fatalf("assign: %v", err)
		}
		if err := ticket.Arrive(); err != nil {
			t.Fatalf("arrive: %v", err)
		}
		if ticket.State != TicketArrived {
			t.Errorf("state = %s, want arrived", ticket.State)
		}
	})

	t.Run("arrived to completed", func(t *testing.T) {
		ticket := NewTicket("u1", "", time.Minute)
		ticket.Arrive()
		if err := ticket.Complete(); err != nil {
			t.Fatalf("complete: %v", err)
		}
		if ticket.Active() {
			t.Error("completed tickets are not active")
		}
	})

	t.Run("cannot complete from queued", func(t *testing.T) {
		ticket := NewTicket("u1", "", time.Minute)
		if err := ticket.Complete(); err != ErrInvalidTransition {
			t.Fatalf("complete from queued = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("cannot arrive twice", func(t *testing.T) {
		ticket := NewTicket("u1", "", time.Minute)
		ticket.Arrive()
		if err := ticket.Arrive(); err != ErrInvalidTransition {
			t.Fatalf("second arrive = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("cannot cancel a completed ticket", func(t *testing.T) {
		ticket := NewTicket("u1", "", time.Minute)
		ticket.Arrive()
		ticket.Complete()
		if err := ticket.Cancel(); err != ErrInvalidTransition {
			t.Fatalf("cancel after complete = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("cancel from either active state", func(t *testing.T) {
		queued := NewTicket("u1", "", time.Minute)
		if err := queued.Cancel(); err != nil {
			t.Fatalf("cancel queued: %v", err)
		}

		arrived := NewTicket("u2", "", time.Minute)
		arrived.Arrive()
		if err := arrived.Cancel(); err != nil {
			t.Fatalf("cancel arrived: %v", err)
		}
	})
}

func TestTicketAssignOnlyWhileQueued(t *testing.T) {
	ticket := NewTicket("u1", "", time.Minute)
	ticket.Arrive()

	if err := ticket.Assign("s1"); err != ErrInvalidTransition {
		t.Fatalf("assign after arrive = %v, want ErrInvalidTransition", err)
	}
}

func TestTicketRequeue(t *testing.T) {
	ticket := NewTicket("u1", "", time.Minute)
	ticket.Assign("s1")
	ticket.Arrive()

	if err := ticket.Requeue("s2"); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if ticket.State != TicketQueued || ticket.ServerID != "s2" {
		t.Errorf("ticket = %s on %q, want queued on s2", ticket.State, ticket.ServerID)
	}

	ticket.Cancel()
	if err := ticket.Requeue("s3"); err != ErrTicketNotActive {
		t.Fatalf("requeue cancelled = %v, want ErrTicketNotActive", err)
	}
}

func TestOnlyQueuedTicketsExpire(t *testing.T) {
	later := time.Now().Add(2 * time.Minute)

	arrived := NewTicket("u1", "", time.Minute)
	arrived.Arrive()
	if arrived.Expired(later) {
		t.Error("arrived tickets never expire")
	}

	queued := NewTicket("u2", "", time.Minute)
	if !queued.Expired(later) {
		t.Error("queued ticket past its ttl should expire")
	}
}
