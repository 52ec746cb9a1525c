package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrTicketNotActive   = errors.New("ticket is not active")
	ErrDuplicateTicket   = errors.New("user already has an active ticket")
	ErrInvalidTransition = errors.New("invalid ticket state transition")
)

type TicketState string

const (
	TicketQueued    TicketState = "queued"
	TicketArrived   TicketState = "arrived"
	TicketCancelled TicketState = "cancelled"
	TicketCompleted TicketState = "completed"
)

// Ticket is a player's placeholder in the matchmaking queue. At most one
// active ticket exists per user at any time.
type Ticket struct {
	ID        string      `bson:"_id" json:"id"`
	UserID    string      `bson:"user_id" json:"userId"`
	ArenaID   string      `bson:"arena_id,omitempty" json:"arenaId,omitempty"`
	ServerID  string      `bson:"server_id,omitempty" json:"serverId,omitempty"`
	State     TicketState `bson:"state" json:"state"`
	CreatedAt time.Time   `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time   `bson:"updated_at" json:"updatedAt"`
	ExpiresAt time.Time   `bson:"expires_at" json:"expiresAt"`
}

type TicketRepository interface {
	Create(ctx context.Context, ticket *Ticket) error
	Update(ctx context.Context, ticket *Ticket) error
	GetActiveByUser(ctx context.Context, userID string) (*Ticket, error)
	ListActiveByServer(ctx context.Context, serverID string) ([]Ticket, error)
	ListQueued(ctx context.Context, arenaID string) ([]Ticket, error)
	ListExpired(ctx context.Context, now time.Time) ([]Ticket, error)
	CountActiveByServer(ctx context.Context, serverID string) (int, error)
}

func NewTicket(userID, arenaID string, ttl time.Duration) *Ticket {
	now := time.Now()

	return &Ticket{
		ID:        uuid.NewString(),
		UserID:    userID,
		ArenaID:   arenaID,
		State:     TicketQueued,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Active reports whether the ticket still occupies the user's single slot.
func (t *Ticket) Active() bool {
	return t.State == TicketQueued || t.State == TicketArrived
}

func (t *Ticket) Expired(now time.Time) bool {
	return t.State == TicketQueued && now.After(t.ExpiresAt)
}

// Assign points a queued ticket at a target server. An empty id sends the
// player to the lobby.
func (t *Ticket) Assign(serverID string) error {
	if t.State != TicketQueued {
		return ErrInvalidTransition
	}
	t.ServerID = serverID
	t.UpdatedAt = time.Now()
	return nil
}

// Arrive marks that the user's session reached the target server.
func (t *Ticket) Arrive() error {
	if t.State != TicketQueued {
		return ErrInvalidTransition
	}
	t.State = TicketArrived
	t.UpdatedAt = time.Now()
	return nil
}

func (t *Ticket) Cancel() error {
	if !t.Active() {
		return ErrInvalidTransition
	}
	t.State = TicketCancelled
	t.UpdatedAt = time.Now()
	return nil
}

func (t *Ticket) Complete() error {
	if t.State != TicketArrived {
		return ErrInvalidTransition
	}
	t.State = TicketCompleted
	t.UpdatedAt = time.Now()
	return nil
}

// Requeue evacuates an active ticket back into the queue against a new
// target, used during cycle negotiation.
func (t *Ticket) Requeue(serverID string) error {
	if !t.Active() {
		return ErrTicketNotActive
	}
	t.State = TicketQueued
	t.ServerID = serverID
	t.UpdatedAt = time.Now()
	return nil
}
