package domain

import (
	"context"
	"errors"
)

var ErrServerNotFound = errors.New("game server not found")

// GameServer is the capacity record for one running (or provisionable) game
// instance. The matchmaker reads and writes it through the repository; it
// does not own the underlying document.
type GameServer struct {
	ID          string `bson:"_id" json:"id"`
	ArenaID     string `bson:"arena_id,omitempty" json:"arenaId,omitempty"`
	MapID       string `bson:"map_id,omitempty" json:"mapId,omitempty"`
	MinPlayers  int    `bson:"min_players" json:"minPlayers"`
	MaxPlayers  int    `bson:"max_players" json:"maxPlayers"`
	TicketCount int    `bson:"ticket_count" json:"ticketCount"`
	Matchable   bool   `bson:"matchable" json:"matchable"`
}

type ServerRepository interface {
	GetByID(ctx context.Context, id string) (*GameServer, error)
	ListMatchable(ctx context.Context, arenaID string) ([]GameServer, error)
	Update(ctx context.Context, server *GameServer) error

	// AdjustTicketCount atomically adds delta to the server's ticket count
	// only while the count stays within [0, max]. It reports whether the
	// update applied, so racing producers cannot overfill a server.
	AdjustTicketCount(ctx context.Context, id string, delta int) (bool, error)
}

// Empty reports whether the server holds no tickets yet.
func (s *GameServer) Empty() bool {
	return s.TicketCount == 0
}

// BelowMinimum reports whether the server still needs participants before its
// game can start.
func (s *GameServer) BelowMinimum() bool {
	return s.TicketCount < s.MinPlayers
}

// GapToMinimum is how many more players the server needs to reach its
// minimum.
func (s *GameServer) GapToMinimum() int {
	if !s.BelowMinimum() {
		return 0
	}
	return s.MinPlayers - s.TicketCount
}

// Remaining is how many more players the server can take before hitting its
// maximum.
func (s *GameServer) Remaining() int {
	return s.MaxPlayers - s.TicketCount
}

// CanAccept reports whether n more players fit without exceeding the maximum.
func (s *GameServer) CanAccept(n int) bool {
	return s.TicketCount+n <= s.MaxPlayers
}

// CanImmediatelySatisfy reports whether n players joining an empty server
// would meet its minimum at once.
func (s *GameServer) CanImmediatelySatisfy(n int) bool {
	return s.Empty() && n >= s.MinPlayers && n <= s.MaxPlayers
}
