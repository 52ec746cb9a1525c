package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stonefield/matchwire/internal/domain"
)

// In-memory repositories back local development and tests; they honor the
// same contracts as the mongo implementations.

type memoryTicketRepository struct {
	mu      sync.RWMutex
	tickets map[string]domain.Ticket
}

func NewMemoryTicketRepository() domain.TicketRepository {
	return &memoryTicketRepository{
		tickets: make(map[string]domain.Ticket),
	}
}

func (r *memoryTicketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tickets[ticket.ID] = *ticket
	return nil
}

func (r *memoryTicketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tickets[ticket.ID]; !exists {
		return domain.ErrTicketNotFound
	}

	r.tickets[ticket.ID] = *ticket
	return nil
}

func (r *memoryTicketRepository) GetActiveByUser(ctx context.Context, userID string) (*domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.tickets {
		if t.UserID == userID && t.Active() {
			ticket := t
			return &ticket, nil
		}
	}

	return nil, domain.ErrTicketNotFound
}

func (r *memoryTicketRepository) ListActiveByServer(ctx context.Context, serverID string) ([]domain.Ticket, error) {
	return r.filter(func(t domain.Ticket) bool {
		return t.ServerID == serverID && t.Active()
	}), nil
}

func (r *memoryTicketRepository) ListQueued(ctx context.Context, arenaID string) ([]domain.Ticket, error) {
	return r.filter(func(t domain.Ticket) bool {
		if t.State != domain.TicketQueued {
			return false
		}
		return arenaID == "" || t.ArenaID == arenaID
	}), nil
}

func (r *memoryTicketRepository) ListExpired(ctx context.Context, now time.Time) ([]domain.Ticket, error) {
	return r.filter(func(t domain.Ticket) bool {
		return t.Expired(now)
	}), nil
}

func (r *memoryTicketRepository) CountActiveByServer(ctx context.Context, serverID string) (int, error) {
	return len(r.filter(func(t domain.Ticket) bool {
		return t.ServerID == serverID && t.Active()
	})), nil
}

func (r *memoryTicketRepository) filter(keep func(domain.Ticket) bool) []domain.Ticket {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Ticket
	for _, t := range r.tickets {
		if keep(t) {
			out = append(out, t)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out
}

type memoryServerRepository struct {
	mu      sync.RWMutex
	servers map[string]domain.GameServer
}

func NewMemoryServerRepository(servers ...domain.GameServer) domain.ServerRepository {
	r := &memoryServerRepository{
		servers: make(map[string]domain.GameServer),
	}
	for _, s := range servers {
		r.servers[s.ID] = s
	}
	return r
}

func (r *memoryServerRepository) GetByID(ctx context.Context, id string) (*domain.GameServer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.servers[id]
	if !exists {
		return nil, domain.ErrServerNotFound
	}

	server := s
	return &server, nil
}

func (r *memoryServerRepository) ListMatchable(ctx context.Context, arenaID string) ([]domain.GameServer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.GameServer
	for _, s := range r.servers {
		if !s.Matchable {
			continue
		}
		if arenaID != "" && s.ArenaID != arenaID {
			continue
		}
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})

	return out, nil
}

func (r *memoryServerRepository) Update(ctx context.Context, server *domain.GameServer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.servers[server.ID]; !exists {
		return domain.ErrServerNotFound
	}

	r.servers[server.ID] = *server
	return nil
}

func (r *memoryServerRepository) AdjustTicketCount(ctx context.Context, id string, delta int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.servers[id]
	if !exists {
		return false, domain.ErrServerNotFound
	}

	next := s.TicketCount + delta
	if next < 0 || next > s.MaxPlayers {
		return false, nil
	}

	s.TicketCount = next
	r.servers[id] = s
	return true, nil
}
