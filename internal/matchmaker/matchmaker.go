package matchmaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stonefield/matchwire/internal/domain"
	"github.com/stonefield/matchwire/internal/infrastructure/configs"
	"github.com/stonefield/matchwire/internal/infrastructure/logging"
	"github.com/stonefield/matchwire/internal/infrastructure/metrics"
	"github.com/stonefield/matchwire/internal/messaging"
)

// MatchMaker is the stateful routing coordinator. Exactly one instance
// consumes the matchmaker queue (enforced by an exclusive binding), so every
// ticket transition happens on a single event loop and the ticket and server
// state needs no further locking.
type MatchMaker struct {
	cfg        configs.MatchMakerConfig
	tickets    domain.TicketRepository
	servers    domain.ServerRepository
	replicator Replicator
	logger     logging.Logger
	stats      *metrics.Collector

	// now is injectable so expiry sweeps are testable against a fake clock.
	now func() time.Time
}

func New(
	cfg configs.MatchMakerConfig,
	tickets domain.TicketRepository,
	servers domain.ServerRepository,
	replicator Replicator,
	logger logging.Logger,
	stats *metrics.Collector,
) *MatchMaker {
	return &MatchMaker{
		cfg:        cfg,
		tickets:    tickets,
		servers:    servers,
		replicator: replicator,
		logger:     logger,
		stats:      stats,
		now:        time.Now,
	}
}

// Attach registers the coordinator's handlers and the expiry sweep on the
// queue worker.
func (m *MatchMaker) Attach(qw *messaging.QueueWorker) error {
	qw.On(messaging.TypePlayGame, m.HandlePlayGame)
	qw.On(messaging.TypeCancelGame, m.HandleCancelGame)
	qw.On(messaging.TypeSessionChange, m.HandleSessionChange)
	qw.On(messaging.TypeCycleRequest, m.HandleCycleRequest)
	qw.On(messaging.TypeModelUpdate, m.HandleModelUpdate)

	return qw.Poll(messaging.PollOptions{Interval: m.cfg.SweepInterval}, func() {
		m.SweepExpired(context.Background())
	})
}

// HandlePlayGame enqueues a ticket for the requesting user, reusing any
// ticket the user already holds so no user ever occupies two queue slots.
func (m *MatchMaker) HandlePlayGame(ctx context.Context, msg *messaging.Message) (*messaging.Message, error) {
	var p messaging.PlayGamePayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, err
	}
	if p.UserID == "" {
		return nil, fmt.Errorf("play request without userId")
	}

	existing, err := m.tickets.GetActiveByUser(ctx, p.UserID)
	if err == nil {
		m.logger.Debug(logging.MatchMaker, logging.Tickets, "reusing active ticket", map[logging.ExtraKey]any{
			logging.TicketID: existing.ID,
			logging.UserID:   p.UserID,
		})
		return nil, nil
	}
	if !errors.Is(err, domain.ErrTicketNotFound) {
		return nil, err
	}

	uow := newUnitOfWork()

	ticket := domain.NewTicket(p.UserID, p.ArenaID, m.cfg.TicketTTL)
	if serverID, ok := m.allocate(ctx, p.ArenaID, ""); ok {
		uow.claim(serverID)
		if err := ticket.Assign(serverID); err != nil {
			uow.abort(ctx, m.servers)
			return nil, err
		}
	}
	uow.create(ticket)
	m.trackTransition("", domain.TicketQueued)

	if err := uow.flush(ctx, m.tickets, m.servers, m.replicator); err != nil {
		return nil, err
	}

	m.logger.Info(logging.MatchMaker, logging.Tickets, "ticket enqueued", map[logging.ExtraKey]any{
		logging.TicketID: ticket.ID,
		logging.UserID:   p.UserID,
		logging.ServerID: ticket.ServerID,
	})

	return nil, nil
}

// HandleCancelGame cancels the user's active ticket. Cancelling a user with
// no ticket succeeds; the operation is idempotent.
func (m *MatchMaker) HandleCancelGame(ctx context.Context, msg *messaging.Message) (*messaging.Message, error) {
	var p messaging.CancelGamePayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, err
	}
	if p.UserID == "" {
		return nil, fmt.Errorf("cancel request without userId")
	}

	ticket, err := m.tickets.GetActiveByUser(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrTicketNotFound) {
			return nil, nil
		}
		return nil, err
	}

	uow := newUnitOfWork()
	if err := m.cancelTicket(ctx, uow, ticket); err != nil {
		return nil, err
	}

	return nil, uow.flush(ctx, m.tickets, m.servers, m.replicator)
}

// HandleSessionChange reacts to users moving between servers: arriving at
// their ticket's target, abandoning it, or dropping off the network.
func (m *MatchMaker) HandleSessionChange(ctx context.Context, msg *messaging.Message) (*messaging.Message, error) {
	var p messaging.SessionChangePayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, err
	}
	if p.OldSession == nil && p.NewSession == nil {
		return nil, fmt.Errorf("session change with neither old nor new session")
	}

	userID := ""
	if p.NewSession != nil {
		userID = p.NewSession.UserID
	} else {
		userID = p.OldSession.UserID
	}

	ticket, err := m.tickets.GetActiveByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrTicketNotFound) {
			return nil, nil
		}
		return nil, err
	}

	uow := newUnitOfWork()

	switch {
	case p.NewSession == nil:
		// Left the network entirely; the ticket cannot complete.
		if err := m.cancelTicket(ctx, uow, ticket); err != nil {
			return nil, err
		}

	case ticket.State == domain.TicketQueued && ticket.ServerID != "" && p.NewSession.ServerID == ticket.ServerID:
		if err := ticket.Arrive(); err != nil {
			return nil, err
		}
		m.trackTransition(domain.TicketQueued, domain.TicketArrived)
		uow.save(ticket)
		m.logger.Info(logging.MatchMaker, logging.Tickets, "ticket arrived", map[logging.ExtraKey]any{
			logging.TicketID: ticket.ID,
			logging.ServerID: ticket.ServerID,
		})

	case ticket.State == domain.TicketArrived && p.NewSession.ServerID != ticket.ServerID:
		// Walked away from the target server before completion.
		if err := m.cancelTicket(ctx, uow, ticket); err != nil {
			return nil, err
		}
	}

	return nil, uow.flush(ctx, m.tickets, m.servers, m.replicator)
}

// HandleCycleRequest negotiates a server's advance to its next map. When the
// server's current occupancy cannot meet the next map's minimum, every ticket
// on it is evacuated to a new destination and the response maps each
// displaced user to where they should go; nil means the lobby.
func (m *MatchMaker) HandleCycleRequest(ctx context.Context, msg *messaging.Message) (*messaging.Message, error) {
	var p messaging.CycleRequestPayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, err
	}
	if p.ServerID == "" {
		return nil, fmt.Errorf("cycle request without serverId")
	}

	server, err := m.servers.GetByID(ctx, p.ServerID)
	if err != nil {
		return nil, err
	}

	count, err := m.tickets.CountActiveByServer(ctx, p.ServerID)
	if err != nil {
		return nil, err
	}

	applyMap := func() error {
		server.MapID = p.MapID
		server.MinPlayers = p.MinPlayers
		server.MaxPlayers = p.MaxPlayers
		return m.servers.Update(ctx, server)
	}

	if count >= p.MinPlayers {
		// Enough players for the next map; cycle proceeds as-is.
		if err := applyMap(); err != nil {
			return nil, err
		}
		return messaging.NewCycleResponse(msg, map[string]*string{}), nil
	}

	displaced, err := m.tickets.ListActiveByServer(ctx, p.ServerID)
	if err != nil {
		return nil, err
	}

	uow := newUnitOfWork()
	destinations := make(map[string]*string, len(displaced))

	for i := range displaced {
		ticket := displaced[i]

		// The origin seat is released only once the requeued ticket is
		// persisted, so an aborted dispatch leaves the counters alone.
		uow.adjust(p.ServerID, -1)

		newServerID, found := m.allocate(ctx, ticket.ArenaID, p.ServerID)
		if found {
			uow.claim(newServerID)
		}
		prev := ticket.State
		if err := ticket.Requeue(newServerID); err != nil {
			uow.abort(ctx, m.servers)
			return nil, err
		}
		m.trackTransition(prev, domain.TicketQueued)
		uow.save(&ticket)

		if found {
			dest := newServerID
			destinations[ticket.UserID] = &dest
		} else {
			// No destination anywhere: the server sends this player to
			// the lobby.
			destinations[ticket.UserID] = nil
		}
	}

	if err := applyMap(); err != nil {
		uow.abort(ctx, m.servers)
		return nil, err
	}

	if err := uow.flush(ctx, m.tickets, m.servers, m.replicator); err != nil {
		return nil, err
	}

	m.logger.Info(logging.MatchMaker, logging.Cycle, "cycle evacuated server", map[logging.ExtraKey]any{
		logging.ServerID: p.ServerID,
	})

	return messaging.NewCycleResponse(msg, destinations), nil
}

// HandleModelUpdate reprocesses an arena's queue whenever one of its servers
// changes and is matchable, so waiting tickets can take newly freed seats.
func (m *MatchMaker) HandleModelUpdate(ctx context.Context, msg *messaging.Message) (*messaging.Message, error) {
	var p messaging.ModelUpdatePayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, err
	}
	if p.ModelName != "game_servers" && p.ModelName != "servers" {
		return nil, nil
	}

	serverID, _ := p.Document["id"].(string)
	if serverID == "" {
		return nil, nil
	}

	server, err := m.servers.GetByID(ctx, serverID)
	if err != nil {
		if errors.Is(err, domain.ErrServerNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !server.Matchable {
		return nil, nil
	}

	return nil, m.ProcessQueue(ctx, server)
}

// ProcessQueue assigns unrouted queued tickets in the server's arena to the
// server while it can still accept them.
func (m *MatchMaker) ProcessQueue(ctx context.Context, server *domain.GameServer) error {
	queued, err := m.tickets.ListQueued(ctx, server.ArenaID)
	if err != nil {
		return err
	}

	uow := newUnitOfWork()

	for i := range queued {
		ticket := queued[i]
		if ticket.ServerID != "" {
			continue
		}

		applied, err := m.servers.AdjustTicketCount(ctx, server.ID, 1)
		if err != nil {
			uow.abort(ctx, m.servers)
			return err
		}
		if !applied {
			break
		}
		uow.claim(server.ID)

		if err := ticket.Assign(server.ID); err != nil {
			uow.abort(ctx, m.servers)
			return err
		}
		uow.save(&ticket)

		m.logger.Info(logging.MatchMaker, logging.Allocation, "queued ticket assigned", map[logging.ExtraKey]any{
			logging.TicketID: ticket.ID,
			logging.ServerID: server.ID,
		})
	}

	return uow.flush(ctx, m.tickets, m.servers, m.replicator)
}

// SweepExpired cancels every ticket sitting past its expiry, bounding how
// long a player can wait without being admitted.
func (m *MatchMaker) SweepExpired(ctx context.Context) {
	now := m.now()

	expired, err := m.tickets.ListExpired(ctx, now)
	if err != nil {
		m.logger.Error(logging.MatchMaker, logging.Tickets, "expiry sweep failed", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	if len(expired) == 0 {
		return
	}

	uow := newUnitOfWork()
	for i := range expired {
		ticket := expired[i]
		if err := m.cancelTicket(ctx, uow, &ticket); err != nil {
			m.logger.Error(logging.MatchMaker, logging.Tickets, "failed to expire ticket", map[logging.ExtraKey]any{
				logging.TicketID:     ticket.ID,
				logging.ErrorMessage: err.Error(),
			})
			return
		}
	}

	if err := uow.flush(ctx, m.tickets, m.servers, m.replicator); err != nil {
		m.logger.Error(logging.MatchMaker, logging.Tickets, "expiry sweep flush failed", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	m.logger.Info(logging.MatchMaker, logging.Tickets, "expired tickets cancelled", map[logging.ExtraKey]any{
		logging.Count: len(expired),
	})
}

// trackTransition keeps the live tickets-by-state gauge in step with a state
// change. Terminal states are not tracked.
func (m *MatchMaker) trackTransition(from, to domain.TicketState) {
	if m.stats == nil {
		return
	}
	if from == domain.TicketQueued || from == domain.TicketArrived {
		m.stats.TicketsByState.WithLabelValues(string(from)).Dec()
	}
	if to == domain.TicketQueued || to == domain.TicketArrived {
		m.stats.TicketsByState.WithLabelValues(string(to)).Inc()
	}
}

func (m *MatchMaker) cancelTicket(ctx context.Context, uow *unitOfWork, ticket *domain.Ticket) error {
	if ticket.ServerID != "" {
		// Released at flush time, once the cancelled ticket is persisted.
		uow.adjust(ticket.ServerID, -1)
	}

	prev := ticket.State
	if err := ticket.Cancel(); err != nil {
		return err
	}
	m.trackTransition(prev, domain.TicketCancelled)
	uow.save(ticket)

	m.logger.Info(logging.MatchMaker, logging.Tickets, "ticket cancelled", map[logging.ExtraKey]any{
		logging.TicketID: ticket.ID,
		logging.UserID:   ticket.UserID,
	})

	return nil
}

// allocate picks a destination for one player in the arena, excluding a
// server being evacuated. It claims the seat atomically; a lost race falls
// through to no destination.
func (m *MatchMaker) allocate(ctx context.Context, arenaID, exclude string) (string, bool) {
	candidates, err := m.servers.ListMatchable(ctx, arenaID)
	if err != nil {
		m.logger.Error(logging.MatchMaker, logging.Allocation, "failed to list servers", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
		return "", false
	}

	if exclude != "" {
		filtered := candidates[:0]
		for _, s := range candidates {
			if s.ID != exclude {
				filtered = append(filtered, s)
			}
		}
		candidates = filtered
	}

	serverID, ok := SelectServer(candidates, 1)
	if !ok {
		return "", false
	}

	applied, err := m.servers.AdjustTicketCount(ctx, serverID, 1)
	if err != nil || !applied {
		return "", false
	}

	return serverID, true
}

// SetClock overrides the sweep clock. Tests only.
func (m *MatchMaker) SetClock(now func() time.Time) {
	m.now = now
}
