package matchmaker

import (
	"context"
	"errors"
	"fmt"

	"github.com/stonefield/matchwire/internal/domain"
	"github.com/stonefield/matchwire/internal/messaging"
)

// Replicator fans ticket-state changes out to the rest of the system once a
// dispatch has committed. *messaging.Publisher satisfies it.
type Replicator interface {
	Publish(ctx context.Context, kind messaging.ExchangeKind, msg *messaging.Message) error
}

type ticketChange struct {
	ticket  *domain.Ticket
	created bool
}

type counterDelta struct {
	serverID string
	delta    int
}

// unitOfWork collects every mutation made during a single dispatch and flushes
// them exactly once at the end, so observers never see a partial reassignment.
//
// Seat counters are handled two ways. Releases are recorded with adjust and
// only applied after the ticket writes land, so a failed dispatch never frees
// seats its tickets still hold. Acquisitions must stay eager (the atomic
// increment is how an allocation race is decided), so they are recorded with
// claim and handed back if the writes they were made for never persist.
type unitOfWork struct {
	changes []ticketChange
	seen    map[string]int
	deltas  []counterDelta
	claims  []string
}

func newUnitOfWork() *unitOfWork {
	return &unitOfWork{
		seen: make(map[string]int),
	}
}

func (u *unitOfWork) create(t *domain.Ticket) {
	u.record(t, true)
}

func (u *unitOfWork) save(t *domain.Ticket) {
	u.record(t, false)
}

func (u *unitOfWork) record(t *domain.Ticket, created bool) {
	if idx, exists := u.seen[t.ID]; exists {
		u.changes[idx].ticket = t
		return
	}

	u.seen[t.ID] = len(u.changes)
	u.changes = append(u.changes, ticketChange{ticket: t, created: created})
}

// adjust records a seat-count change to apply once the ticket writes land.
func (u *unitOfWork) adjust(serverID string, delta int) {
	u.deltas = append(u.deltas, counterDelta{serverID: serverID, delta: delta})
}

// claim records a seat already taken with an eager atomic increment, so it can
// be released if the dispatch never commits.
func (u *unitOfWork) claim(serverID string) {
	u.claims = append(u.claims, serverID)
}

// abort hands back every claimed seat. For error paths taken before flush.
func (u *unitOfWork) abort(ctx context.Context, servers domain.ServerRepository) {
	u.releaseClaims(ctx, servers)
}

// flush persists the collected ticket changes, applies the recorded counter
// deltas, then publishes one replication event per ticket. If the ticket
// writes fail, claimed seats are released and no delta is applied.
func (u *unitOfWork) flush(
	ctx context.Context,
	tickets domain.TicketRepository,
	servers domain.ServerRepository,
	replicator Replicator,
) error {
	if err := u.persist(ctx, tickets); err != nil {
		u.releaseClaims(ctx, servers)
		return err
	}

	if err := u.applyDeltas(ctx, servers); err != nil {
		return err
	}

	return u.replicate(ctx, replicator)
}

func (u *unitOfWork) persist(ctx context.Context, tickets domain.TicketRepository) error {
	for _, change := range u.changes {
		var err error
		if change.created {
			err = tickets.Create(ctx, change.ticket)
		} else {
			err = tickets.Update(ctx, change.ticket)
		}
		if err != nil {
			return fmt.Errorf("failed to persist ticket %s: %w", change.ticket.ID, err)
		}
	}
	return nil
}

func (u *unitOfWork) applyDeltas(ctx context.Context, servers domain.ServerRepository) error {
	for _, d := range u.deltas {
		if _, err := servers.AdjustTicketCount(ctx, d.serverID, d.delta); err != nil && !errors.Is(err, domain.ErrServerNotFound) {
			return fmt.Errorf("failed to adjust seat count on server %s: %w", d.serverID, err)
		}
	}
	return nil
}

func (u *unitOfWork) releaseClaims(ctx context.Context, servers domain.ServerRepository) {
	for _, serverID := range u.claims {
		// Best effort; a vanished server has no seats left to hand back.
		servers.AdjustTicketCount(ctx, serverID, -1)
	}
	u.claims = nil
}

func (u *unitOfWork) replicate(ctx context.Context, replicator Replicator) error {
	if replicator == nil {
		return nil
	}

	for _, change := range u.changes {
		t := change.ticket
		event := messaging.NewModelUpdate("tickets", map[string]any{
			"id":       t.ID,
			"userId":   t.UserID,
			"arenaId":  t.ArenaID,
			"serverId": t.ServerID,
			"state":    string(t.State),
		})
		if err := replicator.Publish(ctx, messaging.Fanout, event); err != nil {
			return fmt.Errorf("failed to replicate ticket %s: %w", t.ID, err)
		}
	}

	return nil
}
