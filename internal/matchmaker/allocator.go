package matchmaker

import (
	"github.com/stonefield/matchwire/internal/domain"
)

// SelectServer picks the best destination for partySize players from the
// candidate servers. The ordering is a greedy bin-packing heuristic that
// consolidates players onto already-active servers before spreading out:
//
//  1. the fullest server still needing participants to reach its minimum,
//  2. else the emptiest occupied server that can still accept players,
//  3. else an empty server whose minimum the party meets at once, largest
//     capacity first,
//  4. else the empty server with the lowest minimum, fastest to fill next.
//
// ok is false when no server can take the party at all; the caller interprets
// that as "send to the lobby".
func SelectServer(servers []domain.GameServer, partySize int) (id string, ok bool) {
	if partySize <= 0 {
		partySize = 1
	}

	var fullestNeeding *domain.GameServer
	for i := range servers {
		s := &servers[i]
		if s.Empty() || !s.BelowMinimum() || !s.CanAccept(partySize) {
			continue
		}
		if fullestNeeding == nil || s.GapToMinimum() < fullestNeeding.GapToMinimum() {
			fullestNeeding = s
		}
	}
	if fullestNeeding != nil {
		return fullestNeeding.ID, true
	}

	var emptiestAccepting *domain.GameServer
	for i := range servers {
		s := &servers[i]
		if s.Empty() || s.BelowMinimum() || !s.CanAccept(partySize) {
			continue
		}
		if emptiestAccepting == nil || s.Remaining() > emptiestAccepting.Remaining() {
			emptiestAccepting = s
		}
	}
	if emptiestAccepting != nil {
		return emptiestAccepting.ID, true
	}

	var immediate *domain.GameServer
	for i := range servers {
		s := &servers[i]
		if !s.CanImmediatelySatisfy(partySize) {
			continue
		}
		if immediate == nil || s.MaxPlayers > immediate.MaxPlayers {
			immediate = s
		}
	}
	if immediate != nil {
		return immediate.ID, true
	}

	var fastestToFill *domain.GameServer
	for i := range servers {
		s := &servers[i]
		if !s.Empty() || !s.CanAccept(partySize) {
			continue
		}
		if fastestToFill == nil || s.MinPlayers < fastestToFill.MinPlayers {
			fastestToFill = s
		}
	}
	if fastestToFill != nil {
		return fastestToFill.ID, true
	}

	return "", false
}
