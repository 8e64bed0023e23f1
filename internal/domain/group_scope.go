package domain

import (
	"cmp"
	"context"
	"iter"
	"slices"
)

// InGroup reports whether the entry was recorded against groupID. Personal
// entries (no group) are never part of a group scope.
func (e *LedgerEntry) InGroup(groupID string) bool {
	return groupID != "" && e.GroupID == groupID
}

// GroupBalances replays only the entries recorded against groupID.
// Attribution is fixed at write time, so later membership changes never move
// history between scopes.
func GroupBalances(ctx context.Context, groupID string, entries iter.Seq2[*LedgerEntry, error]) (BalanceGraph, error) {
	acc := NewAccumulator()
	err := acc.ApplyAll(ctx, entries, func(e *LedgerEntry) bool {
		return e.InGroup(groupID)
	})
	if err != nil {
		return BalanceGraph{}, err
	}
	return acc.Graph(), nil
}

// MemberPosition is a user's net position inside one scope.
type MemberPosition struct {
	UserID   string
	Net      int64
	IsMember bool
}

// MemberPositions lists current members with their net position, including
// members with a zero balance, plus former members who still carry a
// balance. The result is ordered by user id.
func MemberPositions(g BalanceGraph, memberIDs []string) []MemberPosition {
	net := g.NetPositions()

	out := make([]MemberPosition, 0, len(memberIDs)+len(net))
	seen := make(map[string]struct{}, len(memberIDs))
	for _, id := range memberIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, MemberPosition{UserID: id, Net: net[id], IsMember: true})
	}

	for id, v := range net {
		if _, ok := seen[id]; ok || v == 0 {
			continue
		}
		out = append(out, MemberPosition{UserID: id, Net: v})
	}

	slices.SortFunc(out, func(x, y MemberPosition) int {
		return cmp.Compare(x.UserID, y.UserID)
	})
	return out
}
