package domain

import (
	"context"
	"fmt"
	"iter"
)

// BalanceBook keeps the global accumulator together with one accumulator per
// group so that both scopes can be served from one incremental snapshot.
type BalanceBook struct {
	global      *Accumulator
	groups      map[string]*Accumulator
	lastEntryID string
}

// NewBalanceBook returns an empty book.
func NewBalanceBook() *BalanceBook {
	return &BalanceBook{
		global: NewAccumulator(),
		groups: make(map[string]*Accumulator),
	}
}

// LastSequence is the last entry folded into the book.
func (b *BalanceBook) LastSequence() int64 {
	return b.global.LastSequence()
}

// LastEntryID is the ID of the entry at LastSequence, empty for an empty book.
func (b *BalanceBook) LastEntryID() string {
	return b.lastEntryID
}

// Apply folds one entry into the global scope and, for group entries, into
// that group's scope.
func (b *BalanceBook) Apply(e *LedgerEntry) error {
	if err := b.global.Apply(e); err != nil {
		return err
	}
	b.lastEntryID = e.ID

	if e.GroupID == "" {
		return nil
	}

	group := b.groups[e.GroupID]
	if group == nil {
		group = NewAccumulator()
		b.groups[e.GroupID] = group
	}
	// Groups never run ahead of the global accumulator.
	return group.Apply(e)
}

// CatchUp folds every entry yielded by entries. On error the book may be
// partially updated, so callers catch up on a Clone.
func (b *BalanceBook) CatchUp(ctx context.Context, entries iter.Seq2[*LedgerEntry, error]) (int, error) {
	n := 0
	for e, err := range entries {
		if err != nil {
			return n, err
		}
		if n%replayCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return n, err
			}
		}
		if err := b.Apply(e); err != nil {
			return n, err
		}
		n++
	}
	return n, ctx.Err()
}

// Global returns the balance graph across all entries.
func (b *BalanceBook) Global() BalanceGraph {
	return b.global.Graph()
}

// Group returns the balance graph of one group. Unknown groups yield an
// empty graph.
func (b *BalanceBook) Group(groupID string) BalanceGraph {
	acc, ok := b.groups[groupID]
	if !ok {
		return BalanceGraph{AsOfSequence: b.LastSequence()}
	}
	g := acc.Graph()
	g.AsOfSequence = b.LastSequence()
	return g
}

// GlobalAccumulator exposes a copy of the global accumulator for comparison
// against a full replay.
func (b *BalanceBook) GlobalAccumulator() *Accumulator {
	return b.global.Clone()
}

// Clone returns an independent copy.
func (b *BalanceBook) Clone() *BalanceBook {
	groups := make(map[string]*Accumulator, len(b.groups))
	for id, acc := range b.groups {
		groups[id] = acc.Clone()
	}
	return &BalanceBook{global: b.global.Clone(), groups: groups, lastEntryID: b.lastEntryID}
}

// BookSnapshot is the serialisable form of a BalanceBook. LastEntryID lets
// a reader check that the snapshot was taken from the same ledger.
type BookSnapshot struct {
	Global      Snapshot            `json:"global"`
	Groups      map[string]Snapshot `json:"groups"`
	LastEntryID string              `json:"last_entry_id,omitempty"`
}

// Snapshot captures the book.
func (b *BalanceBook) Snapshot() BookSnapshot {
	groups := make(map[string]Snapshot, len(b.groups))
	for id, acc := range b.groups {
		groups[id] = acc.Snapshot()
	}
	return BookSnapshot{Global: b.global.Snapshot(), Groups: groups, LastEntryID: b.lastEntryID}
}

// RestoreBalanceBook rebuilds a book from a snapshot.
func RestoreBalanceBook(s BookSnapshot) (*BalanceBook, error) {
	global, err := RestoreAccumulator(s.Global)
	if err != nil {
		return nil, err
	}

	book := &BalanceBook{
		global:      global,
		groups:      make(map[string]*Accumulator, len(s.Groups)),
		lastEntryID: s.LastEntryID,
	}
	for id, gs := range s.Groups {
		if gs.LastSequence > global.LastSequence() {
			return nil, fmt.Errorf("%w: group %s snapshot is ahead of the global snapshot", ErrSequenceOutOfOrder, id)
		}
		acc, err := RestoreAccumulator(gs)
		if err != nil {
			return nil, err
		}
		book.groups[id] = acc
	}

	return book, nil
}
