package domain

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"maps"
	"math"
	"slices"
)

// replayCheckInterval is how many entries a replay folds between context
// checks.
const replayCheckInterval = 256

// PairKey identifies an unordered pair of users. A is always the
// lexicographically smaller id.
type PairKey struct {
	A string
	B string
}

// orient returns the key for the pair and the sign that converts "debtor owes
// creditor" into the key's convention (positive means A owes B).
func orient(debtor, creditor string) (PairKey, int64) {
	if debtor < creditor {
		return PairKey{A: debtor, B: creditor}, 1
	}
	return PairKey{A: creditor, B: debtor}, -1
}

// Accumulator folds ledger entries into net pairwise balances. It is the
// snapshot state of the balance aggregator: the balance map plus the last
// applied sequence. Zero balances are removed so two accumulators over the
// same entries are always equal.
type Accumulator struct {
	balances     map[PairKey]int64
	lastSequence int64
}

// NewAccumulator returns an empty accumulator positioned before the first entry.
func NewAccumulator() *Accumulator {
	return &Accumulator{balances: make(map[PairKey]int64)}
}

// LastSequence is the sequence of the last entry folded in or skipped.
func (a *Accumulator) LastSequence() int64 {
	return a.lastSequence
}

// Len is the number of pairs with a non-zero balance.
func (a *Accumulator) Len() int {
	return len(a.balances)
}

// Apply folds one entry. Entries must arrive in strictly increasing sequence
// order. A structurally invalid entry means the stored ledger is corrupt and
// is reported as ErrUnbalancedLedger. On error the accumulator is unchanged.
func (a *Accumulator) Apply(e *LedgerEntry) error {
	if err := a.checkSequence(e.Sequence); err != nil {
		return err
	}

	if err := e.Validate(); err != nil {
		return fmt.Errorf("%w: entry %d: %w", ErrUnbalancedLedger, e.Sequence, err)
	}

	contribs := e.Contributions()
	next := make(map[PairKey]int64, len(contribs))
	for _, c := range contribs {
		key, sign := orient(c.Debtor, c.Creditor)
		cur, ok := next[key]
		if !ok {
			cur = a.balances[key]
		}
		sum, ok := addChecked(cur, sign*c.Amount)
		if !ok {
			return fmt.Errorf("%w: entry %d overflows balance of %s/%s", ErrUnbalancedLedger, e.Sequence, key.A, key.B)
		}
		next[key] = sum
	}

	for key, v := range next {
		a.set(key, v)
	}
	a.lastSequence = e.Sequence

	return nil
}

// Skip advances the sequence position without folding the entry. Scoped
// accumulators use it for entries outside their scope.
func (a *Accumulator) Skip(seq int64) error {
	if err := a.checkSequence(seq); err != nil {
		return err
	}
	a.lastSequence = seq
	return nil
}

func (a *Accumulator) checkSequence(seq int64) error {
	if seq <= a.lastSequence {
		return fmt.Errorf("%w: got %d after %d", ErrSequenceOutOfOrder, seq, a.lastSequence)
	}
	return nil
}

func (a *Accumulator) set(key PairKey, v int64) {
	if v == 0 {
		delete(a.balances, key)
		return
	}
	a.balances[key] = v
}

// ApplyAll folds every entry yielded by entries. Entries rejected by filter
// only advance the sequence position. The context is checked periodically so
// long replays can be cancelled. The accumulator may be partially updated
// when an error is returned, so callers fold into a Clone.
func (a *Accumulator) ApplyAll(ctx context.Context, entries iter.Seq2[*LedgerEntry, error], filter func(*LedgerEntry) bool) error {
	n := 0
	for e, err := range entries {
		if err != nil {
			return err
		}

		n++
		if n%replayCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		if filter != nil && !filter(e) {
			if err := a.Skip(e.Sequence); err != nil {
				return err
			}
			continue
		}

		if err := a.Apply(e); err != nil {
			return err
		}
	}

	return ctx.Err()
}

// Clone returns an independent copy.
func (a *Accumulator) Clone() *Accumulator {
	return &Accumulator{
		balances:     maps.Clone(a.balances),
		lastSequence: a.lastSequence,
	}
}

// Equal reports whether both accumulators hold the same balances. The
// sequence position is not compared.
func (a *Accumulator) Equal(b *Accumulator) bool {
	return maps.Equal(a.balances, b.balances)
}

// Graph renders the balances as debtor to creditor edges.
func (a *Accumulator) Graph() BalanceGraph {
	edges := make([]BalanceEdge, 0, len(a.balances))
	for key, v := range a.balances {
		if v > 0 {
			edges = append(edges, BalanceEdge{Debtor: key.A, Creditor: key.B, Amount: v})
		} else {
			edges = append(edges, BalanceEdge{Debtor: key.B, Creditor: key.A, Amount: -v})
		}
	}
	sortEdges(edges)

	return BalanceGraph{Edges: edges, AsOfSequence: a.lastSequence}
}

// PairBalance is one persisted entry of an accumulator snapshot.
type PairBalance struct {
	A      string `json:"a"`
	B      string `json:"b"`
	Amount int64  `json:"amount"`
}

// Snapshot is the serialisable form of an accumulator.
type Snapshot struct {
	LastSequence int64         `json:"last_sequence"`
	Pairs        []PairBalance `json:"pairs"`
}

// Snapshot captures the accumulator state in a deterministic order.
func (a *Accumulator) Snapshot() Snapshot {
	pairs := make([]PairBalance, 0, len(a.balances))
	for key, v := range a.balances {
		pairs = append(pairs, PairBalance{A: key.A, B: key.B, Amount: v})
	}
	slices.SortFunc(pairs, func(x, y PairBalance) int {
		return cmp.Or(cmp.Compare(x.A, y.A), cmp.Compare(x.B, y.B))
	})

	return Snapshot{LastSequence: a.lastSequence, Pairs: pairs}
}

// RestoreAccumulator rebuilds an accumulator from a snapshot.
func RestoreAccumulator(s Snapshot) (*Accumulator, error) {
	if s.LastSequence < 0 {
		return nil, fmt.Errorf("%w: negative snapshot sequence %d", ErrSequenceOutOfOrder, s.LastSequence)
	}

	acc := NewAccumulator()
	acc.lastSequence = s.LastSequence
	for _, p := range s.Pairs {
		if p.A >= p.B {
			return nil, fmt.Errorf("%w: snapshot pair %s/%s is not ordered", ErrUnbalancedLedger, p.A, p.B)
		}
		acc.set(PairKey{A: p.A, B: p.B}, p.Amount)
	}

	return acc, nil
}

// ComputeBalances replays entries from empty.
func ComputeBalances(ctx context.Context, entries iter.Seq2[*LedgerEntry, error]) (*Accumulator, error) {
	acc := NewAccumulator()
	if err := acc.ApplyAll(ctx, entries, nil); err != nil {
		return nil, err
	}
	return acc, nil
}

func addChecked(a, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

// BalanceEdge is a derived debt: Debtor owes Creditor Amount (> 0).
type BalanceEdge struct {
	Debtor   string
	Creditor string
	Amount   int64
}

// BalanceGraph is the set of non-zero debts as of a ledger sequence. Edges
// are sorted by debtor and then creditor.
type BalanceGraph struct {
	Edges        []BalanceEdge
	AsOfSequence int64
}

func sortEdges(edges []BalanceEdge) {
	slices.SortFunc(edges, func(x, y BalanceEdge) int {
		return cmp.Or(cmp.Compare(x.Debtor, y.Debtor), cmp.Compare(x.Creditor, y.Creditor))
	})
}

// NetPositions maps every user on an edge to creditor total minus debtor
// total. The values always sum to zero.
func (g BalanceGraph) NetPositions() map[string]int64 {
	net := make(map[string]int64)
	for _, e := range g.Edges {
		net[e.Creditor] += e.Amount
		net[e.Debtor] -= e.Amount
	}
	return net
}

// NetPositionOf is the user's net position: positive when owed money.
func (g BalanceGraph) NetPositionOf(userID string) int64 {
	var net int64
	for _, e := range g.Edges {
		switch userID {
		case e.Creditor:
			net += e.Amount
		case e.Debtor:
			net -= e.Amount
		}
	}
	return net
}

// CounterpartyBalance is the signed balance between a user and one
// counterparty. Positive means the counterparty owes the user.
type CounterpartyBalance struct {
	CounterpartyID string
	Amount         int64
}

// PerCounterparty lists the user's balances with everyone they share a debt
// with, ordered by counterparty id.
func (g BalanceGraph) PerCounterparty(userID string) []CounterpartyBalance {
	var out []CounterpartyBalance
	for _, e := range g.Edges {
		switch userID {
		case e.Creditor:
			out = append(out, CounterpartyBalance{CounterpartyID: e.Debtor, Amount: e.Amount})
		case e.Debtor:
			out = append(out, CounterpartyBalance{CounterpartyID: e.Creditor, Amount: -e.Amount})
		}
	}
	slices.SortFunc(out, func(x, y CounterpartyBalance) int {
		return cmp.Compare(x.CounterpartyID, y.CounterpartyID)
	})
	return out
}

// Balance is how much debtor owes creditor, zero when the debt runs the
// other way or does not exist.
func (g BalanceGraph) Balance(debtor, creditor string) int64 {
	i, found := slices.BinarySearchFunc(g.Edges, BalanceEdge{Debtor: debtor, Creditor: creditor}, func(e, t BalanceEdge) int {
		return cmp.Or(cmp.Compare(e.Debtor, t.Debtor), cmp.Compare(e.Creditor, t.Creditor))
	})
	if !found {
		return 0
	}
	return g.Edges[i].Amount
}

// Users returns every user that appears on an edge, sorted.
func (g BalanceGraph) Users() []string {
	set := make(map[string]struct{})
	for _, e := range g.Edges {
		set[e.Debtor] = struct{}{}
		set[e.Creditor] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set))
}

// Equal compares edges only.
func (g BalanceGraph) Equal(o BalanceGraph) bool {
	return slices.Equal(g.Edges, o.Edges)
}

// IsAntiSymmetric reports whether every pair appears at most once, in one
// direction, with a positive amount.
func (g BalanceGraph) IsAntiSymmetric() bool {
	seen := make(map[PairKey]struct{}, len(g.Edges))
	for _, e := range g.Edges {
		if e.Amount <= 0 || e.Debtor == e.Creditor {
			return false
		}
		key, _ := orient(e.Debtor, e.Creditor)
		if _, dup := seen[key]; dup {
			return false
		}
		seen[key] = struct{}{}
	}
	return true
}

// IsConserved reports whether the net positions sum to zero.
func (g BalanceGraph) IsConserved() bool {
	var total int64
	for _, v := range g.NetPositions() {
		total += v
	}
	return total == 0
}

// CheckInvariants verifies anti-symmetry and conservation.
func (g BalanceGraph) CheckInvariants() error {
	if !g.IsAntiSymmetric() {
		return fmt.Errorf("%w: balance graph is not anti-symmetric", ErrUnbalancedLedger)
	}
	if !g.IsConserved() {
		return fmt.Errorf("%w: net positions do not sum to zero", ErrUnbalancedLedger)
	}
	return nil
}
