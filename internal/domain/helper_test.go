package domain

import (
	"fmt"
	"iter"
	"math/rand/v2"
	"time"
)

var baseTime = time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

func seqOf(entries ...*LedgerEntry) iter.Seq2[*LedgerEntry, error] {
	return func(yield func(*LedgerEntry, error) bool) {
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func expenseEntry(seq int64, group, payer string, amount int64, splits ...Split) *LedgerEntry {
	return &LedgerEntry{
		Sequence:       seq,
		ID:             fmt.Sprintf("entry-%d", seq),
		Kind:           EntryKindExpense,
		IdempotencyKey: fmt.Sprintf("key-%d", seq),
		GroupID:        group,
		OccurredAt:     baseTime,
		RecordedAt:     baseTime,
		Expense: &Expense{
			PayerID:   payer,
			Amount:    amount,
			SplitMode: SplitModeExact,
			Splits:    splits,
		},
	}
}

func equalExpense(seq int64, group, payer string, amount int64, participants ...string) *LedgerEntry {
	shares := make([]SplitShare, len(participants))
	for i, p := range participants {
		shares[i] = SplitShare{UserID: p}
	}
	splits, err := ResolveSplits(amount, SplitSpec{Mode: SplitModeEqual, Shares: shares}, nil)
	if err != nil {
		panic(err)
	}
	e := expenseEntry(seq, group, payer, amount, splits...)
	e.Expense.SplitMode = SplitModeEqual
	return e
}

func settlementEntry(seq int64, group, payer, payee string, amount int64) *LedgerEntry {
	return &LedgerEntry{
		Sequence:       seq,
		ID:             fmt.Sprintf("entry-%d", seq),
		Kind:           EntryKindSettlement,
		IdempotencyKey: fmt.Sprintf("key-%d", seq),
		GroupID:        group,
		OccurredAt:     baseTime,
		RecordedAt:     baseTime,
		Settlement: &Settlement{
			PayerID: payer,
			PayeeID: payee,
			Amount:  amount,
		},
	}
}

// randomLedger produces a valid ledger mixing all split modes, settlements
// and reversals across a handful of users and groups.
func randomLedger(rng *rand.Rand, n int) []*LedgerEntry {
	users := []string{"ana", "ben", "cat", "dan", "eve", "fay"}
	groups := []string{"", "trip", "flat"}

	entries := make([]*LedgerEntry, 0, n)
	reversed := make(map[int64]bool)

	for seq := int64(1); len(entries) < n; seq++ {
		group := groups[rng.IntN(len(groups))]

		switch r := rng.IntN(10); {
		case r < 6:
			amount := rng.Int64N(1_000_000) + 1
			payer := users[rng.IntN(len(users))]
			perm := rng.Perm(len(users))[:rng.IntN(len(users))+1]

			spec := SplitSpec{Mode: []SplitMode{SplitModeEqual, SplitModeExact, SplitModePercentage}[rng.IntN(3)]}
			remaining, remainingBP := amount, FullPercentage
			for i, idx := range perm {
				share := SplitShare{UserID: users[idx]}
				if i == len(perm)-1 {
					share.Amount, share.BasisPoints = remaining, remainingBP
				} else {
					share.Amount = rng.Int64N(remaining + 1)
					share.BasisPoints = rng.Int64N(remainingBP + 1)
				}
				remaining -= share.Amount
				remainingBP -= share.BasisPoints
				spec.Shares = append(spec.Shares, share)
			}

			splits, err := ResolveSplits(amount, spec, nil)
			if err != nil {
				panic(err)
			}
			e := expenseEntry(seq, group, payer, amount, splits...)
			e.Expense.SplitMode = spec.Mode
			e.OccurredAt = baseTime.AddDate(0, rng.IntN(6), rng.IntN(28))
			entries = append(entries, e)
		case r < 9:
			i := rng.IntN(len(users))
			j := (i + 1 + rng.IntN(len(users)-1)) % len(users)
			entries = append(entries, settlementEntry(seq, group, users[i], users[j], rng.Int64N(500_000)+1))
		default:
			if len(entries) == 0 {
				continue
			}
			orig := entries[rng.IntN(len(entries))]
			if orig.IsReversal() || reversed[orig.Sequence] {
				continue
			}
			rev, err := NewReversal(orig, "", baseTime)
			if err != nil {
				panic(err)
			}
			rev.Sequence = seq
			rev.ID = fmt.Sprintf("entry-%d", seq)
			reversed[orig.Sequence] = true
			entries = append(entries, rev)
		}
	}

	return entries
}
