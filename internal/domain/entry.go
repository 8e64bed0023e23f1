package domain

import (
	"fmt"
	"strconv"
	"time"
)

// EntryKind discriminates the payload carried by a ledger entry.
type EntryKind string

const (
	EntryKindExpense    EntryKind = "expense"
	EntryKindSettlement EntryKind = "settlement"
)

// Split is one participant's share of an expense in minor units.
type Split struct {
	UserID string
	Amount int64
}

// Expense is a payment made by one user on behalf of the split participants.
type Expense struct {
	PayerID     string
	Amount      int64
	Description string
	SplitMode   SplitMode
	Splits      []Split
}

// Settlement is a direct payment from one user to another that reduces the
// payer's debt to the payee.
type Settlement struct {
	PayerID string
	PayeeID string
	Amount  int64
	Note    string
}

// LedgerEntry is an immutable record in the append-only ledger. Exactly one of
// Expense or Settlement is set, matching Kind. Sequence is assigned by the
// store and is strictly increasing.
type LedgerEntry struct {
	Sequence       int64
	ID             string
	Kind           EntryKind
	IdempotencyKey string
	GroupID        string
	OccurredAt     time.Time
	RecordedAt     time.Time
	CreatedBy      string

	// Reverses is the sequence of the entry this one cancels, or zero.
	Reverses int64

	Expense    *Expense
	Settlement *Settlement
}

// IsReversal reports whether the entry cancels an earlier one.
func (e *LedgerEntry) IsReversal() bool {
	return e.Reverses != 0
}

// Sign is +1 for regular entries and -1 for reversing entries.
func (e *LedgerEntry) Sign() int64 {
	if e.IsReversal() {
		return -1
	}
	return 1
}

// Amount returns the gross amount of the payload.
func (e *LedgerEntry) Amount() int64 {
	switch {
	case e.Expense != nil:
		return e.Expense.Amount
	case e.Settlement != nil:
		return e.Settlement.Amount
	}
	return 0
}

// Participants lists every user the entry touches, payer first.
func (e *LedgerEntry) Participants() []string {
	switch e.Kind {
	case EntryKindExpense:
		if e.Expense == nil {
			return nil
		}
		ids := []string{e.Expense.PayerID}
		for _, s := range e.Expense.Splits {
			if s.UserID != e.Expense.PayerID {
				ids = append(ids, s.UserID)
			}
		}
		return ids
	case EntryKindSettlement:
		if e.Settlement == nil {
			return nil
		}
		return []string{e.Settlement.PayerID, e.Settlement.PayeeID}
	}
	return nil
}

// Validate checks the structural invariants every stored entry must satisfy.
func (e *LedgerEntry) Validate() error {
	switch e.Kind {
	case EntryKindExpense:
		if e.Expense == nil || e.Settlement != nil {
			return fmt.Errorf("%w: expense entry must carry only an expense payload", ErrInvalidEntryKind)
		}
		return e.Expense.validate()
	case EntryKindSettlement:
		if e.Settlement == nil || e.Expense != nil {
			return fmt.Errorf("%w: settlement entry must carry only a settlement payload", ErrInvalidEntryKind)
		}
		return e.Settlement.validate()
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEntryKind, e.Kind)
	}
}

func (x *Expense) validate() error {
	if x.PayerID == "" {
		return fmt.Errorf("%w: payer is required", ErrInvalidSplit)
	}

	if err := ValidateAmount(x.Amount); err != nil {
		return err
	}

	if len(x.Splits) == 0 {
		return splitError("no participants", x.Amount, 0)
	}

	seen := make(map[string]struct{}, len(x.Splits))
	var sum int64
	for _, s := range x.Splits {
		if s.UserID == "" {
			return splitError("empty participant id", 0, 0)
		}
		if _, dup := seen[s.UserID]; dup {
			return splitError("duplicate participant "+s.UserID, 0, 0)
		}
		seen[s.UserID] = struct{}{}

		if s.Amount < 0 {
			return splitError("negative share for "+s.UserID, 0, s.Amount)
		}
		sum += s.Amount
	}

	if sum != x.Amount {
		return splitError("shares do not sum to the expense amount", x.Amount, sum)
	}

	return nil
}

func (s *Settlement) validate() error {
	if s.PayerID == "" || s.PayeeID == "" {
		return fmt.Errorf("%w: payer and payee are required", ErrUnknownParticipant)
	}

	if s.PayerID == s.PayeeID {
		return ErrSameUser
	}

	return ValidateAmount(s.Amount)
}

// Contribution says that Debtor owes Creditor Amount more than before. A
// negative Amount reduces the debt.
type Contribution struct {
	Debtor   string
	Creditor string
	Amount   int64
}

// Contributions expands an entry into the pairwise balance changes it causes.
// Self-splits produce nothing. A settlement from payer to payee is the payee
// owing the payer, which cancels debt in the other direction.
func (e *LedgerEntry) Contributions() []Contribution {
	sign := e.Sign()

	switch e.Kind {
	case EntryKindExpense:
		if e.Expense == nil {
			return nil
		}
		out := make([]Contribution, 0, len(e.Expense.Splits))
		for _, s := range e.Expense.Splits {
			if s.UserID == e.Expense.PayerID || s.Amount == 0 {
				continue
			}
			out = append(out, Contribution{
				Debtor:   s.UserID,
				Creditor: e.Expense.PayerID,
				Amount:   sign * s.Amount,
			})
		}
		return out
	case EntryKindSettlement:
		if e.Settlement == nil {
			return nil
		}
		return []Contribution{{
			Debtor:   e.Settlement.PayeeID,
			Creditor: e.Settlement.PayerID,
			Amount:   sign * e.Settlement.Amount,
		}}
	}
	return nil
}

// ReversalKeyPrefix starts every key the ledger assigns to reversals. Client
// keys may not use it.
const ReversalKeyPrefix = "reversal:"

// ReversalIdempotencyKey is the fixed key used when voiding the entry with
// the given sequence, so that repeated voids collapse into one.
func ReversalIdempotencyKey(seq int64) string {
	return ReversalKeyPrefix + strconv.FormatInt(seq, 10)
}

// NewReversal builds the entry that cancels original. The payload and
// OccurredAt are copied so the reversal lands in the same period.
func NewReversal(original *LedgerEntry, createdBy string, now time.Time) (*LedgerEntry, error) {
	if original.IsReversal() {
		return nil, ErrCannotReverseReversal
	}

	rev := &LedgerEntry{
		Kind:           original.Kind,
		IdempotencyKey: ReversalIdempotencyKey(original.Sequence),
		GroupID:        original.GroupID,
		OccurredAt:     original.OccurredAt,
		RecordedAt:     now,
		CreatedBy:      createdBy,
		Reverses:       original.Sequence,
	}

	if original.Expense != nil {
		exp := *original.Expense
		exp.Splits = append([]Split(nil), original.Expense.Splits...)
		rev.Expense = &exp
	}

	if original.Settlement != nil {
		st := *original.Settlement
		rev.Settlement = &st
	}

	return rev, nil
}
