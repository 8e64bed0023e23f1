package domain

import (
	"errors"
	"fmt"
)

var (
	// Write validation errors
	ErrInvalidSplit          = errors.New("invalid split")
	ErrUnknownParticipant    = errors.New("unknown participant")
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrAmountPrecision       = errors.New("amount has more precision than the currency minor unit")
	ErrAmountTooLarge        = errors.New("amount exceeds the supported maximum")
	ErrSameUser              = errors.New("payer and payee must be different users")
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")
	ErrInvalidEntryKind      = errors.New("invalid ledger entry kind")

	// Write outcomes
	ErrDuplicateWrite      = errors.New("idempotency key already applied")
	ErrConcurrencyConflict = errors.New("concurrent ledger write conflict")

	// Internal invariant violations
	ErrUnbalancedLedger   = errors.New("ledger is unbalanced")
	ErrSequenceOutOfOrder = errors.New("ledger sequence is not strictly increasing")

	// Lookup errors
	ErrUserNotFound  = errors.New("user not found")
	ErrGroupNotFound = errors.New("group not found")
	ErrEntryNotFound = errors.New("ledger entry not found")
	ErrUserExists    = errors.New("user already exists")

	// Reversal errors
	ErrAlreadyReversed       = errors.New("ledger entry already reversed")
	ErrCannotReverseReversal = errors.New("a reversing entry cannot itself be reversed")
	ErrReversalKeyTaken      = errors.New("reversal key is held by another entry")

	// Query errors
	ErrInvalidRange = errors.New("invalid month range")
)

// SplitError describes why a split was rejected. It matches ErrInvalidSplit
// with errors.Is and carries the expected and actual totals.
type SplitError struct {
	Reason   string
	Expected int64
	Actual   int64
}

func (e *SplitError) Error() string {
	if e.Expected == 0 && e.Actual == 0 {
		return fmt.Sprintf("%s: %s", ErrInvalidSplit, e.Reason)
	}
	return fmt.Sprintf("%s: %s (expected %d, got %d)", ErrInvalidSplit, e.Reason, e.Expected, e.Actual)
}

func (e *SplitError) Unwrap() error {
	return ErrInvalidSplit
}

func splitError(reason string, expected, actual int64) error {
	return &SplitError{Reason: reason, Expected: expected, Actual: actual}
}

func unknownParticipant(id string) error {
	return fmt.Errorf("%w: %w: %q", ErrInvalidSplit, ErrUnknownParticipant, id)
}
