package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/iho/splitledger/internal/domain"
)

// PostgreSQL error codes the ledger cares about.
const (
	pgErrUniqueViolation      = "23505"
	pgErrSerializationFailure = "40001"
	pgErrDeadlock             = "40P01"
	pgErrLockNotAvailable     = "55P03"
)

const reversesConstraint = "ledger_entries_reverses_key"

// mapError converts driver errors into domain errors. Conflicts become
// domain.ErrConcurrencyConflict so the retrier can pick them up.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgErrSerializationFailure, pgErrDeadlock, pgErrLockNotAvailable:
		return fmt.Errorf("%w: %s", domain.ErrConcurrencyConflict, pgErr.Message)
	case pgErrUniqueViolation:
		if pgErr.ConstraintName == reversesConstraint {
			return domain.ErrAlreadyReversed
		}
		return fmt.Errorf("%w: %s", domain.ErrConcurrencyConflict, pgErr.Message)
	}

	return err
}
