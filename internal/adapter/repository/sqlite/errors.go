package sqlite

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/iho/splitledger/internal/domain"
)

// mapError converts driver errors into domain errors. A busy database is a
// concurrency conflict so the retrier can pick it up.
func mapError(err error) error {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return err
	}

	switch sqlErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %s", domain.ErrConcurrencyConflict, sqlErr.Error())
	}

	if isUniqueViolation(err) {
		if strings.Contains(sqlErr.Error(), "ledger_entries.reverses") {
			return domain.ErrAlreadyReversed
		}
		return fmt.Errorf("%w: %s", domain.ErrConcurrencyConflict, sqlErr.Error())
	}

	return err
}

func isUniqueViolation(err error) bool {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	switch sqlErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(sqlErr.Error(), "UNIQUE constraint failed")
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	return sqlErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY ||
		(sqlErr.Code() == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqlErr.Error(), "FOREIGN KEY constraint failed"))
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
