// Package sqlite implements the ledger repositories on an embedded SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iho/splitledger/internal/usecase"
)

// TxManager implements usecase.TransactionManager. The connection string
// makes every transaction BEGIN IMMEDIATE, so an open transaction holds the
// database write lock.
type TxManager struct {
	db *sql.DB
}

// NewTxManager creates a new TxManager.
func NewTxManager(db *sql.DB) *TxManager {
	return &TxManager{db: db}
}

// Begin starts a new transaction.
func (m *TxManager) Begin(ctx context.Context) (usecase.Transaction, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapError(err)
	}
	return &Tx{tx: tx}, nil
}

// Tx wraps a database/sql transaction.
type Tx struct {
	tx *sql.Tx
}

// Commit commits the transaction.
func (t *Tx) Commit(ctx context.Context) error {
	return mapError(t.tx.Commit())
}

// Rollback rolls back the transaction. Rolling back a finished transaction
// is a no-op.
func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// SQLTx returns the underlying *sql.Tx.
func (t *Tx) SQLTx() *sql.Tx {
	return t.tx
}

func sqlTxFrom(tx usecase.Transaction) *sql.Tx {
	return tx.(*Tx).SQLTx()
}

// querier is implemented by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
