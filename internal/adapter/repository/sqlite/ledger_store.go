package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

// DefaultPageSize is used by EntriesSince when no page size is configured.
const DefaultPageSize = 500

const entryColumns = `sequence, id, kind, idempotency_key, group_id, occurred_at, recorded_at,
	created_by, reverses, payer_id, payee_id, amount, description, split_mode`

const (
	insertEntrySQL = `INSERT INTO ledger_entries (` + entryColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	insertSplitSQL = `INSERT INTO ledger_splits (sequence, position, user_id, amount) VALUES (?, ?, ?, ?)`

	selectBySeqSQL = `SELECT ` + entryColumns + ` FROM ledger_entries WHERE sequence = ?`
	selectByKeySQL = `SELECT ` + entryColumns + ` FROM ledger_entries WHERE idempotency_key = ?`
	selectPageSQL  = `SELECT ` + entryColumns + ` FROM ledger_entries
	WHERE sequence > ? ORDER BY sequence LIMIT ?`
	selectPaidBySQL = `SELECT ` + entryColumns + ` FROM ledger_entries
	WHERE kind = 'expense' AND payer_id = ? AND occurred_at >= ? AND occurred_at < ?
	ORDER BY sequence`
)

// LedgerStore implements usecase.LedgerStore on SQLite.
type LedgerStore struct {
	db       *sql.DB
	pageSize int
}

// NewLedgerStore creates a new LedgerStore. A non-positive pageSize falls
// back to DefaultPageSize.
func NewLedgerStore(db *sql.DB, pageSize int) *LedgerStore {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &LedgerStore{db: db, pageSize: pageSize}
}

// Append stores entry with the next sequence number. tx already holds the
// database write lock, which makes the read of MAX(sequence) safe.
func (s *LedgerStore) Append(ctx context.Context, tx usecase.Transaction, entry *domain.LedgerEntry) (*domain.LedgerEntry, bool, error) {
	if err := entry.Validate(); err != nil {
		return nil, false, err
	}

	stx := sqlTxFrom(tx)

	existing, err := queryOne(ctx, stx, selectByKeySQL, entry.IdempotencyKey)
	switch {
	case err == nil:
		return existing, true, nil
	case !errors.Is(err, domain.ErrEntryNotFound):
		return nil, false, err
	}

	var next int64
	if err := stx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) + 1 FROM ledger_entries`).Scan(&next); err != nil {
		return nil, false, mapError(err)
	}

	stored := *entry
	stored.Sequence = next
	stored.OccurredAt = entry.OccurredAt.UTC()
	stored.RecordedAt = entry.RecordedAt.UTC()

	if _, err := stx.ExecContext(ctx, insertEntrySQL, entryArgs(&stored)...); err != nil {
		return nil, false, mapError(err)
	}

	if stored.Expense != nil {
		stmt, err := stx.PrepareContext(ctx, insertSplitSQL)
		if err != nil {
			return nil, false, mapError(err)
		}
		defer stmt.Close()

		for i, sp := range stored.Expense.Splits {
			if _, err := stmt.ExecContext(ctx, stored.Sequence, i, sp.UserID, sp.Amount); err != nil {
				return nil, false, mapError(err)
			}
		}
	}

	return &stored, false, nil
}

// GetBySequence returns the entry with the given sequence.
func (s *LedgerStore) GetBySequence(ctx context.Context, seq int64) (*domain.LedgerEntry, error) {
	return queryOne(ctx, s.db, selectBySeqSQL, seq)
}

// GetByIdempotencyKey returns the entry recorded under key.
func (s *LedgerStore) GetByIdempotencyKey(ctx context.Context, key string) (*domain.LedgerEntry, error) {
	return queryOne(ctx, s.db, selectByKeySQL, key)
}

// EntriesSince streams entries after afterSeq one page at a time. No
// transaction is held between pages.
func (s *LedgerStore) EntriesSince(ctx context.Context, afterSeq int64) iter.Seq2[*domain.LedgerEntry, error] {
	return func(yield func(*domain.LedgerEntry, error) bool) {
		cursor := afterSeq
		for {
			page, err := s.List(ctx, cursor, s.pageSize)
			if err != nil {
				yield(nil, err)
				return
			}

			for _, e := range page {
				if !yield(e, nil) {
					return
				}
				cursor = e.Sequence
			}

			if len(page) < s.pageSize {
				return
			}
		}
	}
}

// List returns up to limit entries after afterSeq in sequence order.
func (s *LedgerStore) List(ctx context.Context, afterSeq int64, limit int) ([]*domain.LedgerEntry, error) {
	return queryMany(ctx, s.db, selectPageSQL, afterSeq, limit)
}

// ExpensesPaidBy returns expenses and their reversals paid by payerID in
// [from, to).
func (s *LedgerStore) ExpensesPaidBy(ctx context.Context, payerID string, from, to time.Time) ([]*domain.LedgerEntry, error) {
	return queryMany(ctx, s.db, selectPaidBySQL, payerID, toNanos(from), toNanos(to))
}

// LastSequence returns the highest stored sequence, or zero for an empty log.
func (s *LedgerStore) LastSequence(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM ledger_entries`).Scan(&seq); err != nil {
		return 0, mapError(err)
	}
	return seq, nil
}

func queryOne(ctx context.Context, q querier, query string, arg any) (*domain.LedgerEntry, error) {
	entries, err := queryMany(ctx, q, query, arg)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, domain.ErrEntryNotFound
	}
	return entries[0], nil
}

func queryMany(ctx context.Context, q querier, query string, args ...any) ([]*domain.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}

	var entries []*domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, mapError(err)
	}
	rows.Close()

	if err := loadSplits(ctx, q, entries); err != nil {
		return nil, err
	}

	return entries, nil
}

// loadSplits fills the split rows of every expense in entries with one query.
func loadSplits(ctx context.Context, q querier, entries []*domain.LedgerEntry) error {
	bySeq := make(map[int64]*domain.Expense)
	args := make([]any, 0, len(entries))
	for _, e := range entries {
		if e.Expense != nil {
			bySeq[e.Sequence] = e.Expense
			args = append(args, e.Sequence)
		}
	}
	if len(args) == 0 {
		return nil
	}

	rows, err := q.QueryContext(ctx, `SELECT sequence, user_id, amount FROM ledger_splits
		WHERE sequence IN (`+placeholders(len(args))+`) ORDER BY sequence, position`, args...)
	if err != nil {
		return mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq   int64
			split domain.Split
		)
		if err := rows.Scan(&seq, &split.UserID, &split.Amount); err != nil {
			return err
		}
		if x, ok := bySeq[seq]; ok {
			x.Splits = append(x.Splits, split)
		}
	}

	if err := rows.Err(); err != nil {
		return mapError(err)
	}

	for seq, x := range bySeq {
		if len(x.Splits) == 0 {
			return fmt.Errorf("%w: expense %d has no split rows", domain.ErrUnbalancedLedger, seq)
		}
	}

	return nil
}

func scanEntry(rows *sql.Rows) (*domain.LedgerEntry, error) {
	var (
		e           domain.LedgerEntry
		kind        string
		occurredAt  int64
		recordedAt  int64
		reverses    sql.NullInt64
		payerID     string
		payeeID     string
		amount      int64
		description string
		splitMode   string
	)

	err := rows.Scan(
		&e.Sequence, &e.ID, &kind, &e.IdempotencyKey, &e.GroupID,
		&occurredAt, &recordedAt, &e.CreatedBy, &reverses,
		&payerID, &payeeID, &amount, &description, &splitMode,
	)
	if err != nil {
		return nil, err
	}

	e.Kind = domain.EntryKind(kind)
	e.OccurredAt = fromNanos(occurredAt)
	e.RecordedAt = fromNanos(recordedAt)
	e.Reverses = reverses.Int64

	switch e.Kind {
	case domain.EntryKindExpense:
		e.Expense = &domain.Expense{
			PayerID:     payerID,
			Amount:      amount,
			Description: description,
			SplitMode:   domain.SplitMode(splitMode),
		}
	case domain.EntryKindSettlement:
		e.Settlement = &domain.Settlement{
			PayerID: payerID,
			PayeeID: payeeID,
			Amount:  amount,
			Note:    description,
		}
	default:
		return nil, fmt.Errorf("%w: stored kind %q at sequence %d", domain.ErrInvalidEntryKind, kind, e.Sequence)
	}

	return &e, nil
}

func entryArgs(e *domain.LedgerEntry) []any {
	reverses := sql.NullInt64{Int64: e.Reverses, Valid: e.IsReversal()}

	var payerID, payeeID, description, splitMode string
	switch {
	case e.Expense != nil:
		payerID = e.Expense.PayerID
		description = e.Expense.Description
		splitMode = string(e.Expense.SplitMode)
	case e.Settlement != nil:
		payerID = e.Settlement.PayerID
		payeeID = e.Settlement.PayeeID
		description = e.Settlement.Note
	}

	return []any{
		e.Sequence, e.ID, string(e.Kind), e.IdempotencyKey, e.GroupID,
		toNanos(e.OccurredAt), toNanos(e.RecordedAt), e.CreatedBy, reverses,
		payerID, payeeID, e.Amount(), description, splitMode,
	}
}
