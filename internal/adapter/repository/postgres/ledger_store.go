package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

// DefaultPageSize is used by EntriesSince when no page size is configured.
const DefaultPageSize = 500

// appendLockKey identifies the transaction-scoped advisory lock that
// serialises sequence assignment.
const appendLockKey int64 = 0x5e11ed6e

const entryColumns = `sequence, id, kind, idempotency_key, group_id, occurred_at, recorded_at,
	created_by, reverses, payer_id, payee_id, amount, description, split_mode`

const (
	lockAppendSQL  = `SELECT pg_advisory_xact_lock($1)`
	nextSeqSQL     = `SELECT COALESCE(MAX(sequence), 0) + 1 FROM ledger_entries`
	lastSeqSQL     = `SELECT COALESCE(MAX(sequence), 0) FROM ledger_entries`
	insertEntrySQL = `INSERT INTO ledger_entries (` + entryColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	selectBySeqSQL = `SELECT ` + entryColumns + ` FROM ledger_entries WHERE sequence = $1`
	selectByKeySQL = `SELECT ` + entryColumns + ` FROM ledger_entries WHERE idempotency_key = $1`
	selectPageSQL  = `SELECT ` + entryColumns + ` FROM ledger_entries
	WHERE sequence > $1 ORDER BY sequence LIMIT $2`
	selectPaidBySQL = `SELECT ` + entryColumns + ` FROM ledger_entries
	WHERE kind = 'expense' AND payer_id = $1 AND occurred_at >= $2 AND occurred_at < $3
	ORDER BY sequence`
	selectSplitsSQL = `SELECT sequence, user_id, amount FROM ledger_splits
	WHERE sequence = ANY($1) ORDER BY sequence, position`
)

// LedgerStore implements usecase.LedgerStore on PostgreSQL.
type LedgerStore struct {
	db       DB
	pageSize int
}

// NewLedgerStore creates a new LedgerStore. A non-positive pageSize falls
// back to DefaultPageSize.
func NewLedgerStore(db DB, pageSize int) *LedgerStore {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &LedgerStore{db: db, pageSize: pageSize}
}

// Append stores entry with the next sequence number. The advisory lock is
// held until tx ends, so concurrent appenders queue instead of racing for
// the same sequence.
func (s *LedgerStore) Append(ctx context.Context, tx usecase.Transaction, entry *domain.LedgerEntry) (*domain.LedgerEntry, bool, error) {
	if err := entry.Validate(); err != nil {
		return nil, false, err
	}

	ptx := pgxTxFrom(tx)

	if _, err := ptx.Exec(ctx, lockAppendSQL, appendLockKey); err != nil {
		return nil, false, mapError(err)
	}

	existing, err := s.queryOne(ctx, ptx, selectByKeySQL, entry.IdempotencyKey)
	switch {
	case err == nil:
		return existing, true, nil
	case !errors.Is(err, domain.ErrEntryNotFound):
		return nil, false, err
	}

	var next int64
	if err := ptx.QueryRow(ctx, nextSeqSQL).Scan(&next); err != nil {
		return nil, false, mapError(err)
	}

	stored := *entry
	stored.Sequence = next
	stored.OccurredAt = entry.OccurredAt.UTC()
	stored.RecordedAt = entry.RecordedAt.UTC()

	if _, err := ptx.Exec(ctx, insertEntrySQL, entryArgs(&stored)...); err != nil {
		return nil, false, mapError(err)
	}

	if stored.Expense != nil && len(stored.Expense.Splits) > 0 {
		rows := make([][]any, len(stored.Expense.Splits))
		for i, sp := range stored.Expense.Splits {
			rows[i] = []any{stored.Sequence, int32(i), sp.UserID, sp.Amount}
		}
		_, err := ptx.CopyFrom(ctx,
			pgx.Identifier{"ledger_splits"},
			[]string{"sequence", "position", "user_id", "amount"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return nil, false, mapError(err)
		}
	}

	return &stored, false, nil
}

// GetBySequence returns the entry with the given sequence.
func (s *LedgerStore) GetBySequence(ctx context.Context, seq int64) (*domain.LedgerEntry, error) {
	return s.queryOne(ctx, s.db, selectBySeqSQL, seq)
}

// GetByIdempotencyKey returns the entry recorded under key.
func (s *LedgerStore) GetByIdempotencyKey(ctx context.Context, key string) (*domain.LedgerEntry, error) {
	return s.queryOne(ctx, s.db, selectByKeySQL, key)
}

// EntriesSince streams entries after afterSeq one page at a time.
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
	return s.queryMany(ctx, s.db, selectPageSQL, afterSeq, limit)
}

// ExpensesPaidBy returns expenses and their reversals paid by payerID in
// [from, to).
func (s *LedgerStore) ExpensesPaidBy(ctx context.Context, payerID string, from, to time.Time) ([]*domain.LedgerEntry, error) {
	return s.queryMany(ctx, s.db, selectPaidBySQL, payerID, from.UTC(), to.UTC())
}

// LastSequence returns the highest stored sequence, or zero for an empty log.
func (s *LedgerStore) LastSequence(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRow(ctx, lastSeqSQL).Scan(&seq); err != nil {
		return 0, mapError(err)
	}
	return seq, nil
}

func (s *LedgerStore) queryOne(ctx context.Context, q querier, sql string, arg any) (*domain.LedgerEntry, error) {
	entries, err := s.queryMany(ctx, q, sql, arg)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, domain.ErrEntryNotFound
	}
	return entries[0], nil
}

func (s *LedgerStore) queryMany(ctx context.Context, q querier, sql string, args ...any) ([]*domain.LedgerEntry, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}

	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, mapError(err)
	}

	if err := loadSplits(ctx, q, entries); err != nil {
		return nil, err
	}

	return entries, nil
}

// loadSplits fills the split rows of every expense in entries with one query.
func loadSplits(ctx context.Context, q querier, entries []*domain.LedgerEntry) error {
	bySeq := make(map[int64]*domain.Expense)
	seqs := make([]int64, 0, len(entries))
	for _, e := range entries {
		if e.Expense != nil {
			bySeq[e.Sequence] = e.Expense
			seqs = append(seqs, e.Sequence)
		}
	}
	if len(seqs) == 0 {
		return nil
	}

	rows, err := q.Query(ctx, selectSplitsSQL, seqs)
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

func scanEntry(row pgx.CollectableRow) (*domain.LedgerEntry, error) {
	var (
		e           domain.LedgerEntry
		kind        string
		reverses    *int64
		payerID     string
		payeeID     string
		amount      int64
		description string
		splitMode   string
	)

	err := row.Scan(
		&e.Sequence, &e.ID, &kind, &e.IdempotencyKey, &e.GroupID,
		&e.OccurredAt, &e.RecordedAt, &e.CreatedBy, &reverses,
		&payerID, &payeeID, &amount, &description, &splitMode,
	)
	if err != nil {
		return nil, err
	}

	e.Kind = domain.EntryKind(kind)
	e.OccurredAt = e.OccurredAt.UTC()
	e.RecordedAt = e.RecordedAt.UTC()
	if reverses != nil {
		e.Reverses = *reverses
	}

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
	var reverses *int64
	if e.IsReversal() {
		r := e.Reverses
		reverses = &r
	}

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
		e.OccurredAt, e.RecordedAt, e.CreatedBy, reverses,
		payerID, payeeID, e.Amount(), description, splitMode,
	}
}
