package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
	"github.com/iho/splitledger/internal/usecase/mocks"
)

func TestLedgerUseCase_RecordExpense(t *testing.T) {
	f := newFixture(t, "ana", "ben", "cid")

	entry, err := f.ledger.RecordExpense(context.Background(), usecase.RecordExpenseInput{
		PayerID:        "ana",
		Description:    "dinner",
		IdempotencyKey: "meal-1",
		CreatedBy:      "ana",
		Amount:         10000,
		Split:          equalSplit("ana", "ben", "cid"),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), entry.Sequence)
	assert.Equal(t, domain.EntryKindExpense, entry.Kind)
	assert.Equal(t, []domain.Split{
		{UserID: "ana", Amount: 3334},
		{UserID: "ben", Amount: 3333},
		{UserID: "cid", Amount: 3333},
	}, entry.Expense.Splits)
	assert.False(t, entry.OccurredAt.IsZero())

	require.Len(t, f.outbox.Events, 1)
	assert.Equal(t, domain.EventTypeExpenseRecorded, f.outbox.Events[0].EventType)
	assert.Equal(t, "1", f.outbox.Events[0].AggregateID)

	require.Len(t, f.txm.Txs, 1)
	assert.True(t, f.txm.Txs[0].Committed)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EntriesAppended.WithLabelValues("expense")))
}

func TestLedgerUseCase_RecordExpense_Validation(t *testing.T) {
	exact := func(shares ...domain.SplitShare) domain.SplitSpec {
		return domain.SplitSpec{Mode: domain.SplitModeExact, Shares: shares}
	}

	tests := []struct {
		name    string
		input   usecase.RecordExpenseInput
		wantErr error
	}{
		{
			name:    "missing idempotency key",
			input:   usecase.RecordExpenseInput{PayerID: "ana", Amount: 100, Split: equalSplit("ana", "ben")},
			wantErr: domain.ErrMissingIdempotencyKey,
		},
		{
			name:    "zero amount",
			input:   usecase.RecordExpenseInput{IdempotencyKey: "k", PayerID: "ana", Amount: 0, Split: equalSplit("ana", "ben")},
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			input:   usecase.RecordExpenseInput{IdempotencyKey: "k", PayerID: "ana", Amount: -5, Split: equalSplit("ana", "ben")},
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name:    "amount above maximum",
			input:   usecase.RecordExpenseInput{IdempotencyKey: "k", PayerID: "ana", Amount: domain.MaxAmount + 1, Split: equalSplit("ana", "ben")},
			wantErr: domain.ErrAmountTooLarge,
		},
		{
			name:    "unknown participant",
			input:   usecase.RecordExpenseInput{IdempotencyKey: "k", PayerID: "ana", Amount: 100, Split: equalSplit("ana", "zed")},
			wantErr: domain.ErrUnknownParticipant,
		},
		{
			name:    "unknown payer",
			input:   usecase.RecordExpenseInput{IdempotencyKey: "k", PayerID: "zed", Amount: 100, Split: equalSplit("ana", "ben")},
			wantErr: domain.ErrUnknownParticipant,
		},
		{
			name:    "missing payer",
			input:   usecase.RecordExpenseInput{IdempotencyKey: "k", Amount: 100, Split: equalSplit("ana", "ben")},
			wantErr: domain.ErrUnknownParticipant,
		},
		{
			name: "exact shares do not add up",
			input: usecase.RecordExpenseInput{IdempotencyKey: "k", PayerID: "ana", Amount: 100, Split: exact(
				domain.SplitShare{UserID: "ana", Amount: 50},
				domain.SplitShare{UserID: "ben", Amount: 40},
			)},
			wantErr: domain.ErrInvalidSplit,
		},
		{
			name: "percentages do not reach one hundred",
			input: usecase.RecordExpenseInput{IdempotencyKey: "k", PayerID: "ana", Amount: 100, Split: domain.SplitSpec{
				Mode: domain.SplitModePercentage,
				Shares: []domain.SplitShare{
					{UserID: "ana", BasisPoints: 5000},
					{UserID: "ben", BasisPoints: 4000},
				},
			}},
			wantErr: domain.ErrInvalidSplit,
		},
		{
			name:    "empty split",
			input:   usecase.RecordExpenseInput{IdempotencyKey: "k", PayerID: "ana", Amount: 100, Split: domain.SplitSpec{Mode: domain.SplitModeEqual}},
			wantErr: domain.ErrInvalidSplit,
		},
		{
			name:    "unknown group",
			input:   usecase.RecordExpenseInput{IdempotencyKey: "k", GroupID: "nope", PayerID: "ana", Amount: 100, Split: equalSplit("ana", "ben")},
			wantErr: domain.ErrGroupNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "ana", "ben")

			entry, err := f.ledger.RecordExpense(context.Background(), tt.input)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, entry)
			assert.Empty(t, f.store.Entries())
			assert.Empty(t, f.outbox.Events)
		})
	}
}

func TestLedgerUseCase_Idempotency(t *testing.T) {
	f := newFixture(t, "ana", "ben")
	ctx := context.Background()

	first := f.expense(t, "same-key", "", "ana", 1000, "ana", "ben")

	again, err := f.ledger.RecordExpense(ctx, usecase.RecordExpenseInput{
		PayerID:        "ben",
		IdempotencyKey: "same-key",
		Amount:         999,
		Split:          equalSplit("ana", "ben"),
	})
	require.ErrorIs(t, err, domain.ErrDuplicateWrite)
	require.NotNil(t, again)
	assert.Equal(t, first.Sequence, again.Sequence)
	assert.Equal(t, "ana", again.Expense.PayerID)
	assert.Equal(t, int64(1000), again.Expense.Amount)

	assert.Len(t, f.store.Entries(), 1)
	assert.Len(t, f.outbox.Events, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DuplicateWrites))
}

func TestLedgerUseCase_RecordSettlement(t *testing.T) {
	t.Run("appends settlement", func(t *testing.T) {
		f := newFixture(t, "ana", "ben")

		entry := f.settle(t, "pay-1", "", "ben", "ana", 2500)
		assert.Equal(t, domain.EntryKindSettlement, entry.Kind)
		assert.Equal(t, "ben", entry.Settlement.PayerID)
		assert.Equal(t, "ana", entry.Settlement.PayeeID)

		require.Len(t, f.outbox.Events, 1)
		assert.Equal(t, domain.EventTypeSettlementRecorded, f.outbox.Events[0].EventType)
	})

	t.Run("rejects paying oneself", func(t *testing.T) {
		f := newFixture(t, "ana")

		_, err := f.ledger.RecordSettlement(context.Background(), usecase.RecordSettlementInput{
			PayerID: "ana", PayeeID: "ana", IdempotencyKey: "k", Amount: 10,
		})
		require.ErrorIs(t, err, domain.ErrSameUser)
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AppendErrors.WithLabelValues("same_user")))
	})

	t.Run("rejects unknown payee", func(t *testing.T) {
		f := newFixture(t, "ana")

		_, err := f.ledger.RecordSettlement(context.Background(), usecase.RecordSettlementInput{
			PayerID: "ana", PayeeID: "zed", IdempotencyKey: "k", Amount: 10,
		})
		require.ErrorIs(t, err, domain.ErrUnknownParticipant)
	})
}

func TestLedgerUseCase_ReverseEntry(t *testing.T) {
	f := newFixture(t, "ana", "ben")
	ctx := context.Background()

	original := f.expense(t, "k1", "", "ana", 1000, "ana", "ben")

	reversal, err := f.ledger.ReverseEntry(ctx, original.Sequence, "ana")
	require.NoError(t, err)
	assert.Equal(t, original.Sequence, reversal.Reverses)
	assert.Equal(t, original.OccurredAt, reversal.OccurredAt)
	assert.Equal(t, domain.ReversalIdempotencyKey(original.Sequence), reversal.IdempotencyKey)
	assert.Equal(t, domain.EventTypeEntryReversed, f.outbox.Events[1].EventType)

	again, err := f.ledger.ReverseEntry(ctx, original.Sequence, "ben")
	require.ErrorIs(t, err, domain.ErrDuplicateWrite)
	assert.Equal(t, reversal.Sequence, again.Sequence)

	_, err = f.ledger.ReverseEntry(ctx, reversal.Sequence, "ana")
	require.ErrorIs(t, err, domain.ErrCannotReverseReversal)

	_, err = f.ledger.ReverseEntry(ctx, 99, "ana")
	require.ErrorIs(t, err, domain.ErrEntryNotFound)

	balances, err := f.balances.GetUserBalances(ctx, "ben")
	require.NoError(t, err)
	assert.Zero(t, balances.NetBalance)
	assert.Empty(t, balances.Counterparties)
}

func TestLedgerUseCase_ReversalKeyReserved(t *testing.T) {
	f := newFixture(t, "ana", "ben")
	ctx := context.Background()

	original := f.expense(t, "k1", "", "ana", 1000, "ana", "ben")

	_, err := f.ledger.RecordExpense(ctx, usecase.RecordExpenseInput{
		PayerID:        "ana",
		IdempotencyKey: domain.ReversalIdempotencyKey(original.Sequence),
		Amount:         500,
		Split:          equalSplit("ana"),
	})
	require.ErrorIs(t, err, domain.ErrInvalidIdempotencyKey)

	_, err = f.ledger.RecordSettlement(ctx, usecase.RecordSettlementInput{
		PayerID:        "ben",
		PayeeID:        "ana",
		IdempotencyKey: domain.ReversalKeyPrefix + "x",
		Amount:         500,
	})
	require.ErrorIs(t, err, domain.ErrInvalidIdempotencyKey)
	assert.Len(t, f.store.Entries(), 1)
}

func TestLedgerUseCase_ReverseEntryKeyHeldByOtherEntry(t *testing.T) {
	f := newFixture(t, "ana", "ben")
	ctx := context.Background()

	original := f.expense(t, "k1", "", "ana", 1000, "ana", "ben")

	// Written before client keys were checked for the reserved prefix.
	f.store.Seed(&domain.LedgerEntry{
		ID:             "legacy",
		Kind:           domain.EntryKindExpense,
		IdempotencyKey: domain.ReversalIdempotencyKey(original.Sequence),
		Expense: &domain.Expense{
			PayerID: "ana",
			Amount:  500,
			Splits:  []domain.Split{{UserID: "ana", Amount: 500}},
		},
	})

	reversal, err := f.ledger.ReverseEntry(ctx, original.Sequence, "ana")
	require.ErrorIs(t, err, domain.ErrReversalKeyTaken)
	assert.NotErrorIs(t, err, domain.ErrDuplicateWrite)
	assert.Nil(t, reversal)
	assert.Len(t, f.store.Entries(), 2)
}

func TestLedgerUseCase_RetriesConflicts(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, "ana", "ben")

	retrier := mocks.NewMockRetrier(ctrl)
	retrier.EXPECT().Retry(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, op func() error) error {
		var err error
		for range 3 {
			if err = op(); !errors.Is(err, domain.ErrConcurrencyConflict) {
				return err
			}
		}
		return err
	})

	ledger := usecase.NewLedgerUseCase(f.txm, f.store, f.users, f.groups, f.outbox,
		retrier, mocks.NewMockIDGenerator("id-"), f.metrics, zerolog.Nop())

	calls := 0
	f.store.AppendFunc = func(ctx context.Context, tx usecase.Transaction, entry *domain.LedgerEntry) (*domain.LedgerEntry, bool, error) {
		calls++
		if calls == 1 {
			return nil, false, domain.ErrConcurrencyConflict
		}
		f.store.AppendFunc = nil
		return f.store.Append(ctx, tx, entry)
	}

	entry, err := ledger.RecordExpense(context.Background(), usecase.RecordExpenseInput{
		PayerID: "ana", IdempotencyKey: "k", Amount: 300, Split: equalSplit("ana", "ben"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Sequence)
	assert.Equal(t, 2, calls)

	require.Len(t, f.txm.Txs, 2)
	assert.True(t, f.txm.Txs[0].RolledBack)
	assert.True(t, f.txm.Txs[1].Committed)
}

func TestLedgerUseCase_ConflictsExhausted(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, "ana", "ben")

	retrier := mocks.NewMockRetrier(ctrl)
	retrier.EXPECT().Retry(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, op func() error) error {
		return op()
	})

	f.store.AppendFunc = func(ctx context.Context, tx usecase.Transaction, entry *domain.LedgerEntry) (*domain.LedgerEntry, bool, error) {
		return nil, false, domain.ErrConcurrencyConflict
	}

	ledger := usecase.NewLedgerUseCase(f.txm, f.store, f.users, f.groups, f.outbox,
		retrier, mocks.NewMockIDGenerator("id-"), f.metrics, zerolog.Nop())

	_, err := ledger.RecordSettlement(context.Background(), usecase.RecordSettlementInput{
		PayerID: "ana", PayeeID: "ben", IdempotencyKey: "k", Amount: 10,
	})
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AppendConflicts))
}

func TestLedgerUseCase_OutboxFailureRollsBack(t *testing.T) {
	f := newFixture(t, "ana", "ben")
	boom := errors.New("outbox down")
	f.outbox.CreateFunc = func(ctx context.Context, tx usecase.Transaction, event *domain.OutboxEvent) error {
		return boom
	}

	_, err := f.ledger.RecordExpense(context.Background(), usecase.RecordExpenseInput{
		PayerID: "ana", IdempotencyKey: "k", Amount: 300, Split: equalSplit("ana", "ben"),
	})
	require.ErrorIs(t, err, boom)

	require.Len(t, f.txm.Txs, 1)
	assert.False(t, f.txm.Txs[0].Committed)
	assert.True(t, f.txm.Txs[0].RolledBack)
}

func TestLedgerUseCase_ListEntries(t *testing.T) {
	f := newFixture(t, "ana", "ben")
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c", "d"} {
		f.expense(t, key, "", "ana", 200, "ana", "ben")
	}

	page, err := f.ledger.ListEntries(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, int64(1), page[0].Sequence)

	page, err = f.ledger.ListEntries(ctx, page[2].Sequence, 3)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(4), page[0].Sequence)

	got, err := f.ledger.GetEntry(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "b", got.IdempotencyKey)
}
