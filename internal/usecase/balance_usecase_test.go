package usecase_test

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
	"github.com/iho/splitledger/internal/usecase/mocks"
)

// seedTrip records a group expense and a global one:
// ben owes ana 1000, cid owes ana 1000 (trip) and cid owes ben 450 (global).
func seedTrip(t *testing.T, f *fixture) {
	t.Helper()
	f.groups.Put(&domain.Group{ID: "trip", Name: "Trip", CreatedBy: "ana", MemberIDs: []string{"ana", "ben", "cid", "dee"}})

	f.expense(t, "hotel", "trip", "ana", 3000, "ana", "ben", "cid")
	f.expense(t, "taxi", "", "ben", 900, "ben", "cid")
}

func TestBalanceUseCase_GetUserBalances(t *testing.T) {
	f := newFixture(t, "ana", "ben", "cid", "dee")
	seedTrip(t, f)
	ctx := context.Background()

	ana, err := f.balances.GetUserBalances(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), ana.NetBalance)
	assert.Equal(t, int64(2000), ana.YouAreOwed)
	assert.Zero(t, ana.YouOwe)
	assert.Equal(t, int64(2), ana.AsOfSequence)

	ben, err := f.balances.GetUserBalances(ctx, "ben")
	require.NoError(t, err)
	assert.Equal(t, int64(-550), ben.NetBalance)
	assert.Equal(t, int64(1000), ben.YouOwe)
	assert.Equal(t, int64(450), ben.YouAreOwed)
	assert.Equal(t, []domain.CounterpartyBalance{
		{CounterpartyID: "ana", Amount: -1000},
		{CounterpartyID: "cid", Amount: 450},
	}, ben.Counterparties)

	_, err = f.balances.GetUserBalances(ctx, "zed")
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestBalanceUseCase_SettlementOvershoot(t *testing.T) {
	f := newFixture(t, "ana", "ben")
	ctx := context.Background()

	f.expense(t, "k1", "", "ana", 6000, "ana", "ben")
	f.settle(t, "k2", "", "ben", "ana", 5000)

	ben, err := f.balances.GetUserBalances(ctx, "ben")
	require.NoError(t, err)
	assert.Equal(t, []domain.CounterpartyBalance{{CounterpartyID: "ana", Amount: 2000}}, ben.Counterparties)
	assert.Equal(t, int64(2000), ben.NetBalance)
}

func TestBalanceUseCase_GetGroupBalances(t *testing.T) {
	f := newFixture(t, "ana", "ben", "cid", "dee")
	seedTrip(t, f)

	got, err := f.balances.GetGroupBalances(context.Background(), "trip")
	require.NoError(t, err)

	assert.Equal(t, []domain.BalanceEdge{
		{Debtor: "ben", Creditor: "ana", Amount: 1000},
		{Debtor: "cid", Creditor: "ana", Amount: 1000},
	}, got.Edges)
	assert.Equal(t, []domain.MemberPosition{
		{UserID: "ana", Net: 2000, IsMember: true},
		{UserID: "ben", Net: -1000, IsMember: true},
		{UserID: "cid", Net: -1000, IsMember: true},
		{UserID: "dee", Net: 0, IsMember: true},
	}, got.Members)
	assert.Equal(t, int64(2), got.AsOfSequence)

	_, err = f.balances.GetGroupBalances(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrGroupNotFound)
}

func TestBalanceUseCase_SettlementSuggestions(t *testing.T) {
	f := newFixture(t, "ana", "ben", "cid", "dee")
	seedTrip(t, f)
	ctx := context.Background()

	ben, err := f.balances.GetUserSettlementSuggestions(ctx, "ben")
	require.NoError(t, err)
	assert.Equal(t, []domain.Payment{{From: "ben", To: "ana", Amount: 550}}, ben)

	dee, err := f.balances.GetUserSettlementSuggestions(ctx, "dee")
	require.NoError(t, err)
	assert.Empty(t, dee)

	trip, err := f.balances.GetGroupSettlementSuggestions(ctx, "trip")
	require.NoError(t, err)
	assert.Equal(t, []domain.Payment{
		{From: "ben", To: "ana", Amount: 1000},
		{From: "cid", To: "ana", Amount: 1000},
	}, trip)
}

func TestBalanceUseCase_IncrementalMatchesRebuild(t *testing.T) {
	f := newFixture(t, "ana", "ben", "cid", "dee")
	seedTrip(t, f)
	ctx := context.Background()

	first, err := f.balances.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), first.LastSequence())

	f.settle(t, "s1", "trip", "cid", "ana", 400)
	_, err = f.ledger.ReverseEntry(ctx, 2, "ben")
	require.NoError(t, err)

	incremental, err := f.balances.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), incremental.LastSequence())
	assert.Equal(t, int64(2), first.LastSequence(), "earlier snapshot must not change")

	rebuilt, err := f.balances.Rebuild(ctx)
	require.NoError(t, err)
	assert.True(t, rebuilt.Global().Equal(incremental.Global()))
	assert.True(t, rebuilt.Group("trip").Equal(incremental.Group("trip")))
	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.ReplayEntries.WithLabelValues("incremental")))
}

func TestBalanceUseCase_GroupPositions(t *testing.T) {
	f := newFixture(t, "ana", "ben", "cid", "dee")
	seedTrip(t, f)

	got, err := f.balances.GroupPositions(context.Background(), "cid", []string{"trip", "flat"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"trip": -1000, "flat": 0}, got)
}

func TestBalanceUseCase_WarmAndFlush(t *testing.T) {
	f := newFixture(t, "ana", "ben", "cid", "dee")
	seedTrip(t, f)
	ctx := context.Background()

	snapshots := mocks.NewMockSnapshotStore()
	writer := usecase.NewBalanceUseCase(f.store, f.users, f.groups, snapshots, f.metrics, zerolog.Nop())
	_, err := writer.Current(ctx)
	require.NoError(t, err)
	require.NoError(t, writer.Flush(ctx))
	assert.Equal(t, 1, snapshots.Saves)

	f.settle(t, "s1", "", "cid", "ben", 450)

	reader := usecase.NewBalanceUseCase(f.store, f.users, f.groups, snapshots, f.metrics, zerolog.Nop())
	require.NoError(t, reader.Warm(ctx))

	book, err := reader.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), book.LastSequence())
	assert.Equal(t, f.store.Entries()[2].ID, book.LastEntryID())
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.ReplayEntries.WithLabelValues("incremental")))

	rebuilt, err := reader.Rebuild(ctx)
	require.NoError(t, err)
	assert.True(t, rebuilt.Global().Equal(book.Global()))
}

func TestBalanceUseCase_WarmDiscardsBadSnapshots(t *testing.T) {
	tests := []struct {
		name string
		snap *domain.BookSnapshot
		err  error
	}{
		{
			name: "ahead of the ledger",
			snap: &domain.BookSnapshot{Global: domain.Snapshot{LastSequence: 50}},
		},
		{
			name: "unordered pair",
			snap: &domain.BookSnapshot{Global: domain.Snapshot{
				LastSequence: 1,
				Pairs:        []domain.PairBalance{{A: "ben", B: "ana", Amount: 10}},
			}},
		},
		{
			name: "taken from another ledger",
			snap: &domain.BookSnapshot{
				Global:      domain.Snapshot{LastSequence: 2},
				LastEntryID: "entry-from-elsewhere",
			},
		},
		{
			name: "missing entry id",
			snap: &domain.BookSnapshot{Global: domain.Snapshot{LastSequence: 2}},
		},
		{
			name: "load failure",
			err:  errors.New("redis down"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "ana", "ben", "cid", "dee")
			seedTrip(t, f)
			ctx := context.Background()

			snapshots := mocks.NewMockSnapshotStore()
			snapshots.LoadFunc = func(ctx context.Context) (*domain.BookSnapshot, error) {
				return tt.snap, tt.err
			}

			uc := usecase.NewBalanceUseCase(f.store, f.users, f.groups, snapshots, f.metrics, zerolog.Nop())
			require.NoError(t, uc.Warm(ctx))

			book, err := uc.Current(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(2), book.LastSequence())
			assert.Equal(t, int64(2000), book.Global().NetPositionOf("ana"))
		})
	}
}

func TestBalanceUseCase_CorruptLedger(t *testing.T) {
	f := newFixture(t, "ana", "ben")
	f.expense(t, "k1", "", "ana", 1000, "ana", "ben")
	f.expense(t, "k2", "", "ana", 1000, "ana", "ben")

	entries := f.store.Entries()
	f.store.EntriesSinceFunc = func(ctx context.Context, afterSeq int64) iter.Seq2[*domain.LedgerEntry, error] {
		return func(yield func(*domain.LedgerEntry, error) bool) {
			for _, e := range []*domain.LedgerEntry{entries[1], entries[0]} {
				if !yield(e, nil) {
					return
				}
			}
		}
	}

	_, err := f.balances.GetUserBalances(context.Background(), "ana")
	require.ErrorIs(t, err, domain.ErrSequenceOutOfOrder)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.UnbalancedLedgers))
}
