//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/splitledger/internal/adapter/repository/postgres"
	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/infrastructure/metrics"
	"github.com/iho/splitledger/internal/infrastructure/retry"
	"github.com/iho/splitledger/internal/testutil"
	"github.com/iho/splitledger/internal/usecase"
)

type stack struct {
	ledger    *usecase.LedgerUseCase
	balances  *usecase.BalanceUseCase
	directory *usecase.DirectoryUseCase
	recon     *usecase.ReconciliationUseCase
}

func newStack(t *testing.T, db *testutil.TestDB) *stack {
	t.Helper()

	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	store := postgres.NewLedgerStore(db.Pool, 3)
	users := postgres.NewUserRepository(db.Pool)
	groups := postgres.NewGroupRepository(db.Pool)
	txm := postgres.NewTxManager(db.Pool)
	ids := postgres.NewULIDGenerator()

	s := &stack{}
	s.ledger = usecase.NewLedgerUseCase(txm, store, users, groups, postgres.NewOutboxRepository(db.Pool),
		retry.New(retry.WithMaxRetries(10)), ids, m, zerolog.Nop())
	s.balances = usecase.NewBalanceUseCase(store, users, groups, nil, m, zerolog.Nop())
	s.directory = usecase.NewDirectoryUseCase(txm, users, groups, s.balances, ids, m, zerolog.Nop())
	s.recon = usecase.NewReconciliationUseCase(store, s.balances, 4, m, zerolog.Nop())
	return s
}

func TestIntegration_GroupLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	db := testutil.NewTestDB(t)
	db.CreateTestUsers(ctx, "ana", "ben", "cid")
	s := newStack(t, db)

	group, err := s.directory.CreateGroup(ctx, usecase.CreateGroupInput{
		Name:      "Lisbon",
		CreatedBy: "ana",
		MemberIDs: []string{"ben", "cid"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ana", "ben", "cid"}, group.MemberIDs)

	hotel, err := s.ledger.RecordExpense(ctx, usecase.RecordExpenseInput{
		PayerID:        "ana",
		GroupID:        group.ID,
		IdempotencyKey: "hotel",
		Amount:         10000,
		Description:    "hotel",
		Split:          testutil.EqualSplit("ana", "ben", "cid"),
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.Split{{UserID: "ana", Amount: 3334}, {UserID: "ben", Amount: 3333}, {UserID: "cid", Amount: 3333}}, hotel.Expense.Splits)

	again, err := s.ledger.RecordExpense(ctx, usecase.RecordExpenseInput{
		PayerID:        "ana",
		GroupID:        group.ID,
		IdempotencyKey: "hotel",
		Amount:         1,
		Split:          testutil.EqualSplit("ana"),
	})
	require.ErrorIs(t, err, domain.ErrDuplicateWrite)
	assert.Equal(t, hotel.Sequence, again.Sequence)

	_, err = s.ledger.RecordSettlement(ctx, usecase.RecordSettlementInput{
		PayerID:        "ben",
		PayeeID:        "ana",
		GroupID:        group.ID,
		IdempotencyKey: "pay-ben",
		Amount:         3333,
	})
	require.NoError(t, err)

	balances, err := s.balances.GetGroupBalances(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.BalanceEdge{{Debtor: "cid", Creditor: "ana", Amount: 3333}}, balances.Edges)

	_, err = s.ledger.ReverseEntry(ctx, hotel.Sequence, "ana")
	require.NoError(t, err)

	report, err := s.recon.VerifyLedger(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent, report.Problems)
	assert.Equal(t, int64(3), report.LastSequence)
}

func TestIntegration_ConcurrentAppends(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	db := testutil.NewTestDB(t)
	db.CreateTestUsers(ctx, "ana", "ben")
	s := newStack(t, db)

	const writers = 20

	var wg sync.WaitGroup
	errs := make(chan error, writers*2)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ledger.RecordExpense(ctx, usecase.RecordExpenseInput{
				PayerID:        "ana",
				IdempotencyKey: fmt.Sprintf("lunch-%d", i%10),
				Amount:         200,
				Split:          testutil.EqualSplit("ana", "ben"),
			})
			if err != nil && !errors.Is(err, domain.ErrDuplicateWrite) {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("append failed: %v", err)
	}

	var seqs []int64
	for e, err := range postgres.NewLedgerStore(db.Pool, 4).EntriesSince(ctx, 0) {
		require.NoError(t, err)
		seqs = append(seqs, e.Sequence)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, seqs)

	ben, err := s.balances.GetUserBalances(ctx, "ben")
	require.NoError(t, err)
	assert.Equal(t, int64(-1000), ben.NetBalance)
}
