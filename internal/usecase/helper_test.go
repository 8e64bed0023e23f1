package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/infrastructure/metrics"
	"github.com/iho/splitledger/internal/usecase"
	"github.com/iho/splitledger/internal/usecase/mocks"
)

type fixture struct {
	store   *mocks.MockLedgerStore
	users   *mocks.MockUserRepository
	groups  *mocks.MockGroupRepository
	outbox  *mocks.MockOutboxRepository
	txm     *mocks.MockTxManager
	metrics *metrics.Metrics

	ledger   *usecase.LedgerUseCase
	balances *usecase.BalanceUseCase
}

func newFixture(t *testing.T, users ...string) *fixture {
	t.Helper()

	f := &fixture{
		store:   mocks.NewMockLedgerStore(),
		users:   mocks.NewMockUserRepository(users...),
		groups:  mocks.NewMockGroupRepository(),
		outbox:  mocks.NewMockOutboxRepository(),
		txm:     mocks.NewMockTxManager(),
		metrics: metrics.NewWithRegisterer(prometheus.NewRegistry()),
	}

	f.ledger = usecase.NewLedgerUseCase(
		f.txm, f.store, f.users, f.groups, f.outbox,
		mocks.PassthroughRetrier{}, mocks.NewMockIDGenerator("id-"),
		f.metrics, zerolog.Nop(),
	)
	f.balances = usecase.NewBalanceUseCase(f.store, f.users, f.groups, nil, f.metrics, zerolog.Nop())

	return f
}

func equalSplit(ids ...string) domain.SplitSpec {
	shares := make([]domain.SplitShare, len(ids))
	for i, id := range ids {
		shares[i] = domain.SplitShare{UserID: id}
	}
	return domain.SplitSpec{Mode: domain.SplitModeEqual, Shares: shares}
}

func (f *fixture) expense(t *testing.T, key, group, payer string, amount int64, participants ...string) *domain.LedgerEntry {
	t.Helper()
	e, err := f.ledger.RecordExpense(context.Background(), usecase.RecordExpenseInput{
		PayerID:        payer,
		GroupID:        group,
		IdempotencyKey: key,
		Amount:         amount,
		Split:          equalSplit(participants...),
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) settle(t *testing.T, key, group, payer, payee string, amount int64) *domain.LedgerEntry {
	t.Helper()
	e, err := f.ledger.RecordSettlement(context.Background(), usecase.RecordSettlementInput{
		PayerID:        payer,
		PayeeID:        payee,
		GroupID:        group,
		IdempotencyKey: key,
		Amount:         amount,
	})
	require.NoError(t, err)
	return e
}

func at(year int, month time.Month, day int) *time.Time {
	t := time.Date(year, month, day, 12, 0, 0, 0, time.UTC)
	return &t
}
