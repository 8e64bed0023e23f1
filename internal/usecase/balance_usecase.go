package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/infrastructure/metrics"
)

// BalanceUseCase answers balance and settlement questions from an
// incrementally maintained snapshot of the ledger. Every read first folds in
// entries appended since the snapshot was taken.
type BalanceUseCase struct {
	store     LedgerStore
	userRepo  UserRepository
	groupRepo GroupRepository
	snapshots SnapshotStore
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	mu   sync.Mutex
	book *domain.BalanceBook
}

// NewBalanceUseCase creates a new BalanceUseCase. snapshots may be nil.
func NewBalanceUseCase(
	store LedgerStore,
	userRepo UserRepository,
	groupRepo GroupRepository,
	snapshots SnapshotStore,
	metrics *metrics.Metrics,
	logger zerolog.Logger,
) *BalanceUseCase {
	return &BalanceUseCase{
		store:     store,
		userRepo:  userRepo,
		groupRepo: groupRepo,
		snapshots: snapshots,
		metrics:   metrics,
		logger:    logger.With().Str("component", "balances").Logger(),
		book:      domain.NewBalanceBook(),
	}
}

// UserBalances is the dashboard summary for one user.
type UserBalances struct {
	UserID         string
	NetBalance     int64
	YouOwe         int64
	YouAreOwed     int64
	Counterparties []domain.CounterpartyBalance
	AsOfSequence   int64
}

// GroupBalances is the balance view of one group.
type GroupBalances struct {
	Group        *domain.Group
	Edges        []domain.BalanceEdge
	Members      []domain.MemberPosition
	AsOfSequence int64
}

// Current returns the snapshot caught up with the store. The returned book
// is never mutated afterwards and may be read concurrently.
func (uc *BalanceUseCase) Current(ctx context.Context) (*domain.BalanceBook, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	last, err := uc.store.LastSequence(ctx)
	if err != nil {
		return nil, err
	}

	if last == uc.book.LastSequence() {
		return uc.book, nil
	}

	start := time.Now()
	next := uc.book.Clone()
	n, err := next.CatchUp(ctx, uc.store.EntriesSince(ctx, uc.book.LastSequence()))
	if err != nil {
		uc.reportFoldError(err, "incremental")
		return nil, err
	}

	uc.book = next

	if uc.metrics != nil {
		uc.metrics.ReplayDuration.WithLabelValues("incremental").Observe(time.Since(start).Seconds())
		uc.metrics.ReplayEntries.WithLabelValues("incremental").Add(float64(n))
		uc.metrics.SnapshotSequence.Set(float64(next.LastSequence()))
	}

	return next, nil
}

// Rebuild discards the snapshot and replays the whole ledger. The live
// snapshot is only replaced when the replay finishes.
func (uc *BalanceUseCase) Rebuild(ctx context.Context) (*domain.BalanceBook, error) {
	start := time.Now()

	book := domain.NewBalanceBook()
	n, err := book.CatchUp(ctx, uc.store.EntriesSince(ctx, 0))
	if err != nil {
		uc.reportFoldError(err, "full")
		return nil, err
	}

	uc.mu.Lock()
	if book.LastSequence() >= uc.book.LastSequence() {
		uc.book = book
	}
	uc.mu.Unlock()

	if uc.metrics != nil {
		uc.metrics.ReplayDuration.WithLabelValues("full").Observe(time.Since(start).Seconds())
		uc.metrics.ReplayEntries.WithLabelValues("full").Add(float64(n))
	}

	uc.logger.Info().Int("entries", n).Int64("sequence", book.LastSequence()).Msg("balance snapshot rebuilt")

	return book, nil
}

// Warm restores the persisted snapshot, if any. A snapshot that cannot be
// restored is ignored and the next read replays from the start.
func (uc *BalanceUseCase) Warm(ctx context.Context) error {
	if uc.snapshots == nil {
		return nil
	}

	snap, err := uc.snapshots.Load(ctx)
	if err != nil {
		uc.logger.Warn().Err(err).Msg("failed to load balance snapshot")
		return nil
	}
	if snap == nil {
		return nil
	}

	book, err := domain.RestoreBalanceBook(*snap)
	if err != nil {
		uc.logger.Warn().Err(err).Msg("discarding invalid balance snapshot")
		return nil
	}

	last, err := uc.store.LastSequence(ctx)
	if err != nil {
		return err
	}
	if book.LastSequence() > last {
		uc.logger.Warn().
			Int64("snapshot_sequence", book.LastSequence()).
			Int64("ledger_sequence", last).
			Msg("discarding balance snapshot ahead of the ledger")
		return nil
	}

	if seq := book.LastSequence(); seq > 0 {
		entry, err := uc.store.GetBySequence(ctx, seq)
		if err != nil && !errors.Is(err, domain.ErrEntryNotFound) {
			return err
		}
		if entry == nil || entry.ID != book.LastEntryID() {
			uc.logger.Warn().
				Int64("snapshot_sequence", seq).
				Str("snapshot_entry_id", book.LastEntryID()).
				Msg("discarding balance snapshot taken from another ledger")
			return nil
		}
	}

	uc.mu.Lock()
	uc.book = book
	uc.mu.Unlock()

	uc.logger.Info().Int64("sequence", book.LastSequence()).Msg("balance snapshot restored")
	return nil
}

// Flush persists the current snapshot.
func (uc *BalanceUseCase) Flush(ctx context.Context) error {
	if uc.snapshots == nil {
		return nil
	}

	uc.mu.Lock()
	book := uc.book
	uc.mu.Unlock()

	return uc.snapshots.Save(ctx, book.Snapshot())
}

// RunSnapshotFlusher catches up and flushes the snapshot every interval until
// ctx is done, then flushes once more.
func (uc *BalanceUseCase) RunSnapshotFlusher(ctx context.Context, interval time.Duration) error {
	if uc.snapshots == nil || interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := uc.Flush(flushCtx); err != nil {
				uc.logger.Error().Err(err).Msg("final snapshot flush failed")
			}
			return nil
		case <-ticker.C:
			if _, err := uc.Current(ctx); err != nil && ctx.Err() == nil {
				uc.logger.Error().Err(err).Msg("snapshot catch-up failed")
				continue
			}
			if err := uc.Flush(ctx); err != nil && ctx.Err() == nil {
				uc.logger.Warn().Err(err).Msg("snapshot flush failed")
			}
		}
	}
}

// GetUserBalances returns the user's global balances.
func (uc *BalanceUseCase) GetUserBalances(ctx context.Context, userID string) (*UserBalances, error) {
	if _, err := uc.userRepo.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	book, err := uc.Current(ctx)
	if err != nil {
		return nil, err
	}

	graph := book.Global()
	result := &UserBalances{
		UserID:         userID,
		Counterparties: graph.PerCounterparty(userID),
		AsOfSequence:   graph.AsOfSequence,
	}

	for _, cp := range result.Counterparties {
		if cp.Amount > 0 {
			result.YouAreOwed += cp.Amount
		} else {
			result.YouOwe += -cp.Amount
		}
	}
	result.NetBalance = result.YouAreOwed - result.YouOwe

	return result, nil
}

// GetGroupBalances returns the balances recorded against one group.
func (uc *BalanceUseCase) GetGroupBalances(ctx context.Context, groupID string) (*GroupBalances, error) {
	group, err := uc.groupRepo.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}

	book, err := uc.Current(ctx)
	if err != nil {
		return nil, err
	}

	graph := book.Group(groupID)
	return &GroupBalances{
		Group:        group,
		Edges:        graph.Edges,
		Members:      domain.MemberPositions(graph, group.MemberIDs),
		AsOfSequence: graph.AsOfSequence,
	}, nil
}

// GetUserSettlementSuggestions plans settlements across the whole ledger and
// keeps the payments the user takes part in.
func (uc *BalanceUseCase) GetUserSettlementSuggestions(ctx context.Context, userID string) ([]domain.Payment, error) {
	if _, err := uc.userRepo.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	book, err := uc.Current(ctx)
	if err != nil {
		return nil, err
	}

	plan, err := uc.plan(book.Global())
	if err != nil {
		return nil, err
	}

	return domain.PaymentsInvolving(plan, userID), nil
}

// GetGroupSettlementSuggestions plans settlements for one group.
func (uc *BalanceUseCase) GetGroupSettlementSuggestions(ctx context.Context, groupID string) ([]domain.Payment, error) {
	if _, err := uc.groupRepo.GetByID(ctx, groupID); err != nil {
		return nil, err
	}

	book, err := uc.Current(ctx)
	if err != nil {
		return nil, err
	}

	return uc.plan(book.Group(groupID))
}

// GroupPositions implements PositionReader.
func (uc *BalanceUseCase) GroupPositions(ctx context.Context, userID string, groupIDs []string) (map[string]int64, error) {
	book, err := uc.Current(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(groupIDs))
	for _, id := range groupIDs {
		out[id] = book.Group(id).NetPositionOf(userID)
	}
	return out, nil
}

func (uc *BalanceUseCase) plan(graph domain.BalanceGraph) ([]domain.Payment, error) {
	plan, err := domain.PlanSettlements(graph)
	if err != nil {
		uc.reportFoldError(err, "plan")
		return nil, err
	}

	if uc.metrics != nil {
		uc.metrics.SettlementPlans.Observe(float64(len(plan)))
	}
	return plan, nil
}

func (uc *BalanceUseCase) reportFoldError(err error, mode string) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		uc.logger.Warn().Err(err).Str("mode", mode).Msg("balance replay aborted")
		return
	}

	if errors.Is(err, domain.ErrUnbalancedLedger) || errors.Is(err, domain.ErrSequenceOutOfOrder) {
		if uc.metrics != nil {
			uc.metrics.UnbalancedLedgers.Inc()
		}
		uc.logger.Error().Err(err).Str("mode", mode).Msg("ledger invariant violated")
		return
	}

	uc.logger.Error().Err(err).Str("mode", mode).Msg("balance replay failed")
}
