package usecase

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/infrastructure/metrics"
)

// ReconciliationUseCase cross-checks the balance snapshot against fresh
// replays of the ledger.
type ReconciliationUseCase struct {
	store    LedgerStore
	balances *BalanceUseCase
	shards   int
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewReconciliationUseCase creates a new reconciliation use case
func NewReconciliationUseCase(
	store LedgerStore,
	balances *BalanceUseCase,
	shards int,
	metrics *metrics.Metrics,
	logger zerolog.Logger,
) *ReconciliationUseCase {
	if shards <= 0 {
		shards = DefaultReplayShards
	}
	return &ReconciliationUseCase{
		store:    store,
		balances: balances,
		shards:   shards,
		metrics:  metrics,
		logger:   logger.With().Str("component", "reconciliation").Logger(),
	}
}

// VerificationReport summarises a ledger verification run.
type VerificationReport struct {
	CheckedAt          time.Time
	LastSequence       int64
	EntriesReplayed    int
	Pairs              int
	SnapshotMatches    bool
	ParallelMatches    bool
	Conserved          bool
	AntiSymmetric      bool
	SequenceMonotonic  bool
	Consistent         bool
	Problems           []string
	FullReplayDuration time.Duration
	Shards             int
}

// VerifyLedger replays the ledger sequentially and in parallel up to the
// snapshot position and compares both results with the snapshot. Invariant
// violations are reported in the result rather than returned as errors;
// an error means the check itself could not run.
func (uc *ReconciliationUseCase) VerifyLedger(ctx context.Context) (*VerificationReport, error) {
	book, err := uc.balances.Current(ctx)
	if err != nil && !isInvariantError(err) {
		return nil, err
	}

	report := &VerificationReport{
		CheckedAt:         time.Now().UTC(),
		SequenceMonotonic: true,
		Shards:            uc.shards,
	}

	var snapshot *domain.Accumulator
	upTo := int64(-1)
	if book != nil {
		snapshot = book.GlobalAccumulator()
		upTo = book.LastSequence()
	} else {
		report.problem("snapshot catch-up failed: %v", err)
	}

	start := time.Now()
	full, count, err := uc.replay(ctx, upTo, func(entries iter.Seq2[*domain.LedgerEntry, error]) (*domain.Accumulator, error) {
		return domain.ComputeBalances(ctx, entries)
	})
	report.FullReplayDuration = time.Since(start)
	if err != nil {
		if !isInvariantError(err) {
			return nil, err
		}
		if errors.Is(err, domain.ErrSequenceOutOfOrder) {
			report.SequenceMonotonic = false
		}
		report.problem("full replay failed: %v", err)
		return uc.finish(report), nil
	}

	report.EntriesReplayed = count
	report.LastSequence = full.LastSequence()
	report.Pairs = full.Len()

	par, _, err := uc.replay(ctx, full.LastSequence(), func(entries iter.Seq2[*domain.LedgerEntry, error]) (*domain.Accumulator, error) {
		return domain.ComputeBalancesParallel(ctx, entries, uc.shards)
	})
	if err != nil {
		if !isInvariantError(err) {
			return nil, err
		}
		report.problem("parallel replay failed: %v", err)
	} else {
		report.ParallelMatches = par.Equal(full)
		if !report.ParallelMatches {
			report.problem("parallel replay differs from sequential replay")
		}
	}

	if snapshot != nil {
		report.SnapshotMatches = snapshot.Equal(full) && snapshot.LastSequence() == full.LastSequence()
		if !report.SnapshotMatches {
			report.problem("incremental snapshot at sequence %d differs from full replay", snapshot.LastSequence())
		}
	}

	graph := full.Graph()
	report.AntiSymmetric = graph.IsAntiSymmetric()
	if !report.AntiSymmetric {
		report.problem("balance graph has a pair owing in both directions")
	}
	report.Conserved = graph.IsConserved()
	if !report.Conserved {
		report.problem("net positions do not sum to zero")
	}

	return uc.finish(report), nil
}

func (uc *ReconciliationUseCase) finish(report *VerificationReport) *VerificationReport {
	report.Consistent = len(report.Problems) == 0

	if !report.Consistent {
		if uc.metrics != nil {
			uc.metrics.UnbalancedLedgers.Inc()
		}
		uc.logger.Error().
			Strs("problems", report.Problems).
			Int64("sequence", report.LastSequence).
			Msg("ledger verification failed")
		return report
	}

	uc.logger.Info().
		Int64("sequence", report.LastSequence).
		Int("entries", report.EntriesReplayed).
		Dur("duration", report.FullReplayDuration).
		Msg("ledger verified")
	return report
}

// replay folds entries up to and including upTo (all entries when upTo is
// negative) and counts them.
func (uc *ReconciliationUseCase) replay(
	ctx context.Context,
	upTo int64,
	fold func(iter.Seq2[*domain.LedgerEntry, error]) (*domain.Accumulator, error),
) (*domain.Accumulator, int, error) {
	count := 0
	entries := func(yield func(*domain.LedgerEntry, error) bool) {
		for e, err := range uc.store.EntriesSince(ctx, 0) {
			if err == nil && upTo >= 0 && e.Sequence > upTo {
				return
			}
			if err == nil {
				count++
			}
			if !yield(e, err) {
				return
			}
		}
	}

	acc, err := fold(entries)
	return acc, count, err
}

func (r *VerificationReport) problem(format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

func isInvariantError(err error) bool {
	return errors.Is(err, domain.ErrUnbalancedLedger) || errors.Is(err, domain.ErrSequenceOutOfOrder)
}
