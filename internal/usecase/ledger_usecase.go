package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/infrastructure/metrics"
)

// LedgerUseCase records expenses and settlements. It validates requests,
// resolves splits and appends entries through a single store transaction,
// retrying on write conflicts.
type LedgerUseCase struct {
	txManager  TransactionManager
	store      LedgerStore
	userRepo   UserRepository
	groupRepo  GroupRepository
	outboxRepo OutboxRepository
	retrier    Retrier
	idGen      IDGenerator
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewLedgerUseCase creates a new LedgerUseCase.
func NewLedgerUseCase(
	txManager TransactionManager,
	store LedgerStore,
	userRepo UserRepository,
	groupRepo GroupRepository,
	outboxRepo OutboxRepository,
	retrier Retrier,
	idGen IDGenerator,
	metrics *metrics.Metrics,
	logger zerolog.Logger,
) *LedgerUseCase {
	return &LedgerUseCase{
		txManager:  txManager,
		store:      store,
		userRepo:   userRepo,
		groupRepo:  groupRepo,
		outboxRepo: outboxRepo,
		retrier:    retrier,
		idGen:      idGen,
		metrics:    metrics,
		logger:     logger.With().Str("component", "ledger").Logger(),
	}
}

// RecordExpenseInput represents input for recording an expense.
type RecordExpenseInput struct {
	OccurredAt     *time.Time
	PayerID        string
	GroupID        string
	Description    string
	IdempotencyKey string
	CreatedBy      string
	Amount         int64
	Split          domain.SplitSpec
}

// RecordSettlementInput represents input for recording a settlement.
type RecordSettlementInput struct {
	OccurredAt     *time.Time
	PayerID        string
	PayeeID        string
	GroupID        string
	Note           string
	IdempotencyKey string
	CreatedBy      string
	Amount         int64
}

// RecordExpense validates and appends an expense. When the idempotency key
// was already used the previously stored entry is returned together with
// domain.ErrDuplicateWrite.
func (uc *LedgerUseCase) RecordExpense(ctx context.Context, input RecordExpenseInput) (*domain.LedgerEntry, error) {
	if err := uc.validateCommon(input.IdempotencyKey, input.Amount, input.Description); err != nil {
		return nil, uc.rejected(err)
	}

	if err := uc.checkGroup(ctx, input.GroupID); err != nil {
		return nil, uc.rejected(err)
	}

	if input.PayerID == "" {
		return nil, uc.rejected(fmt.Errorf("%w: payer is required", domain.ErrUnknownParticipant))
	}

	ids := append([]string{input.PayerID}, input.Split.Participants()...)
	missing, err := uc.userRepo.Missing(ctx, ids)
	if err != nil {
		return nil, err
	}
	unknown := make(map[string]struct{}, len(missing))
	for _, id := range missing {
		unknown[id] = struct{}{}
	}

	if _, ok := unknown[input.PayerID]; ok {
		return nil, uc.rejected(fmt.Errorf("%w: payer %q", domain.ErrUnknownParticipant, input.PayerID))
	}

	splits, err := domain.ResolveSplits(input.Amount, input.Split, func(id string) bool {
		_, bad := unknown[id]
		return !bad
	})
	if err != nil {
		return nil, uc.rejected(err)
	}

	now := time.Now().UTC()
	entry := &domain.LedgerEntry{
		ID:             uc.idGen.Generate(),
		Kind:           domain.EntryKindExpense,
		IdempotencyKey: input.IdempotencyKey,
		GroupID:        input.GroupID,
		OccurredAt:     occurredAt(input.OccurredAt, now),
		RecordedAt:     now,
		CreatedBy:      input.CreatedBy,
		Expense: &domain.Expense{
			PayerID:     input.PayerID,
			Amount:      input.Amount,
			Description: input.Description,
			SplitMode:   input.Split.Mode,
			Splits:      splits,
		},
	}

	return uc.appendEntry(ctx, entry)
}

// RecordSettlement validates and appends a settlement payment.
func (uc *LedgerUseCase) RecordSettlement(ctx context.Context, input RecordSettlementInput) (*domain.LedgerEntry, error) {
	if err := uc.validateCommon(input.IdempotencyKey, input.Amount, input.Note); err != nil {
		return nil, uc.rejected(err)
	}

	if input.PayerID == input.PayeeID {
		return nil, uc.rejected(domain.ErrSameUser)
	}

	if err := uc.checkGroup(ctx, input.GroupID); err != nil {
		return nil, uc.rejected(err)
	}

	missing, err := uc.userRepo.Missing(ctx, []string{input.PayerID, input.PayeeID})
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, uc.rejected(fmt.Errorf("%w: %q", domain.ErrUnknownParticipant, missing[0]))
	}

	now := time.Now().UTC()
	entry := &domain.LedgerEntry{
		ID:             uc.idGen.Generate(),
		Kind:           domain.EntryKindSettlement,
		IdempotencyKey: input.IdempotencyKey,
		GroupID:        input.GroupID,
		OccurredAt:     occurredAt(input.OccurredAt, now),
		RecordedAt:     now,
		CreatedBy:      input.CreatedBy,
		Settlement: &domain.Settlement{
			PayerID: input.PayerID,
			PayeeID: input.PayeeID,
			Amount:  input.Amount,
			Note:    input.Note,
		},
	}

	return uc.appendEntry(ctx, entry)
}

// ReverseEntry voids an entry by appending its reversal. Voiding the same
// entry again returns the first reversal with domain.ErrDuplicateWrite.
func (uc *LedgerUseCase) ReverseEntry(ctx context.Context, seq int64, createdBy string) (*domain.LedgerEntry, error) {
	original, err := uc.store.GetBySequence(ctx, seq)
	if err != nil {
		return nil, err
	}

	reversal, err := domain.NewReversal(original, createdBy, time.Now().UTC())
	if err != nil {
		return nil, uc.rejected(err)
	}
	reversal.ID = uc.idGen.Generate()

	stored, err := uc.appendEntry(ctx, reversal)
	if errors.Is(err, domain.ErrDuplicateWrite) && stored.Reverses != seq {
		return nil, uc.rejected(fmt.Errorf("%w: key %s is sequence %d", domain.ErrReversalKeyTaken, reversal.IdempotencyKey, stored.Sequence))
	}
	return stored, err
}

// GetEntry returns a single entry by sequence.
func (uc *LedgerUseCase) GetEntry(ctx context.Context, seq int64) (*domain.LedgerEntry, error) {
	return uc.store.GetBySequence(ctx, seq)
}

// ListEntries pages the raw log in sequence order.
func (uc *LedgerUseCase) ListEntries(ctx context.Context, afterSeq int64, limit int) ([]*domain.LedgerEntry, error) {
	limit, afterSeq = domain.ValidatePagination(limit, afterSeq)
	return uc.store.List(ctx, afterSeq, limit)
}

func (uc *LedgerUseCase) validateCommon(key string, amount int64, text string) error {
	if err := domain.ValidateIdempotencyKey(key); err != nil {
		return err
	}
	if err := domain.ValidateAmount(amount); err != nil {
		return err
	}
	return domain.ValidateDescription(text)
}

func (uc *LedgerUseCase) checkGroup(ctx context.Context, groupID string) error {
	if groupID == "" {
		return nil
	}
	_, err := uc.groupRepo.GetByID(ctx, groupID)
	return err
}

// appendEntry runs the write transaction under the retrier. The store takes the
// ledger lock, so a conflict means the whole transaction is retried.
func (uc *LedgerUseCase) appendEntry(ctx context.Context, entry *domain.LedgerEntry) (*domain.LedgerEntry, error) {
	start := time.Now()

	var (
		stored    *domain.LedgerEntry
		duplicate bool
	)

	err := uc.retrier.Retry(ctx, func() error {
		txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
		defer cancel()

		tx, err := uc.txManager.Begin(txCtx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(txCtx) }()

		s, dup, err := uc.store.Append(txCtx, tx, entry)
		if err != nil {
			return err
		}

		if dup {
			stored, duplicate = s, true
			return nil
		}

		event := domain.NewEntryEvent(uc.idGen.Generate(), s, s.RecordedAt)
		if err := uc.outboxRepo.Create(txCtx, tx, event); err != nil {
			return err
		}

		if err := tx.Commit(txCtx); err != nil {
			return err
		}

		stored, duplicate = s, false
		return nil
	})

	if uc.metrics != nil {
		uc.metrics.AppendDuration.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			if uc.metrics != nil {
				uc.metrics.AppendConflicts.Inc()
			}
			uc.logger.Warn().Err(err).Str("idempotency_key", entry.IdempotencyKey).Msg("ledger append gave up after conflicts")
		}
		return nil, err
	}

	if duplicate {
		if uc.metrics != nil {
			uc.metrics.DuplicateWrites.Inc()
		}
		uc.logger.Info().
			Str("idempotency_key", entry.IdempotencyKey).
			Int64("sequence", stored.Sequence).
			Msg("duplicate write, returning stored entry")
		return stored, fmt.Errorf("%w: sequence %d", domain.ErrDuplicateWrite, stored.Sequence)
	}

	if uc.metrics != nil {
		uc.metrics.EntriesAppended.WithLabelValues(string(stored.Kind)).Inc()
		uc.metrics.EntryAmount.WithLabelValues(string(stored.Kind)).Observe(float64(stored.Amount()))
	}

	uc.logger.Debug().
		Int64("sequence", stored.Sequence).
		Str("kind", string(stored.Kind)).
		Str("group_id", stored.GroupID).
		Int64("reverses", stored.Reverses).
		Msg("ledger entry appended")

	return stored, nil
}

func (uc *LedgerUseCase) rejected(err error) error {
	if uc.metrics != nil {
		uc.metrics.AppendErrors.WithLabelValues(errorType(err)).Inc()
	}
	return err
}

func errorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnknownParticipant):
		return "unknown_participant"
	case errors.Is(err, domain.ErrInvalidSplit):
		return "invalid_split"
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrAmountTooLarge):
		return "invalid_amount"
	case errors.Is(err, domain.ErrMissingIdempotencyKey), errors.Is(err, domain.ErrInvalidIdempotencyKey):
		return "idempotency_key"
	case errors.Is(err, domain.ErrGroupNotFound):
		return "group_not_found"
	case errors.Is(err, domain.ErrSameUser):
		return "same_user"
	case errors.Is(err, domain.ErrCannotReverseReversal):
		return "reverse_reversal"
	case errors.Is(err, domain.ErrReversalKeyTaken):
		return "reversal_key_taken"
	default:
		return "other"
	}
}

func occurredAt(t *time.Time, now time.Time) time.Time {
	if t == nil || t.IsZero() {
		return now
	}
	return t.UTC()
}
