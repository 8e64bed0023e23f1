package usecase

import (
	"context"
	"slices"
	"time"

	"github.com/iho/splitledger/internal/domain"
)

// SpendingUseCase reports how much users paid for expenses over time.
type SpendingUseCase struct {
	store    LedgerStore
	userRepo UserRepository
	location *time.Location
}

// NewSpendingUseCase creates a new SpendingUseCase. Months are calendar
// months in loc, UTC when loc is nil.
func NewSpendingUseCase(store LedgerStore, userRepo UserRepository, loc *time.Location) *SpendingUseCase {
	if loc == nil {
		loc = time.UTC
	}
	return &SpendingUseCase{
		store:    store,
		userRepo: userRepo,
		location: loc,
	}
}

// GetMonthlySpending returns one total per month of r, including months
// without expenses.
func (uc *SpendingUseCase) GetMonthlySpending(ctx context.Context, userID string, r domain.MonthRange) ([]domain.MonthlyTotal, error) {
	entries, err := uc.load(ctx, userID, r)
	if err != nil {
		return nil, err
	}

	return slices.Collect(domain.MonthlyTotals(entries, userID, r, uc.location)), nil
}

// GetTotalSpent returns the sum of the user's monthly totals over r.
func (uc *SpendingUseCase) GetTotalSpent(ctx context.Context, userID string, r domain.MonthRange) (int64, error) {
	entries, err := uc.load(ctx, userID, r)
	if err != nil {
		return 0, err
	}

	return domain.TotalSpent(entries, userID, r, uc.location), nil
}

// Location is the time zone months are computed in.
func (uc *SpendingUseCase) Location() *time.Location {
	return uc.location
}

func (uc *SpendingUseCase) load(ctx context.Context, userID string, r domain.MonthRange) ([]*domain.LedgerEntry, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	if _, err := uc.userRepo.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	from := r.From.Start(uc.location)
	to := r.To.Next().Start(uc.location)

	return uc.store.ExpensesPaidBy(ctx, userID, from, to)
}
