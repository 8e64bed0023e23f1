package dto

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

// CreateUserRequest represents a request to register a user.
type CreateUserRequest struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// ToUseCaseInput converts to use case input.
func (r *CreateUserRequest) ToUseCaseInput() usecase.CreateUserInput {
	return usecase.CreateUserInput{
		ID:    r.ID,
		Name:  r.Name,
		Email: r.Email,
	}
}

// CreateGroupRequest represents a request to create a group.
type CreateGroupRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	CreatedBy   string   `json:"created_by"`
	MemberIDs   []string `json:"member_ids,omitempty"`
}

// ToUseCaseInput converts to use case input. An authenticated caller
// replaces CreatedBy.
func (r *CreateGroupRequest) ToUseCaseInput(caller string) usecase.CreateGroupInput {
	createdBy := r.CreatedBy
	if caller != "" {
		createdBy = caller
	}

	return usecase.CreateGroupInput{
		Name:        r.Name,
		Description: r.Description,
		CreatedBy:   createdBy,
		MemberIDs:   r.MemberIDs,
	}
}

// AddMemberRequest adds a user to a group.
type AddMemberRequest struct {
	UserID string `json:"user_id"`
}

// ShareRequest is one participant of a split. Amount is read for exact splits
// and Percentage for percentage splits.
type ShareRequest struct {
	UserID     string           `json:"user_id"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Percentage *decimal.Decimal `json:"percentage,omitempty"`
}

// SplitRequest describes how an expense is divided.
type SplitRequest struct {
	Mode   string         `json:"mode"`
	Shares []ShareRequest `json:"shares"`
}

// ToDomain converts the split to minor units and basis points.
func (s *SplitRequest) ToDomain(digits int32) (domain.SplitSpec, error) {
	mode, err := domain.ParseSplitMode(s.Mode)
	if err != nil {
		return domain.SplitSpec{}, err
	}

	shares := make([]domain.SplitShare, len(s.Shares))
	for i, sh := range s.Shares {
		shares[i].UserID = sh.UserID

		switch mode {
		case domain.SplitModeExact:
			if sh.Amount == nil {
				return domain.SplitSpec{}, &domain.SplitError{Reason: fmt.Sprintf("share for %q has no amount", sh.UserID)}
			}
			if sh.Amount.IsNegative() {
				return domain.SplitSpec{}, &domain.SplitError{Reason: fmt.Sprintf("share for %q is negative", sh.UserID)}
			}
			units, err := domain.ToMinorUnits(*sh.Amount, digits)
			if err != nil {
				return domain.SplitSpec{}, err
			}
			shares[i].Amount = units
		case domain.SplitModePercentage:
			if sh.Percentage == nil {
				return domain.SplitSpec{}, &domain.SplitError{Reason: fmt.Sprintf("share for %q has no percentage", sh.UserID)}
			}
			bp, err := domain.PercentageToBasisPoints(*sh.Percentage)
			if err != nil {
				return domain.SplitSpec{}, err
			}
			shares[i].BasisPoints = bp
		}
	}

	return domain.SplitSpec{Mode: mode, Shares: shares}, nil
}

// RecordExpenseRequest represents a request to record an expense.
type RecordExpenseRequest struct {
	PayerID        string          `json:"payer_id"`
	GroupID        string          `json:"group_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	OccurredAt     *time.Time      `json:"occurred_at,omitempty"`
	Split          SplitRequest    `json:"split"`
}

// ToUseCaseInput converts to use case input. Amounts with more fractional
// digits than the currency allows are rejected.
func (r *RecordExpenseRequest) ToUseCaseInput(digits int32) (usecase.RecordExpenseInput, error) {
	amount, err := domain.ToMinorUnits(r.Amount, digits)
	if err != nil {
		return usecase.RecordExpenseInput{}, err
	}

	split, err := r.Split.ToDomain(digits)
	if err != nil {
		return usecase.RecordExpenseInput{}, err
	}

	return usecase.RecordExpenseInput{
		OccurredAt:     r.OccurredAt,
		PayerID:        r.PayerID,
		GroupID:        r.GroupID,
		Description:    r.Description,
		IdempotencyKey: r.IdempotencyKey,
		Amount:         amount,
		Split:          split,
	}, nil
}

// RecordSettlementRequest represents a direct payment between two users.
type RecordSettlementRequest struct {
	PayerID        string          `json:"payer_id"`
	PayeeID        string          `json:"payee_id"`
	GroupID        string          `json:"group_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Note           string          `json:"note,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	OccurredAt     *time.Time      `json:"occurred_at,omitempty"`
}

// ToUseCaseInput converts to use case input.
func (r *RecordSettlementRequest) ToUseCaseInput(digits int32) (usecase.RecordSettlementInput, error) {
	amount, err := domain.ToMinorUnits(r.Amount, digits)
	if err != nil {
		return usecase.RecordSettlementInput{}, err
	}

	return usecase.RecordSettlementInput{
		OccurredAt:     r.OccurredAt,
		PayerID:        r.PayerID,
		PayeeID:        r.PayeeID,
		GroupID:        r.GroupID,
		Note:           r.Note,
		IdempotencyKey: r.IdempotencyKey,
		Amount:         amount,
	}, nil
}
