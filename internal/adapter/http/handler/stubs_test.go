package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

func withURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

type ledgerServiceStub struct {
	recordExpenseFn    func(ctx context.Context, input usecase.RecordExpenseInput) (*domain.LedgerEntry, error)
	recordSettlementFn func(ctx context.Context, input usecase.RecordSettlementInput) (*domain.LedgerEntry, error)
	reverseFn          func(ctx context.Context, seq int64, createdBy string) (*domain.LedgerEntry, error)
	getFn              func(ctx context.Context, seq int64) (*domain.LedgerEntry, error)
	listFn             func(ctx context.Context, afterSeq int64, limit int) ([]*domain.LedgerEntry, error)
}

func (s *ledgerServiceStub) RecordExpense(ctx context.Context, input usecase.RecordExpenseInput) (*domain.LedgerEntry, error) {
	return s.recordExpenseFn(ctx, input)
}

func (s *ledgerServiceStub) RecordSettlement(ctx context.Context, input usecase.RecordSettlementInput) (*domain.LedgerEntry, error) {
	return s.recordSettlementFn(ctx, input)
}

func (s *ledgerServiceStub) ReverseEntry(ctx context.Context, seq int64, createdBy string) (*domain.LedgerEntry, error) {
	return s.reverseFn(ctx, seq, createdBy)
}

func (s *ledgerServiceStub) GetEntry(ctx context.Context, seq int64) (*domain.LedgerEntry, error) {
	return s.getFn(ctx, seq)
}

func (s *ledgerServiceStub) ListEntries(ctx context.Context, afterSeq int64, limit int) ([]*domain.LedgerEntry, error) {
	return s.listFn(ctx, afterSeq, limit)
}

type directoryServiceStub struct {
	createUserFn   func(ctx context.Context, input usecase.CreateUserInput) (*domain.User, error)
	getUserFn      func(ctx context.Context, id string) (*domain.User, error)
	createGroupFn  func(ctx context.Context, input usecase.CreateGroupInput) (*domain.Group, error)
	getGroupFn     func(ctx context.Context, id string) (*domain.Group, error)
	addMemberFn    func(ctx context.Context, groupID, userID string) (*domain.Group, error)
	removeMemberFn func(ctx context.Context, groupID, userID string) (*domain.Group, error)
	listGroupsFn   func(ctx context.Context, userID string) ([]usecase.UserGroup, error)
}

func (s *directoryServiceStub) CreateUser(ctx context.Context, input usecase.CreateUserInput) (*domain.User, error) {
	return s.createUserFn(ctx, input)
}

func (s *directoryServiceStub) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.getUserFn(ctx, id)
}

func (s *directoryServiceStub) CreateGroup(ctx context.Context, input usecase.CreateGroupInput) (*domain.Group, error) {
	return s.createGroupFn(ctx, input)
}

func (s *directoryServiceStub) GetGroup(ctx context.Context, id string) (*domain.Group, error) {
	return s.getGroupFn(ctx, id)
}

func (s *directoryServiceStub) AddMember(ctx context.Context, groupID, userID string) (*domain.Group, error) {
	return s.addMemberFn(ctx, groupID, userID)
}

func (s *directoryServiceStub) RemoveMember(ctx context.Context, groupID, userID string) (*domain.Group, error) {
	return s.removeMemberFn(ctx, groupID, userID)
}

func (s *directoryServiceStub) ListUserGroups(ctx context.Context, userID string) ([]usecase.UserGroup, error) {
	return s.listGroupsFn(ctx, userID)
}

type balanceServiceStub struct {
	userFn      func(ctx context.Context, userID string) (*usecase.UserBalances, error)
	groupFn     func(ctx context.Context, groupID string) (*usecase.GroupBalances, error)
	userPlanFn  func(ctx context.Context, userID string) ([]domain.Payment, error)
	groupPlanFn func(ctx context.Context, groupID string) ([]domain.Payment, error)
}

func (s *balanceServiceStub) GetUserBalances(ctx context.Context, userID string) (*usecase.UserBalances, error) {
	return s.userFn(ctx, userID)
}

func (s *balanceServiceStub) GetGroupBalances(ctx context.Context, groupID string) (*usecase.GroupBalances, error) {
	return s.groupFn(ctx, groupID)
}

func (s *balanceServiceStub) GetUserSettlementSuggestions(ctx context.Context, userID string) ([]domain.Payment, error) {
	return s.userPlanFn(ctx, userID)
}

func (s *balanceServiceStub) GetGroupSettlementSuggestions(ctx context.Context, groupID string) ([]domain.Payment, error) {
	return s.groupPlanFn(ctx, groupID)
}

type spendingServiceStub struct {
	monthlyFn func(ctx context.Context, userID string, r domain.MonthRange) ([]domain.MonthlyTotal, error)
	totalFn   func(ctx context.Context, userID string, r domain.MonthRange) (int64, error)
	loc       *time.Location
}

func (s *spendingServiceStub) GetMonthlySpending(ctx context.Context, userID string, r domain.MonthRange) ([]domain.MonthlyTotal, error) {
	return s.monthlyFn(ctx, userID, r)
}

func (s *spendingServiceStub) GetTotalSpent(ctx context.Context, userID string, r domain.MonthRange) (int64, error) {
	return s.totalFn(ctx, userID, r)
}

func (s *spendingServiceStub) Location() *time.Location {
	if s.loc == nil {
		return time.UTC
	}
	return s.loc
}

type verifierStub struct {
	report *usecase.VerificationReport
	err    error
}

func (s *verifierStub) VerifyLedger(ctx context.Context) (*usecase.VerificationReport, error) {
	return s.report, s.err
}
