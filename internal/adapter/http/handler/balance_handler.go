package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iho/splitledger/internal/adapter/http/dto"
	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

// BalanceService answers balance and settlement queries.
type BalanceService interface {
	GetUserBalances(ctx context.Context, userID string) (*usecase.UserBalances, error)
	GetGroupBalances(ctx context.Context, groupID string) (*usecase.GroupBalances, error)
	GetUserSettlementSuggestions(ctx context.Context, userID string) ([]domain.Payment, error)
	GetGroupSettlementSuggestions(ctx context.Context, groupID string) ([]domain.Payment, error)
}

// BalanceHandler handles balance and suggestion requests.
type BalanceHandler struct {
	balances BalanceService
	conv     dto.Converter
}

// NewBalanceHandler creates a new BalanceHandler.
func NewBalanceHandler(balances BalanceService, digits int32) *BalanceHandler {
	return &BalanceHandler{balances: balances, conv: dto.Converter{Digits: digits}}
}

// UserBalances returns the dashboard summary of a user.
func (h *BalanceHandler) UserBalances(w http.ResponseWriter, r *http.Request) {
	b, err := h.balances.GetUserBalances(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, mapDomainError(err), "failed to get balances", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.conv.UserBalances(b))
}

// GroupBalances returns the debts and member positions of a group.
func (h *BalanceHandler) GroupBalances(w http.ResponseWriter, r *http.Request) {
	b, err := h.balances.GetGroupBalances(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, mapDomainError(err), "failed to get group balances", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.conv.GroupBalances(b))
}

// UserSuggestions returns the planned payments that involve a user.
func (h *BalanceHandler) UserSuggestions(w http.ResponseWriter, r *http.Request) {
	payments, err := h.balances.GetUserSettlementSuggestions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, mapDomainError(err), "failed to plan settlements", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.conv.Suggestions(payments))
}

// GroupSuggestions returns the payments that settle a group.
func (h *BalanceHandler) GroupSuggestions(w http.ResponseWriter, r *http.Request) {
	payments, err := h.balances.GetGroupSettlementSuggestions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, mapDomainError(err), "failed to plan settlements", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.conv.Suggestions(payments))
}
