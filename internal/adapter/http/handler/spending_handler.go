package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iho/splitledger/internal/adapter/http/dto"
	"github.com/iho/splitledger/internal/domain"
)

// SpendingService answers per-month spending queries.
type SpendingService interface {
	GetMonthlySpending(ctx context.Context, userID string, r domain.MonthRange) ([]domain.MonthlyTotal, error)
	GetTotalSpent(ctx context.Context, userID string, r domain.MonthRange) (int64, error)
	Location() *time.Location
}

// SpendingHandler handles spending requests.
type SpendingHandler struct {
	spending SpendingService
	conv     dto.Converter
	now      func() time.Time
}

// NewSpendingHandler creates a new SpendingHandler.
func NewSpendingHandler(spending SpendingService, digits int32) *SpendingHandler {
	return &SpendingHandler{spending: spending, conv: dto.Converter{Digits: digits}, now: time.Now}
}

// Monthly returns one total per month of ?from=YYYY-MM&to=YYYY-MM.
func (h *SpendingHandler) Monthly(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	rng, err := h.monthRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid month range", err.Error())
		return
	}

	totals, err := h.spending.GetMonthlySpending(r.Context(), userID, rng)
	if err != nil {
		writeError(w, mapDomainError(err), "failed to get spending", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.conv.MonthlySpending(userID, rng, h.spending.Location(), totals))
}

// Total returns the spending over ?from=YYYY-MM&to=YYYY-MM.
func (h *SpendingHandler) Total(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	rng, err := h.monthRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid month range", err.Error())
		return
	}

	total, err := h.spending.GetTotalSpent(r.Context(), userID, rng)
	if err != nil {
		writeError(w, mapDomainError(err), "failed to get spending", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.conv.TotalSpent(userID, rng, total))
}

// monthRange reads from and to. Either may be omitted and defaults to the
// current month in the ledger time zone.
func (h *SpendingHandler) monthRange(r *http.Request) (domain.MonthRange, error) {
	current := domain.MonthOf(h.now(), h.spending.Location())
	rng := domain.MonthRange{From: current, To: current}

	q := r.URL.Query()
	if s := q.Get("from"); s != "" {
		m, err := domain.ParseMonth(s)
		if err != nil {
			return domain.MonthRange{}, err
		}
		rng.From = m
	}
	if s := q.Get("to"); s != "" {
		m, err := domain.ParseMonth(s)
		if err != nil {
			return domain.MonthRange{}, err
		}
		rng.To = m
	}

	return rng, rng.Validate()
}
