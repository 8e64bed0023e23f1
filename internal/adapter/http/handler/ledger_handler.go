package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/iho/splitledger/internal/adapter/http/dto"
	"github.com/iho/splitledger/internal/adapter/http/middleware"
	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

// LedgerService is the write and raw-read side of the ledger.
type LedgerService interface {
	RecordExpense(ctx context.Context, input usecase.RecordExpenseInput) (*domain.LedgerEntry, error)
	RecordSettlement(ctx context.Context, input usecase.RecordSettlementInput) (*domain.LedgerEntry, error)
	ReverseEntry(ctx context.Context, seq int64, createdBy string) (*domain.LedgerEntry, error)
	GetEntry(ctx context.Context, seq int64) (*domain.LedgerEntry, error)
	ListEntries(ctx context.Context, afterSeq int64, limit int) ([]*domain.LedgerEntry, error)
}

// LedgerHandler handles expense, settlement and entry requests.
type LedgerHandler struct {
	ledger LedgerService
	conv   dto.Converter
	logger zerolog.Logger
}

// NewLedgerHandler creates a new LedgerHandler. digits is the number of
// fractional digits of the accounting currency.
func NewLedgerHandler(ledger LedgerService, digits int32, logger zerolog.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, conv: dto.Converter{Digits: digits}, logger: logger}
}

// RecordExpense records an expense.
func (h *LedgerHandler) RecordExpense(w http.ResponseWriter, r *http.Request) {
	var req dto.RecordExpenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get(middleware.IdempotencyKeyHeader)
	}

	input, err := req.ToUseCaseInput(h.conv.Digits)
	if err != nil {
		writeError(w, mapDomainError(err), "invalid expense", err.Error())
		return
	}
	input.CreatedBy = caller(r, req.PayerID)

	entry, err := h.ledger.RecordExpense(r.Context(), input)
	h.writeEntry(w, entry, err, "failed to record expense")
}

// RecordSettlement records a direct payment between two users.
func (h *LedgerHandler) RecordSettlement(w http.ResponseWriter, r *http.Request) {
	var req dto.RecordSettlementRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get(middleware.IdempotencyKeyHeader)
	}

	input, err := req.ToUseCaseInput(h.conv.Digits)
	if err != nil {
		writeError(w, mapDomainError(err), "invalid settlement", err.Error())
		return
	}
	input.CreatedBy = caller(r, req.PayerID)

	entry, err := h.ledger.RecordSettlement(r.Context(), input)
	h.writeEntry(w, entry, err, "failed to record settlement")
}

// VoidEntry appends the reversal of an entry.
func (h *LedgerHandler) VoidEntry(w http.ResponseWriter, r *http.Request) {
	seq, ok := parseSequence(chi.URLParam(r, "seq"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid sequence", "sequence must be a positive integer")
		return
	}

	entry, err := h.ledger.ReverseEntry(r.Context(), seq, caller(r, ""))
	h.writeEntry(w, entry, err, "failed to void entry")
}

// GetEntry returns one entry by sequence.
func (h *LedgerHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	seq, ok := parseSequence(chi.URLParam(r, "seq"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid sequence", "sequence must be a positive integer")
		return
	}

	entry, err := h.ledger.GetEntry(r.Context(), seq)
	if err != nil {
		writeError(w, mapDomainError(err), "failed to get entry", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.conv.Entry(entry))
}

// ListEntries pages the ledger in sequence order.
func (h *LedgerHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	since := int64(parseIntQuery(r, "since", 0))
	limit := parseIntQuery(r, "limit", domain.DefaultPageSize)

	entries, err := h.ledger.ListEntries(r.Context(), since, limit)
	if err != nil {
		writeError(w, mapDomainError(err), "failed to list entries", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.conv.Entries(entries, max(since, 0)))
}

// writeEntry answers a ledger write. A duplicate idempotency key is a
// successful replay of the stored entry.
func (h *LedgerHandler) writeEntry(w http.ResponseWriter, entry *domain.LedgerEntry, err error, msg string) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, h.conv.Entry(entry))
	case errors.Is(err, domain.ErrDuplicateWrite) && entry != nil:
		w.Header().Set(middleware.ReplayHeader, "true")
		writeJSON(w, http.StatusOK, h.conv.Entry(entry))
	default:
		status := mapDomainError(err)
		if status == http.StatusInternalServerError {
			h.logger.Error().Err(err).Msg(msg)
		}
		writeError(w, status, msg, err.Error())
	}
}
