package handler

import (
	"context"
	"net/http"

	"github.com/iho/splitledger/internal/adapter/http/dto"
	"github.com/iho/splitledger/internal/usecase"
)

// Verifier replays and checks the whole ledger.
type Verifier interface {
	VerifyLedger(ctx context.Context) (*usecase.VerificationReport, error)
}

// ReconciliationHandler handles ledger-wide consistency checks.
type ReconciliationHandler struct {
	verifier Verifier
}

// NewReconciliationHandler creates a new ReconciliationHandler.
func NewReconciliationHandler(verifier Verifier) *ReconciliationHandler {
	return &ReconciliationHandler{verifier: verifier}
}

// CheckConsistency verifies the ledger. An inconsistent ledger answers 409
// with the report.
func (h *ReconciliationHandler) CheckConsistency(w http.ResponseWriter, r *http.Request) {
	report, err := h.verifier.VerifyLedger(r.Context())
	if err != nil {
		writeError(w, mapDomainError(err), "failed to verify ledger", err.Error())
		return
	}

	status := http.StatusOK
	if !report.Consistent {
		status = http.StatusConflict
	}

	writeJSON(w, status, dto.VerificationFromReport(report))
}
