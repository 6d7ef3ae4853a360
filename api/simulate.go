package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/teich/bank4/allowance"
	"github.com/teich/bank4/family"
)

// MaxSimulatedWeeks caps the harness at ten years.
const MaxSimulatedWeeks = 520

// SimulateAccrual rewinds one user's accrual state and runs a batch, so a
// developer can watch N weeks of allowance being paid at once.
//
// Steps:
//  1. Delete the user's system-created transactions
//  2. Set LastRun to now minus N weeks, clear LastAttempt and RunCount
//  3. Run a normal accrual batch
//
// Only available in development.
func (h *Handler) SimulateAccrual(w http.ResponseWriter, r *http.Request) {
	if !h.Development {
		writeError(w, http.StatusForbidden, "Test endpoint only available in development", nil)
		return
	}

	var req SimulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required", nil)
		return
	}
	weeks := 1
	if req.WeeksToSimulate != nil {
		weeks = *req.WeeksToSimulate
	}
	if weeks < 1 || weeks > MaxSimulatedWeeks {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("weeksToSimulate must be between 1 and %d", MaxSimulatedWeeks), nil)
		return
	}

	ctx := r.Context()
	userID := family.UserID(req.UserID)
	if _, err := h.Store.GetUser(ctx, userID); err != nil {
		writeDomainError(w, err)
		return
	}

	purged, err := h.Store.PurgeSystemTransactions(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to clear allowance transactions", err)
		return
	}

	lastRun := h.now().Add(-time.Duration(weeks) * allowance.Week)
	if err := h.Store.ResetRunState(ctx, userID, lastRun); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset allowance state", err)
		return
	}
	log.Printf("[Accrual] Simulating %d week(s) for %s (purged %d transactions)", weeks, userID, purged)

	result, err := h.Engine.Run(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to run allowances", err)
		return
	}

	writeJSON(w, http.StatusOK, SimulateResponse{
		Success:         true,
		WeeksSimulated:  weeks,
		AllowanceResult: result,
	})
}
