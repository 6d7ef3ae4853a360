/*
handlers.go - HTTP API handlers

PURPOSE:
  Exposes the accrual engine, the ledger and allowance settings over REST.
  Handlers parse and validate input, delegate to the domain packages and
  serialize the result.

ENDPOINTS:
  Accrual:
    POST   /api/allowance/run     Run one accrual batch (bearer secret in production)
    POST   /api/allowance/test    Simulation harness (development only)
    GET    /api/allowance/runs    Batch history

  Members (scoped to /api/families/{familyID}/members/{userID}):
    GET    /dashboard             Category totals and recent transactions
    POST   /transactions          Manual transaction
    GET    /allowance-settings    Setting history, newest first
    POST   /allowance-settings    Add setting versions (parents only)

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store:  Database access
  - Engine: Accrual engine, shared with the scheduler
  - Ledger: Validated transaction access

ERROR HANDLING:
  Errors are returned as JSON {success: false, error, details}:
  - 400: Validation errors, invalid input
  - 401: Missing or invalid trigger credential
  - 403: Actor not allowed, or development-only route
  - 404: Unknown family, user, or membership
  - 409: Duplicate transaction
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - simulate.go: Development harness
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/teich/bank4/allowance"
	"github.com/teich/bank4/family"
	"github.com/teich/bank4/ledger"
	"github.com/teich/bank4/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       *sqlite.Store
	Engine      *allowance.Engine
	Ledger      *ledger.Ledger
	Development bool
	Clock       func() time.Time

	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires a handler around store. The engine records its runs in
// the same store.
func NewHandler(store *sqlite.Store, engine *allowance.Engine, development bool) *Handler {
	return &Handler{
		Store:       store,
		Engine:      engine,
		Ledger:      ledger.New(store),
		Development: development,
		Clock:       time.Now,
	}
}

func (h *Handler) now() time.Time {
	return h.Clock().UTC()
}

// =============================================================================
// ACCRUAL ENDPOINTS
// =============================================================================

// TriggerAccrual runs one accrual batch and returns its report.
func (h *Handler) TriggerAccrual(w http.ResponseWriter, r *http.Request) {
	result, err := h.Engine.Run(r.Context())
	if err != nil {
		log.Printf("[Accrual] Failed to run allowances: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to run allowances", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListAccrualRuns returns recent batches, newest first.
func (h *Handler) ListAccrualRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	runs, err := h.Store.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}

	dtos := make([]AccrualRunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toAccrualRunDTO(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// =============================================================================
// MEMBER ENDPOINTS
// =============================================================================

// memberScope resolves {familyID} and {userID} and checks the membership.
// It writes the error response itself and returns ok=false on failure.
func (h *Handler) memberScope(w http.ResponseWriter, r *http.Request) (*family.Family, *family.User, family.Member, []family.Member, bool) {
	ctx := r.Context()
	familyID := family.FamilyID(chi.URLParam(r, "familyID"))
	userID := family.UserID(chi.URLParam(r, "userID"))

	fam, err := h.Store.GetFamily(ctx, familyID)
	if err != nil {
		writeDomainError(w, err)
		return nil, nil, family.Member{}, nil, false
	}
	user, err := h.Store.GetUser(ctx, userID)
	if err != nil {
		writeDomainError(w, err)
		return nil, nil, family.Member{}, nil, false
	}
	members, err := h.Store.FamilyMembers(ctx, familyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load family members", err)
		return nil, nil, family.Member{}, nil, false
	}
	member, ok := family.MembershipIn(members, userID, familyID)
	if !ok {
		writeError(w, http.StatusNotFound, "User is not a member of this family", nil)
		return nil, nil, family.Member{}, nil, false
	}
	return fam, user, member, members, true
}

// GetDashboard returns category totals and the latest transactions.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	fam, user, member, _, ok := h.memberScope(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	totals, err := h.Ledger.Totals(ctx, user.ID, fam.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load balances", err)
		return
	}
	recent, err := h.Ledger.Recent(ctx, user.ID, fam.ID, ledger.RecentLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load transactions", err)
		return
	}

	dto := DashboardDTO{
		FamilyID:           string(fam.ID),
		FamilyName:         fam.Name,
		Currency:           fam.Currency,
		UserID:             string(user.ID),
		Username:           user.Username,
		Role:               string(member.Role),
		Total:              int64(totals.Total()),
		TotalDisplay:       totals.Total().String(),
		RecentTransactions: toTransactionDTOs(recent),
	}
	for _, c := range ledger.Categories {
		dto.Totals = append(dto.Totals, CategoryTotalDTO{
			Category: string(c),
			Label:    c.Label(),
			Amount:   int64(totals[c]),
			Display:  totals[c].String(),
		})
	}
	writeJSON(w, http.StatusOK, dto)
}

// CreateTransaction records a manual entry. The actor must be the owner or
// a parent in the family.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	fam, user, _, members, ok := h.memberScope(w, r)
	if !ok {
		return
	}

	actor := actorID(r)
	if actor == "" {
		writeError(w, http.StatusUnauthorized, "Missing "+ActorHeader+" header", nil)
		return
	}
	if !family.CanActFor(members, actor, user.ID, fam.ID) {
		writeError(w, http.StatusForbidden, "Not authorized to add transaction for this user", nil)
		return
	}

	var req CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	category, err := ledger.ParseCategory(req.Category)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	amount, err := ledger.ParseDollars(req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	tx, err := h.Ledger.Record(r.Context(), ledger.ManualEntry{
		OwnerID:     user.ID,
		CreatedByID: actor,
		FamilyID:    fam.ID,
		Category:    category,
		Amount:      amount,
		Description: req.Description,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// ListSettings returns the member's setting history, newest first.
func (h *Handler) ListSettings(w http.ResponseWriter, r *http.Request) {
	fam, user, _, _, ok := h.memberScope(w, r)
	if !ok {
		return
	}

	history, err := h.Store.ListSettings(r.Context(), user.ID, fam.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load settings", err)
		return
	}

	dtos := make([]SettingDTO, 0, len(history))
	for _, s := range history {
		dtos = append(dtos, toSettingDTO(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": dtos})
}

// SaveSettings adds new setting versions. Only a parent of the family may
// do this; existing versions are never modified.
func (h *Handler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	fam, user, _, members, ok := h.memberScope(w, r)
	if !ok {
		return
	}

	actor := actorID(r)
	if actor == "" {
		writeError(w, http.StatusUnauthorized, "Missing "+ActorHeader+" header", nil)
		return
	}
	if m, ok := family.MembershipIn(members, actor, fam.ID); !ok || !m.IsParent() {
		writeError(w, http.StatusForbidden, "Only a parent in this family can change allowance settings", nil)
		return
	}

	var req SaveSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Settings) == 0 {
		writeError(w, http.StatusBadRequest, "At least one setting is required", nil)
		return
	}

	now := h.now()
	settings := make([]allowance.Setting, 0, len(req.Settings))
	for _, in := range req.Settings {
		s, err := allowance.NewSetting(allowance.SettingInput{
			Category:     in.Category,
			Amount:       in.Amount,
			IsPercentage: in.IsPercentage,
			Period:       in.Period,
		}, user.ID, fam.ID, actor, now)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		settings = append(settings, s)
	}

	if err := h.Store.InsertSettings(r.Context(), settings); err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]SettingDTO, 0, len(settings))
	for _, s := range settings {
		dtos = append(dtos, toSettingDTO(s))
	}
	writeJSON(w, http.StatusCreated, map[string]any{"settings": dtos})
}

// Health reports database reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		writeError(w, http.StatusConflict, "Duplicate transaction", err)
	case ledger.IsClientError(err), allowance.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case errors.Is(err, family.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found", err)
	case errors.Is(err, family.ErrFamilyNotFound):
		writeError(w, http.StatusNotFound, "Family not found", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
