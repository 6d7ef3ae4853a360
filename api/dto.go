/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication so the domain types in
  ledger, allowance and family can change without breaking clients.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are returned both as integer cents and as a fixed two-decimal
  dollar string. Manual transactions accept dollars; settings accept cents
  (or basis points for SAVING).

SEE ALSO:
  - handlers.go: Uses these types
  - allowance/result.go: The accrual report, returned as-is
*/
package api

import (
	"time"

	"github.com/teich/bank4/allowance"
	"github.com/teich/bank4/ledger"
)

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// LEDGER
// =============================================================================

type TransactionDTO struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"ownerId"`
	CreatedByID     string    `json:"createdById"`
	FamilyID        string    `json:"familyId"`
	Category        string    `json:"category"`
	Amount          int64     `json:"amount"`
	AmountDisplay   string    `json:"amountDisplay"`
	Description     string    `json:"description"`
	Date            time.Time `json:"date"`
	IsSystemCreated bool      `json:"isSystemCreated"`
}

// CreateTransactionRequest is a manual entry. Amount is in dollars, e.g.
// "-4.50" for a purchase.
type CreateTransactionRequest struct {
	Category    string `json:"category"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

type CategoryTotalDTO struct {
	Category string `json:"category"`
	Label    string `json:"label"`
	Amount   int64  `json:"amount"`
	Display  string `json:"display"`
}

// DashboardDTO is a member's balances and latest activity in one family.
type DashboardDTO struct {
	FamilyID           string             `json:"familyId"`
	FamilyName         string             `json:"familyName"`
	Currency           string             `json:"currency"`
	UserID             string             `json:"userId"`
	Username           string             `json:"username"`
	Role               string             `json:"role"`
	Totals             []CategoryTotalDTO `json:"totals"`
	Total              int64              `json:"total"`
	TotalDisplay       string             `json:"totalDisplay"`
	RecentTransactions []TransactionDTO   `json:"recentTransactions"`
}

// =============================================================================
// ALLOWANCE SETTINGS
// =============================================================================

type SettingDTO struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	FamilyID     string    `json:"familyId"`
	CreatedByID  string    `json:"createdById"`
	Category     string    `json:"category"`
	Amount       int64     `json:"amount"`
	IsPercentage bool      `json:"isPercentage"`
	Period       string    `json:"period"`
	CreatedAt    time.Time `json:"createdAt"`
}

type SettingInputDTO struct {
	Category     string `json:"category"`
	Amount       int64  `json:"amount"`
	IsPercentage bool   `json:"isPercentage"`
	Period       string `json:"period"`
}

// SaveSettingsRequest adds new setting versions; earlier ones are kept.
type SaveSettingsRequest struct {
	Settings []SettingInputDTO `json:"settings"`
}

// =============================================================================
// ACCRUAL
// =============================================================================

type AccrualRunDTO struct {
	ID          string           `json:"id"`
	Status      string           `json:"status"`
	TotalUsers  int              `json:"totalUsers"`
	Processed   int              `json:"processed"`
	Failed      int              `json:"failed"`
	Skipped     int              `json:"skipped"`
	Posted      map[string]int64 `json:"posted"`
	Error       string           `json:"error,omitempty"`
	StartedAt   time.Time        `json:"startedAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

// SimulateRequest drives the development harness.
type SimulateRequest struct {
	UserID          string `json:"userId"`
	WeeksToSimulate *int   `json:"weeksToSimulate,omitempty"`
}

type SimulateResponse struct {
	Success         bool                 `json:"success"`
	WeeksSimulated  int                  `json:"weeksSimulated"`
	AllowanceResult *allowance.RunResult `json:"allowanceResult"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:              string(tx.ID),
		OwnerID:         string(tx.OwnerID),
		CreatedByID:     string(tx.CreatedByID),
		FamilyID:        string(tx.FamilyID),
		Category:        string(tx.Category),
		Amount:          int64(tx.Amount),
		AmountDisplay:   tx.Amount.String(),
		Description:     tx.Description,
		Date:            tx.Date,
		IsSystemCreated: tx.IsSystemCreated,
	}
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	out := make([]TransactionDTO, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionDTO(tx))
	}
	return out
}

func toSettingDTO(s allowance.Setting) SettingDTO {
	return SettingDTO{
		ID:           s.ID,
		UserID:       string(s.UserID),
		FamilyID:     string(s.FamilyID),
		CreatedByID:  string(s.CreatedByID),
		Category:     string(s.Category),
		Amount:       s.Amount,
		IsPercentage: s.IsPercentage,
		Period:       string(s.Period),
		CreatedAt:    s.CreatedAt,
	}
}

func toAccrualRunDTO(r allowance.RunRecord) AccrualRunDTO {
	posted := make(map[string]int64, len(r.Posted))
	for c, cents := range r.Posted {
		posted[string(c)] = int64(cents)
	}
	return AccrualRunDTO{
		ID:          r.ID,
		Status:      string(r.Status),
		TotalUsers:  r.TotalUsers,
		Processed:   r.Processed,
		Failed:      r.Failed,
		Skipped:     r.Skipped,
		Posted:      posted,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}
