package allowance

import (
	"time"

	"github.com/teich/bank4/family"
	"github.com/teich/bank4/ledger"
)

// RunResult is the report returned to whoever triggered a batch. Success is
// true whenever the batch ran; individual failures are listed in Logs.
type RunResult struct {
	RunID          string       `json:"runId"`
	Success        bool         `json:"success"`
	TotalUsers     int          `json:"totalUsers"`
	ProcessedCount int          `json:"processedCount"`
	Results        []UserResult `json:"results"`
	Logs           []LogEntry   `json:"logs"`
	Skipped        []SkipEntry  `json:"skipped"`
	StartedAt      time.Time    `json:"startedAt"`
	CompletedAt    time.Time    `json:"completedAt"`
}

// UserResult describes one paid user.
type UserResult struct {
	UserID         family.UserID       `json:"userId"`
	FamilyID       family.FamilyID     `json:"familyId"`
	Success        bool                `json:"success"`
	WeeksProcessed int                 `json:"weeksProcessed"`
	Transactions   []PostedTransaction `json:"transactions"`
}

type PostedTransaction struct {
	ID          ledger.TransactionID `json:"id"`
	Category    ledger.Category      `json:"category"`
	Amount      ledger.Cents         `json:"amount"`
	Description string               `json:"description"`
}

// LogEntry describes one failed user.
type LogEntry struct {
	UserID  family.UserID `json:"userId"`
	Success bool          `json:"success"`
	Error   string        `json:"error"`
}

type SkipReason string

const (
	SkipNoFamily        SkipReason = "no_family"
	SkipAmbiguousFamily SkipReason = "ambiguous_family"
	SkipRateLimited     SkipReason = "rate_limited"
	SkipNotDue          SkipReason = "not_due"
	SkipMissingSettings SkipReason = "missing_settings"
	SkipInProgress      SkipReason = "in_progress"
)

// SkipEntry describes a user who was not paid and why.
type SkipEntry struct {
	UserID family.UserID `json:"userId"`
	Reason SkipReason    `json:"reason"`
	Detail string        `json:"detail,omitempty"`
}

// Posted sums what the batch paid per category.
func (r *RunResult) Posted() ledger.Totals {
	totals := ledger.NewTotals()
	for _, ur := range r.Results {
		for _, tx := range ur.Transactions {
			totals[tx.Category] += tx.Amount
		}
	}
	return totals
}

// ResultFor finds a paid user's entry.
func (r *RunResult) ResultFor(id family.UserID) (UserResult, bool) {
	for _, ur := range r.Results {
		if ur.UserID == id {
			return ur, true
		}
	}
	return UserResult{}, false
}

// SkipFor finds a skipped user's entry.
func (r *RunResult) SkipFor(id family.UserID) (SkipEntry, bool) {
	for _, s := range r.Skipped {
		if s.UserID == id {
			return s, true
		}
	}
	return SkipEntry{}, false
}
