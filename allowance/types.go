/*
Package allowance computes and posts weekly allowances.

PURPOSE:
  Parents configure, per child, a weekly SPENDING amount, a weekly GIVING
  amount and an annual SAVING interest rate. The accrual engine periodically
  pays every configured user for the whole weeks elapsed since their last
  run: flat amounts for spending and giving, compound interest on the
  ledger-derived saving balance.

KEY CONCEPTS IN THIS FILE (types.go):
  - Setting:  one immutable version of a category's allowance rule
  - Settings: the effective (latest) rule per category
  - RunState: per-user accrual bookkeeping with an optimistic version

DESIGN PRINCIPLES:
  1. Settings are versioned by insertion; the latest CreatedAt wins
  2. Run-state is its own record, updated only together with the postings
  3. The saving principal is always read from the ledger, never cached

SEE ALSO:
  - engine.go:   The accrual run
  - compound.go: Saving interest
  - repository.go: Storage contract
*/
package allowance

import (
	"time"

	"github.com/teich/bank4/family"
	"github.com/teich/bank4/ledger"
)

// =============================================================================
// PERIOD
// =============================================================================

type Period string

const (
	PeriodWeek Period = "WEEK"
	PeriodYear Period = "YEAR"
)

// =============================================================================
// SETTING - Immutable, versioned allowance rule
// =============================================================================

// Setting is one version of a user's allowance rule for a category.
// Amount is cents per Period, or basis points per year when IsPercentage.
type Setting struct {
	ID           string
	UserID       family.UserID
	FamilyID     family.FamilyID
	CreatedByID  family.UserID
	Category     ledger.Category
	Amount       int64
	IsPercentage bool
	Period       Period
	CreatedAt    time.Time
}

// Settings holds the effective rule for each category; nil when missing.
type Settings struct {
	Spending *Setting
	Saving   *Setting
	Giving   *Setting
}

// Complete reports whether all three categories are configured.
func (s Settings) Complete() bool {
	return s.Spending != nil && s.Saving != nil && s.Giving != nil
}

// For returns the effective setting of a category.
func (s Settings) For(c ledger.Category) *Setting {
	switch c {
	case ledger.CategorySpending:
		return s.Spending
	case ledger.CategorySaving:
		return s.Saving
	case ledger.CategoryGiving:
		return s.Giving
	}
	return nil
}

// Missing lists unconfigured categories in display order.
func (s Settings) Missing() []ledger.Category {
	var out []ledger.Category
	for _, c := range ledger.Categories {
		if s.For(c) == nil {
			out = append(out, c)
		}
	}
	return out
}

// =============================================================================
// RUN STATE - Per-user accrual bookkeeping
// =============================================================================

// RunState is a user's accrual history. Version 0 means no record exists yet.
// Every successful save increments Version; saves carry the version they
// read so a concurrent writer is detected.
type RunState struct {
	UserID      family.UserID
	LastRun     *time.Time
	LastAttempt *time.Time
	RunCount    int
	Version     int64
}

// RateLimited reports whether an attempt happened less than minGap ago.
func (s RunState) RateLimited(now time.Time, minGap time.Duration) bool {
	if s.LastAttempt == nil {
		return false
	}
	return now.Sub(*s.LastAttempt) < minGap
}

// StartDate is where accrual resumes: the last run, or account creation for
// a user who has never been paid.
func (s RunState) StartDate(userCreatedAt time.Time) time.Time {
	if s.LastRun != nil {
		return *s.LastRun
	}
	return userCreatedAt
}

// Advance returns the state after paying weeks starting at start. With
// carryRemainder the anchor moves by whole weeks only, so a partial week is
// paid on a later run instead of being dropped.
func (s RunState) Advance(now, start time.Time, weeks int, carryRemainder bool) RunState {
	lastRun := now
	if carryRemainder {
		lastRun = start.Add(time.Duration(weeks) * Week)
	}
	attempt := now
	return RunState{
		UserID:      s.UserID,
		LastRun:     &lastRun,
		LastAttempt: &attempt,
		RunCount:    s.RunCount + 1,
		Version:     s.Version + 1,
	}
}

// =============================================================================
// POSTED EVENT - Emitted with each successful posting
// =============================================================================

// PostedEvent describes one user's completed accrual. It is written in the
// same commit as the postings and relayed asynchronously.
type PostedEvent struct {
	RunID          string                 `json:"runId"`
	UserID         family.UserID          `json:"userId"`
	FamilyID       family.FamilyID        `json:"familyId"`
	WeeksProcessed int                    `json:"weeksProcessed"`
	Spending       ledger.Cents           `json:"spending"`
	Saving         ledger.Cents           `json:"saving"`
	Giving         ledger.Cents           `json:"giving"`
	TransactionIDs []ledger.TransactionID `json:"transactionIds"`
	PostedAt       time.Time              `json:"postedAt"`
}
