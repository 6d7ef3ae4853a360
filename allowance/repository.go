/*
repository.go - Storage contract for the accrual engine

PURPOSE:
  The engine reads users, memberships, settings, run-state and the saving
  balance, then writes three postings, the new run-state and an outbox
  event. All of that for one user happens inside a single Tx so eligibility
  is evaluated against the same snapshot the commit is applied to.

ATOMICITY:
  WithinTx commits only if fn returns nil. Any error rolls back every write
  made through the Tx.

IMPLEMENTATIONS:
  - store/sqlite: database/sql + go-sqlite3
  - store/memory: snapshot/rollback map store for tests
*/
package allowance

import (
	"context"
	"time"

	"github.com/teich/bank4/family"
	"github.com/teich/bank4/ledger"
)

// Repository is the engine's entry into storage.
type Repository interface {
	// ListAccrualCandidates returns every user with at least one setting,
	// ordered by user ID.
	ListAccrualCandidates(ctx context.Context) ([]family.UserID, error)

	// WithinTx runs fn in one atomic unit of work.
	WithinTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the per-user unit of work.
type Tx interface {
	// User returns family.ErrUserNotFound when the user does not exist.
	User(ctx context.Context, id family.UserID) (*family.User, error)

	Memberships(ctx context.Context, userID family.UserID) ([]family.Member, error)

	// RunState returns a zero state (Version 0) for a user never run.
	RunState(ctx context.Context, userID family.UserID) (RunState, error)

	// SettingsHistory returns every setting version for a user in
	// insertion order.
	SettingsHistory(ctx context.Context, userID family.UserID) ([]Setting, error)

	// CategoryBalance is the signed sum of a category's transactions.
	CategoryBalance(ctx context.Context, owner family.UserID, fam family.FamilyID, c ledger.Category) (ledger.Cents, error)

	AppendTransactions(ctx context.Context, txs []ledger.Transaction) error

	// SaveRunState stores state if the stored version still equals
	// expectedVersion, otherwise returns ErrConcurrentModification.
	SaveRunState(ctx context.Context, state RunState, expectedVersion int64) error

	// RecordEvent enqueues an event for asynchronous delivery.
	RecordEvent(ctx context.Context, ev PostedEvent) error
}

// RunRecorder keeps a history of accrual runs.
type RunRecorder interface {
	SaveRun(ctx context.Context, r RunRecord) error
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// =============================================================================
// RUN RECORD - Audit row per batch
// =============================================================================

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

type RunRecord struct {
	ID          string
	Status      RunStatus
	TotalUsers  int
	Processed   int
	Failed      int
	Skipped     int
	Posted      ledger.Totals
	Error       string
	SummaryJSON string
	StartedAt   time.Time
	CompletedAt *time.Time
}
