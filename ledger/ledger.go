/*
ledger.go - Validated access to the transaction log

PURPOSE:
  Ledger wraps a Store with the rules every entry must satisfy and with the
  read models the dashboard needs (category totals, recent activity).

CRITICAL INVARIANTS:
  1. APPEND-ONLY: entries are never edited; mistakes are corrected with a
     new entry of opposite sign
  2. Every entry has an owner, a family and a known category
  3. Balances are derived by summing, never cached

SEE ALSO:
  - store.go: Persistence interface
  - allowance/engine.go: Writes system-created entries through a Tx instead
*/
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/teich/bank4/family"
)

// RecentLimit is how many entries the dashboard shows.
const RecentLimit = 10

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the fields every ledger entry needs.
func (tx Transaction) Validate() error {
	switch {
	case tx.ID == "":
		return &ValidationError{Field: "id", Message: "is required"}
	case tx.OwnerID == "":
		return &ValidationError{Field: "owner_id", Message: "is required"}
	case tx.CreatedByID == "":
		return &ValidationError{Field: "created_by_id", Message: "is required"}
	case tx.FamilyID == "":
		return &ValidationError{Field: "family_id", Message: "is required"}
	case !tx.Category.Valid():
		return &UnknownCategoryError{Value: string(tx.Category)}
	case tx.Date.IsZero():
		return &ValidationError{Field: "date", Message: "is required"}
	}
	return nil
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store Store
	Clock func() time.Time
}

func New(store Store) *Ledger {
	return &Ledger{Store: store, Clock: time.Now}
}

// ManualEntry is a user-entered transaction.
type ManualEntry struct {
	OwnerID     family.UserID
	CreatedByID family.UserID
	FamilyID    family.FamilyID
	Category    Category
	Amount      Cents
	Description string
}

// Record appends a manual entry dated now and returns the stored transaction.
func (l *Ledger) Record(ctx context.Context, e ManualEntry) (Transaction, error) {
	if strings.TrimSpace(e.Description) == "" {
		return Transaction{}, &ValidationError{Field: "description", Message: "is required"}
	}
	if e.Amount == 0 {
		return Transaction{}, &ValidationError{Field: "amount", Message: "must not be zero"}
	}

	now := l.now()
	tx := Transaction{
		ID:          NewTransactionID(),
		OwnerID:     e.OwnerID,
		CreatedByID: e.CreatedByID,
		FamilyID:    e.FamilyID,
		Category:    e.Category,
		Amount:      e.Amount,
		Description: strings.TrimSpace(e.Description),
		Date:        now,
		CreatedAt:   now,
	}
	if err := tx.Validate(); err != nil {
		return Transaction{}, err
	}
	if err := l.Store.Append(ctx, tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// Balance returns one category's balance.
func (l *Ledger) Balance(ctx context.Context, ownerID family.UserID, familyID family.FamilyID, c Category) (Cents, error) {
	return l.Store.Sum(ctx, ownerID, familyID, c)
}

// Totals returns every category's balance, defaulting to zero.
func (l *Ledger) Totals(ctx context.Context, ownerID family.UserID, familyID family.FamilyID) (Totals, error) {
	totals := NewTotals()
	for _, c := range Categories {
		sum, err := l.Store.Sum(ctx, ownerID, familyID, c)
		if err != nil {
			return nil, err
		}
		totals[c] = sum
	}
	return totals, nil
}

// Recent returns the newest entries for an owner in a family.
func (l *Ledger) Recent(ctx context.Context, ownerID family.UserID, familyID family.FamilyID, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = RecentLimit
	}
	return l.Store.Query(ctx, Filter{OwnerID: ownerID, FamilyID: familyID, Limit: limit})
}

func (l *Ledger) now() time.Time {
	if l.Clock == nil {
		return time.Now().UTC()
	}
	return l.Clock().UTC()
}
