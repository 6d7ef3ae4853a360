package allowance

import (
	"fmt"
	"time"

	"github.com/teich/bank4/family"
	"github.com/teich/bank4/ledger"
)

// =============================================================================
// ALLOCATION - What one accrual pays per category
// =============================================================================

type Allocation struct {
	Weeks     int
	Principal ledger.Cents
	Spending  ledger.Cents
	Saving    ledger.Cents
	Giving    ledger.Cents
}

// Allocate computes the three postings for weeks elapsed. Spending and
// giving are flat per week; saving compounds weekly on principal.
func Allocate(s Settings, principal ledger.Cents, weeks int) (Allocation, error) {
	if !s.Complete() {
		return Allocation{}, &MissingSettingsError{Categories: s.Missing()}
	}
	n := int64(weeks)
	return Allocation{
		Weeks:     weeks,
		Principal: principal,
		Spending:  ledger.Cents(s.Spending.Amount * n),
		Saving:    CompoundInterest(principal, s.Saving.Amount, weeks),
		Giving:    ledger.Cents(s.Giving.Amount * n),
	}, nil
}

// Amount returns the allocation of a category.
func (a Allocation) Amount(c ledger.Category) ledger.Cents {
	switch c {
	case ledger.CategorySpending:
		return a.Spending
	case ledger.CategorySaving:
		return a.Saving
	case ledger.CategoryGiving:
		return a.Giving
	}
	return 0
}

// Total is the sum across categories.
func (a Allocation) Total() ledger.Cents { return a.Spending + a.Saving + a.Giving }

// Transactions builds the system-created postings, one per category, in
// display order.
func (a Allocation) Transactions(owner family.UserID, fam family.FamilyID, at time.Time) []ledger.Transaction {
	txs := make([]ledger.Transaction, 0, len(ledger.Categories))
	for _, c := range ledger.Categories {
		txs = append(txs, ledger.Transaction{
			ID:              ledger.NewTransactionID(),
			OwnerID:         owner,
			CreatedByID:     owner,
			FamilyID:        fam,
			Category:        c,
			Amount:          a.Amount(c),
			Description:     Description(c, a.Weeks),
			Date:            at,
			IsSystemCreated: true,
			CreatedAt:       at,
		})
	}
	return txs
}

// Description labels an automated posting, e.g. "Allowance - Saving (3 weeks)".
func Description(c ledger.Category, weeks int) string {
	return fmt.Sprintf("Allowance - %s (%d weeks)", c.Label(), weeks)
}
