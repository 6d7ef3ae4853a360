/*
Package ledger is the append-only money log for a family's budget categories.

PURPOSE:
  Every change to a member's balance, whether an automated allowance posting
  or a manual entry, is an immutable Transaction. Balances are never stored;
  they are always the sum of the transactions for (owner, family, category).

KEY CONCEPTS IN THIS FILE (types.go):
  - Category: SPENDING, SAVING or GIVING
  - Cents:    signed integer minor units (100 = $1.00)
  - Transaction: one immutable ledger entry
  - Filter:   query parameters for reading the log

DESIGN PRINCIPLES:
  1. Immutability: rows are inserted, never updated
  2. Precision: amounts are integer cents; rate math goes through decimal.Decimal
  3. Derived balances: Sum() over the log is the only balance

SEE ALSO:
  - store.go: Persistence interface
  - ledger.go: Validation, totals and recent activity
*/
package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/teich/bank4/family"
)

// =============================================================================
// CATEGORY
// =============================================================================

type Category string

const (
	CategorySpending Category = "SPENDING"
	CategorySaving   Category = "SAVING"
	CategoryGiving   Category = "GIVING"
)

// Categories lists every budget category in display order.
var Categories = []Category{CategorySpending, CategorySaving, CategoryGiving}

// ParseCategory upper-cases its input, so "saving" and "Saving" are accepted.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", &UnknownCategoryError{Value: s}
	}
	return c, nil
}

func (c Category) Valid() bool {
	switch c {
	case CategorySpending, CategorySaving, CategoryGiving:
		return true
	}
	return false
}

// Label is the human form used in descriptions ("Spending").
func (c Category) Label() string {
	s := strings.ToLower(string(c))
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// =============================================================================
// CENTS
// =============================================================================

type Cents int64

var hundred = decimal.NewFromInt(100)

// ParseDollars converts a dollar amount ("12.345") to cents, rounding half
// away from zero.
func ParseDollars(s string) (Cents, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, &InvalidAmountError{Value: s, Err: err}
	}
	return CentsFromDecimal(d.Mul(hundred)), nil
}

// CentsFromDecimal rounds a cent-denominated decimal to whole cents.
func CentsFromDecimal(d decimal.Decimal) Cents {
	return Cents(d.Round(0).IntPart())
}

func (c Cents) Decimal() decimal.Decimal { return decimal.NewFromInt(int64(c)) }
func (c Cents) Dollars() decimal.Decimal { return decimal.New(int64(c), -2) }
func (c Cents) String() string           { return c.Dollars().StringFixed(2) }
func (c Cents) IsNegative() bool         { return c < 0 }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TransactionID string

func NewTransactionID() TransactionID { return TransactionID(uuid.NewString()) }

// =============================================================================
// TRANSACTION
// =============================================================================

type Transaction struct {
	ID              TransactionID
	OwnerID         family.UserID
	CreatedByID     family.UserID
	FamilyID        family.FamilyID
	Category        Category
	Amount          Cents
	Description     string
	Date            time.Time
	IsSystemCreated bool
	CreatedAt       time.Time
}

// =============================================================================
// FILTER
// =============================================================================

// Filter selects transactions for one owner in one family. Zero-valued
// optional fields do not constrain the query.
type Filter struct {
	OwnerID    family.UserID
	FamilyID   family.FamilyID
	Category   Category
	From       *time.Time
	To         *time.Time
	SystemOnly bool
	Limit      int
}

// Matches applies the filter to a transaction in memory.
func (f Filter) Matches(tx Transaction) bool {
	if f.OwnerID != "" && tx.OwnerID != f.OwnerID {
		return false
	}
	if f.FamilyID != "" && tx.FamilyID != f.FamilyID {
		return false
	}
	if f.Category != "" && tx.Category != f.Category {
		return false
	}
	if f.From != nil && tx.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && tx.Date.After(*f.To) {
		return false
	}
	if f.SystemOnly && !tx.IsSystemCreated {
		return false
	}
	return true
}

// Totals is the balance of each category, always containing all three.
type Totals map[Category]Cents

func NewTotals() Totals {
	t := make(Totals, len(Categories))
	for _, c := range Categories {
		t[c] = 0
	}
	return t
}

func (t Totals) Total() Cents {
	var sum Cents
	for _, v := range t {
		sum += v
	}
	return sum
}
