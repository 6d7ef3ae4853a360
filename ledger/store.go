package ledger

import (
	"context"

	"github.com/teich/bank4/family"
)

// Store persists transactions.
// IMPORTANT: Store is APPEND-ONLY. Existing rows are never updated.
type Store interface {
	// Append persists a single transaction.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch persists several transactions atomically.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Query returns matching transactions, newest Date first.
	Query(ctx context.Context, f Filter) ([]Transaction, error)

	// Sum returns the signed sum of one category for (owner, family).
	// Returns 0 when there are no transactions.
	Sum(ctx context.Context, ownerID family.UserID, familyID family.FamilyID, category Category) (Cents, error)
}
