package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/teich/bank4/family"
	"github.com/teich/bank4/ledger"
)

// =============================================================================
// TRANSACTION STORE (ledger.Store interface)
// =============================================================================

// Append adds a transaction to the ledger.
func (s *Store) Append(ctx context.Context, tx ledger.Transaction) error {
	return insertTransaction(ctx, s.db, tx)
}

// AppendBatch adds multiple transactions atomically.
func (s *Store) AppendBatch(ctx context.Context, txs []ledger.Transaction) error {
	return s.withTx(ctx, func(q querier) error {
		return insertTransactions(ctx, q, txs)
	})
}

func insertTransactions(ctx context.Context, q querier, txs []ledger.Transaction) error {
	for _, tx := range txs {
		if err := insertTransaction(ctx, q, tx); err != nil {
			return err
		}
	}
	return nil
}

func insertTransaction(ctx context.Context, q querier, tx ledger.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = tx.Date
	}

	query := `
		INSERT INTO transactions
		(id, owner_id, created_by_id, family_id, category, amount, description,
		 date, is_system_created, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		tx.ID,
		tx.OwnerID,
		tx.CreatedByID,
		tx.FamilyID,
		tx.Category,
		int64(tx.Amount),
		tx.Description,
		formatTime(tx.Date),
		tx.IsSystemCreated,
		formatTime(createdAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateTransaction
		}
		if isForeignKeyError(err) {
			return fmt.Errorf("transaction %s references unknown user or family: %w", tx.ID, err)
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// Query returns matching transactions, newest first.
func (s *Store) Query(ctx context.Context, f ledger.Filter) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, s.db, f)
}

func queryTransactions(ctx context.Context, q querier, f ledger.Filter) ([]ledger.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if f.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.FamilyID != "" {
		where = append(where, "family_id = ?")
		args = append(args, f.FamilyID)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.From != nil {
		where = append(where, "date >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		where = append(where, "date <= ?")
		args = append(args, formatTime(*f.To))
	}
	if f.SystemOnly {
		where = append(where, "is_system_created = 1")
	}

	query := `
		SELECT id, owner_id, created_by_id, family_id, category, amount, description,
		       date, is_system_created, created_at
		FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx        ledger.Transaction
		amount    int64
		date      string
		createdAt string
	)
	err := rows.Scan(
		&tx.ID, &tx.OwnerID, &tx.CreatedByID, &tx.FamilyID, &tx.Category,
		&amount, &tx.Description, &date, &tx.IsSystemCreated, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}
	tx.Amount = ledger.Cents(amount)
	if tx.Date, err = parseTime(date); err != nil {
		return tx, err
	}
	if tx.CreatedAt, err = parseTime(createdAt); err != nil {
		return tx, err
	}
	return tx, nil
}

// Sum returns the signed total of one category, 0 when empty.
func (s *Store) Sum(ctx context.Context, owner family.UserID, fam family.FamilyID, c ledger.Category) (ledger.Cents, error) {
	return sumCategory(ctx, s.db, owner, fam, c)
}

func sumCategory(ctx context.Context, q querier, owner family.UserID, fam family.FamilyID, c ledger.Category) (ledger.Cents, error) {
	var sum int64
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE owner_id = ? AND family_id = ? AND category = ?
	`, owner, fam, c).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum %s: %w", c, err)
	}
	return ledger.Cents(sum), nil
}

// PurgeSystemTransactions deletes a user's system-created entries. Only the
// development simulation harness calls it.
func (s *Store) PurgeSystemTransactions(ctx context.Context, owner family.UserID) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM transactions WHERE owner_id = ? AND is_system_created = 1", owner)
	if err != nil {
		return 0, fmt.Errorf("failed to purge system transactions: %w", err)
	}
	return res.RowsAffected()
}
