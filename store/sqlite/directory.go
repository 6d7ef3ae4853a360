package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/teich/bank4/allowance"
	"github.com/teich/bank4/family"
)

// =============================================================================
// USERS
// =============================================================================

func (s *Store) CreateUser(ctx context.Context, u family.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, name, email, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.ID, u.Username, nullString(u.Name), nullString(u.Email), formatTime(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create user %s: %w", u.ID, err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id family.UserID) (*family.User, error) {
	return getUser(ctx, s.db, id)
}

func getUser(ctx context.Context, q querier, id family.UserID) (*family.User, error) {
	var (
		u           family.User
		name, email sql.NullString
		createdAt   string
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, username, name, email, created_at FROM users WHERE id = ?", id,
	).Scan(&u.ID, &u.Username, &name, &email, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, family.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", id, err)
	}
	u.Name, u.Email = name.String, email.String
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// =============================================================================
// FAMILIES
// =============================================================================

func (s *Store) CreateFamily(ctx context.Context, f family.Family) error {
	currency := f.Currency
	if currency == "" {
		currency = "USD"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO families (id, name, currency, created_at) VALUES (?, ?, ?, ?)
	`, f.ID, f.Name, currency, formatTime(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create family %s: %w", f.ID, err)
	}
	return nil
}

func (s *Store) GetFamily(ctx context.Context, id family.FamilyID) (*family.Family, error) {
	var (
		f         family.Family
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, currency, created_at FROM families WHERE id = ?", id,
	).Scan(&f.ID, &f.Name, &f.Currency, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, family.ErrFamilyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load family %s: %w", id, err)
	}
	if f.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &f, nil
}

// AddMember links a user to a family. The role must be PARENT or CHILD.
func (s *Store) AddMember(ctx context.Context, m family.Member) error {
	if _, err := family.ParseRole(string(m.Role)); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO family_members (id, family_id, user_id, role, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, m.ID, m.FamilyID, m.UserID, m.Role, formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to add member %s to %s: %w", m.UserID, m.FamilyID, err)
	}
	return nil
}

// MembershipsOf returns every family membership of a user.
func (s *Store) MembershipsOf(ctx context.Context, userID family.UserID) ([]family.Member, error) {
	return queryMembers(ctx, s.db, "WHERE user_id = ?", userID)
}

// FamilyMembers returns the members of a family.
func (s *Store) FamilyMembers(ctx context.Context, familyID family.FamilyID) ([]family.Member, error) {
	return queryMembers(ctx, s.db, "WHERE family_id = ?", familyID)
}

func queryMembers(ctx context.Context, q querier, where string, args ...any) ([]family.Member, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, family_id, user_id, role, created_at FROM family_members "+where+" ORDER BY family_id, user_id",
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var out []family.Member
	for rows.Next() {
		var (
			m         family.Member
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.FamilyID, &m.UserID, &m.Role, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// =============================================================================
// ALLOWANCE SETTINGS (insert-only)
// =============================================================================

// InsertSettings stores new setting versions atomically. Each is validated
// first; existing rows are never modified.
func (s *Store) InsertSettings(ctx context.Context, settings []allowance.Setting) error {
	for _, st := range settings {
		if err := st.Validate(); err != nil {
			return err
		}
	}
	return s.withTx(ctx, func(q querier) error {
		for _, st := range settings {
			_, err := q.ExecContext(ctx, `
				INSERT INTO allowance_settings
				(id, user_id, family_id, created_by_id, category, amount, is_percentage, period, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, st.ID, st.UserID, st.FamilyID, st.CreatedByID, st.Category, st.Amount,
				st.IsPercentage, st.Period, formatTime(st.CreatedAt))
			if err != nil {
				return fmt.Errorf("failed to insert setting %s: %w", st.ID, err)
			}
		}
		return nil
	})
}

// ListSettings returns a user's setting history in a family, newest first.
func (s *Store) ListSettings(ctx context.Context, userID family.UserID, familyID family.FamilyID) ([]allowance.Setting, error) {
	return querySettings(ctx, s.db,
		"WHERE user_id = ? AND family_id = ? ORDER BY created_at DESC, rowid DESC", userID, familyID)
}

func querySettings(ctx context.Context, q querier, tail string, args ...any) ([]allowance.Setting, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, family_id, created_by_id, category, amount, is_percentage, period, created_at
		FROM allowance_settings `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	var out []allowance.Setting
	for rows.Next() {
		var (
			st        allowance.Setting
			createdAt string
		)
		if err := rows.Scan(&st.ID, &st.UserID, &st.FamilyID, &st.CreatedByID, &st.Category,
			&st.Amount, &st.IsPercentage, &st.Period, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		if st.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
