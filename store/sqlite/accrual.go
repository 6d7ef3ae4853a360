package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/teich/bank4/allowance"
	"github.com/teich/bank4/events"
	"github.com/teich/bank4/family"
	"github.com/teich/bank4/ledger"
)

// =============================================================================
// ACCRUAL REPOSITORY (allowance.Repository interface)
// =============================================================================

// ListAccrualCandidates returns every user with at least one setting.
func (s *Store) ListAccrualCandidates(ctx context.Context) ([]family.UserID, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT user_id FROM allowance_settings ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list accrual candidates: %w", err)
	}
	defer rows.Close()

	var ids []family.UserID
	for rows.Next() {
		var id family.UserID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// WithinTx runs fn in one database transaction. Everything fn writes
// commits together or not at all.
func (s *Store) WithinTx(ctx context.Context, fn func(allowance.Tx) error) error {
	return s.withTx(ctx, func(q querier) error {
		return fn(&accrualTx{q: q})
	})
}

type accrualTx struct {
	q querier
}

func (t *accrualTx) User(ctx context.Context, id family.UserID) (*family.User, error) {
	return getUser(ctx, t.q, id)
}

func (t *accrualTx) Memberships(ctx context.Context, userID family.UserID) ([]family.Member, error) {
	return queryMembers(ctx, t.q, "WHERE user_id = ?", userID)
}

func (t *accrualTx) RunState(ctx context.Context, userID family.UserID) (allowance.RunState, error) {
	return getRunState(ctx, t.q, userID)
}

// SettingsHistory returns settings in insertion order so equal CreatedAt
// values resolve to the later insert.
func (t *accrualTx) SettingsHistory(ctx context.Context, userID family.UserID) ([]allowance.Setting, error) {
	return querySettings(ctx, t.q, "WHERE user_id = ? ORDER BY rowid", userID)
}

func (t *accrualTx) CategoryBalance(ctx context.Context, owner family.UserID, fam family.FamilyID, c ledger.Category) (ledger.Cents, error) {
	return sumCategory(ctx, t.q, owner, fam, c)
}

func (t *accrualTx) AppendTransactions(ctx context.Context, txs []ledger.Transaction) error {
	return insertTransactions(ctx, t.q, txs)
}

// SaveRunState writes st as version expectedVersion+1. Zero rows affected
// means another writer got there first.
func (t *accrualTx) SaveRunState(ctx context.Context, st allowance.RunState, expectedVersion int64) error {
	var (
		res sql.Result
		err error
	)
	if expectedVersion == 0 {
		res, err = t.q.ExecContext(ctx, `
			INSERT INTO allowance_run_states (user_id, last_run, last_attempt, run_count, version)
			VALUES (?, ?, ?, ?, 1)
			ON CONFLICT(user_id) DO NOTHING
		`, st.UserID, formatTimePtr(st.LastRun), formatTimePtr(st.LastAttempt), st.RunCount)
	} else {
		res, err = t.q.ExecContext(ctx, `
			UPDATE allowance_run_states
			SET last_run = ?, last_attempt = ?, run_count = ?, version = ?
			WHERE user_id = ? AND version = ?
		`, formatTimePtr(st.LastRun), formatTimePtr(st.LastAttempt), st.RunCount,
			expectedVersion+1, st.UserID, expectedVersion)
	}
	if err != nil {
		return fmt.Errorf("failed to save run state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return allowance.ErrConcurrentModification
	}
	return nil
}

func (t *accrualTx) RecordEvent(ctx context.Context, ev allowance.PostedEvent) error {
	msg, err := events.EncodePosted(ev)
	if err != nil {
		return err
	}
	return insertOutbox(ctx, t.q, msg)
}

func getRunState(ctx context.Context, q querier, userID family.UserID) (allowance.RunState, error) {
	st := allowance.RunState{UserID: userID}
	var lastRun, lastAttempt sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT last_run, last_attempt, run_count, version
		FROM allowance_run_states WHERE user_id = ?
	`, userID).Scan(&lastRun, &lastAttempt, &st.RunCount, &st.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("failed to load run state: %w", err)
	}
	if st.LastRun, err = parseTimePtr(lastRun); err != nil {
		return st, err
	}
	if st.LastAttempt, err = parseTimePtr(lastAttempt); err != nil {
		return st, err
	}
	return st, nil
}

// GetRunState returns a user's run-state; Version 0 when none exists.
func (s *Store) GetRunState(ctx context.Context, userID family.UserID) (allowance.RunState, error) {
	return getRunState(ctx, s.db, userID)
}

// ResetRunState rewinds a user so the next run treats lastRun as the anchor
// and ignores the rate limit. Development harness only.
func (s *Store) ResetRunState(ctx context.Context, userID family.UserID, lastRun time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO allowance_run_states (user_id, last_run, last_attempt, run_count, version)
		VALUES (?, ?, NULL, 0, 1)
		ON CONFLICT(user_id) DO UPDATE SET
			last_run = excluded.last_run,
			last_attempt = NULL,
			run_count = 0,
			version = allowance_run_states.version + 1
	`, userID, formatTime(lastRun))
	if err != nil {
		return fmt.Errorf("failed to reset run state: %w", err)
	}
	return nil
}

// =============================================================================
// RUN HISTORY (allowance.RunRecorder interface)
// =============================================================================

// SaveRun inserts or updates a batch record.
func (s *Store) SaveRun(ctx context.Context, r allowance.RunRecord) error {
	query := `
		INSERT INTO accrual_runs (id, status, total_users, processed, failed, skipped,
			posted_spending, posted_saving, posted_giving, error, summary_json,
			started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			total_users = excluded.total_users,
			processed = excluded.processed,
			failed = excluded.failed,
			skipped = excluded.skipped,
			posted_spending = excluded.posted_spending,
			posted_saving = excluded.posted_saving,
			posted_giving = excluded.posted_giving,
			error = excluded.error,
			summary_json = excluded.summary_json,
			completed_at = excluded.completed_at
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Status, r.TotalUsers, r.Processed, r.Failed, r.Skipped,
		int64(r.Posted[ledger.CategorySpending]),
		int64(r.Posted[ledger.CategorySaving]),
		int64(r.Posted[ledger.CategoryGiving]),
		nullString(r.Error), nullString(r.SummaryJSON),
		formatTime(r.StartedAt), formatTimePtr(r.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", r.ID, err)
	}
	return nil
}

// ListRuns returns the newest batches first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]allowance.RunRecord, error) {
	query := `
		SELECT id, status, total_users, processed, failed, skipped,
			posted_spending, posted_saving, posted_giving, error, summary_json,
			started_at, completed_at
		FROM accrual_runs
		ORDER BY started_at DESC, rowid DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []allowance.RunRecord
	for rows.Next() {
		var (
			r                        allowance.RunRecord
			spending, saving, giving int64
			errMsg, summary          sql.NullString
			startedAt                string
			completedAt              sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &r.Status, &r.TotalUsers, &r.Processed, &r.Failed, &r.Skipped,
			&spending, &saving, &giving, &errMsg, &summary, &startedAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Posted = ledger.Totals{
			ledger.CategorySpending: ledger.Cents(spending),
			ledger.CategorySaving:   ledger.Cents(saving),
			ledger.CategoryGiving:   ledger.Cents(giving),
		}
		r.Error, r.SummaryJSON = errMsg.String, summary.String
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if r.CompletedAt, err = parseTimePtr(completedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
