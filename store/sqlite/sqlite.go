/*
Package sqlite provides the SQLite-backed implementation of every storage
interface bank4 uses.

INTERFACES IMPLEMENTED:
  ledger.Store:          Transaction log (ledger.go)
  allowance.Repository:  Per-user accrual unit of work (accrual.go)
  allowance.RunRecorder: Batch history (accrual.go)
  events.OutboxStore:    Pending event relay (outbox.go)

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on transactions or allowance_settings
  - The only DELETE on transactions is PurgeSystemTransactions, used by the
    development simulation harness
  - Corrections are new entries of opposite sign

KEY TABLES:
  transactions:          Ledger (amount in integer cents)
  allowance_settings:    Versioned per-category rules
  allowance_run_states:  Per-user accrual state with an optimistic version
  accrual_runs:          One row per batch
  outbox_messages:       Events committed with their postings

CONCURRENCY:
  Transactions are opened with BEGIN IMMEDIATE (_txlock=immediate), so the
  read-check-write in WithinTx holds the write lock from its first read. The
  pool is limited to one connection; this also keeps ":memory:" databases
  shared across calls. Run-state saves additionally compare versions.

TIMESTAMPS:
  Stored as fixed-width UTC RFC 3339 strings with nanoseconds so string
  comparison orders them correctly.

USAGE:
  store, err := sqlite.New("./data/bank4.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := allowance.NewEngine(store, allowance.DefaultConfig())
  engine.Recorder = store

SEE ALSO:
  - allowance/repository.go: Accrual storage contract
  - store/memory: In-memory implementation for engine tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens (creating if needed) the database at dbPath and migrates it.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection for health probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		name TEXT,
		email TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS families (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'USD',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS family_members (
		id TEXT PRIMARY KEY,
		family_id TEXT NOT NULL REFERENCES families(id),
		user_id TEXT NOT NULL REFERENCES users(id),
		role TEXT NOT NULL CHECK (role IN ('PARENT', 'CHILD')),
		created_at TEXT NOT NULL,
		UNIQUE(family_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_family_members_user
		ON family_members(user_id);

	-- Settings are versioned by insertion; rows are never updated
	CREATE TABLE IF NOT EXISTS allowance_settings (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		family_id TEXT NOT NULL REFERENCES families(id),
		created_by_id TEXT NOT NULL REFERENCES users(id),
		category TEXT NOT NULL CHECK (category IN ('SPENDING', 'SAVING', 'GIVING')),
		amount INTEGER NOT NULL CHECK (amount >= 0),
		is_percentage INTEGER NOT NULL DEFAULT 0,
		period TEXT NOT NULL CHECK (period IN ('WEEK', 'YEAR')),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_allowance_settings_user_category
		ON allowance_settings(user_id, category, created_at);

	-- Transactions (append-only ledger, amounts in cents)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users(id),
		created_by_id TEXT NOT NULL REFERENCES users(id),
		family_id TEXT NOT NULL REFERENCES families(id),
		category TEXT NOT NULL CHECK (category IN ('SPENDING', 'SAVING', 'GIVING')),
		amount INTEGER NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		is_system_created INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- Balance sums (hot path for SAVING principal)
	CREATE INDEX IF NOT EXISTS idx_transactions_owner_family_category
		ON transactions(owner_id, family_id, category);

	-- Dashboard recent activity
	CREATE INDEX IF NOT EXISTS idx_transactions_owner_family_date
		ON transactions(owner_id, family_id, date DESC);

	CREATE TABLE IF NOT EXISTS allowance_run_states (
		user_id TEXT PRIMARY KEY REFERENCES users(id),
		last_run TEXT,
		last_attempt TEXT,
		run_count INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS accrual_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL CHECK (status IN ('running', 'completed', 'failed')),
		total_users INTEGER NOT NULL DEFAULT 0,
		processed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		posted_spending INTEGER NOT NULL DEFAULT 0,
		posted_saving INTEGER NOT NULL DEFAULT 0,
		posted_giving INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		summary_json TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_accrual_runs_started
		ON accrual_runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS outbox_messages (
		id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		message_key TEXT NOT NULL,
		payload TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TEXT NOT NULL,
		sent_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_messages_status
		ON outbox_messages(status, created_at);
`

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for tests and the demo seeder).
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"outbox_messages", "accrual_runs", "allowance_run_states", "transactions",
		"allowance_settings", "family_members", "families", "users",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// withTx runs fn in a database transaction, committing only if fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(q querier) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func isForeignKeyError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
