package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teich/bank4/allowance"
	"github.com/teich/bank4/events"
	"github.com/teich/bank4/family"
	"github.com/teich/bank4/ledger"
	"github.com/teich/bank4/store/sqlite"
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// seedFamily creates family "fam" with parent "mom" and child "kid".
func seedFamily(t *testing.T, s *sqlite.Store, kidCreated time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateFamily(ctx, family.Family{ID: "fam", Name: "Smith", CreatedAt: kidCreated}))
	require.NoError(t, s.CreateUser(ctx, family.User{ID: "mom", Username: "mom", CreatedAt: kidCreated}))
	require.NoError(t, s.CreateUser(ctx, family.User{ID: "kid", Username: "kid", Name: "Kid", CreatedAt: kidCreated}))
	require.NoError(t, s.AddMember(ctx, family.Member{ID: "m1", FamilyID: "fam", UserID: "mom", Role: family.RoleParent}))
	require.NoError(t, s.AddMember(ctx, family.Member{ID: "m2", FamilyID: "fam", UserID: "kid", Role: family.RoleChild}))
}

func seedSettings(t *testing.T, s *sqlite.Store, spending, savingBP, giving int64, at time.Time) {
	t.Helper()
	var settings []allowance.Setting
	for _, in := range []allowance.SettingInput{
		{Category: "SPENDING", Amount: spending, Period: "WEEK"},
		{Category: "SAVING", Amount: savingBP, IsPercentage: true, Period: "YEAR"},
		{Category: "GIVING", Amount: giving, Period: "WEEK"},
	} {
		st, err := allowance.NewSetting(in, "kid", "fam", "mom", at)
		require.NoError(t, err)
		settings = append(settings, st)
	}
	require.NoError(t, s.InsertSettings(context.Background(), settings))
}

func manual(id string, c ledger.Category, amount ledger.Cents, at time.Time) ledger.Transaction {
	return ledger.Transaction{
		ID:          ledger.TransactionID(id),
		OwnerID:     "kid",
		CreatedByID: "mom",
		FamilyID:    "fam",
		Category:    c,
		Amount:      amount,
		Description: "manual",
		Date:        at,
		CreatedAt:   at,
	}
}

func newEngine(repo allowance.Repository, s *sqlite.Store) *allowance.Engine {
	e := allowance.NewEngine(repo, allowance.DefaultConfig())
	e.Recorder = s
	e.Clock = func() time.Time { return now }
	return e
}

// =============================================================================
// LEDGER
// =============================================================================

func TestLedger_AppendQuerySum(t *testing.T) {
	s := newStore(t)
	seedFamily(t, s, now.Add(-30*day))
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, manual("t1", ledger.CategorySaving, 5000, now.Add(-3*day))))
	require.NoError(t, s.AppendBatch(ctx, []ledger.Transaction{
		manual("t2", ledger.CategorySaving, -1250, now.Add(-2*day)),
		manual("t3", ledger.CategorySpending, 300, now.Add(-1*day)),
	}))

	sum, err := s.Sum(ctx, "kid", "fam", ledger.CategorySaving)
	require.NoError(t, err)
	assert.Equal(t, ledger.Cents(3750), sum)

	empty, err := s.Sum(ctx, "kid", "fam", ledger.CategoryGiving)
	require.NoError(t, err)
	assert.Equal(t, ledger.Cents(0), empty)

	txs, err := s.Query(ctx, ledger.Filter{OwnerID: "kid", FamilyID: "fam", Limit: 2})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, ledger.TransactionID("t3"), txs[0].ID)
	assert.Equal(t, ledger.TransactionID("t2"), txs[1].ID)
	assert.Equal(t, now.Add(-1*day), txs[0].Date)

	saving, err := s.Query(ctx, ledger.Filter{Category: ledger.CategorySaving})
	require.NoError(t, err)
	assert.Len(t, saving, 2)
}

func TestLedger_AppendBatchIsAtomic(t *testing.T) {
	s := newStore(t)
	seedFamily(t, s, now.Add(-30*day))
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, manual("dup", ledger.CategorySaving, 100, now)))

	err := s.AppendBatch(ctx, []ledger.Transaction{
		manual("new", ledger.CategorySaving, 100, now),
		manual("dup", ledger.CategorySaving, 100, now),
	})
	require.ErrorIs(t, err, ledger.ErrDuplicateTransaction)

	txs, err := s.Query(ctx, ledger.Filter{})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

// =============================================================================
// SETTINGS
// =============================================================================

func TestSettings_InsertAndList(t *testing.T) {
	s := newStore(t)
	seedFamily(t, s, now.Add(-30*day))
	ctx := context.Background()

	seedSettings(t, s, 500, 2000, 100, now.Add(-2*day))
	seedSettings(t, s, 700, 2000, 100, now.Add(-1*day))

	list, err := s.ListSettings(ctx, "kid", "fam")
	require.NoError(t, err)
	require.Len(t, list, 6)
	assert.Equal(t, now.Add(-1*day), list[0].CreatedAt)
	assert.Equal(t, allowance.Latest(list).Spending.Amount, int64(700))

	bad := allowance.Setting{ID: "x", UserID: "kid", FamilyID: "fam", CreatedByID: "mom",
		Category: ledger.CategorySaving, Amount: 100, Period: allowance.PeriodYear, CreatedAt: now}
	err = s.InsertSettings(ctx, []allowance.Setting{bad})
	require.ErrorIs(t, err, allowance.ErrInvalidSetting)

	monthly := allowance.Setting{ID: "y", UserID: "kid", FamilyID: "fam", CreatedByID: "mom",
		Category: ledger.CategorySpending, Amount: 100, Period: "MONTH", CreatedAt: now}
	err = s.InsertSettings(ctx, []allowance.Setting{monthly})
	require.ErrorIs(t, err, allowance.ErrInvalidSetting)

	list, err = s.ListSettings(ctx, "kid", "fam")
	require.NoError(t, err)
	assert.Len(t, list, 6)
}

// =============================================================================
// ACCRUAL THROUGH SQLITE
// =============================================================================

func TestAccrual_EndToEnd(t *testing.T) {
	// GIVEN: A child created 15 days ago with $100 saved
	s := newStore(t)
	seedFamily(t, s, now.Add(-15*day))
	seedSettings(t, s, 500, 2000, 100, now.Add(-15*day))
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, manual("gift", ledger.CategorySaving, 10000, now.Add(-10*day))))

	// WHEN: The engine runs twice
	engine := newEngine(s, s)
	first, err := engine.Run(ctx)
	require.NoError(t, err)
	second, err := engine.Run(ctx)
	require.NoError(t, err)

	// THEN: Two weeks paid once
	ur, ok := first.ResultFor("kid")
	require.True(t, ok)
	assert.Equal(t, 2, ur.WeeksProcessed)
	skip, ok := second.SkipFor("kid")
	require.True(t, ok)
	assert.Equal(t, allowance.SkipRateLimited, skip.Reason)

	spending, err := s.Sum(ctx, "kid", "fam", ledger.CategorySpending)
	require.NoError(t, err)
	assert.Equal(t, ledger.Cents(1000), spending)
	saving, err := s.Sum(ctx, "kid", "fam", ledger.CategorySaving)
	require.NoError(t, err)
	assert.Equal(t, allowance.CompoundInterest(10000, 2000, 2)+10000, saving)

	system, err := s.Query(ctx, ledger.Filter{OwnerID: "kid", SystemOnly: true})
	require.NoError(t, err)
	assert.Len(t, system, 3)

	// AND: Run-state persisted
	st, err := s.GetRunState(ctx, "kid")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Version)
	assert.Equal(t, 1, st.RunCount)
	assert.Equal(t, now, *st.LastRun)

	// AND: One outbox message for the paid user
	msgs, err := s.PendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	ev, err := events.DecodePosted(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, first.RunID, ev.RunID)
	assert.Equal(t, ledger.Cents(1000), ev.Spending)

	// AND: Both runs are in the history
	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, allowance.RunCompleted, r.Status)
	}
}

type staleRepo struct {
	*sqlite.Store
}

func (r staleRepo) WithinTx(ctx context.Context, fn func(allowance.Tx) error) error {
	return r.Store.WithinTx(ctx, func(tx allowance.Tx) error {
		return fn(staleTx{Tx: tx})
	})
}

type staleTx struct {
	allowance.Tx
}

func (s staleTx) RunState(ctx context.Context, id family.UserID) (allowance.RunState, error) {
	st, err := s.Tx.RunState(ctx, id)
	st.Version--
	return st, err
}

func TestAccrual_VersionConflictRollsBackEverything(t *testing.T) {
	// GIVEN: A run-state another writer bumped after we read it
	s := newStore(t)
	seedFamily(t, s, now.Add(-100*day))
	seedSettings(t, s, 500, 2000, 100, now.Add(-100*day))
	ctx := context.Background()
	require.NoError(t, s.ResetRunState(ctx, "kid", now.Add(-3*7*day)))
	require.NoError(t, s.ResetRunState(ctx, "kid", now.Add(-3*7*day)))

	// WHEN: The engine runs on the stale read
	result, err := newEngine(staleRepo{Store: s}, s).Run(ctx)
	require.NoError(t, err)

	// THEN: Failure reported and nothing committed
	require.Len(t, result.Logs, 1)
	assert.Contains(t, result.Logs[0].Error, allowance.ErrConcurrentModification.Error())
	txs, err := s.Query(ctx, ledger.Filter{})
	require.NoError(t, err)
	assert.Empty(t, txs)
	msgs, err := s.PendingMessages(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	st, err := s.GetRunState(ctx, "kid")
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Version)
	assert.Nil(t, st.LastAttempt)
}

func TestSaveRunState_FirstInsertRaces(t *testing.T) {
	s := newStore(t)
	seedFamily(t, s, now.Add(-30*day))
	ctx := context.Background()
	at := now
	state := allowance.RunState{UserID: "kid", LastRun: &at, LastAttempt: &at, RunCount: 1}

	require.NoError(t, s.WithinTx(ctx, func(tx allowance.Tx) error {
		return tx.SaveRunState(ctx, state, 0)
	}))
	err := s.WithinTx(ctx, func(tx allowance.Tx) error {
		return tx.SaveRunState(ctx, state, 0)
	})
	require.ErrorIs(t, err, allowance.ErrConcurrentModification)
}

func TestAccrual_MissingSettingsLeavesStateUntouched(t *testing.T) {
	s := newStore(t)
	seedFamily(t, s, now.Add(-30*day))
	ctx := context.Background()
	st, err := allowance.NewSetting(allowance.SettingInput{Category: "SPENDING", Amount: 500, Period: "WEEK"},
		"kid", "fam", "mom", now.Add(-day))
	require.NoError(t, err)
	require.NoError(t, s.InsertSettings(ctx, []allowance.Setting{st}))

	result, err := newEngine(s, s).Run(ctx)
	require.NoError(t, err)

	skip, ok := result.SkipFor("kid")
	require.True(t, ok)
	assert.Equal(t, allowance.SkipMissingSettings, skip.Reason)
	state, err := s.GetRunState(ctx, "kid")
	require.NoError(t, err)
	assert.Equal(t, int64(0), state.Version)
}

// =============================================================================
// DEVELOPMENT HARNESS SUPPORT
// =============================================================================

func TestPurgeAndReset(t *testing.T) {
	s := newStore(t)
	seedFamily(t, s, now.Add(-15*day))
	seedSettings(t, s, 500, 2000, 100, now.Add(-15*day))
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, manual("keep", ledger.CategorySpending, -200, now.Add(-day))))

	_, err := newEngine(s, s).Run(ctx)
	require.NoError(t, err)

	n, err := s.PurgeSystemTransactions(ctx, "kid")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	txs, err := s.Query(ctx, ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.TransactionID("keep"), txs[0].ID)

	require.NoError(t, s.ResetRunState(ctx, "kid", now.Add(-7*day)))
	st, err := s.GetRunState(ctx, "kid")
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Version)
	assert.Equal(t, 0, st.RunCount)
	assert.Nil(t, st.LastAttempt)
	assert.Equal(t, now.Add(-7*day), *st.LastRun)
}

// =============================================================================
// OUTBOX
// =============================================================================

func TestOutbox_SenderMarksRows(t *testing.T) {
	s := newStore(t)
	seedFamily(t, s, now.Add(-15*day))
	seedSettings(t, s, 500, 2000, 100, now.Add(-15*day))
	ctx := context.Background()
	_, err := newEngine(s, s).Run(ctx)
	require.NoError(t, err)

	pub := &recordingPublisher{}
	sender := events.NewSender(s, pub)
	assert.Equal(t, 1, sender.ProcessPending(ctx))

	pending, err := s.PendingMessages(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	sent, err := s.OutboxMessages(ctx, events.StatusSent, 10)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.NotNil(t, sent[0].SentAt)
	assert.Equal(t, "kid", pub.keys[0])
}

func TestOutbox_FailedAfterMaxRetries(t *testing.T) {
	s := newStore(t)
	seedFamily(t, s, now.Add(-15*day))
	seedSettings(t, s, 500, 2000, 100, now.Add(-15*day))
	ctx := context.Background()
	_, err := newEngine(s, s).Run(ctx)
	require.NoError(t, err)

	sender := events.NewSender(s, &recordingPublisher{err: errors.New("no brokers")})
	sender.MaxRetries = 2
	sender.ProcessPending(ctx)
	sender.ProcessPending(ctx)

	failed, err := s.OutboxMessages(ctx, events.StatusFailed, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].RetryCount)
	assert.Equal(t, "no brokers", failed[0].LastError)
}

type recordingPublisher struct {
	err  error
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, msg events.OutboxMessage) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, msg.Key)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestReset(t *testing.T) {
	s := newStore(t)
	seedFamily(t, s, now.Add(-15*day))
	ctx := context.Background()
	require.NoError(t, s.Reset(ctx))

	_, err := s.GetUser(ctx, "kid")
	require.ErrorIs(t, err, family.ErrUserNotFound)
	_, err = s.GetFamily(ctx, "fam")
	require.ErrorIs(t, err, family.ErrFamilyNotFound)
}
