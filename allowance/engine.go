/*
engine.go - Allowance accrual run

PURPOSE:
  Pays every configured user for the whole weeks elapsed since their last
  run. Safe to call as often as a scheduler likes: a user paid within the
  last MinTimeBetweenRuns is skipped, and a user whose anchor is less than a
  week old has nothing due.

PER-USER FLOW (all inside one Repository.WithinTx):
  1. Resolve the single family to attribute to (none or several: skip)
  2. Rate limit on LastAttempt
  3. startDate = LastRun, or the user's CreatedAt on a first run
  4. weeks = floor((now - startDate) / 7d); 0 means not due
  5. Latest SPENDING, SAVING and GIVING settings must all exist
  6. Post three transactions, advance run-state (version checked) and
     enqueue an event; any error rolls all of it back

FAILURE ISOLATION:
  A user's error is logged and listed in RunResult.Logs; the batch goes on.
  Only failing to list candidates fails the whole run.

CONCURRENCY:
  Config.Concurrency > 1 processes users on a bounded pool. Users share no
  state, and the optional Locker keeps two instances off the same user.

SEE ALSO:
  - repository.go: Storage contract
  - allocation.go: What gets paid
  - api/scheduler.go: Periodic trigger
*/
package allowance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teich/bank4/family"
	"github.com/teich/bank4/ledger"
	"github.com/teich/bank4/metrics"
)

// MinTimeBetweenRuns is the default per-user rate limit.
const MinTimeBetweenRuns = 12 * time.Hour

// =============================================================================
// CONFIGURATION
// =============================================================================

type Config struct {
	// MinTimeBetweenRuns skips users attempted more recently than this.
	MinTimeBetweenRuns time.Duration

	// CarryForwardRemainder anchors the next run at startDate + whole weeks
	// instead of now, so partial weeks are paid later instead of dropped.
	CarryForwardRemainder bool

	// Concurrency is the number of users processed at once (min 1).
	Concurrency int

	// LockTTL bounds how long a per-user lock survives a crashed holder.
	LockTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinTimeBetweenRuns: MinTimeBetweenRuns,
		Concurrency:        1,
		LockTTL:            30 * time.Second,
	}
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Repo     Repository
	Locker   Locker      // optional
	Recorder RunRecorder // optional
	Clock    func() time.Time
	Config   Config
}

func NewEngine(repo Repository, cfg Config) *Engine {
	return &Engine{Repo: repo, Clock: time.Now, Config: cfg}
}

type outcome struct {
	userID family.UserID
	result *UserResult
	skip   *SkipEntry
	err    error
}

// Run processes every candidate user once, using a single "now" for the
// whole batch.
func (e *Engine) Run(ctx context.Context) (*RunResult, error) {
	if e.Repo == nil {
		return nil, ErrRepositoryRequired
	}

	wallStart := time.Now()
	now := e.now()
	result := &RunResult{
		RunID:     uuid.NewString(),
		Success:   true,
		StartedAt: now,
		Results:   []UserResult{},
		Logs:      []LogEntry{},
		Skipped:   []SkipEntry{},
	}
	e.record(ctx, result, RunRunning, "")

	users, err := e.Repo.ListAccrualCandidates(ctx)
	if err != nil {
		log.Printf("[Accrual] Error listing candidates: %v", err)
		result.Success = false
		result.CompletedAt = e.now()
		e.record(ctx, result, RunFailed, err.Error())
		metrics.AccrualRuns.WithLabelValues(string(RunFailed)).Inc()
		return nil, fmt.Errorf("list accrual candidates: %w", err)
	}
	result.TotalUsers = len(users)
	log.Printf("[Accrual] Run %s started with %d candidate users", result.RunID, len(users))

	for _, o := range e.processAll(ctx, users, result.RunID, now) {
		switch {
		case o.err != nil:
			log.Printf("[Accrual] Failed for user %s: %v", o.userID, o.err)
			result.Logs = append(result.Logs, LogEntry{UserID: o.userID, Error: o.err.Error()})
			metrics.AccrualUsers.WithLabelValues("failed").Inc()
		case o.skip != nil:
			result.Skipped = append(result.Skipped, *o.skip)
			metrics.AccrualUsers.WithLabelValues(string(o.skip.Reason)).Inc()
		case o.result != nil:
			result.Results = append(result.Results, *o.result)
			metrics.AccrualUsers.WithLabelValues("processed").Inc()
			metrics.AccrualWeeks.Observe(float64(o.result.WeeksProcessed))
		}
	}

	sort.Slice(result.Results, func(i, j int) bool { return result.Results[i].UserID < result.Results[j].UserID })
	sort.Slice(result.Logs, func(i, j int) bool { return result.Logs[i].UserID < result.Logs[j].UserID })
	sort.Slice(result.Skipped, func(i, j int) bool { return result.Skipped[i].UserID < result.Skipped[j].UserID })

	result.ProcessedCount = len(result.Results)
	result.CompletedAt = e.now()

	for c, cents := range result.Posted() {
		metrics.AccrualPostedCents.WithLabelValues(string(c)).Add(float64(cents))
	}
	metrics.AccrualRuns.WithLabelValues(string(RunCompleted)).Inc()
	metrics.AccrualRunDuration.Observe(time.Since(wallStart).Seconds())
	e.record(ctx, result, RunCompleted, "")

	log.Printf("[Accrual] Run %s completed: %d processed, %d failed, %d skipped",
		result.RunID, result.ProcessedCount, len(result.Logs), len(result.Skipped))
	return result, nil
}

func (e *Engine) processAll(ctx context.Context, users []family.UserID, runID string, now time.Time) []outcome {
	out := make([]outcome, len(users))

	workers := e.Config.Concurrency
	if workers <= 1 {
		for i, id := range users {
			out[i] = e.processUser(ctx, runID, id, now)
		}
		return out
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, id := range users {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id family.UserID) {
			defer wg.Done()
			defer func() { <-sem }()
			out[i] = e.processUser(ctx, runID, id, now)
		}(i, id)
	}
	wg.Wait()
	return out
}

func (e *Engine) processUser(ctx context.Context, runID string, userID family.UserID, now time.Time) (o outcome) {
	o.userID = userID
	defer func() {
		if r := recover(); r != nil {
			o = outcome{userID: userID, err: fmt.Errorf("panic during accrual: %v", r)}
		}
	}()

	if e.Locker != nil {
		lock, acquired, err := e.Locker.TryLock(ctx, UserLockKey(userID), e.lockTTL())
		if err != nil {
			o.err = fmt.Errorf("acquire lock: %w", err)
			return o
		}
		if !acquired {
			o.skip = &SkipEntry{UserID: userID, Reason: SkipInProgress}
			return o
		}
		defer func() {
			if err := lock.Unlock(context.Background()); err != nil {
				log.Printf("[Accrual] Error releasing lock for user %s: %v", userID, err)
			}
		}()
	}

	err := e.Repo.WithinTx(ctx, func(tx Tx) error {
		res, skip, err := e.accrue(ctx, tx, runID, userID, now)
		o.result, o.skip = res, skip
		return err
	})
	if err != nil {
		o.result, o.skip, o.err = nil, nil, err
	}
	return o
}

// accrue runs the eligibility checks and the posting for one user. A
// non-nil skip means nothing was written and nothing went wrong.
func (e *Engine) accrue(ctx context.Context, tx Tx, runID string, userID family.UserID, now time.Time) (*UserResult, *SkipEntry, error) {
	skip := func(reason SkipReason, detail string) (*UserResult, *SkipEntry, error) {
		return nil, &SkipEntry{UserID: userID, Reason: reason, Detail: detail}, nil
	}

	members, err := tx.Memberships(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("load memberships: %w", err)
	}
	member, err := family.Attribute(userID, members)
	switch {
	case errors.Is(err, family.ErrNoFamily):
		return skip(SkipNoFamily, "")
	case errors.Is(err, family.ErrAmbiguousFamily):
		log.Printf("[Accrual] Configuration error for user %s: %v", userID, err)
		return skip(SkipAmbiguousFamily, err.Error())
	case err != nil:
		return nil, nil, err
	}

	state, err := tx.RunState(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("load run state: %w", err)
	}
	if state.RateLimited(now, e.Config.MinTimeBetweenRuns) {
		return skip(SkipRateLimited, "")
	}

	user, err := tx.User(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("load user: %w", err)
	}
	start := state.StartDate(user.CreatedAt)
	weeks := WholeWeeksBetween(start, now)
	if weeks == 0 {
		return skip(SkipNotDue, "")
	}

	history, err := tx.SettingsHistory(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("load settings: %w", err)
	}
	settings := Latest(history)
	if !settings.Complete() {
		return skip(SkipMissingSettings, (&MissingSettingsError{Categories: settings.Missing()}).Error())
	}

	principal, err := tx.CategoryBalance(ctx, userID, member.FamilyID, ledger.CategorySaving)
	if err != nil {
		return nil, nil, fmt.Errorf("load saving balance: %w", err)
	}
	alloc, err := Allocate(settings, principal, weeks)
	if err != nil {
		return nil, nil, err
	}

	postings := alloc.Transactions(userID, member.FamilyID, now)
	if err := tx.AppendTransactions(ctx, postings); err != nil {
		return nil, nil, fmt.Errorf("append transactions: %w", err)
	}

	next := state.Advance(now, start, weeks, e.Config.CarryForwardRemainder)
	next.UserID = userID
	if err := tx.SaveRunState(ctx, next, state.Version); err != nil {
		return nil, nil, fmt.Errorf("save run state: %w", err)
	}

	ids := make([]ledger.TransactionID, len(postings))
	posted := make([]PostedTransaction, len(postings))
	for i, p := range postings {
		ids[i] = p.ID
		posted[i] = PostedTransaction{ID: p.ID, Category: p.Category, Amount: p.Amount, Description: p.Description}
	}

	ev := PostedEvent{
		RunID:          runID,
		UserID:         userID,
		FamilyID:       member.FamilyID,
		WeeksProcessed: weeks,
		Spending:       alloc.Spending,
		Saving:         alloc.Saving,
		Giving:         alloc.Giving,
		TransactionIDs: ids,
		PostedAt:       now,
	}
	if err := tx.RecordEvent(ctx, ev); err != nil {
		return nil, nil, fmt.Errorf("record event: %w", err)
	}

	return &UserResult{
		UserID:         userID,
		FamilyID:       member.FamilyID,
		Success:        true,
		WeeksProcessed: weeks,
		Transactions:   posted,
	}, nil, nil
}

// record saves the batch's audit row. Failures here never fail the run.
func (e *Engine) record(ctx context.Context, result *RunResult, status RunStatus, errMsg string) {
	if e.Recorder == nil {
		return
	}

	rec := RunRecord{
		ID:         result.RunID,
		Status:     status,
		TotalUsers: result.TotalUsers,
		Processed:  result.ProcessedCount,
		Failed:     len(result.Logs),
		Skipped:    len(result.Skipped),
		Posted:     result.Posted(),
		Error:      errMsg,
		StartedAt:  result.StartedAt,
	}
	if status != RunRunning {
		completed := result.CompletedAt
		rec.CompletedAt = &completed
		if summary, err := json.Marshal(result); err == nil {
			rec.SummaryJSON = string(summary)
		}
	}

	if err := e.Recorder.SaveRun(ctx, rec); err != nil {
		log.Printf("[Accrual] Error saving run record %s: %v", result.RunID, err)
	}
}

func (e *Engine) now() time.Time {
	if e.Clock == nil {
		return time.Now().UTC()
	}
	return e.Clock().UTC()
}

func (e *Engine) lockTTL() time.Duration {
	if e.Config.LockTTL <= 0 {
		return DefaultConfig().LockTTL
	}
	return e.Config.LockTTL
}
