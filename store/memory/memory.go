// Package memory provides an in-memory implementation of the ledger and
// allowance storage interfaces for tests and local experiments.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/teich/bank4/allowance"
	"github.com/teich/bank4/family"
	"github.com/teich/bank4/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Store struct {
	mu sync.Mutex

	users    map[family.UserID]family.User
	families map[family.FamilyID]family.Family
	members  []family.Member
	settings []allowance.Setting

	transactions []ledger.Transaction
	txIDs        map[ledger.TransactionID]bool
	runStates    map[family.UserID]allowance.RunState
	events       []allowance.PostedEvent

	runs     map[string]allowance.RunRecord
	runOrder []string

	appendFaults  map[family.UserID]error
	candidatesErr error
}

func New() *Store {
	return &Store{
		users:        make(map[family.UserID]family.User),
		families:     make(map[family.FamilyID]family.Family),
		txIDs:        make(map[ledger.TransactionID]bool),
		runStates:    make(map[family.UserID]allowance.RunState),
		runs:         make(map[string]allowance.RunRecord),
		appendFaults: make(map[family.UserID]error),
	}
}

// =============================================================================
// SEEDING
// =============================================================================

func (s *Store) AddUser(u family.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) AddFamily(f family.Family) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.families[f.ID] = f
}

func (s *Store) AddMember(m family.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = append(s.members, m)
}

func (s *Store) AddSetting(st allowance.Setting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = append(s.settings, st)
}

// PutRunState overwrites a user's run-state, bumping its version.
func (s *Store) PutRunState(st allowance.RunState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.Version = s.runStates[st.UserID].Version + 1
	s.runStates[st.UserID] = st
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

// FailAppendsFor makes transaction appends for owner fail with err.
func (s *Store) FailAppendsFor(owner family.UserID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendFaults[owner] = err
}

// FailCandidates makes ListAccrualCandidates fail with err.
func (s *Store) FailCandidates(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidatesErr = err
}

// =============================================================================
// INSPECTION
// =============================================================================

// Transactions returns every stored transaction in insertion order.
func (s *Store) Transactions() []ledger.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledger.Transaction(nil), s.transactions...)
}

func (s *Store) RunStateOf(id family.UserID) allowance.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.runStates[id]
	if !ok {
		return allowance.RunState{UserID: id}
	}
	return st
}

func (s *Store) Events() []allowance.PostedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]allowance.PostedEvent(nil), s.events...)
}

// =============================================================================
// LEDGER STORE (ledger.Store)
// =============================================================================

func (s *Store) Append(_ context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked([]ledger.Transaction{tx})
}

func (s *Store) AppendBatch(_ context.Context, txs []ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(txs)
}

func (s *Store) Query(_ context.Context, f ledger.Filter) ([]ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryLocked(f), nil
}

func (s *Store) Sum(_ context.Context, owner family.UserID, fam family.FamilyID, c ledger.Category) (ledger.Cents, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sumLocked(owner, fam, c), nil
}

// appendLocked checks the whole batch before writing any of it.
func (s *Store) appendLocked(txs []ledger.Transaction) error {
	seen := make(map[ledger.TransactionID]bool, len(txs))
	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			return err
		}
		if s.txIDs[tx.ID] || seen[tx.ID] {
			return ledger.ErrDuplicateTransaction
		}
		seen[tx.ID] = true
		if err := s.appendFaults[tx.OwnerID]; err != nil {
			return err
		}
	}
	for _, tx := range txs {
		s.transactions = append(s.transactions, tx)
		s.txIDs[tx.ID] = true
	}
	return nil
}

func (s *Store) queryLocked(f ledger.Filter) []ledger.Transaction {
	var out []ledger.Transaction
	for _, tx := range s.transactions {
		if f.Matches(tx) {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func (s *Store) sumLocked(owner family.UserID, fam family.FamilyID, c ledger.Category) ledger.Cents {
	var sum ledger.Cents
	for _, tx := range s.transactions {
		if tx.OwnerID == owner && tx.FamilyID == fam && tx.Category == c {
			sum += tx.Amount
		}
	}
	return sum
}

// =============================================================================
// RUN RECORDER (allowance.RunRecorder)
// =============================================================================

func (s *Store) SaveRun(_ context.Context, r allowance.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[r.ID]; !ok {
		s.runOrder = append(s.runOrder, r.ID)
	}
	s.runs[r.ID] = r
	return nil
}

// ListRuns returns the newest runs first.
func (s *Store) ListRuns(_ context.Context, limit int) ([]allowance.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []allowance.RunRecord
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		out = append(out, s.runs[s.runOrder[i]])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
