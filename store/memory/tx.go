package memory

import (
	"context"
	"sort"

	"github.com/teich/bank4/allowance"
	"github.com/teich/bank4/family"
	"github.com/teich/bank4/ledger"
)

// =============================================================================
// REPOSITORY (allowance.Repository)
// =============================================================================

func (s *Store) ListAccrualCandidates(context.Context) ([]family.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.candidatesErr != nil {
		return nil, s.candidatesErr
	}
	seen := make(map[family.UserID]bool)
	var ids []family.UserID
	for _, st := range s.settings {
		if !seen[st.UserID] {
			seen[st.UserID] = true
			ids = append(ids, st.UserID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// WithinTx runs fn holding the store lock. Writes go straight to the store;
// on error or panic the snapshot taken beforehand is restored.
func (s *Store) WithinTx(ctx context.Context, fn func(allowance.Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	defer func() {
		if r := recover(); r != nil {
			s.restore(snap)
			panic(r)
		}
	}()

	if err = fn(&txView{parent: s}); err != nil {
		s.restore(snap)
	}
	return err
}

type snapshot struct {
	transactions []ledger.Transaction
	txIDs        map[ledger.TransactionID]bool
	runStates    map[family.UserID]allowance.RunState
	events       []allowance.PostedEvent
}

func (s *Store) snapshot() snapshot {
	ids := make(map[ledger.TransactionID]bool, len(s.txIDs))
	for k, v := range s.txIDs {
		ids[k] = v
	}
	states := make(map[family.UserID]allowance.RunState, len(s.runStates))
	for k, v := range s.runStates {
		states[k] = v
	}
	return snapshot{
		transactions: append([]ledger.Transaction(nil), s.transactions...),
		txIDs:        ids,
		runStates:    states,
		events:       append([]allowance.PostedEvent(nil), s.events...),
	}
}

func (s *Store) restore(snap snapshot) {
	s.transactions = snap.transactions
	s.txIDs = snap.txIDs
	s.runStates = snap.runStates
	s.events = snap.events
}

// txView is the allowance.Tx handed to WithinTx callbacks. The parent lock
// is already held, so it touches fields directly.
type txView struct {
	parent *Store
}

func (v *txView) User(_ context.Context, id family.UserID) (*family.User, error) {
	u, ok := v.parent.users[id]
	if !ok {
		return nil, family.ErrUserNotFound
	}
	return &u, nil
}

func (v *txView) Memberships(_ context.Context, userID family.UserID) ([]family.Member, error) {
	var out []family.Member
	for _, m := range v.parent.members {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (v *txView) RunState(_ context.Context, userID family.UserID) (allowance.RunState, error) {
	st, ok := v.parent.runStates[userID]
	if !ok {
		return allowance.RunState{UserID: userID}, nil
	}
	return st, nil
}

func (v *txView) SettingsHistory(_ context.Context, userID family.UserID) ([]allowance.Setting, error) {
	var out []allowance.Setting
	for _, st := range v.parent.settings {
		if st.UserID == userID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (v *txView) CategoryBalance(_ context.Context, owner family.UserID, fam family.FamilyID, c ledger.Category) (ledger.Cents, error) {
	return v.parent.sumLocked(owner, fam, c), nil
}

func (v *txView) AppendTransactions(_ context.Context, txs []ledger.Transaction) error {
	return v.parent.appendLocked(txs)
}

func (v *txView) SaveRunState(_ context.Context, st allowance.RunState, expectedVersion int64) error {
	if v.parent.runStates[st.UserID].Version != expectedVersion {
		return allowance.ErrConcurrentModification
	}
	st.Version = expectedVersion + 1
	v.parent.runStates[st.UserID] = st
	return nil
}

func (v *txView) RecordEvent(_ context.Context, ev allowance.PostedEvent) error {
	v.parent.events = append(v.parent.events, ev)
	return nil
}
