package allowance

import (
	"context"
	"sync"
	"time"

	"github.com/teich/bank4/family"
)

// Locker hands out short-lived per-user locks so two engine instances do not
// work on the same user at once. The run-state version check still decides
// correctness; the lock only avoids wasted work.
type Locker interface {
	// TryLock returns acquired=false without error when someone else holds key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (lock Lock, acquired bool, err error)
}

type Lock interface {
	Unlock(ctx context.Context) error
}

// UserLockKey is the lock key for a user's accrual.
func UserLockKey(id family.UserID) string { return "allowance:lock:user:" + string(id) }

// =============================================================================
// MEMORY LOCKER - Single-process implementation
// =============================================================================

type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]time.Time), clock: time.Now}
}

func (m *MemoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (Lock, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if exp, ok := m.held[key]; ok && now.Before(exp) {
		return nil, false, nil
	}
	exp := now.Add(ttl)
	m.held[key] = exp
	return &memoryLock{parent: m, key: key, expires: exp}, true, nil
}

type memoryLock struct {
	parent  *MemoryLocker
	key     string
	expires time.Time
}

func (l *memoryLock) Unlock(context.Context) error {
	l.parent.mu.Lock()
	defer l.parent.mu.Unlock()

	// Only release our own hold; after expiry the key may belong to someone else.
	if exp, ok := l.parent.held[l.key]; ok && exp.Equal(l.expires) {
		delete(l.parent.held, l.key)
	}
	return nil
}
