// Package locking provides per-configuration run locks so that two attempts
// on the same configuration never overlap.
package locking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrLocked is returned when another holder owns the key
	ErrLocked = errors.New("run lock held by another execution")
	// ErrNotHeld is returned when releasing a lease that has expired or was taken over
	ErrNotHeld = errors.New("run lock not held")
)

// Lease is a held lock
type Lease interface {
	Release(ctx context.Context) error
}

// RunLocker hands out exclusive leases keyed by configuration id. TryAcquire
// never waits: a held key returns ErrLocked immediately.
type RunLocker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// KeyFor is the lock key for a configuration
func KeyFor(configurationID uuid.UUID) string {
	return "import:" + configurationID.String()
}

// MemoryLocker is a process-local RunLocker. Expired leases can be taken over.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryEntry
	clock func() time.Time
}

type memoryEntry struct {
	token   string
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held:  make(map[string]memoryEntry),
		clock: time.Now,
	}
}

func (l *MemoryLocker) TryAcquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if entry, ok := l.held[key]; ok && (entry.expires.IsZero() || now.Before(entry.expires)) {
		return nil, ErrLocked
	}

	entry := memoryEntry{token: uuid.New().String()}
	if ttl > 0 {
		entry.expires = now.Add(ttl)
	}
	l.held[key] = entry

	return &memoryLease{locker: l, key: key, token: entry.token}, nil
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	token  string
}

func (m *memoryLease) Release(_ context.Context) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()

	entry, ok := m.locker.held[m.key]
	if !ok || entry.token != m.token {
		return ErrNotHeld
	}
	delete(m.locker.held, m.key)
	return nil
}
