// Package lock provides period-scoped mutual exclusion for the monthly
// generation job, so concurrent triggers collapse into a single run.
package lock

import (
	"context"
	"sync"
	"time"
)

// Locker acquires a named lock for at most ttl. Acquire returns false
// without blocking when another holder owns the lock.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// MemoryLocker is a process-local Locker for tests and single-node runs.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]time.Time{}, clock: time.Now}
}

func (l *MemoryLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if expiry, ok := l.held[name]; ok && now.Before(expiry) {
		return nil, false, nil
	}
	l.held[name] = now.Add(ttl)

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, name)
	}
	return release, true, nil
}

var _ Locker = (*MemoryLocker)(nil)
