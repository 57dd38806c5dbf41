package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockerAcquireAndContend(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	release, ok, err := l.Acquire(ctx, "generate:2026-01", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Second acquire on the same name is refused without blocking.
	_, ok, err = l.Acquire(ctx, "generate:2026-01", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// A different name is independent.
	releaseOther, ok, err := l.Acquire(ctx, "generate:2026-02", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	releaseOther()

	release()
	_, ok, err = l.Acquire(ctx, "generate:2026-01", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLockerExpiry(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Date(2026, 2, 1, 2, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return now }

	_, ok, err := l.Acquire(context.Background(), "generate:2026-01", 10*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Still held just before the TTL elapses.
	now = now.Add(9 * time.Minute)
	_, ok, err = l.Acquire(context.Background(), "generate:2026-01", 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// A crashed holder's lock expires and can be taken over.
	now = now.Add(2 * time.Minute)
	_, ok, err = l.Acquire(context.Background(), "generate:2026-01", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
