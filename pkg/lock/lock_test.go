package lock

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestLockAcquireRelease(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	l := NewRedisLock(client, "sweep:session-lock")
	acquired, err := l.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, l.IsHeld())

	require.NoError(t, l.Unlock(ctx))
	assert.False(t, l.IsHeld())
}

func TestLockMutualExclusion(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	l1 := NewRedisLock(client, "sweep:pool-lock")
	l2 := NewRedisLock(client, "sweep:pool-lock")

	acquired, err := l1.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = l2.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, l1.Unlock(ctx))
	acquired, err = l2.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)
	require.NoError(t, l2.Unlock(ctx))
}

func TestLockReacquireAfterUnlock(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	l := NewRedisLock(client, "cleanup:audit-lock")
	for i := 0; i < 3; i++ {
		acquired, err := l.TryLock(ctx)
		require.NoError(t, err)
		require.True(t, acquired)
		require.NoError(t, l.Unlock(ctx))
	}
}

func TestLockNilClientSingleInstanceMode(t *testing.T) {
	ctx := context.Background()

	l := NewRedisLock(nil, "sweep:session-lock")
	acquired, err := l.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)
	require.NoError(t, l.Unlock(ctx))
	assert.False(t, l.IsHeld())
}

func TestLockOwnerCheckedRelease(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	l1 := NewRedisLock(client, "sweep:pool-lock")
	acquired, err := l1.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	// A different owner unlocking must not free l1's lock.
	l2 := NewRedisLock(client, "sweep:pool-lock")
	require.NoError(t, l2.Unlock(ctx))

	l3 := NewRedisLock(client, "sweep:pool-lock")
	acquired, err = l3.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, acquired)
}
