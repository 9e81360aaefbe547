package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "mailgw:sync-lock"

func newLeasePair(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *Redis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)

	// Two clients stand in for two gateway processes.
	newLocker := func() *Redis {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewRedis(client, testKey, ttl)
	}
	return mr, newLocker(), newLocker()
}

func TestRedisTryLockExcludesOtherHolder(t *testing.T) {
	mr, first, second := newLeasePair(t, time.Minute)
	ctx := context.Background()

	ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists(testKey))
	mr.CheckGet(t, testKey, first.token)

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// A refused TryLock leaves the local half free.
	ok, _ = second.local.TryLock(ctx)
	assert.True(t, ok)
	require.NoError(t, second.local.Unlock(ctx))

	require.NoError(t, first.Unlock(ctx))
	assert.False(t, mr.Exists(testKey))

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Unlock(ctx))
}

func TestRedisLeaseCarriesTTL(t *testing.T) {
	mr, first, _ := newLeasePair(t, 90*time.Second)

	ok, err := first.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 90*time.Second, mr.TTL(testKey))
}

func TestRedisUnlockAfterExpiryKeepsNewHolder(t *testing.T) {
	ttl := 30 * time.Second
	mr, first, second := newLeasePair(t, ttl)
	ctx := context.Background()

	ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(ttl + time.Second)
	require.False(t, mr.Exists(testKey))

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	secondToken := second.token

	// The expired holder finishes late; its release must not touch the
	// lease now held by second.
	require.NoError(t, first.Unlock(ctx))
	mr.CheckGet(t, testKey, secondToken)

	ok, err = first.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, second.Unlock(ctx))
	assert.False(t, mr.Exists(testKey))
}

func TestRedisLockWaitsForRelease(t *testing.T) {
	_, first, second := newLeasePair(t, time.Minute)
	ctx := context.Background()

	ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	acquired := make(chan error, 1)
	go func() {
		acquired <- second.Lock(ctx)
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock must wait for the lease")
	case <-time.After(2 * pollInterval):
	}

	require.NoError(t, first.Unlock(ctx))

	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(5 * pollInterval):
		t.Fatal("second Lock never acquired the lease")
	}
	require.NoError(t, second.Unlock(ctx))
}

func TestRedisLockHonorsContextWhileWaiting(t *testing.T) {
	_, first, second := newLeasePair(t, time.Minute)

	ok, err := first.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), pollInterval+200*time.Millisecond)
	defer cancel()

	err = second.Lock(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The local half is released on give-up.
	ok, _ = second.local.TryLock(context.Background())
	assert.True(t, ok)
}
