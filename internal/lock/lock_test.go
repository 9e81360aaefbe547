package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalTryLock(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	ok, err := l.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Unlock(ctx))

	ok, err = l.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalLockWaitsForUnlock(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()
	require.NoError(t, l.Lock(ctx))

	acquired := make(chan struct{})
	go func() {
		assert.NoError(t, l.Lock(ctx))
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock must wait")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, l.Unlock(ctx))

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired")
	}
}

func TestLocalLockHonorsContext(t *testing.T) {
	l := NewLocal()
	require.NoError(t, l.Lock(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Lock(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalUnlockWithoutLock(t *testing.T) {
	l := NewLocal()
	assert.ErrorIs(t, l.Unlock(context.Background()), ErrNotHeld)
}

func TestRedisTryLockReleasesLocalOnError(t *testing.T) {
	client := NewRedisClient("127.0.0.1:1", 0)
	defer client.Close()

	r := NewRedis(client, "mailgw:test-lock", time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ok, err := r.TryLock(ctx)
	assert.Error(t, err)
	assert.False(t, ok)

	// The local half must be free again.
	ok, _ = r.local.TryLock(ctx)
	assert.True(t, ok)
}
