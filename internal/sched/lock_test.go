package sched

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLock(t *testing.T, ttl time.Duration) (*Lock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewLock(client, ttl), mr
}

func TestAcquireAndRelease(t *testing.T) {
	l, _ := newTestLock(t, 90*time.Second)
	ctx := context.Background()

	token, ok, err := l.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	// a second instance must skip its cycle
	_, ok, err = l.TryAcquire(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	released, err := l.Release(ctx, token)
	require.NoError(t, err)
	require.True(t, released)

	_, ok, err = l.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReleaseIsTokenSafe(t *testing.T) {
	l, _ := newTestLock(t, 90*time.Second)
	ctx := context.Background()

	_, ok, err := l.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := l.Release(ctx, "some-other-token")
	require.NoError(t, err)
	require.False(t, released, "a mismatched token must leave the lock intact")

	_, ok, err = l.TryAcquire(ctx)
	require.NoError(t, err)
	require.False(t, ok, "the lock is still held")
}

// A holder whose lock expired must not be able to delete the lock a later
// instance acquired in the meantime.
func TestLateReleaseNeverClobbersNewHolder(t *testing.T) {
	l, mr := newTestLock(t, time.Minute)
	ctx := context.Background()

	staleToken, ok, err := l.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute) // original holder times out

	freshToken, ok, err := l.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok, "expired lock is free to acquire")

	released, err := l.Release(ctx, staleToken)
	require.NoError(t, err)
	require.False(t, released, "the stale holder's release is a no-op")

	released, err = l.Release(ctx, freshToken)
	require.NoError(t, err)
	require.True(t, released)
}

func TestTokensAreUnique(t *testing.T) {
	l, _ := newTestLock(t, time.Minute)
	ctx := context.Background()

	a, ok, err := l.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = l.Release(ctx, a)
	require.NoError(t, err)

	b, ok, err := l.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, a, b)
}
