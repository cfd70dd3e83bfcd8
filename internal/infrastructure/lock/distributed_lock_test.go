package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestTryLock_MutualExclusion(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	first := NewAccountLock(client, "user-1", time.Second)
	second := NewAccountLock(client, "user-1", time.Second)
	other := NewAccountLock(client, "user-2", time.Second)

	ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "same account must be exclusive")

	ok, err = other.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "different accounts must not block each other")
}

func TestUnlock_OnlyOwnerReleases(t *testing.T) {
	mr, client := newTestClient(t)
	ctx := context.Background()

	owner := NewAccountLock(client, "user-1", time.Second)
	intruder := NewAccountLock(client, "user-1", time.Second)

	require.NoError(t, owner.Lock(ctx, 10*time.Millisecond, 1))
	require.NoError(t, intruder.Unlock(ctx))
	assert.True(t, mr.Exists(owner.Key()), "foreign unlock must not delete the key")

	require.NoError(t, owner.Unlock(ctx))
	assert.False(t, mr.Exists(owner.Key()))
}

func TestLock_GivesUpAfterRetries(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	holder := NewAccountLock(client, "user-1", time.Minute)
	require.NoError(t, holder.Lock(ctx, time.Millisecond, 1))

	waiter := NewAccountLock(client, "user-1", time.Minute)
	err := waiter.Lock(ctx, time.Millisecond, 3)
	assert.ErrorIs(t, err, ErrLockFailed)
}

func TestLock_ExpiresWithTTL(t *testing.T) {
	mr, client := newTestClient(t)
	ctx := context.Background()

	holder := NewAccountLock(client, "user-1", time.Second)
	require.NoError(t, holder.Lock(ctx, time.Millisecond, 1))

	mr.FastForward(2 * time.Second)

	next := NewAccountLock(client, "user-1", time.Second)
	ok, err := next.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_ContextCancelled(t *testing.T) {
	_, client := newTestClient(t)

	holder := NewAccountLock(client, "user-1", time.Minute)
	require.NoError(t, holder.Lock(context.Background(), time.Millisecond, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewAccountLock(client, "user-1", time.Minute).Lock(ctx, time.Second, 5)
	assert.ErrorIs(t, err, context.Canceled)
}
