package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRunLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	locker := NewRedisRunLocker(client, "test:lock:")
	release, ok, err := locker.Acquire(ctx, "schedule-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("test:lock:schedule-1"))

	_, ok, err = locker.Acquire(ctx, "schedule-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire should fail while held")

	_, ok, err = locker.Acquire(ctx, "schedule-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "other keys are independent")

	release()
	assert.False(t, mr.Exists("test:lock:schedule-1"))
	_, ok, err = locker.Acquire(ctx, "schedule-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisRunLocker_StaleReleaseKeepsNewHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()
	locker := NewRedisRunLocker(client, "")

	staleRelease, ok, err := locker.Acquire(ctx, "schedule-1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = locker.Acquire(ctx, "schedule-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "expired lock should be acquirable")

	staleRelease()
	assert.True(t, mr.Exists("wallet:settlement:lock:schedule-1"), "stale release must not drop the new holder's lock")
}

func TestMemoryRunLocker(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryRunLocker()

	release, ok, err := locker.Acquire(ctx, "schedule-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = locker.Acquire(ctx, "schedule-1", time.Minute)
	assert.False(t, ok)

	release()
	_, ok, _ = locker.Acquire(ctx, "schedule-1", time.Minute)
	assert.True(t, ok)

	_, ok, _ = locker.Acquire(ctx, "expired", -time.Second)
	require.True(t, ok)
	_, ok, _ = locker.Acquire(ctx, "expired", time.Minute)
	assert.True(t, ok, "an expired entry is taken over")
}
