package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestPresenceCacheRoundTrip(t *testing.T) {
	c := NewPresenceCache()

	_, found := c.Get("rev-1")
	require.False(t, found)

	now := time.Now()
	c.Set("rev-1", PresenceEntry{Presence: "available", LastHeartbeatAt: now})

	entry, found := c.Get("rev-1")
	require.True(t, found)
	require.Equal(t, "available", entry.Presence)
	require.WithinDuration(t, now, entry.LastHeartbeatAt, time.Millisecond)
}

func TestInProcessWarningLockExactlyOncePerMinute(t *testing.T) {
	l := NewInProcessWarningLock()
	ctx := context.Background()

	acquired, err := l.TryAcquire(ctx, "task-1", 5, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = l.TryAcquire(ctx, "task-1", 5, time.Minute)
	require.NoError(t, err)
	require.False(t, acquired, "second acquire for the same (task_id, minute) must report already-emitted")

	acquired, err = l.TryAcquire(ctx, "task-1", 3, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired, "a different minute mark is a distinct dedup key")
}

func newMiniredisClient(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisWarningLockExactlyOncePerMinute(t *testing.T) {
	rdb := newMiniredisClient(t)
	l := NewRedisWarningLock(rdb)
	ctx := context.Background()

	acquired, err := l.TryAcquire(ctx, "task-1", 5, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = l.TryAcquire(ctx, "task-1", 5, time.Minute)
	require.NoError(t, err)
	require.False(t, acquired)
}
