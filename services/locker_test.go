package services

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	l := NewLocalLocker()
	l.now = func() time.Time { return now }

	release, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	_, err = l.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	other, err := l.Acquire(ctx, "other", time.Minute)
	require.NoError(t, err)
	other()

	release()
	release()
	again, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	// an expired holder no longer blocks, and its late release does not free the new holder
	now = now.Add(2 * time.Minute)
	taken, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	again()
	_, err = l.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)
	taken()
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(ctx).Err())

	l := NewRedisLocker(client, "mlm:test:")
	key := uuid.NewString()

	release, err := l.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	_, err = l.Acquire(ctx, key, 5*time.Second)
	assert.ErrorIs(t, err, ErrLocked)

	release()
	again, err := l.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	again()
}
