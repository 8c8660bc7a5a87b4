package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, quartz.NewMock(t))

	dup, err := store.CheckAndMark(ctx, "fp", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = store.CheckAndMark(ctx, "fp", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, dup)

	assert.True(t, mr.Exists(redisKeyPrefix+"fp"))

	mr.FastForward(6 * time.Second)
	dup, err = store.CheckAndMark(ctx, "fp", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestRedisStoreError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	_, err := NewRedisStore(client, quartz.NewReal()).CheckAndMark(context.Background(), "fp", time.Second)
	require.Error(t, err)
}
