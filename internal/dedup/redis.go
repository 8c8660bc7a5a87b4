package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "beacon:dedup:"

// RedisStore shares the dedup window between replicas. SET NX makes the
// check-and-mark atomic per key; expiry replaces the sweep.
type RedisStore struct {
	client redis.UniversalClient
	clock  quartz.Clock
}

func NewRedisStore(client redis.UniversalClient, clock quartz.Clock) *RedisStore {
	return &RedisStore{client: client, clock: clock}
}

func (s *RedisStore) CheckAndMark(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, redisKeyPrefix+fingerprint, s.clock.Now().UnixMilli(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return !ok, nil
}
