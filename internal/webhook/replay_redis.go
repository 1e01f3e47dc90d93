package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisReplayCache backs ReplayCache with Redis SET NX, giving atomic
// insert-if-absent semantics across processes.
type RedisReplayCache struct {
	client *redis.Client
}

func NewRedisReplayCache(client *redis.Client) *RedisReplayCache {
	return &RedisReplayCache{client: client}
}

// InsertIfAbsent implements ReplayCache using SET key value NX EX ttl.
func (c *RedisReplayCache) InsertIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrKeyEmpty
	}

	inserted, err := c.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("inserting replay key: %w", err)
	}
	return inserted, nil
}
