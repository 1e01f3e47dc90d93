package webhook_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shipmark-io/shipmark/internal/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryReplayCache_InsertIfAbsent(t *testing.T) {
	cache := webhook.NewMemoryReplayCache()
	ctx := context.Background()

	inserted, err := cache.InsertIfAbsent(ctx, "replay:t1:n1", time.Minute)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = cache.InsertIfAbsent(ctx, "replay:t1:n1", time.Minute)
	require.NoError(t, err)
	assert.False(t, inserted)

	// Different tenant, same nonce: independent keys.
	inserted, err = cache.InsertIfAbsent(ctx, "replay:t2:n1", time.Minute)
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestMemoryReplayCache_EmptyKey(t *testing.T) {
	cache := webhook.NewMemoryReplayCache()

	_, err := cache.InsertIfAbsent(context.Background(), "", time.Minute)
	assert.ErrorIs(t, err, webhook.ErrKeyEmpty)
}

func TestMemoryReplayCache_ConcurrentSameNonce(t *testing.T) {
	cache := webhook.NewMemoryReplayCache()
	ctx := context.Background()

	const goroutines = 16
	var wg sync.WaitGroup
	results := make(chan bool, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inserted, err := cache.InsertIfAbsent(ctx, "replay:t1:contested", time.Minute)
			require.NoError(t, err)
			results <- inserted
		}()
	}
	wg.Wait()
	close(results)

	firstSeen := 0
	for inserted := range results {
		if inserted {
			firstSeen++
		}
	}
	assert.Equal(t, 1, firstSeen, "exactly one concurrent insert may win")
}

func TestRedisReplayCache_InsertIfAbsent(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	cache := webhook.NewRedisReplayCache(client)
	ctx := context.Background()

	inserted, err := cache.InsertIfAbsent(ctx, "replay:t1:n1", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = cache.InsertIfAbsent(ctx, "replay:t1:n1", 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, inserted)

	// After the TTL elapses the nonce may be seen again.
	srv.FastForward(11 * time.Minute)

	inserted, err = cache.InsertIfAbsent(ctx, "replay:t1:n1", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestRedisReplayCache_EmptyKey(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	cache := webhook.NewRedisReplayCache(client)

	_, err := cache.InsertIfAbsent(context.Background(), "", time.Minute)
	assert.ErrorIs(t, err, webhook.ErrKeyEmpty)
}
