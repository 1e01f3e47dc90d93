package webhook

import (
	"context"
	"sync"
	"time"
)

// ReplayCache records nonces with a TTL. InsertIfAbsent must be atomic:
// two concurrent calls with the same key may not both observe "absent".
type ReplayCache interface {
	// InsertIfAbsent stores key with the given TTL and reports whether it
	// was newly inserted. False means the key already existed (a replay).
	InsertIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryReplayCache is a mutex-guarded in-process ReplayCache for tests
// and single-node deployments without Redis.
type MemoryReplayCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryReplayCache() *MemoryReplayCache {
	return &MemoryReplayCache{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// InsertIfAbsent implements ReplayCache. Expired entries are pruned lazily
// on access.
func (c *MemoryReplayCache) InsertIfAbsent(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrKeyEmpty
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, expiry := range c.entries {
		if now.After(expiry) {
			delete(c.entries, k)
		}
	}

	if expiry, ok := c.entries[key]; ok && now.Before(expiry) {
		return false, nil
	}
	c.entries[key] = now.Add(ttl)
	return true, nil
}
