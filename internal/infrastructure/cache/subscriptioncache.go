package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const subscriptionConfigPrefix = "subscription:config:"

// SubscriptionConfigCache caches the composed subscription response body per
// subscriber for a short TTL, keeping repeated config polls off the fleet.
type SubscriptionConfigCache interface {
	Get(ctx context.Context, subscriberID uint) (string, bool, error)
	Set(ctx context.Context, subscriberID uint, body string) error
	Invalidate(ctx context.Context, subscriberID uint) error
}

// RedisSubscriptionConfigCache stores composed responses in Redis.
type RedisSubscriptionConfigCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSubscriptionConfigCache(client *redis.Client, ttl time.Duration) *RedisSubscriptionConfigCache {
	return &RedisSubscriptionConfigCache{client: client, ttl: ttl}
}

func configKey(subscriberID uint) string {
	return subscriptionConfigPrefix + strconv.FormatUint(uint64(subscriberID), 10)
}

func (c *RedisSubscriptionConfigCache) Get(ctx context.Context, subscriberID uint) (string, bool, error) {
	body, err := c.client.Get(ctx, configKey(subscriberID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read cached config: %w", err)
	}
	return body, true, nil
}

func (c *RedisSubscriptionConfigCache) Set(ctx context.Context, subscriberID uint, body string) error {
	if err := c.client.Set(ctx, configKey(subscriberID), body, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache config: %w", err)
	}
	return nil
}

func (c *RedisSubscriptionConfigCache) Invalidate(ctx context.Context, subscriberID uint) error {
	if err := c.client.Del(ctx, configKey(subscriberID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached config: %w", err)
	}
	return nil
}

// MemorySubscriptionConfigCache is the in-process fallback used when Redis is
// not configured. Expiry is lazy; entries are dropped on read.
type MemorySubscriptionConfigCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[uint]memoryConfigEntry
}

type memoryConfigEntry struct {
	body      string
	expiresAt time.Time
}

func NewMemorySubscriptionConfigCache(ttl time.Duration) *MemorySubscriptionConfigCache {
	return NewMemorySubscriptionConfigCacheWithClock(ttl, time.Now)
}

func NewMemorySubscriptionConfigCacheWithClock(ttl time.Duration, now func() time.Time) *MemorySubscriptionConfigCache {
	return &MemorySubscriptionConfigCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[uint]memoryConfigEntry),
	}
}

func (c *MemorySubscriptionConfigCache) Get(_ context.Context, subscriberID uint) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[subscriberID]
	if !ok {
		return "", false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, subscriberID)
		return "", false, nil
	}
	return entry.body, true, nil
}

func (c *MemorySubscriptionConfigCache) Set(_ context.Context, subscriberID uint, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[subscriberID] = memoryConfigEntry{body: body, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *MemorySubscriptionConfigCache) Invalidate(_ context.Context, subscriberID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, subscriberID)
	return nil
}
