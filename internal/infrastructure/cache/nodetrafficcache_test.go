package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeTrafficCache_StoreAndLookup(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c := NewNodeTrafficCacheWithClock(24*time.Hour, clock)

	_, ok := c.Lookup(1)
	assert.False(t, ok)

	counters := map[string]uint64{"7_rl": 100, "8_ss": 200}
	c.Store(1, counters)

	got, ok := c.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, counters, got)

	// The cache holds its own copy in both directions.
	counters["7_rl"] = 999
	got["8_ss"] = 999
	fresh, ok := c.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, uint64(100), fresh["7_rl"])
	assert.Equal(t, uint64(200), fresh["8_ss"])
}

func TestNodeTrafficCache_StalenessCeiling(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c := NewNodeTrafficCacheWithClock(24*time.Hour, func() time.Time { return now })

	c.Store(1, map[string]uint64{"7_rl": 100})

	now = now.Add(23 * time.Hour)
	_, ok := c.Lookup(1)
	assert.True(t, ok)

	now = now.Add(2 * time.Hour)
	_, ok = c.Lookup(1)
	assert.False(t, ok)
}

func TestNodeTrafficCache_Sweep(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c := NewNodeTrafficCacheWithClock(24*time.Hour, func() time.Time { return now })

	c.Store(1, map[string]uint64{"a": 1})
	now = now.Add(20 * time.Hour)
	c.Store(2, map[string]uint64{"b": 2})
	now = now.Add(5 * time.Hour)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
	_, ok := c.Lookup(2)
	assert.True(t, ok)
}

func TestMemorySubscriptionConfigCache(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemorySubscriptionConfigCacheWithClock(5*time.Minute, func() time.Time { return now })
	ctx := context.Background()

	_, hit, err := c.Get(ctx, 42)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Set(ctx, 42, "vless://...\nss://..."))
	body, hit, err := c.Get(ctx, 42)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "vless://...\nss://...", body)

	// An empty body is a legitimate cacheable result.
	require.NoError(t, c.Set(ctx, 43, ""))
	body, hit, err = c.Get(ctx, 43)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Empty(t, body)

	now = now.Add(6 * time.Minute)
	_, hit, err = c.Get(ctx, 42)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Set(ctx, 44, "x"))
	require.NoError(t, c.Invalidate(ctx, 44))
	_, hit, err = c.Get(ctx, 44)
	require.NoError(t, err)
	assert.False(t, hit)
}
