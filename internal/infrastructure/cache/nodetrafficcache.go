package cache

import (
	"sync"
	"time"
)

// NodeTrafficCache keeps the last successfully fetched per-subscriber counter
// map for each node. When a live fetch fails, the ledger substitutes the
// cached map so a flaky node does not erase accrued usage; entries older than
// the staleness ceiling are treated as absent instead.
//
// State is process-wide and reset on restart.
type NodeTrafficCache struct {
	ceiling time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	entries map[uint]*trafficEntry
}

type trafficEntry struct {
	counters  map[string]uint64
	fetchedAt time.Time
}

func NewNodeTrafficCache(ceiling time.Duration) *NodeTrafficCache {
	return NewNodeTrafficCacheWithClock(ceiling, time.Now)
}

func NewNodeTrafficCacheWithClock(ceiling time.Duration, now func() time.Time) *NodeTrafficCache {
	return &NodeTrafficCache{
		ceiling: ceiling,
		now:     now,
		entries: make(map[uint]*trafficEntry),
	}
}

// Store replaces the cached counter map for nodeID. The input map is copied;
// callers may keep mutating theirs.
func (c *NodeTrafficCache) Store(nodeID uint, counters map[string]uint64) {
	cp := make(map[string]uint64, len(counters))
	for k, v := range counters {
		cp[k] = v
	}

	c.mu.Lock()
	c.entries[nodeID] = &trafficEntry{counters: cp, fetchedAt: c.now()}
	c.mu.Unlock()
}

// Lookup returns a copy of the cached counters for nodeID and its age.
// The second return is false when nothing usable is cached: no entry, or one
// past the staleness ceiling.
func (c *NodeTrafficCache) Lookup(nodeID uint) (map[string]uint64, bool) {
	c.mu.RLock()
	entry := c.entries[nodeID]
	c.mu.RUnlock()

	if entry == nil || c.now().Sub(entry.fetchedAt) > c.ceiling {
		return nil, false
	}

	cp := make(map[string]uint64, len(entry.counters))
	for k, v := range entry.counters {
		cp[k] = v
	}
	return cp, true
}

// Sweep drops entries past the staleness ceiling and returns how many were
// removed.
func (c *NodeTrafficCache) Sweep() int {
	cutoff := c.now().Add(-c.ceiling)

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, entry := range c.entries {
		if entry.fetchedAt.Before(cutoff) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Len reports how many node entries are currently cached.
func (c *NodeTrafficCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
