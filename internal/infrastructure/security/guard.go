// Package security implements the per-source-address request guard: a
// sliding-window rate limiter, a failed-verification brute-force ban, and a
// read-only suspicion heuristic. All state is process-wide and in-memory;
// restarts clear it, which is acceptable because windows are short.
package security

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/veilnet-io/veilnet/internal/shared/config"
	"github.com/veilnet-io/veilnet/internal/shared/logger"
)

const shardCount = 32

// Decision is the outcome of a guard check for one request.
type Decision struct {
	Allowed    bool
	Banned     bool
	RetryAfter time.Duration
}

// AddressStats describes the guard's view of one source address.
type AddressStats struct {
	Address      string    `json:"address"`
	RequestCount int       `json:"request_count"`
	FailureCount int       `json:"failure_count"`
	Banned       bool      `json:"banned"`
	BannedUntil  time.Time `json:"banned_until,omitempty"`
	LastSeen     time.Time `json:"last_seen"`
}

// Stats is an aggregate snapshot across all tracked addresses.
type Stats struct {
	TrackedAddresses int            `json:"tracked_addresses"`
	BannedAddresses  int            `json:"banned_addresses"`
	Addresses        []AddressStats `json:"addresses,omitempty"`
}

type addrState struct {
	requests []time.Time
	failures []time.Time
	banUntil time.Time
	lastSeen time.Time
}

type shard struct {
	mu    sync.Mutex
	addrs map[string]*addrState
}

// Guard owns the per-address counters. Addresses are partitioned across
// shards so unrelated sources never contend on one lock.
type Guard struct {
	cfg    config.SecurityConfig
	log    logger.Interface
	now    func() time.Time
	allow  map[string]struct{}
	shards [shardCount]*shard
}

func NewGuard(cfg config.SecurityConfig, log logger.Interface) *Guard {
	return NewGuardWithClock(cfg, log, time.Now)
}

func NewGuardWithClock(cfg config.SecurityConfig, log logger.Interface, now func() time.Time) *Guard {
	g := &Guard{
		cfg:   cfg,
		log:   log.Named("security-guard"),
		now:   now,
		allow: make(map[string]struct{}, len(cfg.AllowList)),
	}
	for _, addr := range cfg.AllowList {
		g.allow[addr] = struct{}{}
	}
	for i := range g.shards {
		g.shards[i] = &shard{addrs: make(map[string]*addrState)}
	}
	return g
}

func (g *Guard) shardFor(addr string) *shard {
	h := fnv.New32a()
	h.Write([]byte(addr))
	return g.shards[h.Sum32()%shardCount]
}

// Check decides whether a request from addr may proceed. Allowed requests are
// recorded against the rate window; rejected ones are not.
func (g *Guard) Check(addr string) Decision {
	if _, ok := g.allow[addr]; ok {
		return Decision{Allowed: true}
	}

	now := g.now()
	s := g.shardFor(addr)
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.addrs[addr]
	if st == nil {
		st = &addrState{}
		s.addrs[addr] = st
	}
	st.lastSeen = now

	// Ban expiry is lazy: no background timer, just re-check on access.
	if !st.banUntil.IsZero() {
		if now.Before(st.banUntil) {
			return Decision{Banned: true, RetryAfter: st.banUntil.Sub(now)}
		}
		st.banUntil = time.Time{}
		st.failures = st.failures[:0]
	}

	st.requests = trimWindow(st.requests, now.Add(-g.cfg.RateWindow()))
	if len(st.requests) >= g.cfg.RateLimit {
		retry := st.requests[0].Add(g.cfg.RateWindow()).Sub(now)
		return Decision{RetryAfter: retry}
	}

	st.requests = append(st.requests, now)
	return Decision{Allowed: true}
}

// RecordFailure registers a failed token verification from addr and bans the
// address once the failure threshold is crossed within the failure window.
func (g *Guard) RecordFailure(addr string) {
	if _, ok := g.allow[addr]; ok {
		return
	}

	now := g.now()
	s := g.shardFor(addr)
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.addrs[addr]
	if st == nil {
		st = &addrState{}
		s.addrs[addr] = st
	}
	st.lastSeen = now

	st.failures = trimWindow(st.failures, now.Add(-g.cfg.BruteForceWindow()))
	st.failures = append(st.failures, now)
	if len(st.failures) >= g.cfg.BruteForceThreshold && st.banUntil.IsZero() {
		st.banUntil = now.Add(g.cfg.BanDuration())
		g.log.Warnw("address banned after repeated failures",
			"address", addr, "failures", len(st.failures), "until", st.banUntil)
	}
}

// Suspicious reports whether addr's request volume over the long window
// exceeds the suspicion threshold. Read-only; never blocks anything.
func (g *Guard) Suspicious(addr string) bool {
	if _, ok := g.allow[addr]; ok {
		return false
	}

	now := g.now()
	s := g.shardFor(addr)
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.addrs[addr]
	if st == nil {
		return false
	}
	count := 0
	cutoff := now.Add(-g.cfg.SuspicionWindow())
	for _, ts := range st.requests {
		if ts.After(cutoff) {
			count++
		}
	}
	return count >= g.cfg.SuspicionThreshold
}

// Unban lifts an active ban on addr. Returns false when addr was not banned.
func (g *Guard) Unban(addr string) bool {
	now := g.now()
	s := g.shardFor(addr)
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.addrs[addr]
	if st == nil || st.banUntil.IsZero() || now.After(st.banUntil) {
		return false
	}
	st.banUntil = time.Time{}
	st.failures = st.failures[:0]
	g.log.Infow("address unbanned", "address", addr)
	return true
}

// Sweep drops idle addresses and trims out-of-window timestamps,
// bounding memory. Meant to run on a schedule.
func (g *Guard) Sweep() int {
	now := g.now()
	idleCutoff := now.Add(-g.cfg.IdleEvictAfter())
	evicted := 0

	for _, s := range g.shards {
		s.mu.Lock()
		for addr, st := range s.addrs {
			if st.lastSeen.Before(idleCutoff) && (st.banUntil.IsZero() || now.After(st.banUntil)) {
				delete(s.addrs, addr)
				evicted++
				continue
			}
			st.requests = trimWindow(st.requests, now.Add(-g.cfg.SuspicionWindow()))
			st.failures = trimWindow(st.failures, now.Add(-g.cfg.BruteForceWindow()))
		}
		s.mu.Unlock()
	}
	if evicted > 0 {
		g.log.Debugw("swept idle addresses", "evicted", evicted)
	}
	return evicted
}

// SnapshotStats returns either an aggregate view or, when addr is non-empty,
// the detail for that single address.
func (g *Guard) SnapshotStats(addr string) Stats {
	now := g.now()

	if addr != "" {
		s := g.shardFor(addr)
		s.mu.Lock()
		defer s.mu.Unlock()
		st := s.addrs[addr]
		if st == nil {
			return Stats{}
		}
		detail := g.addressStats(addr, st, now)
		out := Stats{TrackedAddresses: 1, Addresses: []AddressStats{detail}}
		if detail.Banned {
			out.BannedAddresses = 1
		}
		return out
	}

	var out Stats
	for _, s := range g.shards {
		s.mu.Lock()
		for a, st := range s.addrs {
			out.TrackedAddresses++
			detail := g.addressStats(a, st, now)
			if detail.Banned {
				out.BannedAddresses++
				out.Addresses = append(out.Addresses, detail)
			}
		}
		s.mu.Unlock()
	}
	return out
}

func (g *Guard) addressStats(addr string, st *addrState, now time.Time) AddressStats {
	banned := !st.banUntil.IsZero() && now.Before(st.banUntil)
	out := AddressStats{
		Address:      addr,
		RequestCount: len(trimWindow(append([]time.Time(nil), st.requests...), now.Add(-g.cfg.RateWindow()))),
		FailureCount: len(trimWindow(append([]time.Time(nil), st.failures...), now.Add(-g.cfg.BruteForceWindow()))),
		Banned:       banned,
		LastSeen:     st.lastSeen,
	}
	if banned {
		out.BannedUntil = st.banUntil
	}
	return out
}

// trimWindow drops timestamps at or before cutoff. Slices are append-ordered,
// so the in-window suffix is contiguous.
func trimWindow(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}
