// Package traffic converts the fleet's raw, ever-increasing per-node byte
// counters into billing-period usage per subscriber and pool. It is resilient
// to node unavailability (per-node counter cache) and node reinstallation
// (daily snapshot history), and reports threshold/cap/reset side effects as
// events for an external notifier.
package traffic

import (
	"context"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veilnet-io/veilnet/internal/application/fleet"
	"github.com/veilnet-io/veilnet/internal/domain/node"
	"github.com/veilnet-io/veilnet/internal/domain/subscriber"
	"github.com/veilnet-io/veilnet/internal/infrastructure/cache"
	"github.com/veilnet-io/veilnet/internal/infrastructure/panel"
	"github.com/veilnet-io/veilnet/internal/shared/biztime"
	"github.com/veilnet-io/veilnet/internal/shared/config"
	"github.com/veilnet-io/veilnet/internal/shared/logger"
)

// EventType tags a ledger side effect.
type EventType string

const (
	EventThresholdCrossed EventType = "threshold_crossed"
	EventCapExceeded      EventType = "cap_exceeded"
	EventPoolReset        EventType = "pool_reset"
)

// Event is one accounting side effect. The ledger never sends notifications
// itself; an external notifier collaborator consumes these.
type Event struct {
	Type         EventType
	SubscriberID uint
	Pool         subscriber.Pool
	Percent      int
	UsedBytes    uint64
	CapBytes     uint64
}

// UsageReport answers the traffic query for one subscriber and pool.
type UsageReport struct {
	SubscriberID   uint            `json:"subscriber_id"`
	Pool           subscriber.Pool `json:"pool"`
	UsedBytes      uint64          `json:"used_bytes"`
	CapBytes       uint64          `json:"cap_bytes"`
	RemainingBytes uint64          `json:"remaining_bytes"`
	Percent        float64         `json:"percent"`
	DaysUntilReset int             `json:"days_until_reset"`
}

// PoolAccess is the fleet operation the ledger needs for cap enforcement and
// reset recovery.
type PoolAccess interface {
	SetPoolAccess(ctx context.Context, subscriberID uint, role node.Role, enabled bool) []fleet.NodeResult
}

// Ledger owns usage accounting across both pools.
type Ledger struct {
	subscribers subscriber.Repository
	nodes       node.Repository
	daily       node.DailyTrafficRepository
	factory     panel.Factory
	fleet       PoolAccess
	counters    *cache.NodeTrafficCache
	cfg         config.TrafficConfig
	fleetCfg    config.FleetConfig
	log         logger.Interface
	now         func() time.Time
}

func NewLedger(
	subscribers subscriber.Repository,
	nodes node.Repository,
	daily node.DailyTrafficRepository,
	factory panel.Factory,
	fleet PoolAccess,
	counters *cache.NodeTrafficCache,
	cfg config.TrafficConfig,
	fleetCfg config.FleetConfig,
	log logger.Interface,
) *Ledger {
	return NewLedgerWithClock(subscribers, nodes, daily, factory, fleet, counters, cfg, fleetCfg, log, biztime.NowUTC)
}

func NewLedgerWithClock(
	subscribers subscriber.Repository,
	nodes node.Repository,
	daily node.DailyTrafficRepository,
	factory panel.Factory,
	fleet PoolAccess,
	counters *cache.NodeTrafficCache,
	cfg config.TrafficConfig,
	fleetCfg config.FleetConfig,
	log logger.Interface,
	now func() time.Time,
) *Ledger {
	return &Ledger{
		subscribers: subscribers,
		nodes:       nodes,
		daily:       daily,
		factory:     factory,
		fleet:       fleet,
		counters:    counters,
		cfg:         cfg,
		fleetCfg:    fleetCfg,
		log:         log.Named("traffic-ledger"),
		now:         now,
	}
}

// Sync runs one accounting pass: fetch every node's counters, sum per
// subscriber per pool, advance the cumulative counters, and enforce caps and
// thresholds. Returned events are the side effects an external notifier
// should deliver.
func (l *Ledger) Sync(ctx context.Context) ([]Event, error) {
	nodes, err := l.nodes.ListWork(ctx)
	if err != nil {
		return nil, err
	}
	fetched := l.fetchCounters(ctx, nodes)

	subs, err := l.subscribers.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, sub := range subs {
		subEvents, err := l.syncSubscriber(ctx, sub, nodes, fetched)
		if err != nil {
			l.log.Errorw("failed to sync subscriber traffic", "error", err, "subscriber_id", sub.ID())
			continue
		}
		events = append(events, subEvents...)
	}
	return events, nil
}

func (l *Ledger) syncSubscriber(
	ctx context.Context,
	sub *subscriber.Subscriber,
	nodes []*node.Node,
	fetched map[uint]map[string]uint64,
) ([]Event, error) {
	primarySum, bypassSum := sumPools(sub.ID(), nodes, fetched)

	// The daily history is immune to node wipes: when a primary node was
	// reinstalled its live counter restarts at zero, but yesterday's snapshot
	// still carries what the subscriber already used there.
	history, err := l.daily.LatestPerNode(ctx, sub.ID())
	if err != nil {
		l.log.Warnw("failed to load daily history", "error", err, "subscriber_id", sub.ID())
	} else {
		var historySum uint64
		for _, n := range nodes {
			if n.Role() == node.RolePrimary {
				historySum += history[n.ID()]
			}
		}
		if historySum > primarySum {
			primarySum = historySum
		}
	}

	var events []Event
	events = append(events, l.applyPool(ctx, sub, subscriber.PoolPrimary, node.RolePrimary, primarySum, l.cfg.PrimaryCapBytes())...)
	events = append(events, l.applyPool(ctx, sub, subscriber.PoolBypass, node.RoleBypass, bypassSum, l.cfg.BypassCapBytes())...)

	if err := l.subscribers.Update(ctx, sub); err != nil {
		return nil, err
	}
	return events, nil
}

func (l *Ledger) applyPool(
	ctx context.Context,
	sub *subscriber.Subscriber,
	pool subscriber.Pool,
	role node.Role,
	observed uint64,
	cap uint64,
) []Event {
	state, err := sub.PoolState(pool)
	if err != nil {
		return nil
	}

	wasOver := state.OverCap(cap)
	state.ApplyCumulative(observed)

	var events []Event
	if state.OverCap(cap) && !wasOver {
		l.fleet.SetPoolAccess(ctx, sub.ID(), role, false)
		l.log.Warnw("traffic cap exceeded, pool access disabled",
			"subscriber_id", sub.ID(), "pool", pool, "used", state.Usage(), "cap", cap)
		events = append(events, Event{
			Type: EventCapExceeded, SubscriberID: sub.ID(), Pool: pool,
			Percent: 100, UsedBytes: state.Usage(), CapBytes: cap,
		})
		return events
	}

	for _, pct := range state.CrossedThresholds(cap) {
		events = append(events, Event{
			Type: EventThresholdCrossed, SubscriberID: sub.ID(), Pool: pool,
			Percent: pct, UsedBytes: state.Usage(), CapBytes: cap,
		})
	}
	return events
}

// ResetDue starts a new billing period for every active subscriber whose pool
// period has elapsed (or never started). Pools that were disabled by cap
// enforcement get their fleet access back.
func (l *Ledger) ResetDue(ctx context.Context) ([]Event, error) {
	subs, err := l.subscribers.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	now := l.now()
	var events []Event
	for _, sub := range subs {
		changed := false
		for _, p := range []struct {
			pool subscriber.Pool
			role node.Role
			cap  uint64
		}{
			{subscriber.PoolPrimary, node.RolePrimary, l.cfg.PrimaryCapBytes()},
			{subscriber.PoolBypass, node.RoleBypass, l.cfg.BypassCapBytes()},
		} {
			state, err := sub.PoolState(p.pool)
			if err != nil {
				continue
			}
			if !state.NeedsReset(l.cfg.Period(), now) {
				continue
			}
			wasOver := state.OverCap(p.cap)
			state.Reset(now)
			changed = true
			if wasOver {
				l.fleet.SetPoolAccess(ctx, sub.ID(), p.role, true)
				l.log.Infow("pool access restored after reset",
					"subscriber_id", sub.ID(), "pool", p.pool)
			}
			events = append(events, Event{
				Type: EventPoolReset, SubscriberID: sub.ID(), Pool: p.pool, CapBytes: p.cap,
			})
		}
		if !changed {
			continue
		}
		if err := l.subscribers.Update(ctx, sub); err != nil {
			l.log.Errorw("failed to persist pool reset", "error", err, "subscriber_id", sub.ID())
		}
	}
	return events, nil
}

// Reset starts a new billing period for one subscriber's pool immediately,
// regardless of the schedule. Used by the admin surface for plan changes and
// goodwill resets. Restores pool access when the pool was over cap.
func (l *Ledger) Reset(ctx context.Context, subscriberID uint, pool subscriber.Pool) (*Event, error) {
	sub, err := l.subscribers.GetByID(ctx, subscriberID)
	if err != nil {
		return nil, err
	}

	state, err := sub.PoolState(pool)
	if err != nil {
		return nil, err
	}

	var role node.Role
	var capBytes uint64
	if pool == subscriber.PoolPrimary {
		role, capBytes = node.RolePrimary, l.cfg.PrimaryCapBytes()
	} else {
		role, capBytes = node.RoleBypass, l.cfg.BypassCapBytes()
	}

	wasOver := state.OverCap(capBytes)
	state.Reset(l.now())
	if wasOver {
		l.fleet.SetPoolAccess(ctx, subscriberID, role, true)
		l.log.Infow("pool access restored after manual reset",
			"subscriber_id", subscriberID, "pool", pool)
	}

	if err := l.subscribers.Update(ctx, sub); err != nil {
		return nil, err
	}

	return &Event{
		Type: EventPoolReset, SubscriberID: subscriberID, Pool: pool, CapBytes: capBytes,
	}, nil
}

// SnapshotDaily upserts today's per-(subscriber, node) counter snapshot so
// billing history survives node wipes. Only live reads are written; cached
// counters never become history.
func (l *Ledger) SnapshotDaily(ctx context.Context) error {
	nodes, err := l.nodes.ListWork(ctx)
	if err != nil {
		return err
	}

	today := biztime.DateOf(l.now())
	written := 0
	for _, n := range nodes {
		counters, ok := l.fetchNodeLive(ctx, n)
		if !ok {
			continue
		}
		for label, bytes := range counters {
			subscriberID, ok := parseKeyLabel(label, n.Variant())
			if !ok {
				continue
			}
			rec, err := node.NewDailyTrafficRecord(subscriberID, n.ID(), today, bytes)
			if err != nil {
				continue
			}
			if err := l.daily.Upsert(ctx, rec); err != nil {
				l.log.Warnw("failed to upsert daily snapshot", "error", err,
					"subscriber_id", subscriberID, "node_id", n.ID())
				continue
			}
			written++
		}
	}
	l.log.Infow("daily traffic snapshot written", "records", written, "date", today)
	return nil
}

// Usage answers the traffic query for one subscriber and pool.
func (l *Ledger) Usage(ctx context.Context, subscriberID uint, pool subscriber.Pool) (*UsageReport, error) {
	sub, err := l.subscribers.GetByID(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	state, err := sub.PoolState(pool)
	if err != nil {
		return nil, err
	}

	cap := l.cfg.PrimaryCapBytes()
	if pool == subscriber.PoolBypass {
		cap = l.cfg.BypassCapBytes()
	}

	used := state.Usage()
	report := &UsageReport{
		SubscriberID:   subscriberID,
		Pool:           pool,
		UsedBytes:      used,
		CapBytes:       cap,
		DaysUntilReset: state.DaysUntilReset(l.cfg.Period(), l.now()),
	}
	if cap > used {
		report.RemainingBytes = cap - used
	}
	if cap > 0 {
		report.Percent = float64(used) / float64(cap) * 100
	}
	return report, nil
}

// fetchCounters reads every node's counter map in parallel. A failed live
// read falls back to the node's cached map while it is younger than the
// staleness ceiling; past that the node contributes nothing.
func (l *Ledger) fetchCounters(ctx context.Context, nodes []*node.Node) map[uint]map[string]uint64 {
	out := make(map[uint]map[string]uint64, len(nodes))
	results := make([]map[string]uint64, len(nodes))

	g, gctx := errgroup.WithContext(ctx)
	limit := l.fleetCfg.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, n := range nodes {
		g.Go(func() error {
			if counters, ok := l.fetchNodeLive(gctx, n); ok {
				results[i] = counters
				return nil
			}
			if cached, ok := l.counters.Lookup(n.ID()); ok {
				l.log.Warnw("using cached counters for unreachable node", "node_id", n.ID())
				results[i] = cached
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, n := range nodes {
		if results[i] != nil {
			out[n.ID()] = results[i]
		}
	}
	return out
}

func (l *Ledger) fetchNodeLive(ctx context.Context, n *node.Node) (map[string]uint64, bool) {
	client, err := l.factory(n)
	if err != nil {
		l.log.Errorw("failed to build panel client", "error", err, "node_id", n.ID())
		return nil, false
	}

	nodeCtx, cancel := context.WithTimeout(ctx, l.fleetCfg.NodeTimeout())
	defer cancel()

	counters, err := client.ReadCounters(nodeCtx)
	if err != nil {
		l.log.Warnw("failed to read node counters", "error", err, "node_id", n.ID())
		return nil, false
	}
	l.counters.Store(n.ID(), counters)
	return counters, true
}

// sumPools adds each node's counter for the subscriber's key label into the
// pool matching the node's role.
func sumPools(subscriberID uint, nodes []*node.Node, fetched map[uint]map[string]uint64) (primary, bypass uint64) {
	for _, n := range nodes {
		counters, ok := fetched[n.ID()]
		if !ok {
			continue
		}
		bytes := counters[panel.KeyLabel(subscriberID, n.Variant())]
		if n.Role() == node.RoleBypass {
			bypass += bytes
		} else {
			primary += bytes
		}
	}
	return primary, bypass
}

// parseKeyLabel recovers the subscriber ID from a remote key label of the
// node's variant. Foreign labels (manually created keys) are skipped.
func parseKeyLabel(label string, variant node.Variant) (uint, bool) {
	suffix := variant.KeySuffix()
	if suffix == "" || !strings.HasSuffix(label, suffix) {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimSuffix(label, suffix), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
