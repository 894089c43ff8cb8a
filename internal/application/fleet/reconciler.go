// Package fleet reconciles per-subscriber key state across every reachable
// node: activation places or re-enables keys, expiry disables them, and the
// probe path reads which nodes currently serve a subscriber. Node failures are
// reduced to per-node results here and never propagate as errors to callers.
package fleet

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/veilnet-io/veilnet/internal/domain/node"
	"github.com/veilnet-io/veilnet/internal/domain/subscriber"
	"github.com/veilnet-io/veilnet/internal/infrastructure/panel"
	"github.com/veilnet-io/veilnet/internal/shared/config"
	"github.com/veilnet-io/veilnet/internal/shared/logger"
)

// TokenIssuer mints a subscriber token during first activation.
type TokenIssuer interface {
	Issue(subscriberID uint) (string, error)
}

// NodeResult is the per-node outcome of a fleet operation.
type NodeResult struct {
	NodeID   uint
	NodeName string
	Variant  node.Variant
	Role     node.Role
	OK       bool
	Created  bool
	Err      error
}

// ActivateResult reports a fleet-wide activation.
type ActivateResult struct {
	Token     string
	Succeeded int
	Results   []NodeResult
}

// ExpireResult reports a fleet-wide expiry.
type ExpireResult struct {
	Disabled int
	Results  []NodeResult
}

// SubscriberStatus is the fleet-facing view of one subscriber.
type SubscriberStatus struct {
	SubscriberID uint
	Active       bool
	Token        string
	ExpiresAt    *time.Time
	CreatedAt    time.Time
}

// ServingNode is one node that holds a live key for a subscriber, with its
// rendered client configuration.
type ServingNode struct {
	NodeID  uint
	Role    node.Role
	Variant node.Variant
	Config  string
}

// Reconciler drives per-node operations with bounded concurrency: each node
// gets its own timeout nested inside an overall deadline, and results that
// completed before the overall deadline are kept even when the rest timed out.
type Reconciler struct {
	subscribers subscriber.Repository
	nodes       node.Repository
	factory     panel.Factory
	issuer      TokenIssuer
	cfg         config.FleetConfig
	log         logger.Interface
	now         func() time.Time
}

func NewReconciler(
	subscribers subscriber.Repository,
	nodes node.Repository,
	factory panel.Factory,
	issuer TokenIssuer,
	cfg config.FleetConfig,
	log logger.Interface,
) *Reconciler {
	return NewReconcilerWithClock(subscribers, nodes, factory, issuer, cfg, log, time.Now)
}

func NewReconcilerWithClock(
	subscribers subscriber.Repository,
	nodes node.Repository,
	factory panel.Factory,
	issuer TokenIssuer,
	cfg config.FleetConfig,
	log logger.Interface,
	now func() time.Time,
) *Reconciler {
	return &Reconciler{
		subscribers: subscribers,
		nodes:       nodes,
		factory:     factory,
		issuer:      issuer,
		cfg:         cfg,
		log:         log.Named("fleet-reconciler"),
		now:         now,
	}
}

// Activate places or re-enables the subscriber's key on every eligible node
// and marks the subscription active. Partial node failure is not total
// failure: the active flag is set even when some nodes failed, and the token
// is issued on first activation regardless of fleet state.
func (r *Reconciler) Activate(ctx context.Context, subscriberID uint, expiresAt *time.Time) (*ActivateResult, error) {
	sub, err := r.subscribers.GetByID(ctx, subscriberID)
	if err != nil {
		return nil, err
	}

	if !sub.HasToken() {
		tok, err := r.issuer.Issue(sub.ID())
		if err != nil {
			return nil, err
		}
		if err := sub.AssignToken(tok); err != nil {
			return nil, err
		}
	}

	nodes, err := r.eligibleNodes(ctx, "")
	if err != nil {
		return nil, err
	}

	results := r.forEachNode(ctx, nodes, func(ctx context.Context, n *node.Node, client panel.Client, res *NodeResult) error {
		_, getErr := client.GetKey(ctx, subscriberID)
		switch {
		case getErr == nil:
			return client.EnableKey(ctx, subscriberID)
		case getErr == panel.ErrKeyNotFound:
			if !n.UnderCapacity() {
				return nil
			}
			if _, err := client.CreateKey(ctx, subscriberID); err != nil {
				return err
			}
			res.Created = true
			n.IncrementCapacity()
			if err := r.nodes.UpdateCapacity(ctx, n.ID(), n.Capacity()); err != nil {
				r.log.Warnw("failed to persist node capacity", "error", err, "node_id", n.ID())
			}
			return nil
		default:
			return getErr
		}
	})

	sub.Activate(expiresAt)
	if err := r.subscribers.Update(ctx, sub); err != nil {
		return nil, err
	}

	out := &ActivateResult{Token: sub.Token(), Results: results}
	for _, res := range results {
		if res.OK {
			out.Succeeded++
		} else {
			r.log.Warnw("node activation failed", "subscriber_id", subscriberID,
				"node_id", res.NodeID, "node", res.NodeName, "error", res.Err)
		}
	}
	r.log.Infow("subscriber activated", "subscriber_id", subscriberID,
		"nodes_ok", out.Succeeded, "nodes_total", len(results))
	return out, nil
}

// Expire disables the subscriber's keys fleet-wide and clears the active flag.
// The flag always flips: billing intent wins over best-effort node cleanup.
func (r *Reconciler) Expire(ctx context.Context, subscriberID uint) (*ExpireResult, error) {
	sub, err := r.subscribers.GetByID(ctx, subscriberID)
	if err != nil {
		return nil, err
	}

	nodes, err := r.eligibleNodes(ctx, "")
	if err != nil {
		return nil, err
	}

	results := r.forEachNode(ctx, nodes, func(ctx context.Context, n *node.Node, client panel.Client, res *NodeResult) error {
		_, getErr := client.GetKey(ctx, subscriberID)
		if getErr == panel.ErrKeyNotFound {
			return nil
		}
		if getErr != nil {
			return getErr
		}
		return client.DisableKey(ctx, subscriberID)
	})

	sub.Deactivate()
	if err := r.subscribers.Update(ctx, sub); err != nil {
		return nil, err
	}

	out := &ExpireResult{Results: results}
	for _, res := range results {
		if res.OK {
			out.Disabled++
		} else {
			r.log.Warnw("node expiry failed", "subscriber_id", subscriberID,
				"node_id", res.NodeID, "node", res.NodeName, "error", res.Err)
		}
	}
	r.log.Infow("subscriber expired", "subscriber_id", subscriberID,
		"nodes_ok", out.Disabled, "nodes_total", len(results))
	return out, nil
}

// SetPoolAccess enables or disables the subscriber's keys on every node of one
// role. The traffic ledger uses it for cap enforcement and period resets.
func (r *Reconciler) SetPoolAccess(ctx context.Context, subscriberID uint, role node.Role, enabled bool) []NodeResult {
	nodes, err := r.eligibleNodes(ctx, role)
	if err != nil {
		r.log.Errorw("failed to list nodes for pool access", "error", err, "role", role)
		return nil
	}

	return r.forEachNode(ctx, nodes, func(ctx context.Context, n *node.Node, client panel.Client, res *NodeResult) error {
		if enabled {
			return client.EnableKey(ctx, subscriberID)
		}
		return client.DisableKey(ctx, subscriberID)
	})
}

// ProbeForServing checks every node for a live key and collects rendered
// client configs. It never mutates state; nodes without a key, with a disabled
// key, or unreachable within the timeout are simply absent from the result.
// Primary nodes order before bypass, then by node ID.
func (r *Reconciler) ProbeForServing(ctx context.Context, subscriberID uint) []ServingNode {
	nodes, err := r.eligibleNodes(ctx, "")
	if err != nil {
		r.log.Errorw("failed to list nodes for probe", "error", err)
		return nil
	}

	var mu sync.Mutex
	var serving []ServingNode
	r.forEachNode(ctx, nodes, func(ctx context.Context, n *node.Node, client panel.Client, res *NodeResult) error {
		key, err := client.GetKey(ctx, subscriberID)
		if err == panel.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if !key.Enabled {
			return nil
		}
		cfg, err := client.RenderClientConfig(ctx, subscriberID)
		if err != nil {
			return err
		}
		mu.Lock()
		serving = append(serving, ServingNode{NodeID: n.ID(), Role: n.Role(), Variant: n.Variant(), Config: cfg})
		mu.Unlock()
		return nil
	})

	sort.Slice(serving, func(i, j int) bool {
		if serving[i].Role != serving[j].Role {
			return serving[i].Role == node.RolePrimary
		}
		return serving[i].NodeID < serving[j].NodeID
	})
	return serving
}

// Status reports the subscriber's activation state and token.
func (r *Reconciler) Status(ctx context.Context, subscriberID uint) (*SubscriberStatus, error) {
	sub, err := r.subscribers.GetByID(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	return &SubscriberStatus{
		SubscriberID: sub.ID(),
		Active:       sub.IsActive(),
		Token:        sub.Token(),
		ExpiresAt:    sub.ExpiresAt(),
		CreatedAt:    sub.CreatedAt(),
	}, nil
}

func (r *Reconciler) eligibleNodes(ctx context.Context, role node.Role) ([]*node.Node, error) {
	nodes, err := r.nodes.ListWork(ctx)
	if err != nil {
		return nil, err
	}
	if role == "" {
		return nodes, nil
	}
	filtered := nodes[:0:0]
	for _, n := range nodes {
		if n.Role() == role {
			filtered = append(filtered, n)
		}
	}
	return filtered, nil
}

// forEachNode runs op against every node with bounded concurrency. Each op
// gets a per-node deadline nested in the overall one; when the overall
// deadline fires, in-flight ops are cancelled and whatever already completed
// stands.
func (r *Reconciler) forEachNode(
	ctx context.Context,
	nodes []*node.Node,
	op func(ctx context.Context, n *node.Node, client panel.Client, res *NodeResult) error,
) []NodeResult {
	overall, cancel := context.WithTimeout(ctx, r.cfg.OverallTimeout())
	defer cancel()

	limit := int64(r.cfg.Concurrency)
	if limit <= 0 {
		limit = 1
	}
	sem := semaphore.NewWeighted(limit)

	results := make([]NodeResult, len(nodes))
	var wg sync.WaitGroup
	for i, n := range nodes {
		results[i] = NodeResult{NodeID: n.ID(), NodeName: n.Name(), Variant: n.Variant(), Role: n.Role()}

		if err := sem.Acquire(overall, 1); err != nil {
			results[i].Err = err
			continue
		}

		wg.Add(1)
		go func(i int, n *node.Node) {
			defer wg.Done()
			defer sem.Release(1)

			nodeCtx, nodeCancel := context.WithTimeout(overall, r.cfg.NodeTimeout())
			defer nodeCancel()

			client, err := r.factory(n)
			if err != nil {
				results[i].Err = err
				return
			}
			if err := op(nodeCtx, n, client, &results[i]); err != nil {
				results[i].Err = err
				return
			}
			results[i].OK = true
		}(i, n)
	}
	wg.Wait()
	return results
}
