package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilnet-io/veilnet/internal/domain/node"
	"github.com/veilnet-io/veilnet/internal/domain/subscriber"
	"github.com/veilnet-io/veilnet/internal/infrastructure/panel"
	"github.com/veilnet-io/veilnet/internal/shared/config"
	"github.com/veilnet-io/veilnet/internal/shared/logger"
)

type memSubscriberRepo struct {
	mu   sync.Mutex
	subs map[uint]*subscriber.Subscriber
}

func newMemSubscriberRepo(subs ...*subscriber.Subscriber) *memSubscriberRepo {
	r := &memSubscriberRepo{subs: make(map[uint]*subscriber.Subscriber)}
	for _, s := range subs {
		r.subs[s.ID()] = s
	}
	return r
}

func (r *memSubscriberRepo) GetByID(_ context.Context, id uint) (*subscriber.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return nil, errors.New("subscriber not found")
	}
	return s, nil
}

func (r *memSubscriberRepo) GetByToken(_ context.Context, token string) (*subscriber.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.Token() == token {
			return s, nil
		}
	}
	return nil, errors.New("subscriber not found")
}

func (r *memSubscriberRepo) ListActive(_ context.Context) ([]*subscriber.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*subscriber.Subscriber
	for _, s := range r.subs {
		if s.IsActive() {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memSubscriberRepo) Create(_ context.Context, s *subscriber.Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[s.ID()] = s
	return nil
}

func (r *memSubscriberRepo) Update(_ context.Context, s *subscriber.Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[s.ID()] = s
	return nil
}

type memNodeRepo struct {
	mu         sync.Mutex
	nodes      []*node.Node
	capacities map[uint]int
}

func newMemNodeRepo(nodes ...*node.Node) *memNodeRepo {
	return &memNodeRepo{nodes: nodes, capacities: make(map[uint]int)}
}

func (r *memNodeRepo) GetByID(_ context.Context, id uint) (*node.Node, error) {
	for _, n := range r.nodes {
		if n.ID() == id {
			return n, nil
		}
	}
	return nil, errors.New("node not found")
}

func (r *memNodeRepo) ListWork(_ context.Context) ([]*node.Node, error) {
	var out []*node.Node
	for _, n := range r.nodes {
		if n.IsWork() {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r *memNodeRepo) UpdateCapacity(_ context.Context, id uint, capacity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capacities[id] = capacity
	return nil
}

// fakePanel is one node's key store. "slow" panels block until the context
// is cancelled, modelling a hung remote.
type fakePanel struct {
	mu      sync.Mutex
	keys    map[uint]*panel.Key
	variant node.Variant
	slow    bool
	created int
}

func (p *fakePanel) wait(ctx context.Context) error {
	if !p.slow {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (p *fakePanel) Login(ctx context.Context) error { return p.wait(ctx) }

func (p *fakePanel) ListKeys(ctx context.Context) ([]panel.Key, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []panel.Key
	for _, k := range p.keys {
		out = append(out, *k)
	}
	return out, nil
}

func (p *fakePanel) GetKey(ctx context.Context, subscriberID uint) (*panel.Key, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	k, ok := p.keys[subscriberID]
	if !ok {
		return nil, panel.ErrKeyNotFound
	}
	cp := *k
	return &cp, nil
}

func (p *fakePanel) CreateKey(ctx context.Context, subscriberID uint) (*panel.Key, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if k, ok := p.keys[subscriberID]; ok {
		cp := *k
		return &cp, nil
	}
	k := &panel.Key{
		Label:   panel.KeyLabel(subscriberID, p.variant),
		Secret:  fmt.Sprintf("secret-%d", subscriberID),
		Enabled: true,
	}
	p.keys[subscriberID] = k
	p.created++
	cp := *k
	return &cp, nil
}

func (p *fakePanel) setEnabled(ctx context.Context, subscriberID uint, enabled bool) error {
	if err := p.wait(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if k, ok := p.keys[subscriberID]; ok {
		k.Enabled = enabled
	}
	return nil
}

func (p *fakePanel) EnableKey(ctx context.Context, subscriberID uint) error {
	return p.setEnabled(ctx, subscriberID, true)
}

func (p *fakePanel) DisableKey(ctx context.Context, subscriberID uint) error {
	return p.setEnabled(ctx, subscriberID, false)
}

func (p *fakePanel) DeleteKey(ctx context.Context, subscriberID uint) error {
	if err := p.wait(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.keys, subscriberID)
	return nil
}

func (p *fakePanel) ReadCounters(ctx context.Context) (map[string]uint64, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return map[string]uint64{}, nil
}

func (p *fakePanel) RenderClientConfig(ctx context.Context, subscriberID uint) (string, error) {
	if err := p.wait(ctx); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	k, ok := p.keys[subscriberID]
	if !ok {
		return "", panel.ErrKeyNotFound
	}
	return "config://" + k.Label, nil
}

type fakeFleet struct {
	panels map[uint]*fakePanel
}

func (f *fakeFleet) factory(n *node.Node) (panel.Client, error) {
	p, ok := f.panels[n.ID()]
	if !ok {
		return nil, errors.New("no panel for node")
	}
	return p, nil
}

func testNode(t *testing.T, id uint, variant node.Variant, role node.Role) *node.Node {
	n, err := node.ReconstructNode(
		id, fmt.Sprintf("node-%d", id), variant, true, role,
		fmt.Sprintf("198.51.100.%d", id), 443,
		node.PanelCredentials{APIURL: "http://panel"}, node.AdminCredentials{},
		0, 0, time.Now(),
	)
	require.NoError(t, err)
	return n
}

func testFleetConfig() config.FleetConfig {
	return config.FleetConfig{
		NodeTimeoutSeconds:    1,
		OverallTimeoutSeconds: 5,
		Concurrency:           8,
	}
}

type staticIssuer struct{}

func (staticIssuer) Issue(subscriberID uint) (string, error) {
	return fmt.Sprintf("token-%d", subscriberID), nil
}

func newTestSubscriber(t *testing.T, id uint) *subscriber.Subscriber {
	sub, err := subscriber.NewSubscriber(id)
	require.NoError(t, err)
	return sub
}

func TestReconciler_ActivateSurvivesTimeouts(t *testing.T) {
	variants := []node.Variant{
		node.VariantReality, node.VariantShadowsocks, node.VariantWireguard,
		node.VariantReality, node.VariantShadowsocks,
	}
	fleet := &fakeFleet{panels: make(map[uint]*fakePanel)}
	var nodes []*node.Node
	for i, v := range variants {
		id := uint(i + 1)
		nodes = append(nodes, testNode(t, id, v, node.RolePrimary))
		fleet.panels[id] = &fakePanel{keys: make(map[uint]*panel.Key), variant: v, slow: id >= 4}
	}

	subs := newMemSubscriberRepo(newTestSubscriber(t, 77))
	r := NewReconciler(subs, newMemNodeRepo(nodes...), fleet.factory, staticIssuer{}, testFleetConfig(), logger.NewNop())

	res, err := r.Activate(context.Background(), 77, nil)
	require.NoError(t, err)

	assert.Equal(t, "token-77", res.Token)
	assert.Equal(t, 3, res.Succeeded)
	assert.Len(t, res.Results, 5)

	sub, err := subs.GetByID(context.Background(), 77)
	require.NoError(t, err)
	assert.True(t, sub.IsActive())
	assert.Equal(t, "token-77", sub.Token())

	// Keys landed only on the responsive nodes.
	for id, p := range fleet.panels {
		if p.slow {
			assert.Empty(t, p.keys, "slow node %d must have no key", id)
		} else {
			assert.Len(t, p.keys, 1, "node %d should hold the key", id)
		}
	}
}

func TestReconciler_ActivateIsIdempotentAndReEnables(t *testing.T) {
	n := testNode(t, 1, node.VariantShadowsocks, node.RolePrimary)
	p := &fakePanel{keys: make(map[uint]*panel.Key), variant: node.VariantShadowsocks}
	fleet := &fakeFleet{panels: map[uint]*fakePanel{1: p}}
	subs := newMemSubscriberRepo(newTestSubscriber(t, 5))
	r := NewReconciler(subs, newMemNodeRepo(n), fleet.factory, staticIssuer{}, testFleetConfig(), logger.NewNop())
	ctx := context.Background()

	first, err := r.Activate(ctx, 5, nil)
	require.NoError(t, err)
	assert.True(t, first.Results[0].Created)

	p.keys[5].Enabled = false
	second, err := r.Activate(ctx, 5, nil)
	require.NoError(t, err)
	assert.False(t, second.Results[0].Created)
	assert.Equal(t, first.Token, second.Token)
	assert.Equal(t, 1, p.created)
	assert.True(t, p.keys[5].Enabled)
}

func TestReconciler_ActivateSkipsFullNodes(t *testing.T) {
	full, err := node.ReconstructNode(
		1, "full-node", node.VariantReality, true, node.RolePrimary,
		"198.51.100.1", 443,
		node.PanelCredentials{}, node.AdminCredentials{},
		10, 10, time.Now(),
	)
	require.NoError(t, err)

	p := &fakePanel{keys: make(map[uint]*panel.Key), variant: node.VariantReality}
	fleet := &fakeFleet{panels: map[uint]*fakePanel{1: p}}
	subs := newMemSubscriberRepo(newTestSubscriber(t, 6))
	r := NewReconciler(subs, newMemNodeRepo(full), fleet.factory, staticIssuer{}, testFleetConfig(), logger.NewNop())

	res, err := r.Activate(context.Background(), 6, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Empty(t, p.keys)
}

func TestReconciler_ExpireAlwaysDeactivates(t *testing.T) {
	nodes := []*node.Node{
		testNode(t, 1, node.VariantReality, node.RolePrimary),
		testNode(t, 2, node.VariantWireguard, node.RoleBypass),
	}
	fleet := &fakeFleet{panels: map[uint]*fakePanel{
		1: {keys: make(map[uint]*panel.Key), variant: node.VariantReality},
		2: {keys: make(map[uint]*panel.Key), variant: node.VariantWireguard, slow: true},
	}}
	subs := newMemSubscriberRepo(newTestSubscriber(t, 9))
	r := NewReconciler(subs, newMemNodeRepo(nodes...), fleet.factory, staticIssuer{}, testFleetConfig(), logger.NewNop())
	ctx := context.Background()

	fleet.panels[1].keys[9] = &panel.Key{Label: "9_rl", Enabled: true}
	fleet.panels[2].keys[9] = &panel.Key{Label: "9_wg", Enabled: true}

	sub, _ := subs.GetByID(ctx, 9)
	sub.Activate(nil)

	res, err := r.Expire(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Disabled)

	sub, err = subs.GetByID(ctx, 9)
	require.NoError(t, err)
	assert.False(t, sub.IsActive(), "active flag flips even with node failures")
	assert.False(t, fleet.panels[1].keys[9].Enabled)
	assert.True(t, fleet.panels[2].keys[9].Enabled, "hung node untouched")
}

func TestReconciler_ProbeForServingOrdersPrimaryFirst(t *testing.T) {
	nodes := []*node.Node{
		testNode(t, 1, node.VariantWireguard, node.RoleBypass),
		testNode(t, 2, node.VariantReality, node.RolePrimary),
		testNode(t, 3, node.VariantShadowsocks, node.RolePrimary),
		testNode(t, 4, node.VariantShadowsocks, node.RoleBypass),
	}
	fleet := &fakeFleet{panels: make(map[uint]*fakePanel)}
	for _, n := range nodes {
		fleet.panels[n.ID()] = &fakePanel{keys: make(map[uint]*panel.Key), variant: n.Variant()}
	}
	subs := newMemSubscriberRepo(newTestSubscriber(t, 3))
	r := NewReconciler(subs, newMemNodeRepo(nodes...), fleet.factory, staticIssuer{}, testFleetConfig(), logger.NewNop())
	ctx := context.Background()

	// Keys on nodes 1, 2, 3; the one on 3 is disabled.
	fleet.panels[1].keys[3] = &panel.Key{Label: "3_wg", Enabled: true}
	fleet.panels[2].keys[3] = &panel.Key{Label: "3_rl", Enabled: true}
	fleet.panels[3].keys[3] = &panel.Key{Label: "3_ss", Enabled: false}

	serving := r.ProbeForServing(ctx, 3)
	require.Len(t, serving, 2)
	assert.Equal(t, uint(2), serving[0].NodeID)
	assert.Equal(t, node.RolePrimary, serving[0].Role)
	assert.Equal(t, uint(1), serving[1].NodeID)
	assert.Equal(t, "config://3_rl", serving[0].Config)
	assert.Equal(t, "config://3_wg", serving[1].Config)
}

func TestReconciler_SetPoolAccessScopesByRole(t *testing.T) {
	nodes := []*node.Node{
		testNode(t, 1, node.VariantReality, node.RolePrimary),
		testNode(t, 2, node.VariantWireguard, node.RoleBypass),
	}
	fleet := &fakeFleet{panels: map[uint]*fakePanel{
		1: {keys: make(map[uint]*panel.Key), variant: node.VariantReality},
		2: {keys: make(map[uint]*panel.Key), variant: node.VariantWireguard},
	}}
	subs := newMemSubscriberRepo(newTestSubscriber(t, 4))
	r := NewReconciler(subs, newMemNodeRepo(nodes...), fleet.factory, staticIssuer{}, testFleetConfig(), logger.NewNop())
	ctx := context.Background()

	fleet.panels[1].keys[4] = &panel.Key{Label: "4_rl", Enabled: true}
	fleet.panels[2].keys[4] = &panel.Key{Label: "4_wg", Enabled: true}

	results := r.SetPoolAccess(ctx, 4, node.RolePrimary, false)
	require.Len(t, results, 1)
	assert.True(t, results[0].OK)
	assert.False(t, fleet.panels[1].keys[4].Enabled)
	assert.True(t, fleet.panels[2].keys[4].Enabled)
}

func TestReconciler_Status(t *testing.T) {
	sub := newTestSubscriber(t, 12)
	require.NoError(t, sub.AssignToken("token-12"))
	sub.Activate(nil)
	subs := newMemSubscriberRepo(sub)
	r := NewReconciler(subs, newMemNodeRepo(), (&fakeFleet{}).factory, staticIssuer{}, testFleetConfig(), logger.NewNop())

	st, err := r.Status(context.Background(), 12)
	require.NoError(t, err)
	assert.True(t, st.Active)
	assert.Equal(t, "token-12", st.Token)
	assert.Equal(t, uint(12), st.SubscriberID)
}
