// Package panel normalizes create/enable/disable/lookup operations across the
// remote-panel dialects the fleet speaks. Each variant wraps its panel's
// loosely-typed JSON behind one typed capability surface; the rest of the
// system never sees variant-specific fields.
package panel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/veilnet-io/veilnet/internal/domain/node"
	"github.com/veilnet-io/veilnet/internal/shared/logger"
)

var (
	// ErrKeyNotFound means the node holds no key for the subscriber.
	ErrKeyNotFound = errors.New("key not found on node")
	// ErrUnsupported marks an operation the panel dialect cannot express.
	ErrUnsupported = errors.New("operation not supported by panel")
)

// Key is a subscriber's credential as observed on one node. The node is the
// source of truth; nothing here is persisted centrally.
type Key struct {
	Label   string
	Secret  string
	Enabled bool
}

// Client is the capability surface over one remote panel. Every call is
// network I/O and must be assumed to block, error, or hang; callers bound it
// with context deadlines.
type Client interface {
	// Login establishes a panel session where the dialect needs one.
	Login(ctx context.Context) error
	ListKeys(ctx context.Context) ([]Key, error)
	// GetKey returns ErrKeyNotFound when the subscriber has no key here.
	GetKey(ctx context.Context, subscriberID uint) (*Key, error)
	CreateKey(ctx context.Context, subscriberID uint) (*Key, error)
	// EnableKey and DisableKey are idempotent and safe to retry. They never
	// delete the key where the panel can toggle it in place, so panel-side
	// counters survive.
	EnableKey(ctx context.Context, subscriberID uint) error
	DisableKey(ctx context.Context, subscriberID uint) error
	DeleteKey(ctx context.Context, subscriberID uint) error
	// ReadCounters returns cumulative transferred bytes per key label.
	ReadCounters(ctx context.Context) (map[string]uint64, error)
	// RenderClientConfig returns the protocol-specific client URI/config text.
	RenderClientConfig(ctx context.Context, subscriberID uint) (string, error)
}

// Options tunes the HTTP layer shared by all dialects.
type Options struct {
	HTTPClient      *http.Client
	RetryMaxElapsed time.Duration
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if o.RetryMaxElapsed <= 0 {
		o.RetryMaxElapsed = 3 * time.Second
	}
	return o
}

// Factory builds a Client for a node. Kept as a type so reconciliation and
// accounting can be tested against fake fleets.
type Factory func(n *node.Node) (Client, error)

// NewFactory returns the production factory. Nodes with admin SSH credentials
// get the settings-store fallback wired in; for everyone else the panel API is
// the only path.
func NewFactory(opts Options, log logger.Interface) Factory {
	opts = opts.withDefaults()
	return func(n *node.Node) (Client, error) {
		var store *sshSettingsStore
		if n.AdminCredentials().Configured() {
			store = newSSHSettingsStore(n.AdminCredentials(), log)
		}

		switch n.Variant() {
		case node.VariantReality:
			return newRealityClient(n, opts, store, log), nil
		case node.VariantShadowsocks:
			return newShadowsocksClient(n, opts, store, log), nil
		case node.VariantWireguard:
			return newWireguardClient(n, opts, store, log), nil
		default:
			return nil, fmt.Errorf("unknown node variant %q", n.Variant())
		}
	}
}

// KeyLabel is the remote key name for a subscriber on a node of the given
// variant: "{subscriberID}{variantSuffix}". The suffix keeps protocols from
// colliding on shared machines.
func KeyLabel(subscriberID uint, variant node.Variant) string {
	return fmt.Sprintf("%d%s", subscriberID, variant.KeySuffix())
}
