package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"sync"

	"github.com/veilnet-io/veilnet/internal/domain/node"
	"github.com/veilnet-io/veilnet/internal/shared/logger"
)

// wireguardClient speaks a wg-easy style API: password session, a flat client
// list with per-client enable/disable endpoints, and a rendered tunnel config
// fetched straight from the panel.
type wireguardClient struct {
	n     *node.Node
	base  string
	doer  *httpDoer
	store *sshSettingsStore
	log   logger.Interface

	mu       sync.Mutex
	loggedIn bool
}

type wgClient struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Enabled    bool   `json:"enabled"`
	PublicKey  string `json:"publicKey"`
	TransferRx uint64 `json:"transferRx"`
	TransferTx uint64 `json:"transferTx"`
}

func newWireguardClient(n *node.Node, opts Options, store *sshSettingsStore, log logger.Interface) *wireguardClient {
	hc := *opts.HTTPClient
	jar, _ := cookiejar.New(nil)
	hc.Jar = jar

	return &wireguardClient{
		n:     n,
		base:  n.PanelCredentials().APIURL,
		doer:  &httpDoer{client: &hc, retryMaxElapsed: opts.RetryMaxElapsed},
		store: store,
		log:   log.With("node", n.Name(), "variant", "wireguard"),
	}
}

func (c *wireguardClient) Login(ctx context.Context) error {
	body := map[string]any{"password": c.n.PanelCredentials().APIPassword}
	if err := c.doer.doJSON(ctx, http.MethodPost, joinURL(c.base, "api/session"), nil, body, nil); err != nil {
		return fmt.Errorf("wireguard login: %w", err)
	}

	c.mu.Lock()
	c.loggedIn = true
	c.mu.Unlock()
	return nil
}

func (c *wireguardClient) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	ok := c.loggedIn
	c.mu.Unlock()
	if ok {
		return nil
	}
	return c.Login(ctx)
}

func (c *wireguardClient) listClients(ctx context.Context) ([]wgClient, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	var clients []wgClient
	if err := c.doer.doJSON(ctx, http.MethodGet, joinURL(c.base, "api/wireguard/client"), nil, nil, &clients); err != nil {
		return nil, fmt.Errorf("wireguard list clients: %w", err)
	}
	return clients, nil
}

func (c *wireguardClient) ListKeys(ctx context.Context) ([]Key, error) {
	clients, err := c.listClients(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]Key, 0, len(clients))
	for _, cl := range clients {
		keys = append(keys, Key{Label: cl.Name, Secret: cl.PublicKey, Enabled: cl.Enabled})
	}
	return keys, nil
}

func (c *wireguardClient) findClient(ctx context.Context, subscriberID uint) (*wgClient, error) {
	clients, err := c.listClients(ctx)
	if err != nil {
		return nil, err
	}
	label := KeyLabel(subscriberID, node.VariantWireguard)
	for i := range clients {
		if clients[i].Name == label {
			return &clients[i], nil
		}
	}
	return nil, ErrKeyNotFound
}

func (c *wireguardClient) GetKey(ctx context.Context, subscriberID uint) (*Key, error) {
	cl, err := c.findClient(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	return &Key{Label: cl.Name, Secret: cl.PublicKey, Enabled: cl.Enabled}, nil
}

func (c *wireguardClient) CreateKey(ctx context.Context, subscriberID uint) (*Key, error) {
	if existing, err := c.findClient(ctx, subscriberID); err == nil {
		return &Key{Label: existing.Name, Secret: existing.PublicKey, Enabled: existing.Enabled}, nil
	} else if !errors.Is(err, ErrKeyNotFound) {
		return nil, err
	}

	label := KeyLabel(subscriberID, node.VariantWireguard)
	body := map[string]any{"name": label}
	if err := c.doer.doJSON(ctx, http.MethodPost, joinURL(c.base, "api/wireguard/client"), nil, body, nil); err != nil {
		return nil, fmt.Errorf("wireguard create client: %w", err)
	}

	created, err := c.findClient(ctx, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("wireguard created client not listed: %w", err)
	}
	return &Key{Label: created.Name, Secret: created.PublicKey, Enabled: created.Enabled}, nil
}

func (c *wireguardClient) EnableKey(ctx context.Context, subscriberID uint) error {
	return c.setEnabled(ctx, subscriberID, true)
}

func (c *wireguardClient) DisableKey(ctx context.Context, subscriberID uint) error {
	return c.setEnabled(ctx, subscriberID, false)
}

func (c *wireguardClient) setEnabled(ctx context.Context, subscriberID uint, enabled bool) error {
	cl, err := c.findClient(ctx, subscriberID)
	if errors.Is(err, ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if cl.Enabled == enabled {
		return nil
	}

	action := "disable"
	if enabled {
		action = "enable"
	}
	apiErr := c.doer.doJSON(ctx, http.MethodPost,
		joinURL(c.base, "api/wireguard/client", cl.ID, action), nil, nil, nil)
	if apiErr == nil {
		return nil
	}

	if c.store != nil {
		if fbErr := c.store.Mutate(ctx, patchWireguardEnable(cl.Name, enabled)); fbErr == nil {
			c.log.Warnw("panel api failed, applied via settings store",
				"subscriber_label", cl.Name, "enabled", enabled, "api_error", apiErr)
			return nil
		}
	}
	return fmt.Errorf("wireguard %s client: %w", action, apiErr)
}

func (c *wireguardClient) DeleteKey(ctx context.Context, subscriberID uint) error {
	cl, err := c.findClient(ctx, subscriberID)
	if errors.Is(err, ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := c.doer.doJSON(ctx, http.MethodDelete, joinURL(c.base, "api/wireguard/client", cl.ID), nil, nil, nil); err != nil {
		return fmt.Errorf("wireguard delete client: %w", err)
	}
	return nil
}

func (c *wireguardClient) ReadCounters(ctx context.Context) (map[string]uint64, error) {
	clients, err := c.listClients(ctx)
	if err != nil {
		return nil, err
	}

	counters := make(map[string]uint64, len(clients))
	for _, cl := range clients {
		counters[cl.Name] = cl.TransferRx + cl.TransferTx
	}
	return counters, nil
}

func (c *wireguardClient) RenderClientConfig(ctx context.Context, subscriberID uint) (string, error) {
	cl, err := c.findClient(ctx, subscriberID)
	if err != nil {
		return "", err
	}
	if err := c.ensureSession(ctx); err != nil {
		return "", err
	}

	// The panel renders the complete tunnel config; we pass it through as-is.
	cfg, err := c.doer.doText(ctx, joinURL(c.base, "api/wireguard/client", cl.ID, "configuration"))
	if err != nil {
		return "", fmt.Errorf("wireguard render config for %s: %w", cl.Name, err)
	}
	return cfg, nil
}

// patchWireguardEnable patches the panel's client store blob: a JSON document
// with a "clients" object keyed by client ID.
func patchWireguardEnable(label string, enabled bool) func([]byte) ([]byte, error) {
	return func(data []byte) ([]byte, error) {
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode settings blob: %w", err)
		}
		clients, ok := doc["clients"].(map[string]any)
		if !ok {
			return nil, errors.New("settings blob has no clients object")
		}
		found := false
		for _, raw := range clients {
			cl, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if cl["name"] == label {
				cl["enabled"] = enabled
				found = true
			}
		}
		if !found {
			return nil, ErrKeyNotFound
		}
		return json.Marshal(doc)
	}
}
