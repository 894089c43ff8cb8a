package panel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/veilnet-io/veilnet/internal/domain/node"
	"github.com/veilnet-io/veilnet/internal/shared/logger"
)

// disabledLimitBytes throttles a key to effectively nothing. The Outline
// dialect has no enable flag, so disable means a 1-byte data limit and enable
// means removing the limit; the key itself survives and keeps its counters.
const disabledLimitBytes = 1

// shadowsocksClient speaks the Outline server management API: unauthenticated
// REST on a secret base path, access keys with optional per-key data limits,
// transfer metrics keyed by access-key ID.
type shadowsocksClient struct {
	n     *node.Node
	base  string
	doer  *httpDoer
	store *sshSettingsStore
	log   logger.Interface
}

type outlineAccessKey struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Password  string `json:"password"`
	Port      int    `json:"port"`
	Method    string `json:"method"`
	AccessURL string `json:"accessUrl"`
	DataLimit *struct {
		Bytes uint64 `json:"bytes"`
	} `json:"dataLimit,omitempty"`
}

func (k *outlineAccessKey) enabled() bool {
	return k.DataLimit == nil || k.DataLimit.Bytes > disabledLimitBytes
}

func newShadowsocksClient(n *node.Node, opts Options, store *sshSettingsStore, log logger.Interface) *shadowsocksClient {
	return &shadowsocksClient{
		n:     n,
		base:  n.PanelCredentials().APIURL,
		doer:  &httpDoer{client: opts.HTTPClient, retryMaxElapsed: opts.RetryMaxElapsed},
		store: store,
		log:   log.With("node", n.Name(), "variant", "shadowsocks"),
	}
}

// Login is a no-op: the secret base path is the whole authentication story.
func (c *shadowsocksClient) Login(ctx context.Context) error {
	return nil
}

func (c *shadowsocksClient) listAccessKeys(ctx context.Context) ([]outlineAccessKey, error) {
	var resp struct {
		AccessKeys []outlineAccessKey `json:"accessKeys"`
	}
	if err := c.doer.doJSON(ctx, http.MethodGet, joinURL(c.base, "access-keys"), nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("shadowsocks list keys: %w", err)
	}
	return resp.AccessKeys, nil
}

func (c *shadowsocksClient) ListKeys(ctx context.Context) ([]Key, error) {
	accessKeys, err := c.listAccessKeys(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]Key, 0, len(accessKeys))
	for _, ak := range accessKeys {
		keys = append(keys, Key{Label: ak.Name, Secret: ak.Password, Enabled: ak.enabled()})
	}
	return keys, nil
}

func (c *shadowsocksClient) findKey(ctx context.Context, subscriberID uint) (*outlineAccessKey, error) {
	accessKeys, err := c.listAccessKeys(ctx)
	if err != nil {
		return nil, err
	}
	label := KeyLabel(subscriberID, node.VariantShadowsocks)
	for i := range accessKeys {
		if accessKeys[i].Name == label {
			return &accessKeys[i], nil
		}
	}
	return nil, ErrKeyNotFound
}

func (c *shadowsocksClient) GetKey(ctx context.Context, subscriberID uint) (*Key, error) {
	ak, err := c.findKey(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	return &Key{Label: ak.Name, Secret: ak.Password, Enabled: ak.enabled()}, nil
}

func (c *shadowsocksClient) CreateKey(ctx context.Context, subscriberID uint) (*Key, error) {
	if existing, err := c.findKey(ctx, subscriberID); err == nil {
		return &Key{Label: existing.Name, Secret: existing.Password, Enabled: existing.enabled()}, nil
	} else if !errors.Is(err, ErrKeyNotFound) {
		return nil, err
	}

	label := KeyLabel(subscriberID, node.VariantShadowsocks)
	var created outlineAccessKey
	body := map[string]any{"name": label}
	if err := c.doer.doJSON(ctx, http.MethodPost, joinURL(c.base, "access-keys"), nil, body, &created); err != nil {
		return nil, fmt.Errorf("shadowsocks create key: %w", err)
	}

	// Older servers ignore the name on create; rename explicitly.
	if created.Name != label {
		renameBody := map[string]any{"name": label}
		if err := c.doer.doJSON(ctx, http.MethodPut, joinURL(c.base, "access-keys", created.ID, "name"), nil, renameBody, nil); err != nil {
			return nil, fmt.Errorf("shadowsocks rename key: %w", err)
		}
		created.Name = label
	}

	return &Key{Label: created.Name, Secret: created.Password, Enabled: true}, nil
}

func (c *shadowsocksClient) EnableKey(ctx context.Context, subscriberID uint) error {
	ak, err := c.findKey(ctx, subscriberID)
	if errors.Is(err, ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if ak.enabled() {
		return nil
	}

	apiErr := c.doer.doJSON(ctx, http.MethodDelete, joinURL(c.base, "access-keys", ak.ID, "data-limit"), nil, nil, nil)
	if apiErr == nil {
		return nil
	}
	return c.limitFallback(ctx, subscriberID, ak, nil, apiErr)
}

func (c *shadowsocksClient) DisableKey(ctx context.Context, subscriberID uint) error {
	ak, err := c.findKey(ctx, subscriberID)
	if errors.Is(err, ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !ak.enabled() {
		return nil
	}

	limit := uint64(disabledLimitBytes)
	body := map[string]any{"limit": map[string]any{"bytes": limit}}
	apiErr := c.doer.doJSON(ctx, http.MethodPut, joinURL(c.base, "access-keys", ak.ID, "data-limit"), nil, body, nil)
	if apiErr == nil {
		return nil
	}
	return c.limitFallback(ctx, subscriberID, ak, &limit, apiErr)
}

// limitFallback handles panels that reject per-key data limits: first the
// settings store, then delete-and-recreate with the limit baked in.
func (c *shadowsocksClient) limitFallback(ctx context.Context, subscriberID uint, ak *outlineAccessKey, limit *uint64, apiErr error) error {
	if c.store != nil {
		if fbErr := c.store.Mutate(ctx, patchAccessKeyLimit(ak.Name, limit)); fbErr == nil {
			c.log.Warnw("panel api failed, applied via settings store",
				"subscriber_label", ak.Name, "api_error", apiErr)
			return nil
		}
	}

	// Delete-then-recreate loses the secret but honors the billing intent.
	if err := c.doer.doJSON(ctx, http.MethodDelete, joinURL(c.base, "access-keys", ak.ID), nil, nil, nil); err != nil {
		return fmt.Errorf("shadowsocks set data limit: %w", apiErr)
	}
	body := map[string]any{"name": ak.Name}
	if limit != nil {
		body["limit"] = map[string]any{"bytes": *limit}
	}
	if err := c.doer.doJSON(ctx, http.MethodPost, joinURL(c.base, "access-keys"), nil, body, nil); err != nil {
		return fmt.Errorf("shadowsocks recreate key: %w", err)
	}
	return nil
}

func (c *shadowsocksClient) DeleteKey(ctx context.Context, subscriberID uint) error {
	ak, err := c.findKey(ctx, subscriberID)
	if errors.Is(err, ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := c.doer.doJSON(ctx, http.MethodDelete, joinURL(c.base, "access-keys", ak.ID), nil, nil, nil); err != nil {
		return fmt.Errorf("shadowsocks delete key: %w", err)
	}
	return nil
}

func (c *shadowsocksClient) ReadCounters(ctx context.Context) (map[string]uint64, error) {
	accessKeys, err := c.listAccessKeys(ctx)
	if err != nil {
		return nil, err
	}
	idToLabel := make(map[string]string, len(accessKeys))
	for _, ak := range accessKeys {
		idToLabel[ak.ID] = ak.Name
	}

	var metrics struct {
		BytesTransferredByUserID map[string]uint64 `json:"bytesTransferredByUserId"`
	}
	if err := c.doer.doJSON(ctx, http.MethodGet, joinURL(c.base, "metrics/transfer"), nil, nil, &metrics); err != nil {
		return nil, fmt.Errorf("shadowsocks read metrics: %w", err)
	}

	counters := make(map[string]uint64, len(metrics.BytesTransferredByUserID))
	for id, bytes := range metrics.BytesTransferredByUserID {
		label, ok := idToLabel[id]
		if !ok {
			continue
		}
		counters[label] = bytes
	}
	return counters, nil
}

func (c *shadowsocksClient) RenderClientConfig(ctx context.Context, subscriberID uint) (string, error) {
	ak, err := c.findKey(ctx, subscriberID)
	if err != nil {
		return "", err
	}

	if ak.AccessURL != "" {
		return fmt.Sprintf("%s#%s", ak.AccessURL, url.PathEscape(ak.Name)), nil
	}

	userInfo := base64.RawURLEncoding.EncodeToString([]byte(ak.Method + ":" + ak.Password))
	return fmt.Sprintf("ss://%s@%s:%d#%s",
		userInfo, c.n.Address(), ak.Port, url.PathEscape(ak.Name)), nil
}

// patchAccessKeyLimit patches the server's key store blob: a JSON document
// with a top-level "accessKeys" array. A nil limit removes the entry's limit.
func patchAccessKeyLimit(label string, limit *uint64) func([]byte) ([]byte, error) {
	return func(data []byte) ([]byte, error) {
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode settings blob: %w", err)
		}
		keys, ok := doc["accessKeys"].([]any)
		if !ok {
			return nil, errors.New("settings blob has no accessKeys array")
		}
		found := false
		for _, raw := range keys {
			ak, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if ak["name"] == label {
				if limit == nil {
					delete(ak, "dataLimit")
				} else {
					ak["dataLimit"] = map[string]any{"bytes": *limit}
				}
				found = true
			}
		}
		if !found {
			return nil, ErrKeyNotFound
		}
		return json.Marshal(doc)
	}
}
