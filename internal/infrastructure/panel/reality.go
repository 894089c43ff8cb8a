package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/veilnet-io/veilnet/internal/domain/node"
	"github.com/veilnet-io/veilnet/internal/shared/logger"
)

// realityClient speaks the x-ui panel dialect: session login, an envelope of
// {success, msg, obj}, and client lists buried inside an inbound's settings
// JSON string. Keys are toggled with the client enable flag, so panel-side
// counters survive disable/enable cycles.
type realityClient struct {
	n     *node.Node
	base  string
	doer  *httpDoer
	store *sshSettingsStore
	log   logger.Interface

	mu       sync.Mutex
	loggedIn bool
}

type xuiEnvelope struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

type xuiInbound struct {
	ID             int             `json:"id"`
	Protocol       string          `json:"protocol"`
	Port           int             `json:"port"`
	Settings       string          `json:"settings"`
	StreamSettings string          `json:"streamSettings"`
	ClientStats    []xuiClientStat `json:"clientStats"`
}

type xuiClientStat struct {
	Email string `json:"email"`
	Up    uint64 `json:"up"`
	Down  uint64 `json:"down"`
}

type xuiClient struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Enable bool   `json:"enable"`
	Flow   string `json:"flow,omitempty"`
}

func newRealityClient(n *node.Node, opts Options, store *sshSettingsStore, log logger.Interface) *realityClient {
	// Each panel gets its own cookie jar; sessions must not leak across nodes.
	hc := *opts.HTTPClient
	jar, _ := cookiejar.New(nil)
	hc.Jar = jar

	return &realityClient{
		n:     n,
		base:  n.PanelCredentials().APIURL,
		doer:  &httpDoer{client: &hc, retryMaxElapsed: opts.RetryMaxElapsed},
		store: store,
		log:   log.With("node", n.Name(), "variant", "reality"),
	}
}

func (c *realityClient) Login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.n.PanelCredentials().APIUsername)
	form.Set("password", c.n.PanelCredentials().APIPassword)

	var env xuiEnvelope
	if err := c.doer.doForm(ctx, http.MethodPost, joinURL(c.base, "login"), form, &env); err != nil {
		return fmt.Errorf("reality login: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("reality login rejected: %s", env.Msg)
	}

	c.mu.Lock()
	c.loggedIn = true
	c.mu.Unlock()
	return nil
}

func (c *realityClient) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	ok := c.loggedIn
	c.mu.Unlock()
	if ok {
		return nil
	}
	return c.Login(ctx)
}

// fetchInbound returns the first VLESS inbound. The panel may host several
// protocols; only the VLESS Reality one belongs to this adapter.
func (c *realityClient) fetchInbound(ctx context.Context) (*xuiInbound, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	var env xuiEnvelope
	if err := c.doer.doJSON(ctx, http.MethodPost, joinURL(c.base, "panel/api/inbounds/list"), nil, nil, &env); err != nil {
		return nil, fmt.Errorf("reality list inbounds: %w", err)
	}
	if !env.Success {
		return nil, fmt.Errorf("reality list inbounds rejected: %s", env.Msg)
	}

	var inbounds []xuiInbound
	if err := json.Unmarshal(env.Obj, &inbounds); err != nil {
		return nil, fmt.Errorf("reality decode inbounds: %w", err)
	}
	for i := range inbounds {
		if inbounds[i].Protocol == "vless" {
			return &inbounds[i], nil
		}
	}
	return nil, errors.New("reality panel has no vless inbound")
}

func (c *realityClient) clients(inbound *xuiInbound) ([]xuiClient, error) {
	var settings struct {
		Clients []xuiClient `json:"clients"`
	}
	if err := json.Unmarshal([]byte(inbound.Settings), &settings); err != nil {
		return nil, fmt.Errorf("reality decode inbound settings: %w", err)
	}
	return settings.Clients, nil
}

func (c *realityClient) ListKeys(ctx context.Context) ([]Key, error) {
	inbound, err := c.fetchInbound(ctx)
	if err != nil {
		return nil, err
	}
	clients, err := c.clients(inbound)
	if err != nil {
		return nil, err
	}

	keys := make([]Key, 0, len(clients))
	for _, cl := range clients {
		keys = append(keys, Key{Label: cl.Email, Secret: cl.ID, Enabled: cl.Enable})
	}
	return keys, nil
}

func (c *realityClient) GetKey(ctx context.Context, subscriberID uint) (*Key, error) {
	inbound, err := c.fetchInbound(ctx)
	if err != nil {
		return nil, err
	}
	cl, err := c.findClient(inbound, subscriberID)
	if err != nil {
		return nil, err
	}
	return &Key{Label: cl.Email, Secret: cl.ID, Enabled: cl.Enable}, nil
}

func (c *realityClient) findClient(inbound *xuiInbound, subscriberID uint) (*xuiClient, error) {
	clients, err := c.clients(inbound)
	if err != nil {
		return nil, err
	}
	label := KeyLabel(subscriberID, node.VariantReality)
	for i := range clients {
		if clients[i].Email == label {
			return &clients[i], nil
		}
	}
	return nil, ErrKeyNotFound
}

func (c *realityClient) CreateKey(ctx context.Context, subscriberID uint) (*Key, error) {
	inbound, err := c.fetchInbound(ctx)
	if err != nil {
		return nil, err
	}

	// Creating twice must not duplicate the client; hand back the existing key.
	if existing, err := c.findClient(inbound, subscriberID); err == nil {
		return &Key{Label: existing.Email, Secret: existing.ID, Enabled: existing.Enable}, nil
	} else if !errors.Is(err, ErrKeyNotFound) {
		return nil, err
	}

	cl := xuiClient{
		ID:     uuid.NewString(),
		Email:  KeyLabel(subscriberID, node.VariantReality),
		Enable: true,
		Flow:   "xtls-rprx-vision",
	}
	settings, err := json.Marshal(map[string]any{"clients": []xuiClient{cl}})
	if err != nil {
		return nil, err
	}

	body := map[string]any{"id": inbound.ID, "settings": string(settings)}
	var env xuiEnvelope
	if err := c.doer.doJSON(ctx, http.MethodPost, joinURL(c.base, "panel/api/inbounds/addClient"), nil, body, &env); err != nil {
		return nil, fmt.Errorf("reality add client: %w", err)
	}
	if !env.Success {
		return nil, fmt.Errorf("reality add client rejected: %s", env.Msg)
	}

	return &Key{Label: cl.Email, Secret: cl.ID, Enabled: true}, nil
}

func (c *realityClient) EnableKey(ctx context.Context, subscriberID uint) error {
	return c.setEnabled(ctx, subscriberID, true)
}

func (c *realityClient) DisableKey(ctx context.Context, subscriberID uint) error {
	return c.setEnabled(ctx, subscriberID, false)
}

func (c *realityClient) setEnabled(ctx context.Context, subscriberID uint, enabled bool) error {
	inbound, err := c.fetchInbound(ctx)
	if err != nil {
		return err
	}
	cl, err := c.findClient(inbound, subscriberID)
	if errors.Is(err, ErrKeyNotFound) {
		// Nothing to toggle; retries stay cheap.
		return nil
	}
	if err != nil {
		return err
	}
	if cl.Enable == enabled {
		return nil
	}

	patched := *cl
	patched.Enable = enabled
	settings, err := json.Marshal(map[string]any{"clients": []xuiClient{patched}})
	if err != nil {
		return err
	}

	body := map[string]any{"id": inbound.ID, "settings": string(settings)}
	var env xuiEnvelope
	apiErr := c.doer.doJSON(ctx, http.MethodPost,
		joinURL(c.base, "panel/api/inbounds/updateClient", cl.ID), nil, body, &env)
	if apiErr == nil && !env.Success {
		apiErr = fmt.Errorf("reality update client rejected: %s", env.Msg)
	}
	if apiErr == nil {
		return nil
	}

	if c.store != nil {
		if fbErr := c.store.Mutate(ctx, patchClientEnable(cl.Email, enabled)); fbErr == nil {
			c.log.Warnw("panel api failed, applied via settings store",
				"subscriber_label", cl.Email, "enabled", enabled, "api_error", apiErr)
			return nil
		}
	}
	return fmt.Errorf("reality update client: %w", apiErr)
}

func (c *realityClient) DeleteKey(ctx context.Context, subscriberID uint) error {
	inbound, err := c.fetchInbound(ctx)
	if err != nil {
		return err
	}
	cl, err := c.findClient(inbound, subscriberID)
	if errors.Is(err, ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var env xuiEnvelope
	path := fmt.Sprintf("panel/api/inbounds/%d/delClient/%s", inbound.ID, cl.ID)
	if err := c.doer.doJSON(ctx, http.MethodPost, joinURL(c.base, path), nil, nil, &env); err != nil {
		return fmt.Errorf("reality delete client: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("reality delete client rejected: %s", env.Msg)
	}
	return nil
}

func (c *realityClient) ReadCounters(ctx context.Context) (map[string]uint64, error) {
	inbound, err := c.fetchInbound(ctx)
	if err != nil {
		return nil, err
	}

	counters := make(map[string]uint64, len(inbound.ClientStats))
	for _, st := range inbound.ClientStats {
		counters[st.Email] = st.Up + st.Down
	}
	return counters, nil
}

func (c *realityClient) RenderClientConfig(ctx context.Context, subscriberID uint) (string, error) {
	inbound, err := c.fetchInbound(ctx)
	if err != nil {
		return "", err
	}
	cl, err := c.findClient(inbound, subscriberID)
	if err != nil {
		return "", err
	}

	var stream struct {
		RealitySettings struct {
			ServerNames []string `json:"serverNames"`
			ShortIds    []string `json:"shortIds"`
			Settings    struct {
				PublicKey   string `json:"publicKey"`
				Fingerprint string `json:"fingerprint"`
			} `json:"settings"`
		} `json:"realitySettings"`
	}
	if err := json.Unmarshal([]byte(inbound.StreamSettings), &stream); err != nil {
		return "", fmt.Errorf("reality decode stream settings: %w", err)
	}

	q := url.Values{}
	q.Set("type", "tcp")
	q.Set("security", "reality")
	q.Set("pbk", stream.RealitySettings.Settings.PublicKey)
	fp := stream.RealitySettings.Settings.Fingerprint
	if fp == "" {
		fp = "chrome"
	}
	q.Set("fp", fp)
	if len(stream.RealitySettings.ServerNames) > 0 {
		q.Set("sni", stream.RealitySettings.ServerNames[0])
	}
	if len(stream.RealitySettings.ShortIds) > 0 {
		q.Set("sid", stream.RealitySettings.ShortIds[0])
	}
	q.Set("flow", "xtls-rprx-vision")

	return fmt.Sprintf("vless://%s@%s:%d?%s#%s",
		cl.ID, c.n.Address(), inbound.Port, q.Encode(), url.PathEscape(cl.Email)), nil
}

// patchClientEnable patches the settings blob the fallback store manages:
// a JSON document with a top-level "clients" array in the panel's shape.
func patchClientEnable(label string, enabled bool) func([]byte) ([]byte, error) {
	return func(data []byte) ([]byte, error) {
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode settings blob: %w", err)
		}
		clients, ok := doc["clients"].([]any)
		if !ok {
			return nil, errors.New("settings blob has no clients array")
		}
		found := false
		for _, raw := range clients {
			cl, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if cl["email"] == label {
				cl["enable"] = enabled
				found = true
			}
		}
		if !found {
			return nil, ErrKeyNotFound
		}
		return json.Marshal(doc)
	}
}
