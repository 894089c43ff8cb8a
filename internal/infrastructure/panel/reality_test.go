package panel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilnet-io/veilnet/internal/domain/node"
)

// fakeXUI is a minimal x-ui style panel: session login plus an inbound list
// endpoint with client mutations.
type fakeXUI struct {
	loggedIn bool
	clients  []map[string]any
	stats    []map[string]any
}

func (f *fakeXUI) inboundSettings() string {
	b, _ := json.Marshal(map[string]any{"clients": f.clients})
	return string(b)
}

func newFakeXUI(t *testing.T) (*fakeXUI, *httptest.Server) {
	f := &fakeXUI{}

	streamSettings, _ := json.Marshal(map[string]any{
		"realitySettings": map[string]any{
			"serverNames": []string{"cdn.example.com"},
			"shortIds":    []string{"ab12"},
			"settings": map[string]any{
				"publicKey":   "pbk-test",
				"fingerprint": "chrome",
			},
		},
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostFormValue("username") != "admin" || r.PostFormValue("password") != "secret" {
			json.NewEncoder(w).Encode(map[string]any{"success": false, "msg": "bad credentials"})
			return
		}
		f.loggedIn = true
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok"})
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	mux.HandleFunc("/panel/api/inbounds/list", func(w http.ResponseWriter, r *http.Request) {
		if !f.loggedIn {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		inbound := map[string]any{
			"id":             1,
			"protocol":       "vless",
			"port":           443,
			"settings":       f.inboundSettings(),
			"streamSettings": string(streamSettings),
			"clientStats":    f.stats,
		}
		obj, _ := json.Marshal([]any{inbound})
		json.NewEncoder(w).Encode(map[string]any{"success": true, "obj": json.RawMessage(obj)})
	})
	mux.HandleFunc("/panel/api/inbounds/addClient", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ID       int    `json:"id"`
			Settings string `json:"settings"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		var settings struct {
			Clients []map[string]any `json:"clients"`
		}
		json.Unmarshal([]byte(body.Settings), &settings)
		f.clients = append(f.clients, settings.Clients...)
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	mux.HandleFunc("/panel/api/inbounds/updateClient/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/panel/api/inbounds/updateClient/")
		var body struct {
			Settings string `json:"settings"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		var settings struct {
			Clients []map[string]any `json:"clients"`
		}
		json.Unmarshal([]byte(body.Settings), &settings)
		for i, cl := range f.clients {
			if cl["id"] == id && len(settings.Clients) == 1 {
				f.clients[i] = settings.Clients[0]
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func newRealityTestNode(t *testing.T, apiURL string) *node.Node {
	n, err := node.ReconstructNode(
		1, "rl-node-1", node.VariantReality, true, node.RolePrimary,
		"198.51.100.4", 443,
		node.PanelCredentials{APIURL: apiURL, APIUsername: "admin", APIPassword: "secret"},
		node.AdminCredentials{},
		0, 0, time.Now(),
	)
	require.NoError(t, err)
	return n
}

func TestRealityClient_LoginRejected(t *testing.T) {
	_, srv := newFakeXUI(t)
	n, err := node.ReconstructNode(
		1, "rl-node-1", node.VariantReality, true, node.RolePrimary,
		"198.51.100.4", 443,
		node.PanelCredentials{APIURL: srv.URL, APIUsername: "admin", APIPassword: "wrong"},
		node.AdminCredentials{},
		0, 0, time.Now(),
	)
	require.NoError(t, err)

	c := newTestClient(t, n)
	assert.Error(t, c.Login(context.Background()))
}

func TestRealityClient_CreateEnableDisable(t *testing.T) {
	f, srv := newFakeXUI(t)
	c := newTestClient(t, newRealityTestNode(t, srv.URL))
	ctx := context.Background()

	key, err := c.CreateKey(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "42_rl", key.Label)
	assert.NotEmpty(t, key.Secret)
	assert.True(t, key.Enabled)

	// Create again returns the same client.
	again, err := c.CreateKey(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, key.Secret, again.Secret)
	assert.Len(t, f.clients, 1)

	require.NoError(t, c.DisableKey(ctx, 42))
	got, err := c.GetKey(ctx, 42)
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	require.NoError(t, c.EnableKey(ctx, 42))
	got, err = c.GetKey(ctx, 42)
	require.NoError(t, err)
	assert.True(t, got.Enabled)

	// The client row survived the toggle cycle.
	assert.Len(t, f.clients, 1)
}

func TestRealityClient_ReadCounters(t *testing.T) {
	f, srv := newFakeXUI(t)
	c := newTestClient(t, newRealityTestNode(t, srv.URL))
	ctx := context.Background()

	_, err := c.CreateKey(ctx, 7)
	require.NoError(t, err)
	f.stats = []map[string]any{
		{"email": "7_rl", "up": 100, "down": 400},
	}

	counters, err := c.ReadCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"7_rl": 500}, counters)
}

func TestRealityClient_RenderClientConfig(t *testing.T) {
	_, srv := newFakeXUI(t)
	c := newTestClient(t, newRealityTestNode(t, srv.URL))
	ctx := context.Background()

	key, err := c.CreateKey(ctx, 9)
	require.NoError(t, err)

	cfg, err := c.RenderClientConfig(ctx, 9)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cfg, "vless://"+key.Secret+"@198.51.100.4:443?"), cfg)
	assert.Contains(t, cfg, "security=reality")
	assert.Contains(t, cfg, "pbk=pbk-test")
	assert.Contains(t, cfg, "sni=cdn.example.com")
	assert.Contains(t, cfg, "#9_rl")
}

func TestPatchClientEnable(t *testing.T) {
	blob := []byte(`{"clients":[{"email":"5_rl","enable":true,"id":"u-1"}]}`)

	patched, err := patchClientEnable("5_rl", false)(blob)
	require.NoError(t, err)

	var doc struct {
		Clients []struct {
			Email  string `json:"email"`
			Enable bool   `json:"enable"`
		} `json:"clients"`
	}
	require.NoError(t, json.Unmarshal(patched, &doc))
	require.Len(t, doc.Clients, 1)
	assert.False(t, doc.Clients[0].Enable)

	_, err = patchClientEnable("missing", false)(blob)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
