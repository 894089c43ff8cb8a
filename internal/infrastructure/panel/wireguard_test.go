package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilnet-io/veilnet/internal/domain/node"
)

type fakeWGEasy struct {
	nextID  int
	clients []map[string]any
}

func (f *fakeWGEasy) find(id string) map[string]any {
	for _, cl := range f.clients {
		if cl["id"] == id {
			return cl
		}
	}
	return nil
}

func newFakeWGEasy(t *testing.T) (*fakeWGEasy, *httptest.Server) {
	f := &fakeWGEasy{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/session", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Password string `json:"password"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	mux.HandleFunc("/api/wireguard/client", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(f.clients)
		case http.MethodPost:
			var body struct {
				Name string `json:"name"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			f.nextID++
			f.clients = append(f.clients, map[string]any{
				"id":        fmt.Sprintf("c-%d", f.nextID),
				"name":      body.Name,
				"enabled":   true,
				"publicKey": fmt.Sprintf("pk-%d", f.nextID),
			})
			json.NewEncoder(w).Encode(map[string]any{"success": true})
		}
	})
	mux.HandleFunc("/api/wireguard/client/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/wireguard/client/")
		parts := strings.Split(rest, "/")
		cl := f.find(parts[0])
		if cl == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if len(parts) == 2 {
			switch parts[1] {
			case "enable":
				cl["enabled"] = true
			case "disable":
				cl["enabled"] = false
			case "configuration":
				w.Header().Set("Content-Type", "text/plain")
				fmt.Fprintf(w, "[Interface]\nPrivateKey = priv-%s\n\n[Peer]\nPublicKey = server-pk\n", cl["id"])
				return
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func newWireguardTestNode(t *testing.T, apiURL string) *node.Node {
	n, err := node.ReconstructNode(
		3, "wg-node-1", node.VariantWireguard, true, node.RoleBypass,
		"203.0.113.9", 51820,
		node.PanelCredentials{APIURL: apiURL, APIPassword: "secret"},
		node.AdminCredentials{},
		0, 0, time.Now(),
	)
	require.NoError(t, err)
	return n
}

func TestWireguardClient_CreateIsIdempotent(t *testing.T) {
	f, srv := newFakeWGEasy(t)
	c := newTestClient(t, newWireguardTestNode(t, srv.URL))
	ctx := context.Background()

	key, err := c.CreateKey(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "42_wg", key.Label)
	assert.Equal(t, "pk-1", key.Secret)

	again, err := c.CreateKey(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, key.Secret, again.Secret)
	assert.Len(t, f.clients, 1)
}

func TestWireguardClient_EnableDisable(t *testing.T) {
	_, srv := newFakeWGEasy(t)
	c := newTestClient(t, newWireguardTestNode(t, srv.URL))
	ctx := context.Background()

	_, err := c.CreateKey(ctx, 5)
	require.NoError(t, err)

	require.NoError(t, c.DisableKey(ctx, 5))
	got, err := c.GetKey(ctx, 5)
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	require.NoError(t, c.EnableKey(ctx, 5))
	got, err = c.GetKey(ctx, 5)
	require.NoError(t, err)
	assert.True(t, got.Enabled)

	// Toggling a missing subscriber is a no-op.
	require.NoError(t, c.DisableKey(ctx, 999))
}

func TestWireguardClient_ReadCounters(t *testing.T) {
	f, srv := newFakeWGEasy(t)
	c := newTestClient(t, newWireguardTestNode(t, srv.URL))
	ctx := context.Background()

	_, err := c.CreateKey(ctx, 8)
	require.NoError(t, err)
	f.clients[0]["transferRx"] = 250
	f.clients[0]["transferTx"] = 750

	counters, err := c.ReadCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"8_wg": 1000}, counters)
}

func TestWireguardClient_RenderClientConfig(t *testing.T) {
	_, srv := newFakeWGEasy(t)
	c := newTestClient(t, newWireguardTestNode(t, srv.URL))
	ctx := context.Background()

	_, err := c.CreateKey(ctx, 11)
	require.NoError(t, err)

	cfg, err := c.RenderClientConfig(ctx, 11)
	require.NoError(t, err)
	assert.Contains(t, cfg, "[Interface]")
	assert.Contains(t, cfg, "[Peer]")
}

func TestPatchWireguardEnable(t *testing.T) {
	blob := []byte(`{"clients":{"c-1":{"name":"4_wg","enabled":true}}}`)

	patched, err := patchWireguardEnable("4_wg", false)(blob)
	require.NoError(t, err)

	var doc struct {
		Clients map[string]struct {
			Enabled bool `json:"enabled"`
		} `json:"clients"`
	}
	require.NoError(t, json.Unmarshal(patched, &doc))
	assert.False(t, doc.Clients["c-1"].Enabled)

	_, err = patchWireguardEnable("missing", false)(blob)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
