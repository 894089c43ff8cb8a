package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilnet-io/veilnet/internal/domain/node"
	"github.com/veilnet-io/veilnet/internal/shared/logger"
)

// fakeOutline is a minimal in-memory Outline-style management API.
type fakeOutline struct {
	keys    []map[string]any
	nextID  int
	metrics map[string]uint64
}

func newFakeOutline(t *testing.T) (*fakeOutline, *httptest.Server) {
	f := &fakeOutline{nextID: 0, metrics: map[string]uint64{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/access-keys", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{"accessKeys": f.keys})
		case http.MethodPost:
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			id := strconv.Itoa(f.nextID)
			f.nextID++
			key := map[string]any{
				"id":       id,
				"name":     body["name"],
				"password": "pw-" + id,
				"port":     9000,
				"method":   "chacha20-ietf-poly1305",
			}
			if limit, ok := body["limit"]; ok {
				key["dataLimit"] = limit
			}
			f.keys = append(f.keys, key)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(key)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/access-keys/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/access-keys/")
		parts := strings.Split(rest, "/")
		id := parts[0]

		idx := -1
		for i, k := range f.keys {
			if k["id"] == id {
				idx = i
			}
		}
		if idx < 0 {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		switch {
		case len(parts) == 2 && parts[1] == "data-limit" && r.Method == http.MethodPut:
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			f.keys[idx]["dataLimit"] = body["limit"]
		case len(parts) == 2 && parts[1] == "data-limit" && r.Method == http.MethodDelete:
			delete(f.keys[idx], "dataLimit")
		case len(parts) == 1 && r.Method == http.MethodDelete:
			f.keys = append(f.keys[:idx], f.keys[idx+1:]...)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	mux.HandleFunc("/metrics/transfer", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"bytesTransferredByUserId": f.metrics})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func newShadowsocksTestNode(t *testing.T, apiURL string) *node.Node {
	n, err := node.ReconstructNode(
		3, "ss-node-1", node.VariantShadowsocks, true, node.RolePrimary,
		"203.0.113.7", 9000,
		node.PanelCredentials{APIURL: apiURL},
		node.AdminCredentials{},
		0, 0, time.Now(),
	)
	require.NoError(t, err)
	return n
}

func newTestClient(t *testing.T, n *node.Node) Client {
	factory := NewFactory(Options{
		HTTPClient:      &http.Client{Timeout: 2 * time.Second},
		RetryMaxElapsed: 200 * time.Millisecond,
	}, logger.NewNop())
	c, err := factory(n)
	require.NoError(t, err)
	return c
}

func TestShadowsocksClient_CreateIsIdempotent(t *testing.T) {
	_, srv := newFakeOutline(t)
	c := newTestClient(t, newShadowsocksTestNode(t, srv.URL))
	ctx := context.Background()

	key1, err := c.CreateKey(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "42_ss", key1.Label)
	assert.True(t, key1.Enabled)

	key2, err := c.CreateKey(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, key1.Secret, key2.Secret)

	keys, err := c.ListKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestShadowsocksClient_DisableEnableViaDataLimit(t *testing.T) {
	f, srv := newFakeOutline(t)
	c := newTestClient(t, newShadowsocksTestNode(t, srv.URL))
	ctx := context.Background()

	_, err := c.CreateKey(ctx, 7)
	require.NoError(t, err)

	require.NoError(t, c.DisableKey(ctx, 7))
	key, err := c.GetKey(ctx, 7)
	require.NoError(t, err)
	assert.False(t, key.Enabled)

	// Disable twice is a no-op, not an error.
	require.NoError(t, c.DisableKey(ctx, 7))

	require.NoError(t, c.EnableKey(ctx, 7))
	key, err = c.GetKey(ctx, 7)
	require.NoError(t, err)
	assert.True(t, key.Enabled)

	// The key survived the whole cycle; counters were never wiped.
	assert.Len(t, f.keys, 1)
}

func TestShadowsocksClient_DisableMissingKeyIsNoop(t *testing.T) {
	_, srv := newFakeOutline(t)
	c := newTestClient(t, newShadowsocksTestNode(t, srv.URL))

	assert.NoError(t, c.DisableKey(context.Background(), 999))
	assert.NoError(t, c.EnableKey(context.Background(), 999))
}

func TestShadowsocksClient_ReadCountersMapsLabels(t *testing.T) {
	f, srv := newFakeOutline(t)
	c := newTestClient(t, newShadowsocksTestNode(t, srv.URL))
	ctx := context.Background()

	_, err := c.CreateKey(ctx, 1)
	require.NoError(t, err)
	_, err = c.CreateKey(ctx, 2)
	require.NoError(t, err)

	f.metrics["0"] = 1000
	f.metrics["1"] = 2500
	f.metrics["unknown"] = 99

	counters, err := c.ReadCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"1_ss": 1000, "2_ss": 2500}, counters)
}

func TestShadowsocksClient_RenderClientConfig(t *testing.T) {
	_, srv := newFakeOutline(t)
	c := newTestClient(t, newShadowsocksTestNode(t, srv.URL))
	ctx := context.Background()

	_, err := c.CreateKey(ctx, 5)
	require.NoError(t, err)

	cfg, err := c.RenderClientConfig(ctx, 5)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cfg, "ss://"), cfg)
	assert.Contains(t, cfg, "#5_ss")
}

func TestShadowsocksClient_GetKeyNotFound(t *testing.T) {
	_, srv := newFakeOutline(t)
	c := newTestClient(t, newShadowsocksTestNode(t, srv.URL))

	_, err := c.GetKey(context.Background(), 123)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestKeyLabelSuffixes(t *testing.T) {
	cases := []struct {
		variant node.Variant
		want    string
	}{
		{node.VariantReality, "42_rl"},
		{node.VariantShadowsocks, "42_ss"},
		{node.VariantWireguard, "42_wg"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, KeyLabel(42, tc.variant), fmt.Sprintf("variant %s", tc.variant))
	}
}
