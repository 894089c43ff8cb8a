package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validNode(t *testing.T, variant Variant, maxKeys int) *Node {
	t.Helper()
	n, err := ReconstructNode(
		1, "nl-ams-1", variant, true, RolePrimary,
		"198.51.100.4", 443,
		PanelCredentials{APIURL: "https://198.51.100.4:2053"},
		AdminCredentials{},
		0, maxKeys,
		time.Now().UTC(),
	)
	require.NoError(t, err)
	return n
}

func TestVariant_KeySuffix(t *testing.T) {
	assert.Equal(t, "_rl", VariantReality.KeySuffix())
	assert.Equal(t, "_ss", VariantShadowsocks.KeySuffix())
	assert.Equal(t, "_wg", VariantWireguard.KeySuffix())
	assert.Equal(t, "", Variant("openvpn").KeySuffix())
}

func TestReconstructNode_Validation(t *testing.T) {
	_, err := ReconstructNode(0, "n", VariantReality, true, RolePrimary, "h", 443, PanelCredentials{}, AdminCredentials{}, 0, 0, time.Now())
	assert.Error(t, err)

	_, err = ReconstructNode(1, "n", Variant("openvpn"), true, RolePrimary, "h", 443, PanelCredentials{}, AdminCredentials{}, 0, 0, time.Now())
	assert.Error(t, err)

	_, err = ReconstructNode(1, "n", VariantReality, true, Role("backup"), "h", 443, PanelCredentials{}, AdminCredentials{}, 0, 0, time.Now())
	assert.Error(t, err)
}

func TestNode_Capacity(t *testing.T) {
	n := validNode(t, VariantShadowsocks, 2)
	assert.True(t, n.UnderCapacity())

	n.IncrementCapacity()
	assert.True(t, n.UnderCapacity())

	n.IncrementCapacity()
	assert.False(t, n.UnderCapacity())
}

func TestNode_ZeroMaxKeysIsUnlimited(t *testing.T) {
	n := validNode(t, VariantWireguard, 0)
	for i := 0; i < 1000; i++ {
		n.IncrementCapacity()
	}
	assert.True(t, n.UnderCapacity())
}

func TestAdminCredentials_Configured(t *testing.T) {
	assert.False(t, AdminCredentials{}.Configured())
	assert.False(t, AdminCredentials{SSHHost: "h", SSHUser: "root"}.Configured())
	assert.True(t, AdminCredentials{SSHHost: "h", SSHUser: "root", SettingsPath: "/etc/x-ui/x-ui.db"}.Configured())
}

func TestNewDailyTrafficRecord_TruncatesDate(t *testing.T) {
	at := time.Date(2025, 4, 2, 17, 45, 12, 0, time.UTC)
	rec, err := NewDailyTrafficRecord(7, 3, at, 1234)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC), rec.Date())
	assert.Equal(t, uint64(1234), rec.Bytes())

	_, err = NewDailyTrafficRecord(0, 3, at, 0)
	assert.Error(t, err)
	_, err = NewDailyTrafficRecord(7, 0, at, 0)
	assert.Error(t, err)
}

func TestNewAccessLogEntry_RequiresSubscriber(t *testing.T) {
	entry, err := NewAccessLogEntry(7, "203.0.113.9", "v2rayN/6.23", 3)
	require.NoError(t, err)
	assert.Equal(t, uint(7), entry.SubscriberID())
	assert.Equal(t, 3, entry.NodesServed())

	_, err = NewAccessLogEntry(0, "203.0.113.9", "", 0)
	assert.Error(t, err)
}
