package token

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_IssueVerifyRoundTrip(t *testing.T) {
	codec := NewCodec("test-secret", 365*24*time.Hour)

	for _, id := range []uint{1, 42, 99999, 1 << 30} {
		tok, err := codec.Issue(id)
		require.NoError(t, err)

		got, err := codec.Verify(tok)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}
}

func TestCodec_IssueRejectsZeroID(t *testing.T) {
	codec := NewCodec("test-secret", time.Hour)
	_, err := codec.Issue(0)
	assert.Error(t, err)
}

func TestCodec_WireFormat(t *testing.T) {
	now := time.Unix(1700000000, 0)
	codec := NewCodecWithClock("test-secret", time.Hour, func() time.Time { return now })

	tok, err := codec.Issue(7)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(tok)
	require.NoError(t, err)

	parts := strings.SplitN(string(raw), "|", 2)
	require.Len(t, parts, 2)
	assert.Equal(t, `{"subscriberId":7,"issuedAt":1700000000,"expiresAt":1700003600}`, parts[0])
	// Truncated HMAC-SHA256: 16 bytes hex encoded.
	assert.Len(t, parts[1], 32)
}

func TestCodec_VerifyRejectsTampering(t *testing.T) {
	codec := NewCodec("test-secret", time.Hour)
	tok, err := codec.Issue(42)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(tok)
	require.NoError(t, err)

	// Flip one byte at every position: payload and tag bytes alike must fail.
	for i := range raw {
		mutated := make([]byte, len(raw))
		copy(mutated, raw)
		mutated[i] ^= 0x01

		_, err := codec.Verify(base64.RawURLEncoding.EncodeToString(mutated))
		assert.ErrorIs(t, err, ErrInvalidToken, "flipped byte %d", i)
	}
}

func TestCodec_VerifyRejectsMalformed(t *testing.T) {
	codec := NewCodec("test-secret", time.Hour)

	cases := []struct {
		name string
		tok  string
	}{
		{"empty", ""},
		{"not base64", "!!!not-base64!!!"},
		{"no separator", base64.RawURLEncoding.EncodeToString([]byte(`{"subscriberId":1}`))},
		{"garbage payload", base64.RawURLEncoding.EncodeToString([]byte("garbage|0011223344556677889900112233445566"))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := codec.Verify(tc.tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestCodec_VerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewCodec("secret-a", time.Hour)
	verifier := NewCodec("secret-b", time.Hour)

	tok, err := issuer.Issue(42)
	require.NoError(t, err)

	_, err = verifier.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCodec_ZeroTTLNeverExpires(t *testing.T) {
	now := time.Unix(1700000000, 0)
	codec := NewCodecWithClock("test-secret", 0, func() time.Time { return now })

	tok, err := codec.Issue(42)
	require.NoError(t, err)

	// Immediately valid, not dead on arrival.
	now = now.Add(time.Second)
	id, err := codec.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, uint(42), id)

	// Still valid years later.
	now = now.Add(10 * 365 * 24 * time.Hour)
	id, err = codec.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, uint(42), id)
}

func TestCodec_VerifyRejectsExpired(t *testing.T) {
	now := time.Unix(1700000000, 0)
	codec := NewCodecWithClock("test-secret", time.Hour, func() time.Time { return now })

	tok, err := codec.Issue(42)
	require.NoError(t, err)

	// Still valid just before expiry.
	now = now.Add(time.Hour - time.Second)
	id, err := codec.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, uint(42), id)

	// Invalid after expiry, with the same uniform error.
	now = now.Add(2 * time.Second)
	_, err = codec.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
