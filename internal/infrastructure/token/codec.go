// Package token implements issuance and verification of subscriber access
// tokens. A token is self-contained: verifying it authorizes a config fetch
// without a database round trip.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidToken is the single failure outcome for malformed input, signature
// mismatch and expiry alike. Verification never reveals which check failed.
var ErrInvalidToken = errors.New("invalid token")

// tagBytes is the truncated HMAC-SHA256 length embedded in the token.
const tagBytes = 16

type payload struct {
	SubscriberID uint  `json:"subscriberId"`
	IssuedAt     int64 `json:"issuedAt"`
	ExpiresAt    int64 `json:"expiresAt"`
}

// Codec issues and verifies subscriber tokens. It is stateless and safe for
// concurrent use.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewCodec(secret string, ttl time.Duration) *Codec {
	return &Codec{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// NewCodecWithClock creates a codec with an injected clock for tests.
func NewCodecWithClock(secret string, ttl time.Duration, now func() time.Time) *Codec {
	return &Codec{
		secret: []byte(secret),
		ttl:    ttl,
		now:    now,
	}
}

// Issue mints a token for the subscriber:
// base64url(canonical_json(payload) + "|" + hex(hmac_sha256(payload)[:16])).
func (c *Codec) Issue(subscriberID uint) (string, error) {
	if subscriberID == 0 {
		return "", errors.New("subscriber ID cannot be zero")
	}

	now := c.now().UTC()
	// A non-positive TTL means the token never expires, encoded as expiresAt 0.
	var expiresAt int64
	if c.ttl > 0 {
		expiresAt = now.Add(c.ttl).Unix()
	}
	// Canonical serialization: fixed field order, no whitespace. The tag is
	// computed over these exact bytes, so formatting is part of the contract.
	body := fmt.Sprintf(`{"subscriberId":%d,"issuedAt":%d,"expiresAt":%d}`,
		subscriberID, now.Unix(), expiresAt)

	tag := c.sign([]byte(body))
	return base64.RawURLEncoding.EncodeToString([]byte(body + "|" + tag)), nil
}

// Verify decodes the token, recomputes the tag over the embedded payload,
// compares in constant time, and rejects expired tokens. Only the embedded
// subscriber ID is trusted on success.
func (c *Codec) Verify(token string) (uint, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return 0, ErrInvalidToken
	}

	idx := strings.LastIndexByte(string(raw), '|')
	if idx < 0 {
		return 0, ErrInvalidToken
	}
	body, tag := raw[:idx], string(raw[idx+1:])

	expected := c.sign(body)
	if subtle.ConstantTimeCompare([]byte(tag), []byte(expected)) != 1 {
		return 0, ErrInvalidToken
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return 0, ErrInvalidToken
	}
	if p.SubscriberID == 0 {
		return 0, ErrInvalidToken
	}
	if p.ExpiresAt > 0 && c.now().UTC().Unix() > p.ExpiresAt {
		return 0, ErrInvalidToken
	}

	return p.SubscriberID, nil
}

func (c *Codec) sign(body []byte) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil)[:tagBytes])
}
