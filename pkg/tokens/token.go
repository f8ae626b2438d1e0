// Package tokens defines the credential types cached by this subsystem:
// the opaque Token value/expiry pair, unverified JWT claim extraction, and
// the persisted TokenRecord.
package tokens

import (
	"time"
)

// DefaultClockSkew is the safety margin subtracted from token lifetimes to
// account for clock skew and network latency. A token within this margin of
// its expiry is treated as already expired.
const DefaultClockSkew = 30 * time.Second

// Token is one credential: an opaque value plus its expiry metadata. The
// value may be a JWT or an opaque string; expiry comes either from the
// token's own exp claim or from the endpoint's expires_in field.
type Token struct {
	// Value is the raw token string. It must never be logged.
	Value string `json:"value"`

	// ExpiresAt is when the token expires. The zero value means the expiry
	// is unknown, which this subsystem treats as unusable: a token we cannot
	// prove is live must not be replayed against a resource server.
	ExpiresAt time.Time `json:"expires_at"`

	// IssuedAt is when the token was issued, if known.
	IssuedAt time.Time `json:"issued_at"`
}

// Valid reports whether the token exists, has a known expiry, and does not
// expire within the skew safety margin. Safe on a nil receiver.
func (t *Token) Valid(skew time.Duration) bool {
	return t.ValidAt(time.Now(), skew)
}

// ValidAt is Valid evaluated against an explicit time source, for callers
// that inject their own clock.
func (t *Token) ValidAt(at time.Time, skew time.Duration) bool {
	if t == nil || t.Value == "" || t.ExpiresAt.IsZero() {
		return false
	}
	return at.Add(skew).Before(t.ExpiresAt)
}

// Redacted renders the token for diagnostics without exposing its value.
func (t *Token) Redacted() string {
	if t == nil || t.Value == "" {
		return "<empty>"
	}
	return "[REDACTED]"
}
