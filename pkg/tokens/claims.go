package tokens

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"
)

// Claims holds the subset of JWT claims this subsystem inspects before
// reusing a token. Extraction is deliberately unverified: signature
// validation belongs to the resource server, we only need lifecycle and
// applicability metadata.
type Claims struct {
	// Issuer is the issuer identifier (iss claim).
	Issuer string

	// Subject is the subject identifier (sub claim).
	Subject string

	// Audience contains the audience(s) the token is intended for (aud claim).
	Audience []string

	// ExpiresAt is the expiration time (exp claim).
	ExpiresAt time.Time

	// IssuedAt is the time at which the token was issued (iat claim).
	IssuedAt time.Time

	// Email is the user's email address, when the provider includes it.
	Email string
}

// privateClaims captures the non-registered claims we care about.
type privateClaims struct {
	Email string `json:"email"`
}

// ParseClaims extracts claims from a compact JWS without verifying its
// signature. It fails if raw is not a structurally valid JWT.
func ParseClaims(raw string) (*Claims, error) {
	parsed, err := jwt.ParseSigned(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	var registered jwt.Claims
	var private privateClaims
	if err := parsed.UnsafeClaimsWithoutVerification(&registered, &private); err != nil {
		return nil, fmt.Errorf("failed to extract claims: %w", err)
	}

	claims := &Claims{
		Issuer:   registered.Issuer,
		Subject:  registered.Subject,
		Audience: registered.Audience,
		Email:    private.Email,
	}
	if registered.Expiry != nil {
		claims.ExpiresAt = registered.Expiry.Time().UTC()
	}
	if registered.IssuedAt != nil {
		claims.IssuedAt = registered.IssuedAt.Time().UTC()
	}
	return claims, nil
}

// SingleAudience returns the audience when the token names exactly one.
func (c *Claims) SingleAudience() (string, bool) {
	if len(c.Audience) != 1 {
		return "", false
	}
	return c.Audience[0], true
}

// NewTokenFromJWT builds a Token whose expiry metadata comes from the JWT's
// own exp/iat claims. For opaque tokens use NewToken with the endpoint's
// expires_in instead.
func NewTokenFromJWT(raw string) (*Token, error) {
	claims, err := ParseClaims(raw)
	if err != nil {
		return nil, err
	}
	return &Token{
		Value:     raw,
		ExpiresAt: claims.ExpiresAt,
		IssuedAt:  claims.IssuedAt,
	}, nil
}

// NewToken builds a Token with an explicit lifetime measured from now.
// A non-positive lifetime yields a token with unknown expiry.
func NewToken(value string, expiresIn time.Duration) *Token {
	if value == "" {
		return nil
	}
	t := &Token{Value: value, IssuedAt: time.Now().UTC()}
	if expiresIn > 0 {
		t.ExpiresAt = t.IssuedAt.Add(expiresIn)
	}
	return t
}
