package tokens

import (
	"fmt"
	"time"
)

// TokenRecord is one cached credential relationship: the token triple issued
// by a provider on behalf of a referring principal, plus lifecycle and audit
// metadata. Records are uniquely identified by (Provider, ReferringSubject);
// updates are last-writer-wins.
//
// The token store exclusively owns persisted records. The exchange manager
// holds no long-lived copies; every access re-fetches from the store so that
// invalidation on logout stays trivially correct.
type TokenRecord struct {
	// Provider is the identity provider key, e.g. a named OAuth issuer.
	Provider string `json:"provider"`

	// Subject is the token's own subject identifier.
	Subject string `json:"subject"`

	// ReferringSubject is the subject of the original on-behalf-of principal
	// that caused this token to be issued. Exchange lookups key on it.
	ReferringSubject string `json:"referring_subject"`

	// Email and ReferringEmail are display/audit metadata only. They are
	// never used as a lookup or security key.
	Email          string `json:"email,omitempty"`
	ReferringEmail string `json:"referring_email,omitempty"`

	// Issuer is the token issuer claim, when known.
	Issuer string `json:"issuer,omitempty"`

	// Audience is the audience the stored tokens were issued for. It is
	// checked against the caller's required audience before reuse.
	Audience string `json:"audience"`

	AccessToken  *Token `json:"access_token,omitempty"`
	IDToken      *Token `json:"id_token,omitempty"`
	RefreshToken *Token `json:"refresh_token,omitempty"`

	// Created is set once, when the record is first persisted.
	Created time.Time `json:"created"`

	// Updated is bumped on every persisted mutation.
	Updated time.Time `json:"updated,omitzero"`

	// Refreshed is bumped whenever a refresh or exchange grant replaced the
	// access token.
	Refreshed time.Time `json:"refreshed,omitzero"`
}

// RecordKey builds the unique store key for a (provider, referringSubject)
// pair.
func RecordKey(provider, referringSubject string) string {
	return fmt.Sprintf("%s:%s", provider, referringSubject)
}

// Key returns the record's unique store key.
func (r *TokenRecord) Key() string {
	return RecordKey(r.Provider, r.ReferringSubject)
}

// UsableAccessToken reports whether the stored access token can be returned
// as-is for the required audience.
func (r *TokenRecord) UsableAccessToken(requiredAudience string, skew time.Duration) bool {
	return r.UsableAccessTokenAt(requiredAudience, time.Now(), skew)
}

// UsableAccessTokenAt is UsableAccessToken against an explicit time source.
func (r *TokenRecord) UsableAccessTokenAt(requiredAudience string, at time.Time, skew time.Duration) bool {
	return r.AccessToken.ValidAt(at, skew) && r.Audience == requiredAudience
}

// UsableRefreshToken reports whether a refresh grant can be attempted.
func (r *TokenRecord) UsableRefreshToken(skew time.Duration) bool {
	return r.UsableRefreshTokenAt(time.Now(), skew)
}

// UsableRefreshTokenAt is UsableRefreshToken against an explicit time source.
func (r *TokenRecord) UsableRefreshTokenAt(at time.Time, skew time.Duration) bool {
	return r.RefreshToken.ValidAt(at, skew)
}

// Exhausted reports whether the record can no longer produce a live token:
// no valid access token and no refresh token to fall back on. An exhausted
// record must trigger re-authentication rather than refresh.
func (r *TokenRecord) Exhausted(skew time.Duration) bool {
	return r.ExhaustedAt(time.Now(), skew)
}

// ExhaustedAt is Exhausted against an explicit time source.
func (r *TokenRecord) ExhaustedAt(at time.Time, skew time.Duration) bool {
	return !r.AccessToken.ValidAt(at, skew) && !r.RefreshToken.ValidAt(at, skew)
}

// Invalidate clears the token fields so the record is unusable, while the
// audit metadata (subjects, emails, timestamps) is kept. Used when a
// refresh grant is rejected: the next lookup must not retry the revoked
// refresh token.
func (r *TokenRecord) Invalidate(now time.Time) {
	r.AccessToken = nil
	r.IDToken = nil
	r.RefreshToken = nil
	r.Updated = now
}

// NewRecord creates a TokenRecord for a freshly authenticated principal.
func NewRecord(provider, referringSubject string) *TokenRecord {
	now := time.Now().UTC()
	return &TokenRecord{
		Provider:         provider,
		ReferringSubject: referringSubject,
		Created:          now,
	}
}
