// Package manager orchestrates retrieval, refresh and on-behalf-of exchange
// of stored credentials. It owns no token state of its own: every lookup
// re-reads the durable store, so invalidation on logout stays trivially
// correct across callers.
package manager

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/icanbwell/credcache/pkg/cache"
	"github.com/icanbwell/credcache/pkg/errors"
	"github.com/icanbwell/credcache/pkg/logger"
	"github.com/icanbwell/credcache/pkg/tokens"
	"github.com/icanbwell/credcache/pkg/tokens/endpoint"
	"github.com/icanbwell/credcache/pkg/tokens/store"
)

// Endpoint is the slice of the provider token endpoint the manager needs.
// *endpoint.Client satisfies it.
type Endpoint interface {
	Refresh(ctx context.Context, refreshToken string) (*endpoint.Grant, error)
	Exchange(ctx context.Context, subjectToken, audience string) (*endpoint.Grant, error)
}

// EndpointResolver maps a provider key to its token endpoint.
type EndpointResolver interface {
	EndpointFor(provider string) (Endpoint, error)
}

// EndpointResolverFunc adapts a function to the EndpointResolver interface.
type EndpointResolverFunc func(provider string) (Endpoint, error)

// EndpointFor implements EndpointResolver.
func (f EndpointResolverFunc) EndpointFor(provider string) (Endpoint, error) {
	return f(provider)
}

// StaticEndpoints resolves providers from a fixed map.
func StaticEndpoints(endpoints map[string]Endpoint) EndpointResolver {
	return EndpointResolverFunc(func(provider string) (Endpoint, error) {
		ep, ok := endpoints[provider]
		if !ok {
			return nil, fmt.Errorf("no token endpoint configured for provider %q", provider)
		}
		return ep, nil
	})
}

// Option configures a Manager.
type Option func(*Manager)

// WithClockSkew overrides the safety margin subtracted from token expiries.
func WithClockSkew(d time.Duration) Option {
	return func(m *Manager) {
		m.skew = d
	}
}

// WithWaitTimeout bounds how long a caller waits for another caller's
// in-flight refresh of the same credential. Zero waits forever.
func WithWaitTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.waitTimeout = d
	}
}

// WithClock overrides the time source. Test-only.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager produces currently-valid access tokens for (provider,
// referringSubject) pairs, refreshing or exchanging through the provider's
// token endpoint as needed and persisting every mutation.
//
// It never initiates first-time login: a missing record is the caller's
// signal to send the principal through authentication, after which
// StoreToken persists the result.
type Manager struct {
	store       store.Store
	endpoints   EndpointResolver
	skew        time.Duration
	waitTimeout time.Duration
	now         func() time.Time

	flights *cache.LoadGroup[*tokens.Token]

	// recordLocks serializes every grant against one record, so tokens are
	// redeemed by at most one resolve at a time regardless of how many
	// audience-scoped flights are in progress for the record.
	recordLocks sync.Map
}

// New creates a Manager on top of the given store and endpoint resolver.
func New(st store.Store, endpoints EndpointResolver, opts ...Option) *Manager {
	m := &Manager{
		store:     st,
		endpoints: endpoints,
		skew:      tokens.DefaultClockSkew,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.flights = cache.NewLoadGroup[*tokens.Token](cache.WithWaitTimeout(m.waitTimeout))
	return m
}

// GetValidToken returns an access token for (provider, referringSubject)
// that is valid for requiredAudience and unexpired with a clock-skew margin.
//
// The stored token is returned as-is when it qualifies. Otherwise the
// manager refreshes (when a live refresh token exists) and/or exchanges
// (when the stored audience differs from the required one), persists the
// updated record, and returns the fresh token.
//
// Results are single-flighted per (provider, referringSubject,
// requiredAudience), so concurrent callers for the same audience share one
// resolve. Grants are additionally serialized per (provider,
// referringSubject) across audiences: a refresh token is redeemed by one
// resolve at a time, and a resolve that waited re-reads the record before
// deciding whether any endpoint call is still needed.
//
// Errors are typed: no_credential when no record exists,
// reauthentication_required when the record can no longer produce a live
// token, refresh_failed when the endpoint rejects a grant, and
// store_unavailable when the durable store cannot be reached.
func (m *Manager) GetValidToken(ctx context.Context, provider, referringSubject, requiredAudience string) (*tokens.Token, error) {
	flightKey := tokens.RecordKey(provider, referringSubject) + "|" + requiredAudience

	// The in-flight grant must complete for the waiters even if this
	// caller gives up, so the probe context is detached too.
	probeCtx := context.WithoutCancel(ctx)
	check := func() (*tokens.Token, bool) {
		record, err := m.store.Find(probeCtx, provider, referringSubject)
		if err != nil {
			return nil, false
		}
		if record.UsableAccessTokenAt(requiredAudience, m.now(), m.skew) {
			return record.AccessToken, true
		}
		return nil, false
	}

	return m.flights.Load(ctx, flightKey, check, func(ctx context.Context) (*tokens.Token, error) {
		return m.resolve(ctx, provider, referringSubject, requiredAudience)
	})
}

// resolve runs the full lookup/refresh/exchange sequence for one credential.
// It holds the record lock for its whole duration: flights for different
// audiences of the same record execute their resolves one after another,
// each re-reading the record the previous one persisted. Without this, two
// audience flights could redeem the same refresh token concurrently, and a
// provider that rotates refresh tokens would reject the loser's grant as
// invalid_grant and invalidate a live record.
func (m *Manager) resolve(ctx context.Context, provider, referringSubject, requiredAudience string) (*tokens.Token, error) {
	unlock := m.lockRecord(tokens.RecordKey(provider, referringSubject))
	defer unlock()

	record, err := m.store.Find(ctx, provider, referringSubject)
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, errors.NewNoCredentialError(
			fmt.Sprintf("no credential stored for provider %q subject %q", provider, referringSubject))
	}
	if err != nil {
		return nil, errors.NewStoreUnavailableError("token store lookup failed", err)
	}

	if record.UsableAccessTokenAt(requiredAudience, m.now(), m.skew) {
		return record.AccessToken, nil
	}

	// A refresh or exchange needs a live source token first.
	if !record.AccessToken.ValidAt(m.now(), m.skew) {
		if !record.UsableRefreshTokenAt(m.now(), m.skew) {
			return nil, errors.NewReauthenticationRequiredError(
				fmt.Sprintf("credential for provider %q subject %q is exhausted", provider, referringSubject))
		}
		if err := m.refresh(ctx, record); err != nil {
			return nil, err
		}
		if record.Audience == requiredAudience {
			return record.AccessToken, nil
		}
	}

	// Live source token for a different audience: exchange it.
	return m.exchange(ctx, record, requiredAudience)
}

// lockRecord takes the per-record grant lock and returns its release func.
func (m *Manager) lockRecord(key string) func() {
	v, _ := m.recordLocks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// refresh redeems the record's refresh token and persists the result. The
// stored refresh token is kept unless the endpoint rotated it. A rejected
// grant invalidates the record so the next lookup does not retry the dead
// refresh token.
func (m *Manager) refresh(ctx context.Context, record *tokens.TokenRecord) error {
	ep, err := m.endpoints.EndpointFor(record.Provider)
	if err != nil {
		return errors.NewRefreshFailedError("resolving token endpoint", err)
	}

	logger.Infow("refreshing access token",
		"provider", record.Provider, "referring_subject", record.ReferringSubject)

	grant, err := ep.Refresh(ctx, record.RefreshToken.Value)
	if err != nil {
		return m.refreshFailed(ctx, record, err)
	}

	now := m.now().UTC()
	record.AccessToken = grant.AccessToken
	if grant.IDToken != nil {
		record.IDToken = grant.IDToken
	}
	if grant.RefreshToken != nil {
		record.RefreshToken = grant.RefreshToken
	}
	m.absorbClaims(record, grant)
	record.Refreshed = now
	record.Updated = now

	if err := m.store.Upsert(ctx, record); err != nil {
		return errors.NewStoreUnavailableError("persisting refreshed token", err)
	}
	return nil
}

// refreshFailed classifies a refresh error. A definitive invalid_grant means
// the refresh token is revoked: the record's token fields are cleared and
// persisted so subsequent lookups fail fast with reauthentication_required
// instead of re-presenting the dead token. Transient failures leave the
// record untouched.
func (m *Manager) refreshFailed(ctx context.Context, record *tokens.TokenRecord, cause error) error {
	logger.Warnw("token refresh failed",
		"provider", record.Provider, "referring_subject", record.ReferringSubject, "error", cause)

	var oauthErr *endpoint.OAuthError
	if stderrors.As(cause, &oauthErr) && oauthErr.InvalidGrant() {
		record.Invalidate(m.now().UTC())
		if err := m.store.Upsert(ctx, record); err != nil {
			return errors.NewStoreUnavailableError("persisting invalidated record", err)
		}
	}
	return errors.NewRefreshFailedError(
		fmt.Sprintf("refresh grant rejected for provider %q subject %q", record.Provider, record.ReferringSubject),
		cause)
}

// exchange trades the record's live access token for one scoped to audience
// and persists it on the same record. The source refresh and ID tokens are
// left in place so the original audience can still be served later.
func (m *Manager) exchange(ctx context.Context, record *tokens.TokenRecord, audience string) (*tokens.Token, error) {
	ep, err := m.endpoints.EndpointFor(record.Provider)
	if err != nil {
		return nil, errors.NewRefreshFailedError("resolving token endpoint", err)
	}

	logger.Infow("exchanging access token",
		"provider", record.Provider, "referring_subject", record.ReferringSubject, "audience", audience)

	grant, err := ep.Exchange(ctx, record.AccessToken.Value, audience)
	if err != nil {
		logger.Warnw("token exchange failed",
			"provider", record.Provider, "referring_subject", record.ReferringSubject,
			"audience", audience, "error", err)

		// An invalid_grant here means the subject token itself was
		// rejected, so the record is as dead as a failed refresh.
		var oauthErr *endpoint.OAuthError
		if stderrors.As(err, &oauthErr) && oauthErr.InvalidGrant() {
			record.Invalidate(m.now().UTC())
			if upsertErr := m.store.Upsert(ctx, record); upsertErr != nil {
				return nil, errors.NewStoreUnavailableError("persisting invalidated record", upsertErr)
			}
		}
		return nil, errors.NewRefreshFailedError(
			fmt.Sprintf("token exchange rejected for provider %q audience %q", record.Provider, audience),
			err)
	}

	now := m.now().UTC()
	record.AccessToken = grant.AccessToken
	record.Audience = audience
	record.Refreshed = now
	record.Updated = now

	if err := m.store.Upsert(ctx, record); err != nil {
		return nil, errors.NewStoreUnavailableError("persisting exchanged token", err)
	}
	return record.AccessToken, nil
}

// absorbClaims copies identity metadata from the granted tokens onto the
// record. Audit-only fields; lookups never key on them.
func (*Manager) absorbClaims(record *tokens.TokenRecord, grant *endpoint.Grant) {
	source := grant.IDToken
	if source == nil {
		source = grant.AccessToken
	}
	claims, err := tokens.ParseClaims(source.Value)
	if err != nil {
		return // opaque token, nothing to absorb
	}
	if claims.Subject != "" {
		record.Subject = claims.Subject
	}
	if claims.Email != "" {
		record.Email = claims.Email
	}
	if claims.Issuer != "" {
		record.Issuer = claims.Issuer
	}
	if audience, ok := claims.SingleAudience(); ok && record.Audience == "" {
		record.Audience = audience
	}
}

// StoreToken persists a record produced by the authentication layer after a
// first-time login or fresh exchange. Created is set on first persistence;
// Updated is bumped every time.
func (m *Manager) StoreToken(ctx context.Context, record *tokens.TokenRecord) error {
	if record.Provider == "" || record.ReferringSubject == "" {
		return fmt.Errorf("token record requires provider and referring subject")
	}

	now := m.now().UTC()
	if record.Created.IsZero() {
		record.Created = now
	}
	record.Updated = now

	if err := m.store.Upsert(ctx, record); err != nil {
		return errors.NewStoreUnavailableError("persisting token record", err)
	}

	logger.Infow("stored token record",
		"provider", record.Provider, "referring_subject", record.ReferringSubject)
	return nil
}

// DeleteToken removes the credential on logout or revocation. Deleting a
// record that does not exist is a no-op so revocation stays idempotent.
func (m *Manager) DeleteToken(ctx context.Context, provider, referringSubject string) error {
	err := m.store.Delete(ctx, provider, referringSubject)
	if stderrors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.NewStoreUnavailableError("deleting token record", err)
	}

	logger.Infow("deleted token record",
		"provider", provider, "referring_subject", referringSubject)
	return nil
}
