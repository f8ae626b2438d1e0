package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tokenServer fakes a provider token endpoint and captures the last form it
// received.
type tokenServer struct {
	*httptest.Server

	lastForm   url.Values
	lastUser   string
	lastSecret string

	status int
	body   map[string]any
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()

	ts := &tokenServer{status: http.StatusOK}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		ts.lastForm = r.PostForm
		ts.lastUser, ts.lastSecret, _ = r.BasicAuth()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(ts.status)
		require.NoError(t, json.NewEncoder(w).Encode(ts.body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestClient(t *testing.T, srv *tokenServer) *Client {
	t.Helper()

	client, err := NewClient(Config{
		TokenURL:     srv.URL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	})
	require.NoError(t, err)
	return client
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		conf    Config
		wantErr bool
	}{
		{
			name: "valid",
			conf: Config{TokenURL: "https://idp.example.com/token", ClientID: "id"},
		},
		{
			name:    "missing token URL",
			conf:    Config{ClientID: "id"},
			wantErr: true,
		},
		{
			name:    "missing client ID",
			conf:    Config{TokenURL: "https://idp.example.com/token"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.conf.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	srv := newTokenServer(t)
	srv.body = map[string]any{
		"access_token": "new-access",
		"token_type":   "Bearer",
		"expires_in":   3600,
	}

	client := newTestClient(t, srv)

	grant, err := client.Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)

	assert.Equal(t, "refresh_token", srv.lastForm.Get("grant_type"))
	assert.Equal(t, "old-refresh", srv.lastForm.Get("refresh_token"))
	assert.Equal(t, "client-id", srv.lastUser)
	assert.Equal(t, "client-secret", srv.lastSecret)

	require.NotNil(t, grant.AccessToken)
	assert.Equal(t, "new-access", grant.AccessToken.Value)
	assert.WithinDuration(t, time.Now().Add(time.Hour), grant.AccessToken.ExpiresAt, 10*time.Second)
	assert.Nil(t, grant.RefreshToken, "refresh token was not rotated")
}

func TestRefreshRotatesRefreshToken(t *testing.T) {
	t.Parallel()

	srv := newTokenServer(t)
	srv.body = map[string]any{
		"access_token":  "new-access",
		"token_type":    "Bearer",
		"expires_in":    3600,
		"refresh_token": "rotated-refresh",
	}

	client := newTestClient(t, srv)

	grant, err := client.Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)
	require.NotNil(t, grant.RefreshToken)
	assert.Equal(t, "rotated-refresh", grant.RefreshToken.Value)
}

func TestRefreshRequiresToken(t *testing.T) {
	t.Parallel()

	srv := newTokenServer(t)
	client := newTestClient(t, srv)

	_, err := client.Refresh(context.Background(), "")
	assert.Error(t, err)
	assert.Nil(t, srv.lastForm, "no request should reach the server")
}

func TestRefreshInvalidGrant(t *testing.T) {
	t.Parallel()

	srv := newTokenServer(t)
	srv.status = http.StatusBadRequest
	srv.body = map[string]any{
		"error":             "invalid_grant",
		"error_description": "refresh token revoked",
	}

	client := newTestClient(t, srv)

	_, err := client.Refresh(context.Background(), "revoked-refresh")
	require.Error(t, err)

	var oauthErr *OAuthError
	require.ErrorAs(t, err, &oauthErr)
	assert.True(t, oauthErr.InvalidGrant())
	assert.Equal(t, http.StatusBadRequest, oauthErr.StatusCode)
	// Error text never carries token material.
	assert.NotContains(t, err.Error(), "revoked-refresh")
}

func TestExchange(t *testing.T) {
	t.Parallel()

	srv := newTokenServer(t)
	srv.body = map[string]any{
		"access_token":      "exchanged-access",
		"issued_token_type": "urn:ietf:params:oauth:token-type:access_token",
		"token_type":        "Bearer",
		"expires_in":        600,
	}

	client := newTestClient(t, srv)

	grant, err := client.Exchange(context.Background(), "subject-token", "https://graph.example.com")
	require.NoError(t, err)

	assert.Equal(t, grantTypeTokenExchange, srv.lastForm.Get("grant_type"))
	assert.Equal(t, "subject-token", srv.lastForm.Get("subject_token"))
	assert.Equal(t, tokenTypeAccessToken, srv.lastForm.Get("subject_token_type"))
	assert.Equal(t, tokenTypeAccessToken, srv.lastForm.Get("requested_token_type"))
	assert.Equal(t, "https://graph.example.com", srv.lastForm.Get("audience"))

	require.NotNil(t, grant.AccessToken)
	assert.Equal(t, "exchanged-access", grant.AccessToken.Value)
}

func TestExchangeRequiresSubject(t *testing.T) {
	t.Parallel()

	srv := newTokenServer(t)
	client := newTestClient(t, srv)

	_, err := client.Exchange(context.Background(), "", "aud")
	assert.Error(t, err)
}

func TestEmptyAccessTokenRejected(t *testing.T) {
	t.Parallel()

	srv := newTokenServer(t)
	srv.body = map[string]any{"token_type": "Bearer"}

	client := newTestClient(t, srv)

	_, err := client.Refresh(context.Background(), "refresh")
	assert.ErrorContains(t, err, "empty access_token")
}

func TestOpaqueIDTokenKeepsUnknownExpiry(t *testing.T) {
	t.Parallel()

	srv := newTokenServer(t)
	srv.body = map[string]any{
		"access_token": "opaque-access",
		"id_token":     "opaque-id",
		"expires_in":   3600,
	}

	client := newTestClient(t, srv)

	grant, err := client.Refresh(context.Background(), "refresh")
	require.NoError(t, err)
	require.NotNil(t, grant.IDToken)
	assert.Equal(t, "opaque-id", grant.IDToken.Value)
	// expires_in covers the access token only; an ID token without an exp
	// claim has no known lifetime and must stay unusable.
	assert.True(t, grant.IDToken.ExpiresAt.IsZero())
	assert.False(t, grant.IDToken.Valid(0))
}

func TestNonOAuthErrorResponse(t *testing.T) {
	t.Parallel()

	srv := newTokenServer(t)
	srv.status = http.StatusBadGateway
	srv.body = map[string]any{"message": "upstream exploded"}

	client := newTestClient(t, srv)

	_, err := client.Refresh(context.Background(), "refresh")
	require.Error(t, err)

	var oauthErr *OAuthError
	assert.False(t, errors.As(err, &oauthErr))
	assert.ErrorContains(t, err, "status 502")
}

func TestTokenSource(t *testing.T) {
	t.Parallel()

	srv := newTokenServer(t)
	srv.body = map[string]any{
		"access_token": "exchanged-access",
		"token_type":   "Bearer",
		"expires_in":   600,
	}

	client := newTestClient(t, srv)

	src := client.TokenSource(context.Background(), "https://graph.example.com", func() (string, error) {
		return "subject-token", nil
	})

	token, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "exchanged-access", token.AccessToken)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.True(t, token.Valid())
}

func TestOAuthErrorString(t *testing.T) {
	t.Parallel()

	err := &OAuthError{Code: "invalid_client", StatusCode: 401}
	assert.Equal(t, `OAuth error "invalid_client" (status 401)`, err.Error())

	err.ErrorURI = "https://idp.example.com/errors"
	assert.Contains(t, err.Error(), "see https://idp.example.com/errors")
}
