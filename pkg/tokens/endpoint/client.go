// Package endpoint implements the OAuth 2.0 token endpoint client used to
// refresh credentials (RFC 6749 section 6) and to exchange them for a
// different audience (RFC 8693).
package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/icanbwell/credcache/pkg/logger"
	"github.com/icanbwell/credcache/pkg/tokens"
)

const (
	// grantTypeTokenExchange is the OAuth 2.0 Token Exchange grant type (RFC 8693)
	//nolint:gosec // G101: False positive - these are OAuth2 URN identifiers, not credentials
	grantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"

	// grantTypeRefreshToken is the refresh grant type (RFC 6749 section 6)
	//nolint:gosec // G101: False positive - OAuth2 grant type identifier, not a credential
	grantTypeRefreshToken = "refresh_token"

	// tokenTypeAccessToken indicates an OAuth 2.0 access token
	//nolint:gosec // G101: False positive - these are OAuth2 URN identifiers, not credentials
	tokenTypeAccessToken = "urn:ietf:params:oauth:token-type:access_token"

	// defaultHTTPTimeout is the timeout for HTTP requests
	defaultHTTPTimeout = 30 * time.Second

	// maxResponseBodySize is the maximum size for reading response bodies (1 MB)
	maxResponseBodySize = 1 << 20

	// redactedPlaceholder is used to redact sensitive values in string representations
	redactedPlaceholder = "[REDACTED]"

	// emptyPlaceholder is used to indicate empty/missing values in string representations
	emptyPlaceholder = "<empty>"
)

// defaultHTTPClient is the default HTTP client used for token endpoint requests.
var defaultHTTPClient = &http.Client{
	Timeout: defaultHTTPTimeout,
}

// OAuthError is an OAuth 2.0 error response as defined in RFC 6749 Section 5.2.
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	ErrorURI    string `json:"error_uri,omitempty"`
	StatusCode  int    `json:"-"`
}

// Error implements the error interface. The description is included because
// RFC 6749 forbids it from carrying sensitive material, but token values are
// never echoed back here regardless.
func (e *OAuthError) Error() string {
	if e.ErrorURI != "" {
		return fmt.Sprintf("OAuth error %q (status %d): see %s", e.Code, e.StatusCode, e.ErrorURI)
	}
	return fmt.Sprintf("OAuth error %q (status %d)", e.Code, e.StatusCode)
}

// InvalidGrant reports whether the server rejected the presented grant
// itself (expired, revoked or otherwise unusable refresh or subject token).
// Callers treat this as a signal that the stored credential is dead.
func (e *OAuthError) InvalidGrant() bool {
	return e.Code == "invalid_grant"
}

// parseOAuthError attempts to parse an OAuth error response from the given response body.
func parseOAuthError(statusCode int, body []byte) *OAuthError {
	var oauthErr OAuthError
	if err := json.Unmarshal(body, &oauthErr); err != nil {
		return nil
	}
	if oauthErr.Code == "" {
		return nil
	}
	oauthErr.StatusCode = statusCode
	return &oauthErr
}

// clientAuthentication holds OAuth client credentials.
type clientAuthentication struct {
	ClientID     string
	ClientSecret string
}

// String implements fmt.Stringer for clientAuthentication, redacting the client secret.
func (c clientAuthentication) String() string {
	clientSecret := redactedPlaceholder
	if c.ClientSecret == "" {
		clientSecret = emptyPlaceholder
	}

	return fmt.Sprintf("clientAuthentication{ClientID: %s, ClientSecret: %s}",
		c.ClientID, clientSecret)
}

// grantResponse is used to decode the token endpoint response for both the
// refresh and exchange grants.
type grantResponse struct {
	AccessToken     string `json:"access_token"`
	IDToken         string `json:"id_token"`
	IssuedTokenType string `json:"issued_token_type"`
	TokenType       string `json:"token_type"`
	ExpiresIn       int    `json:"expires_in"`
	Scope           string `json:"scope"`
	RefreshToken    string `json:"refresh_token"`
}

// String implements fmt.Stringer for grantResponse, redacting sensitive tokens.
func (r grantResponse) String() string {
	accessToken := redactedPlaceholder
	if r.AccessToken == "" {
		accessToken = emptyPlaceholder
	}

	refreshToken := redactedPlaceholder
	if r.RefreshToken == "" {
		refreshToken = emptyPlaceholder
	}

	return fmt.Sprintf("grantResponse{AccessToken: %s, TokenType: %s, ExpiresIn: %d, RefreshToken: %s}",
		accessToken, r.TokenType, r.ExpiresIn, refreshToken)
}

// Grant is the decoded, successful result of a token endpoint call.
type Grant struct {
	// AccessToken is always present.
	AccessToken *tokens.Token
	// IDToken is present when the server issued one alongside.
	IDToken *tokens.Token
	// RefreshToken is present only when the server rotated it; callers
	// keep their existing refresh token otherwise.
	RefreshToken *tokens.Token
	// Scope is the granted scope, when the server narrowed it.
	Scope string
}

// Config describes one provider's token endpoint.
type Config struct {
	// TokenURL is the OAuth 2.0 token endpoint URL.
	TokenURL string

	// ClientID is the OAuth 2.0 client identifier.
	ClientID string

	// ClientSecret is the OAuth 2.0 client secret. Optional for public
	// clients.
	ClientSecret string

	// Scopes is the list of scopes to request (optional).
	Scopes []string

	// HTTPClient is the HTTP client to use for requests.
	// If nil, a 30-second-timeout default is used.
	HTTPClient *http.Client
}

// Validate checks if the Config contains all required fields.
func (c *Config) Validate() error {
	if c.TokenURL == "" {
		return fmt.Errorf("TokenURL is required")
	}

	if c.ClientID == "" {
		return fmt.Errorf("ClientID is required")
	}

	if _, err := url.Parse(c.TokenURL); err != nil {
		return fmt.Errorf("TokenURL is not a valid URL: %w", err)
	}

	return nil
}

// Client calls one provider's token endpoint.
type Client struct {
	conf Config
	now  func() time.Time
}

// NewClient builds a Client for the given endpoint configuration.
func NewClient(conf Config) (*Client, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid token endpoint config: %w", err)
	}
	return &Client{conf: conf, now: time.Now}, nil
}

// Refresh redeems a refresh token for a fresh access token
// (RFC 6749 section 6). A returned *OAuthError with InvalidGrant true means
// the refresh token is dead and must not be retried.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh_token is required")
	}

	data := url.Values{}
	data.Set("grant_type", grantTypeRefreshToken)
	data.Set("refresh_token", refreshToken)
	if len(c.conf.Scopes) > 0 {
		data.Set("scope", strings.Join(c.conf.Scopes, " "))
	}

	logger.Debugf("refreshing token at %s", c.conf.TokenURL)
	return c.call(ctx, data)
}

// Exchange trades a subject token for a token scoped to the given audience
// (RFC 8693). The subject token is unchanged on the server side; the caller
// keeps it alongside the exchanged result.
func (c *Client) Exchange(ctx context.Context, subjectToken, audience string) (*Grant, error) {
	if subjectToken == "" {
		return nil, fmt.Errorf("subject_token is required")
	}

	data := url.Values{}
	data.Set("grant_type", grantTypeTokenExchange)
	data.Set("subject_token", subjectToken)
	data.Set("subject_token_type", tokenTypeAccessToken)
	data.Set("requested_token_type", tokenTypeAccessToken)
	if audience != "" {
		data.Set("audience", audience)
	}
	if len(c.conf.Scopes) > 0 {
		data.Set("scope", strings.Join(c.conf.Scopes, " "))
	}

	logger.Debugf("exchanging token at %s for audience %q", c.conf.TokenURL, audience)
	return c.call(ctx, data)
}

// TokenSource returns an oauth2.TokenSource that performs an exchange for
// the given audience on every Token call, reading the subject token through
// the provider function so it is fetched only when needed.
func (c *Client) TokenSource(ctx context.Context, audience string, subjectToken func() (string, error)) oauth2.TokenSource {
	return &exchangeTokenSource{ctx: ctx, client: c, audience: audience, subjectToken: subjectToken}
}

type exchangeTokenSource struct {
	ctx          context.Context
	client       *Client
	audience     string
	subjectToken func() (string, error)
}

// Token implements oauth2.TokenSource.
func (ts *exchangeTokenSource) Token() (*oauth2.Token, error) {
	subject, err := ts.subjectToken()
	if err != nil {
		return nil, fmt.Errorf("failed to get subject token: %w", err)
	}

	grant, err := ts.client.Exchange(ts.ctx, subject, ts.audience)
	if err != nil {
		return nil, err
	}

	token := &oauth2.Token{
		AccessToken: grant.AccessToken.Value,
		TokenType:   "Bearer",
		Expiry:      grant.AccessToken.ExpiresAt,
	}
	if grant.RefreshToken != nil {
		token.RefreshToken = grant.RefreshToken.Value
	}
	return token, nil
}

// call POSTs the form to the token endpoint and decodes the grant.
func (c *Client) call(ctx context.Context, data url.Values) (*Grant, error) {
	auth := clientAuthentication{ClientID: c.conf.ClientID, ClientSecret: c.conf.ClientSecret}

	req, err := createTokenRequest(ctx, c.conf.TokenURL, data, auth)
	if err != nil {
		return nil, err
	}

	client := c.conf.HTTPClient
	if client == nil {
		client = defaultHTTPClient
	}

	body, err := executeTokenRequest(client, req)
	if err != nil {
		return nil, err
	}

	var resp grantResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		logger.Debugf("failed to parse token endpoint response: %v", err)
		return nil, fmt.Errorf("failed to parse token endpoint response")
	}

	if resp.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned empty access_token")
	}

	return c.buildGrant(&resp), nil
}

// buildGrant converts the wire response into tokens with absolute expiries.
func (c *Client) buildGrant(resp *grantResponse) *Grant {
	now := c.now().UTC()

	grant := &Grant{Scope: resp.Scope}

	grant.AccessToken = &tokens.Token{Value: resp.AccessToken, IssuedAt: now}
	if resp.ExpiresIn > 0 {
		grant.AccessToken.ExpiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	// Prefer the token's own exp claim when it is a JWT: the claim is
	// authoritative and survives serialization, expires_in does not.
	if fromClaims, err := tokens.NewTokenFromJWT(resp.AccessToken); err == nil && !fromClaims.ExpiresAt.IsZero() {
		grant.AccessToken = fromClaims
	}

	if resp.IDToken != "" {
		if idToken, err := tokens.NewTokenFromJWT(resp.IDToken); err == nil {
			grant.IDToken = idToken
		} else {
			// Not a parseable JWT: the expiry stays unknown rather than
			// borrowed from the access token.
			grant.IDToken = &tokens.Token{Value: resp.IDToken, IssuedAt: now}
		}
	}

	if resp.RefreshToken != "" {
		grant.RefreshToken = &tokens.Token{Value: resp.RefreshToken, IssuedAt: now}
		if fromClaims, err := tokens.NewTokenFromJWT(resp.RefreshToken); err == nil && !fromClaims.ExpiresAt.IsZero() {
			grant.RefreshToken = fromClaims
		}
	}

	return grant
}

// createTokenRequest creates an HTTP POST request for the token endpoint.
// Client credentials are sent via HTTP Basic Authentication as recommended by RFC 6749 Section 2.3.1.
func createTokenRequest(
	ctx context.Context,
	endpoint string,
	data url.Values,
	auth clientAuthentication,
) (*http.Request, error) {
	encodedData := data.Encode()
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(encodedData))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Content-Length", strconv.Itoa(len(encodedData)))

	// Per RFC 6749 and Go's SetBasicAuth documentation, credentials must be
	// URL-encoded before being passed to SetBasicAuth
	if auth.ClientID != "" && auth.ClientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(auth.ClientID), url.QueryEscape(auth.ClientSecret))
	}

	return req, nil
}

// executeTokenRequest sends the HTTP request and returns the response body.
func executeTokenRequest(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if err := validateResponseStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}

// validateResponseStatus checks the HTTP status code and returns an error if not successful.
func validateResponseStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode <= 299 {
		return nil
	}

	if oauthErr := parseOAuthError(statusCode, body); oauthErr != nil {
		logger.Debugf("token endpoint OAuth error: %s (description: %s)", oauthErr.Code, oauthErr.Description)
		return oauthErr
	}

	logger.Debugf("token request failed with status %d", statusCode)
	return fmt.Errorf("token request failed with status %d", statusCode)
}
