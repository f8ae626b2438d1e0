package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/icanbwell/credcache/pkg/configcache"
	"github.com/icanbwell/credcache/pkg/logger"
)

const (
	// httpTimeout bounds one fetch attempt.
	httpTimeout = 30 * time.Second

	// maxConfigBodySize caps the response body (4 MB). Config payloads are
	// small; anything bigger is a misconfigured URL.
	maxConfigBodySize = 4 << 20

	// defaultHTTPTries is the total number of attempts, including the first.
	defaultHTTPTries = 3
)

// HTTPOption configures the HTTP loader.
type HTTPOption func(*httpLoader)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(l *httpLoader) {
		l.client = client
	}
}

// WithMaxTries sets the total number of fetch attempts, including the first.
func WithMaxTries(n uint) HTTPOption {
	return func(l *httpLoader) {
		l.maxTries = n
	}
}

// WithAllowHTTP permits plain-HTTP URLs. Only for tests against local
// fixtures; production config URLs must be HTTPS.
func WithAllowHTTP() HTTPOption {
	return func(l *httpLoader) {
		l.allowHTTP = true
	}
}

type httpLoader struct {
	url       string
	client    *http.Client
	maxTries  uint
	allowHTTP bool
}

// HTTP loads model configs from an HTTPS URL, retrying transient failures
// with exponential backoff. Client errors (4xx) are not retried.
func HTTP(rawURL string, opts ...HTTPOption) configcache.Loader {
	l := &httpLoader{
		url:      rawURL,
		client:   &http.Client{Timeout: httpTimeout},
		maxTries: defaultHTTPTries,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l.load
}

func (l *httpLoader) load(ctx context.Context) ([]configcache.ModelConfig, error) {
	parsed, err := url.Parse(l.url)
	if err != nil {
		return nil, fmt.Errorf("invalid config URL: %w", err)
	}
	if parsed.Scheme != "https" && !l.allowHTTP {
		return nil, fmt.Errorf("config URL must use https, got %q", parsed.Scheme)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond

	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		return l.fetch(ctx)
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(l.maxTries),
		backoff.WithNotify(func(err error, delay time.Duration) {
			logger.Debugf("Retrying config fetch after %v: %v", delay, err)
		}),
	)
	if err != nil {
		return nil, err
	}

	isJSON := strings.HasSuffix(parsed.Path, ".json")
	configs, err := decodeConfigs(body, isJSON)
	if err != nil {
		return nil, fmt.Errorf("parsing config response from %q: %w", l.url, err)
	}
	return configs, nil
}

func (l *httpLoader) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json, application/yaml")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching config: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxConfigBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading config response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return body, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The URL is wrong or unauthorized; retrying will not help.
		return nil, backoff.Permanent(fmt.Errorf("config fetch failed with status %d", resp.StatusCode))
	default:
		return nil, fmt.Errorf("config fetch failed with status %d", resp.StatusCode)
	}
}
