package configcache

import (
	"context"
	"time"

	"github.com/icanbwell/credcache/pkg/cache"
	"github.com/icanbwell/credcache/pkg/errors"
	"github.com/icanbwell/credcache/pkg/logger"
)

// DefaultTTL is how long a loaded configuration list stays valid.
const DefaultTTL = time.Hour

// flightKey is the single-flight key. There is exactly one config payload,
// so the key is fixed rather than sharded.
const flightKey = "model-configs"

// Loader produces the full configuration list. Injected; the wire format
// (file, HTTP, S3, chain of those) is the loader's business.
type Loader func(ctx context.Context) ([]ModelConfig, error)

// CacheOption configures a ConfigCache.
type CacheOption func(*ConfigCache)

// WithCacheClock overrides the TTL time source. Test-only.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *ConfigCache) {
		c.clockOpts = append(c.clockOpts, cache.WithClock(now))
	}
}

// WithLoadTimeout bounds how long a caller waits for another caller's
// in-flight load before failing with a lock_timeout error. Zero waits
// forever.
func WithLoadTimeout(d time.Duration) CacheOption {
	return func(c *ConfigCache) {
		c.loadTimeout = d
	}
}

// ConfigCache caches the model configuration list behind a TTL. Reads hit
// the cache without any lock on the fast path; an expired cache funnels all
// callers into one shared loader call.
//
// A ConfigCache is an explicitly constructed instance with the lifetime of
// whatever composes it. It holds no process-wide state.
type ConfigCache struct {
	load   Loader
	cached *cache.ExpiringCache[[]ModelConfig]
	flight *cache.LoadGroup[[]ModelConfig]

	clockOpts   []cache.Option
	loadTimeout time.Duration
}

// New creates a ConfigCache around load with the given TTL. A TTL of zero
// disables caching: every GetConfigs call reloads (still single-flighted).
func New(load Loader, ttl time.Duration, opts ...CacheOption) *ConfigCache {
	c := &ConfigCache{load: load}
	for _, opt := range opts {
		opt(c)
	}
	c.cached = cache.NewExpiring[[]ModelConfig](ttl, c.clockOpts...)
	c.flight = cache.NewLoadGroup[[]ModelConfig](cache.WithWaitTimeout(c.loadTimeout))
	return c
}

// GetConfigs returns the configuration list, loading it if the cache is
// empty or expired. Concurrent callers racing on an expired cache share one
// loader invocation. Loader failures propagate as config_load errors and
// are never cached; the next call retries.
func (c *ConfigCache) GetConfigs(ctx context.Context) ([]ModelConfig, error) {
	return c.flight.Load(ctx, flightKey, c.cached.Get, c.reload)
}

// Refresh clears the cache and reloads immediately, returning the fresh
// list. Used by operator tooling to pick up config changes before the TTL
// lapses.
func (c *ConfigCache) Refresh(ctx context.Context) ([]ModelConfig, error) {
	c.cached.Clear()
	c.flight.Forget(flightKey)
	logger.Info("config cache cleared, reloading")
	return c.GetConfigs(ctx)
}

// reload invokes the loader and populates the cache. Runs inside the
// single-flight, so at most one reload is in progress at a time.
func (c *ConfigCache) reload(ctx context.Context) ([]ModelConfig, error) {
	loaded, err := c.load(ctx)
	if err != nil {
		logger.Warnw("model config load failed", "error", err)
		return nil, errors.NewConfigLoadError("loading model configurations", err)
	}

	configs := filterDisabled(loaded)
	c.cached.Set(configs)
	logger.Infow("model configurations loaded",
		"total", len(loaded), "enabled", len(configs))
	return configs, nil
}
