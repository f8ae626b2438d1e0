package store

import (
	"context"
	"fmt"

	"github.com/icanbwell/credcache/pkg/logger"
)

// Backend identifies a store implementation.
type Backend string

const (
	// BackendMemory keeps records in process memory. Records do not
	// survive restarts; intended for tests and single-shot tooling.
	BackendMemory Backend = "memory"
	// BackendSQLite persists records to a local SQLite database.
	BackendSQLite Backend = "sqlite"
	// BackendRedis persists records to a shared Redis instance.
	BackendRedis Backend = "redis"
)

// Config selects and parameterizes a store backend.
type Config struct {
	// Backend names the implementation; defaults to BackendMemory.
	Backend Backend
	// SQLitePath is the database file path for BackendSQLite.
	// Empty opens an in-memory database.
	SQLitePath string
	// RedisURL is the connection URL for BackendRedis.
	RedisURL string
	// RedisKeyPrefix overrides DefaultRedisKeyPrefix when non-empty.
	RedisKeyPrefix string
}

// New builds the store described by cfg.
func New(ctx context.Context, cfg Config) (Store, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = BackendMemory
	}

	switch backend {
	case BackendMemory:
		logger.Debug("using in-memory token store")
		return NewMemoryStore(), nil
	case BackendSQLite:
		logger.Debugf("using sqlite token store at %q", cfg.SQLitePath)
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis token store requires a URL")
		}
		logger.Debug("using redis token store")
		return NewRedisStore(ctx, cfg.RedisURL, cfg.RedisKeyPrefix)
	default:
		return nil, fmt.Errorf("unknown token store backend %q", backend)
	}
}
