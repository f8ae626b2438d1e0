// Package settings reads the operator configuration surface from the
// environment: cache TTLs, clock-skew margin, lock timeout, config source
// paths and the token store backend.
package settings

import (
	"fmt"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/icanbwell/credcache/pkg/configcache"
	"github.com/icanbwell/credcache/pkg/configcache/loader"
	"github.com/icanbwell/credcache/pkg/tokens/store"
)

// envPrefix is prepended to every environment variable, so the TTL is
// CREDCACHE_CONFIG_TTL_SECONDS and so on.
const envPrefix = "CREDCACHE"

// Settings is the resolved operator configuration.
type Settings struct {
	// ConfigTTL is how long a loaded model config list stays valid.
	ConfigTTL time.Duration

	// ClockSkew is the safety margin subtracted from token expiries.
	ClockSkew time.Duration

	// LockTimeout bounds how long a caller waits on another caller's
	// in-flight load or refresh. Zero waits forever.
	LockTimeout time.Duration

	// ModelsPath is the primary config source: a file or directory path,
	// an https:// URL, or an s3://bucket/prefix URL.
	ModelsPath string

	// ModelsTestingPath is an optional second source tried after the
	// primary when the primary yields nothing.
	ModelsTestingPath string

	// ModelsBackupPath is the local fallback used when the other sources
	// fail or come back empty.
	ModelsBackupPath string

	// StoreBackend selects the token store: memory, sqlite or redis.
	StoreBackend string

	// SQLitePath is the token database location for the sqlite backend.
	SQLitePath string

	// RedisURL and RedisKeyPrefix configure the redis backend.
	RedisURL       string
	RedisKeyPrefix string
}

// Load reads settings from the environment, applying defaults.
func Load() (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetDefault("config_ttl_seconds", 3600)
	v.SetDefault("clock_skew_seconds", 30)
	v.SetDefault("lock_timeout_seconds", 0)
	v.SetDefault("token_store", string(store.BackendMemory))

	s := &Settings{
		ConfigTTL:         time.Duration(v.GetInt("config_ttl_seconds")) * time.Second,
		ClockSkew:         time.Duration(v.GetInt("clock_skew_seconds")) * time.Second,
		LockTimeout:       time.Duration(v.GetInt("lock_timeout_seconds")) * time.Second,
		ModelsPath:        v.GetString("models_path"),
		ModelsTestingPath: v.GetString("models_testing_path"),
		ModelsBackupPath:  v.GetString("models_backup_path"),
		StoreBackend:      v.GetString("token_store"),
		SQLitePath:        v.GetString("sqlite_path"),
		RedisURL:          v.GetString("redis_url"),
		RedisKeyPrefix:    v.GetString("redis_key_prefix"),
	}

	if s.ConfigTTL < 0 {
		return nil, fmt.Errorf("config TTL must not be negative")
	}
	if s.ClockSkew < 0 {
		return nil, fmt.Errorf("clock skew must not be negative")
	}
	if s.StoreBackend == string(store.BackendSQLite) && s.SQLitePath == "" {
		path, err := DefaultSQLitePath()
		if err != nil {
			return nil, err
		}
		s.SQLitePath = path
	}

	return s, nil
}

// DefaultSQLitePath returns the XDG data location for the token database.
func DefaultSQLitePath() (string, error) {
	path, err := xdg.DataFile("credcache/tokens.db")
	if err != nil {
		return "", fmt.Errorf("resolving default token database path: %w", err)
	}
	return path, nil
}

// StoreConfig translates the settings into a token store configuration.
func (s *Settings) StoreConfig() store.Config {
	return store.Config{
		Backend:        store.Backend(s.StoreBackend),
		SQLitePath:     s.SQLitePath,
		RedisURL:       s.RedisURL,
		RedisKeyPrefix: s.RedisKeyPrefix,
	}
}

// ConfigLoader builds the loader chain from the configured source paths:
// primary, then testing, then backup; the first source yielding entries
// wins. Each path is dispatched on its scheme.
func (s *Settings) ConfigLoader() (configcache.Loader, error) {
	var sources []configcache.Loader
	for _, path := range []string{s.ModelsPath, s.ModelsTestingPath, s.ModelsBackupPath} {
		if path == "" {
			continue
		}
		source, err := loaderForPath(path)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no model config source configured, set %s_MODELS_PATH", envPrefix)
	}
	return loader.Chain(sources...), nil
}

// loaderForPath picks a loader by path scheme.
func loaderForPath(path string) (configcache.Loader, error) {
	switch {
	case strings.HasPrefix(path, "s3://"):
		return loader.S3(path), nil
	case strings.HasPrefix(path, "https://"):
		return loader.HTTP(path), nil
	case strings.HasPrefix(path, "http://"):
		return nil, fmt.Errorf("config URL %q must use https", path)
	default:
		return loader.File(path), nil
	}
}
