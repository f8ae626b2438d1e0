package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/icanbwell/credcache/pkg/tokens"
)

// DefaultRedisKeyPrefix namespaces token records so the store can share a
// Redis deployment with other tenants.
const DefaultRedisKeyPrefix = "credcache:tokens:"

// RedisStore implements Store on Redis. Records are stored as JSON strings
// under prefix + provider + ":" + referringSubject, so deployments with many
// gateway replicas share one durable view of every subject's tokens.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to the Redis instance described by url
// (redis:// or rediss:// form) and verifies connectivity with a ping.
func NewRedisStore(ctx context.Context, url, keyPrefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	if keyPrefix == "" {
		keyPrefix = DefaultRedisKeyPrefix
	}
	return &RedisStore{client: client, prefix: keyPrefix}, nil
}

// NewRedisStoreWithClient wraps an existing client. The caller keeps
// ownership of the client; Close on the returned store still closes it.
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = DefaultRedisKeyPrefix
	}
	return &RedisStore{client: client, prefix: keyPrefix}
}

func (s *RedisStore) key(provider, referringSubject string) string {
	return s.prefix + tokens.RecordKey(provider, referringSubject)
}

// Find returns the record for the key, or ErrNotFound.
func (s *RedisStore) Find(ctx context.Context, provider, referringSubject string) (*tokens.TokenRecord, error) {
	data, err := s.client.Get(ctx, s.key(provider, referringSubject)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching token record: %w", err)
	}

	var record tokens.TokenRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding token record: %w", err)
	}
	return &record, nil
}

// Upsert inserts or fully replaces the record. Records carry their own
// expiry metadata, so no Redis TTL is set; invalidated records must remain
// readable for their audit fields.
func (s *RedisStore) Upsert(ctx context.Context, record *tokens.TokenRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding token record: %w", err)
	}

	if err := s.client.Set(ctx, s.key(record.Provider, record.ReferringSubject), data, 0).Err(); err != nil {
		return fmt.Errorf("storing token record: %w", err)
	}
	return nil
}

// Delete removes the record for the key.
func (s *RedisStore) Delete(ctx context.Context, provider, referringSubject string) error {
	deleted, err := s.client.Del(ctx, s.key(provider, referringSubject)).Result()
	if err != nil {
		return fmt.Errorf("deleting token record: %w", err)
	}
	if deleted == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all records matching the filter, ordered by key. It scans
// the keyspace under the store's prefix, so it is an operator-facing
// operation rather than a hot-path one.
func (s *RedisStore) List(ctx context.Context, filter ListFilter) ([]*tokens.TokenRecord, error) {
	pattern := s.prefix + "*"
	if filter.Provider != "" {
		pattern = s.prefix + filter.Provider + ":*"
	}

	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		// A provider name containing ":" could alias another provider's
		// prefix; re-check the decoded record below before trusting it.
		if strings.HasPrefix(key, s.prefix) {
			keys = append(keys, key)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning token records: %w", err)
	}
	sort.Strings(keys)

	var result []*tokens.TokenRecord
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // deleted between scan and fetch
		}
		if err != nil {
			return nil, fmt.Errorf("fetching token record: %w", err)
		}
		var record tokens.TokenRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("decoding token record: %w", err)
		}
		if filter.Provider != "" && record.Provider != filter.Provider {
			continue
		}
		result = append(result, &record)
	}
	return result, nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
