// Package cache provides the in-memory caching primitives for credcache:
// a generic single-slot TTL cache, a keyed single-flight load group, and a
// one-shot memoized initializer.
//
// Everything in this package is pure in-memory bookkeeping; no operation
// performs I/O or blocks on anything other than its own mutex.
package cache

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/icanbwell/credcache/pkg/logger"
)

// Option configures a cache created by this package.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// entry pairs a cached value with the instant it was stored. The two fields
// are only ever read or replaced together, under the cache mutex, so a
// reader can never observe a value without its matching timestamp.
type entry[T any] struct {
	value T
	stamp time.Time
}

// ExpiringCache is a concurrency-safe single-slot cache whose value expires
// ttl after it was last set. A TTL of zero (or less) disables the cache:
// the slot is always considered expired.
type ExpiringCache[T any] struct {
	ttl time.Duration
	now func() time.Time
	id  uuid.UUID

	mu      sync.Mutex
	current *entry[T]
}

// NewExpiring creates an ExpiringCache with the given TTL.
func NewExpiring[T any](ttl time.Duration, opts ...Option) *ExpiringCache[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &ExpiringCache[T]{
		ttl: ttl,
		now: o.now,
		id:  uuid.New(),
	}
}

// IsValid reports whether a value has been set and has not yet expired.
// It has no side effects.
func (c *ExpiringCache[T]) IsValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validLocked()
}

func (c *ExpiringCache[T]) validLocked() bool {
	if c.current == nil || c.ttl <= 0 {
		return false
	}
	age := c.now().Sub(c.current.stamp)
	valid := age < c.ttl
	logger.Debugw("expiring cache validity check",
		"cache_id", c.id.String(), "valid", valid, "age", age, "ttl", c.ttl)
	return valid
}

// Get returns the cached value if it is still valid. The second return
// value reports whether a valid value was present.
func (c *ExpiringCache[T]) Get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.validLocked() {
		var zero T
		return zero, false
	}
	return c.current.value, true
}

// Set atomically stores value and stamps it with the current time.
// The last completed Set wins under concurrent writers.
func (c *ExpiringCache[T]) Set(value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = &entry[T]{value: value, stamp: c.now()}
	logger.Debugw("expiring cache set", "cache_id", c.id.String(), "stamp", c.current.stamp)
}

// Clear atomically removes the stored value so that IsValid becomes false.
// Clearing an already-empty cache is a no-op.
func (c *ExpiringCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
	logger.Debugw("expiring cache cleared", "cache_id", c.id.String())
}

// Create is an idempotent initializer. When init is non-nil it behaves like
// Set and returns the stored value; otherwise it returns the current Get
// result without side effects.
func (c *ExpiringCache[T]) Create(init *T) (T, bool) {
	if init != nil {
		c.Set(*init)
		return *init, true
	}
	return c.Get()
}
