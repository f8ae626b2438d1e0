// Package store provides the durable TokenRecord store contract and its
// backends. The store is a pass-through to the underlying database: it holds
// no caching logic of its own, so invalidation on logout stays trivially
// correct. Any performance caching is layered on top by the exchange
// manager.
package store

import (
	"context"
	"errors"

	"github.com/icanbwell/credcache/pkg/tokens"
)


// ErrNotFound is returned when no token record exists for the requested key.
var ErrNotFound = errors.New("token record not found")

// Store persists token records keyed by (provider, referringSubject).
// Implementations must provide atomic per-key upsert semantics.
type Store interface {
	// Find returns the record for the key, or ErrNotFound.
	Find(ctx context.Context, provider, referringSubject string) (*tokens.TokenRecord, error)

	// Upsert inserts or fully replaces the record identified by its
	// (Provider, ReferringSubject). Last writer wins.
	Upsert(ctx context.Context, record *tokens.TokenRecord) error

	// Delete removes the record for the key. Used on logout/revocation.
	// Returns ErrNotFound when no record exists.
	Delete(ctx context.Context, provider, referringSubject string) error

	// List returns all records matching the filter.
	List(ctx context.Context, filter ListFilter) ([]*tokens.TokenRecord, error)

	// Close releases any resources held by the store.
	Close() error
}

// ListFilter configures filtering for List operations.
type ListFilter struct {
	// Provider filters by identity provider. Empty matches all providers.
	Provider string
}
