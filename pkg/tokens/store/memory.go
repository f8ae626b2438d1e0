package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/icanbwell/credcache/pkg/tokens"
)

// MemoryStore is an in-process Store. Records are kept as serialized JSON so
// that callers always receive independent copies; a caller mutating a
// returned record cannot corrupt the stored one.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory token record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

// Find returns the record for the key, or ErrNotFound.
func (s *MemoryStore) Find(_ context.Context, provider, referringSubject string) (*tokens.TokenRecord, error) {
	s.mu.RLock()
	data, ok := s.records[tokens.RecordKey(provider, referringSubject)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	var record tokens.TokenRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding token record: %w", err)
	}
	return &record, nil
}

// Upsert inserts or fully replaces the record. Last writer wins.
func (s *MemoryStore) Upsert(_ context.Context, record *tokens.TokenRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding token record: %w", err)
	}

	s.mu.Lock()
	s.records[record.Key()] = data
	s.mu.Unlock()
	return nil
}

// Delete removes the record for the key.
func (s *MemoryStore) Delete(_ context.Context, provider, referringSubject string) error {
	key := tokens.RecordKey(provider, referringSubject)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		return ErrNotFound
	}
	delete(s.records, key)
	return nil
}

// List returns all records matching the filter, ordered by key.
func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]*tokens.TokenRecord, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.records))
	for key := range s.records {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]*tokens.TokenRecord, 0, len(keys))
	for _, key := range keys {
		var record tokens.TokenRecord
		if err := json.Unmarshal(s.records[key], &record); err != nil {
			s.mu.RUnlock()
			return nil, fmt.Errorf("decoding token record: %w", err)
		}
		if filter.Provider != "" && record.Provider != filter.Provider {
			continue
		}
		result = append(result, &record)
	}
	s.mu.RUnlock()
	return result, nil
}

// Close is a no-op for the in-memory store.
func (*MemoryStore) Close() error {
	return nil
}
