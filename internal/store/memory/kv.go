// Package memory provides the in-memory key-value store used in
// non-persistent environments. Semantics match the Postgres store exactly so
// the fallback is transparent to callers.
package memory

import (
	"context"
	"sync"

	"github.com/sitescope/scanner/internal/scan"
)

// KV is a mutex-guarded map implementing scan.KVStore.
type KV struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewKV constructs an empty KV.
func NewKV() *KV {
	return &KV{entries: make(map[string][]byte)}
}

// Get returns a copy of the stored bytes, or scan.ErrNotFound.
func (s *KV) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.entries[key]
	if !ok {
		return nil, scan.ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set stores a copy of value under key.
func (s *KV) Set(_ context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = stored
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *KV) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
