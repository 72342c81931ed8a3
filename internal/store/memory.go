package store

import (
	"context"
	"strings"
	"sync"

	"github.com/tidwall/btree"
)

// MemoryStore is an ordered in-memory Store backed by a B-tree map. It is the
// default backend for tests and single-process deployments without a data
// directory configured.
type MemoryStore struct {
	mu   sync.RWMutex
	tree *btree.Map[string, []byte]
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tree: btree.NewMap[string, []byte](32)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.tree.Get(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	s.mu.Lock()
	s.tree.Set(key, cp)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	s.tree.Delete(key)
	s.mu.Unlock()
	return nil
}

// ScanPrefix visits entries with the given key prefix in ascending order.
// The callback receives a copy of the stored value and may return an error
// to stop the scan early.
func (s *MemoryStore) ScanPrefix(ctx context.Context, prefix string, fn func(kv KV) error) error {
	// Snapshot matching pairs under the read lock so fn can call back into
	// the store without deadlocking.
	s.mu.RLock()
	var pairs []KV
	s.tree.Ascend(prefix, func(key string, value []byte) bool {
		if !strings.HasPrefix(key, prefix) {
			return false
		}
		cp := make([]byte, len(value))
		copy(cp, value)
		pairs = append(pairs, KV{Key: key, Value: cp})
		return true
	})
	s.mu.RUnlock()

	for _, kv := range pairs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(kv); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
