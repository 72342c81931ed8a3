// Package store provides the pluggable key-value persistence layer used by
// the risk engine. All engine state (directory entries, history logs, cases,
// audit records) round-trips through a Store so the rolling-window and lookup
// logic behaves identically against the in-memory, Badger, and relational
// backends.
package store

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by Get when no value exists for the key.
var ErrKeyNotFound = errors.New("store: key not found")

// KV is a single key-value pair yielded by a prefix scan.
type KV struct {
	Key   string
	Value []byte
}

// Store is a minimal ordered key-value contract. Keys are namespaced by the
// caller (e.g. "directory:email:alice@example.com"); ScanPrefix iterates in
// ascending key order.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	ScanPrefix(ctx context.Context, prefix string, fn func(kv KV) error) error
	Close() error
}
