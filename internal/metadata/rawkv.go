package metadata

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is absent
	ErrNotFound = errors.New("key not found")

	// ErrKeyExists is returned by PutRawIfAbsent when the key is already set
	ErrKeyExists = errors.New("key already exists")
)

// RawKVStore provides low-level key-value access to the embedded store.
// ACLs, bucket settings and the pre-signed URL ledger are all layered on it.
type RawKVStore interface {
	// GetRaw retrieves a value by exact key. Returns ErrNotFound if absent.
	GetRaw(ctx context.Context, key string) ([]byte, error)

	// PutRaw stores a key-value pair.
	PutRaw(ctx context.Context, key string, value []byte) error

	// PutRawTTL stores a key-value pair that expires after ttl.
	PutRawTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// PutRawIfAbsent stores the pair only when the key does not exist yet
	// (or has expired). Returns ErrKeyExists otherwise. The check and the
	// write happen in one transaction.
	PutRawIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// DeleteRaw removes a key. Returns ErrNotFound if absent.
	DeleteRaw(ctx context.Context, key string) error

	// RawScan iterates all keys that share the given prefix in lexicographic
	// order. fn receives a copy of each (key, value); returning false
	// stops the scan early.
	RawScan(ctx context.Context, prefix string, fn func(key string, val []byte) bool) error
}
