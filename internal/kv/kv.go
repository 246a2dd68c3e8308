// Package kv provides the durable key-value facade used by the aggregation
// store and the tracker: an in-memory read cache, coalesced debounced writes
// and a change feed for modifications made outside this process.
package kv

import (
	"context"
	"errors"
)

// Sentinel errors.
var (
	// ErrNotFound is returned by backends when a key has no value.
	ErrNotFound = errors.New("key not found")

	// ErrReadFailed wraps backend read failures.
	ErrReadFailed = errors.New("persistence read failed")

	// ErrWriteFailed wraps backend write failures. The affected entries stay
	// queued and are retried on the next flush cycle.
	ErrWriteFailed = errors.New("persistence write failed")

	// ErrClosed is returned when writing to a closed store.
	ErrClosed = errors.New("store closed")
)

// Backend is a durable key-value store holding opaque JSON documents.
type Backend interface {
	// Get returns the stored value or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetMany writes all entries. Implementations should apply them atomically
	// where the medium allows it.
	SetMany(ctx context.Context, entries map[string][]byte) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the backend.
	Close() error
}

// ChangeFunc receives a change made to the backend by another writer.
// value is nil when the key was deleted.
type ChangeFunc func(key string, value []byte, deleted bool)

// Watcher is implemented by backends that can report changes made by other
// writers. Watch registers fn and returns; delivery stops when ctx is done.
type Watcher interface {
	Watch(ctx context.Context, fn ChangeFunc) error
}

// Listener is notified when a subscribed key changes outside this store.
type Listener func(key string, value []byte)
