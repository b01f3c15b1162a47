// Package store persists host state that must outlive a process: plugin
// key/value storage, granted permissions and the audit trail.
//
// Keys are slash separated paths such as "plugins/spam-filter/count".
// Memory is used by tests and single-process deployments; Redis is used when
// several hosts share state.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when a key does not exist.
var ErrNotFound = errors.New("store: key not found")

// ErrEmptyKey is returned when an operation is given an empty key.
var ErrEmptyKey = errors.New("store: empty key")

// Store is a byte-oriented key/value store.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the sorted keys that start with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
