// Package store provides the shared key/value storage abstraction used for
// the translation cache tier and the processor lease.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("store: key not found")

// Store is a unified key/value interface backed by Redis in clustered
// deployments and by an in-process map otherwise.
type Store interface {
	// Set stores a key-value pair with an optional TTL (0 means no expiry).
	Set(key string, value []byte, ttl time.Duration) error
	// Get retrieves a value by key, returning ErrNotFound on a miss.
	Get(key string) ([]byte, error)
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(key string) error
	// Del removes multiple keys.
	Del(keys ...string) error
	// Exists checks whether a key is present and unexpired.
	Exists(key string) (bool, error)
	// SetNX sets a key only if it does not already exist, returning whether
	// the write happened. This is the primitive behind the processor lease.
	SetNX(key string, value []byte, ttl time.Duration) (bool, error)
	// Clear removes all keys.
	Clear() error
	// Close releases store resources.
	Close() error
}
