// Package cache abstracts a key-value cache with TTL support, used to take
// repeat load off the pool manager's map scans on hot read paths like
// GET /stats. Implementations are swappable: RedisCache for a shared,
// multi-instance deployment, NoopCache when no cache backend is configured.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist in the cache.
var ErrNotFound = errors.New("cache: key not found")

// Cache abstracts a key-value cache with TTL support. All operations must be
// safe for concurrent use.
type Cache interface {
	// Get retrieves the value associated with key. Returns ErrNotFound if
	// the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Close releases resources held by the cache implementation.
	Close() error
}
