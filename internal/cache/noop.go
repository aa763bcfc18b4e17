package cache

import (
	"context"
	"time"
)

// NoopCache is used when no cache backend is configured; every Get misses.
type NoopCache struct{}

func (NoopCache) Get(ctx context.Context, key string) ([]byte, error) { return nil, ErrNotFound }
func (NoopCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}
func (NoopCache) Close() error { return nil }
