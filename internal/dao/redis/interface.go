// Package redis defines the cache abstractions used by the services
// and their go-redis implementation.
package redis

import (
	"context"
	"time"
)

// CacheService is the synchronous cache contract.
type CacheService interface {
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// SetNX sets key only when absent and reports whether it did.
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	// Get returns "" and nil for a missing key.
	Get(ctx context.Context, key string) (string, error)
	// GetOrError returns a CodeNotFound error for a missing key.
	GetOrError(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// AsyncCacheService adds a worker pool for non-blocking cache maintenance.
type AsyncCacheService interface {
	CacheService
	SubmitTask(action func())
}
