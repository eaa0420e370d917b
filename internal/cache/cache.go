package cache

import (
	"context"
)

// RecordCache defines the interface for record caching implementations.
// The generic type T represents the record type being cached.
type RecordCache[T any] interface {
	// Get retrieves a record from the cache.
	// Returns the record, whether it was found, and any error.
	Get(ctx context.Context, key string) (T, bool, error)

	// Set stores a record in the cache.
	Set(ctx context.Context, key string, record T) error

	// Invalidate removes a record from the cache.
	Invalidate(ctx context.Context, key string) error

	// Close releases any resources held by the cache.
	Close() error
}
