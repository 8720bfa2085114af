// Package cache defines the port for caching terminal task snapshots.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque values by key. A missing key is a miss (ok == false),
// never an error; errors mean the backend itself failed.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
