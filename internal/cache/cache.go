package cache

import (
	"context"
	"time"
)

// BytesCache is a best-effort byte cache; callers treat errors and misses
// the same way.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
