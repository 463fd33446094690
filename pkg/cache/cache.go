// Package cache provides the session cache abstraction with Redis and
// in-memory implementations. Values are stored JSON-serialized.
package cache

import (
	"context"
	"time"
)

// Cache is the key-value cache used to mirror session state. Get reports
// a miss with found=false rather than an error.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	SetEx(ctx context.Context, key string, value any, ttl time.Duration) error
	SetIfAbsent(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Close() error
}
