// Package cache is the narrow key/value capability the orchestration core
// consumes: plain string values, JSON-encoded lists, explicit expiry. The
// core never talks to redis directly and never relies on an ambient
// singleton; the capability is injected.
package cache

import (
	"context"
	"time"
)

// Cache is a get/set/delete/expire capability over string keys.
// Get and GetList return ok=false on a miss, reserving errors for transport
// failures.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	GetList(ctx context.Context, key string, dest any) (bool, error)
	SetList(ctx context.Context, key string, value any, ttl time.Duration) error
}
