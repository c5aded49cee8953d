// Package cache defines the TTL cache contract for snapshot storage. The
// cache is a performance layer, not a source of truth: implementations never
// return errors, they degrade to misses.
package cache

import (
	"context"
	"time"
)

type Interface interface {
	// Get returns the value and whether it was found. A backend failure is a
	// miss.
	Get(ctx context.Context, key string) ([]byte, bool)
	// MGet returns a map of found keys to values. A backend failure is an
	// empty map.
	MGet(ctx context.Context, keys []string) map[string][]byte
	// Set stores val under key with ttl. Failures are silent.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
	// Del removes keys. Failures are silent.
	Del(ctx context.Context, keys ...string)
}
