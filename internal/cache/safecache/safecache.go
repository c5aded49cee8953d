// Package safecache adapts the Redis client to the never-fail cache
// contract: backend failures degrade to misses or silent no-ops, logged but
// never surfaced to callers.
package safecache

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hyeonsu-kim/citypulse/internal/cache"
	"github.com/hyeonsu-kim/citypulse/internal/cache/redisstore"
	"github.com/hyeonsu-kim/citypulse/internal/core/observability"
)

type Cache struct {
	lazy    *redisstore.Lazy
	timeout time.Duration
	log     zerolog.Logger
}

var _ cache.Interface = (*Cache)(nil)

func New(lazy *redisstore.Lazy, opTimeout time.Duration, log zerolog.Logger) *Cache {
	return &Cache{lazy: lazy, timeout: opTimeout, log: log}
}

// returns context with the op timeout if set
func (c *Cache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cli, err := c.lazy.Get(ctx)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache unavailable, treating get as miss")
		observability.AddCacheMisses(1)
		return nil, false
	}
	val, ok, err := cli.Get(ctx, key)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache get failed, treating as miss")
		observability.AddCacheMisses(1)
		return nil, false
	}
	if ok {
		observability.AddCacheHits(1)
	} else {
		observability.AddCacheMisses(1)
	}
	return val, ok
}

func (c *Cache) MGet(ctx context.Context, keys []string) map[string][]byte {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cli, err := c.lazy.Get(ctx)
	if err != nil {
		c.log.Warn().Err(err).Int("keys", len(keys)).Msg("cache unavailable, treating mget as miss")
		observability.AddCacheMisses(len(keys))
		return map[string][]byte{}
	}
	m, err := cli.MGet(ctx, keys)
	if err != nil {
		c.log.Warn().Err(err).Int("keys", len(keys)).Msg("cache mget failed, treating as miss")
		observability.AddCacheMisses(len(keys))
		return map[string][]byte{}
	}
	observability.AddCacheHits(len(m))
	observability.AddCacheMisses(len(keys) - len(m))
	return m
}

func (c *Cache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cli, err := c.lazy.Get(ctx)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache unavailable, dropping set")
		return
	}
	if err := cli.Set(ctx, key, val, ttl); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache set failed")
	}
}

func (c *Cache) Del(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cli, err := c.lazy.Get(ctx)
	if err != nil {
		c.log.Warn().Err(err).Int("keys", len(keys)).Msg("cache unavailable, dropping del")
		return
	}
	if err := cli.Del(ctx, keys...); err != nil {
		c.log.Warn().Err(err).Int("keys", len(keys)).Msg("cache del failed")
	}
}
