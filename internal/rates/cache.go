package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache interface {
	Get(ctx context.Context, base string) (Table, bool, error)
	Put(ctx context.Context, table Table) error
}

// RedisCache keeps the latest table per base currency under
// "<prefix>:<BASE>" with a TTL.
type RedisCache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisCache(client redis.Cmdable, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "rates"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) key(base string) string {
	return c.prefix + ":" + NormalizeCurrency(base)
}

func (c *RedisCache) Get(ctx context.Context, base string) (Table, bool, error) {
	raw, err := c.client.Get(ctx, c.key(base)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Table{}, false, nil
	}
	if err != nil {
		return Table{}, false, fmt.Errorf("redis get: %w", err)
	}
	var t Table
	if err := json.Unmarshal(raw, &t); err != nil {
		return Table{}, false, fmt.Errorf("decode cached rates: %w", err)
	}
	return t, true, nil
}

func (c *RedisCache) Put(ctx context.Context, table Table) error {
	raw, err := json.Marshal(table)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key(table.Base), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// CachedProvider serves tables from the cache and falls through to the
// source on a miss. Cache failures are logged and never fail a lookup.
type CachedProvider struct {
	source Source
	cache  Cache
	log    *slog.Logger
}

func NewCachedProvider(source Source, cache Cache, logger *slog.Logger) *CachedProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedProvider{source: source, cache: cache, log: logger}
}

func (p *CachedProvider) Latest(ctx context.Context, base string) (Table, error) {
	base = NormalizeCurrency(base)
	if t, ok, err := p.cache.Get(ctx, base); err != nil {
		p.log.Warn("rate cache read failed", "base", base, "err", err)
	} else if ok {
		return t, nil
	}

	t, err := p.source.Latest(ctx, base)
	if err != nil {
		return Table{}, err
	}
	if err := p.cache.Put(ctx, t); err != nil {
		p.log.Warn("rate cache write failed", "base", base, "err", err)
	}
	return t, nil
}
