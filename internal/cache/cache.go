// Package cache stores short-lived JSON values such as leaderboards. It uses
// Redis when configured and an in-process map otherwise.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "kirakira:"

// Cache is safe for concurrent use.
type Cache struct {
	rdb *redis.Client

	mu    sync.Mutex
	items map[string]item
	now   func() time.Time
}

type item struct {
	value   []byte
	expires time.Time
}

// Open connects to the Redis server at url and pings it.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// New returns a cache backed by rdb, or by memory when rdb is nil.
func New(rdb *redis.Client) *Cache {
	return &Cache{
		rdb:   rdb,
		items: make(map[string]item),
		now:   time.Now,
	}
}

// Backend names the storage in use, for startup logs.
func (c *Cache) Backend() string {
	if c.rdb != nil {
		return "redis"
	}
	return "memory"
}

// GetJSON decodes the value stored at key into dst and reports whether it was
// present.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := c.get(ctx, keyPrefix+key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decoding cached %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v at key for ttl.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	key = keyPrefix + key

	if c.rdb != nil {
		if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
			return fmt.Errorf("caching %s: %w", key, err)
		}
		return nil
	}

	c.mu.Lock()
	c.items[key] = item{value: raw, expires: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// Delete removes keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = keyPrefix + k
	}

	if c.rdb != nil {
		if err := c.rdb.Del(ctx, full...).Err(); err != nil {
			return fmt.Errorf("deleting cached keys: %w", err)
		}
		return nil
	}

	c.mu.Lock()
	for _, k := range full {
		delete(c.items, k)
	}
	c.mu.Unlock()
	return nil
}

func (c *Cache) get(ctx context.Context, key string) ([]byte, bool, error) {
	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("reading cached %s: %w", key, err)
		}
		return raw, true, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(it.expires) {
		delete(c.items, key)
		return nil, false, nil
	}
	return it.value, true, nil
}

// Close releases the Redis connection, if any.
func (c *Cache) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}
