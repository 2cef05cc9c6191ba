package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/switchboard/model"
)

// KeyPrefix namespaces cache keys in Redis.
const KeyPrefix = "switchboard:cache:"

type redisEntry struct {
	Response model.Response `json:"response"`
	StoredAt time.Time      `json:"stored_at"`
}

// RedisCache is a Cache shared between processes. Redis expires entries at
// the maximum age, so Sweep has nothing to do.
type RedisCache struct {
	client redis.Cmdable
	opts   Options
	now    func() time.Time
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(client redis.Cmdable, opts Options) *RedisCache {
	return &RedisCache{client: client, opts: opts.withDefaults(), now: time.Now}
}

// Get returns the entry for key if it is younger than the TTL.
func (c *RedisCache) Get(ctx context.Context, key string) (model.Response, bool, error) {
	raw, err := c.client.Get(ctx, KeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Response{}, false, nil
	}
	if err != nil {
		return model.Response{}, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var e redisEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return model.Response{}, false, fmt.Errorf("unmarshal cache entry %q: %w", key, err)
	}
	if c.now().Sub(e.StoredAt) >= c.opts.TTL {
		return model.Response{}, false, nil
	}
	return hit(e.Response), true, nil
}

// Put stores a successful response with a Redis TTL of the maximum age.
func (c *RedisCache) Put(ctx context.Context, key string, resp model.Response) error {
	if !resp.Success {
		return nil
	}
	resp.Cached = false
	data, err := json.Marshal(redisEntry{Response: resp, StoredAt: c.now()})
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := c.client.Set(ctx, KeyPrefix+key, data, c.opts.MaxAge).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Sweep is a no-op; Redis key expiry bounds retention.
func (c *RedisCache) Sweep(context.Context) (int, error) {
	return 0, nil
}

// HealthCheck pings Redis.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
