package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/franchise-ops/franchise-ops/internal/settlement"
)

const cacheVersionKey = "analytics:version"

// Cache stores computed read models in Redis. Keys carry a global version so
// a single Bump invalidates every entry; entries also expire after ttl.
type Cache struct {
	client  *redis.Client
	ttl     time.Duration
	observe func(hit bool)
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// WithObserver registers a hook called on every lookup.
func (c *Cache) WithObserver(fn func(hit bool)) *Cache {
	if c != nil {
		c.observe = fn
	}
	return c
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, cacheVersionKey, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

// BuildKey composes the cache key with the current version.
func (c *Cache) BuildKey(ctx context.Context, parts ...string) (string, error) {
	joined := strings.Join(parts, ":")
	if c == nil || c.client == nil {
		return joined, nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d", joined, ver), nil
}

// FetchJSON loads a cached value or populates it using the loader. Loader
// errors are returned as-is and never cached.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if c == nil || c.client == nil {
		return load(ctx, dest, loader, nil)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		c.record(true)
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		return err
	}
	c.record(false)
	return load(ctx, dest, loader, func(raw []byte) error {
		return c.client.Set(ctx, key, raw, c.ttl).Err()
	})
}

func load(ctx context.Context, dest any, loader func(context.Context) (any, error), store func([]byte) error) error {
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if store != nil {
		if err := store(raw); err != nil {
			return err
		}
	}
	return json.Unmarshal(raw, dest)
}

func (c *Cache) record(hit bool) {
	if c.observe != nil {
		c.observe(hit)
	}
}

// Bump invalidates every cached entry by moving to the next key version.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

func rangeToken(rng settlement.DateRange) (string, string) {
	days := rng.Days()
	if len(days) == 0 {
		return "-", "-"
	}
	return days[0], days[len(days)-1]
}

func keyReport(scope settlement.Scope, rng settlement.DateRange) string {
	from, to := rangeToken(rng)
	return strings.Join([]string{"analytics", "report", scope.String(), rng.Loc().String(), from, to}, ":")
}

func keyRollup(scope settlement.Scope, by settlement.Bucketing, rng settlement.DateRange) string {
	from, to := rangeToken(rng)
	return strings.Join([]string{"analytics", "rollup", scope.String(), string(by), from, to}, ":")
}
