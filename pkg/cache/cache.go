// Package cache is the Redis-backed provider-response cache. Identical
// provider queries inside the TTL window are served from Redis instead
// of spending provider quota.
//
// The cache degrades to inert when Redis is unreachable: every Get is a
// miss, every Set is a no-op, and the pipeline runs uncached. Redis
// errors are logged, never returned.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dossier-hq/dossier/pkg/search"
)

// DefaultTTL is used when no TTL is configured.
const DefaultTTL = 24 * time.Hour

// Cache stores provider search results under content-addressed keys.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	inert  bool
}

var _ search.ResultCache = (*Cache)(nil)

// New connects to Redis and verifies the connection with a ping. If the
// ping fails the returned cache is inert rather than an error: caching
// is an optimization, not a dependency.
func New(ctx context.Context, addr, password string, db int, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if addr == "" {
		slog.Info("Redis not configured, provider cache disabled")
		return &Cache{inert: true, ttl: ttl}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("Redis unreachable, provider cache disabled", "addr", addr, "error", err)
		_ = client.Close()
		return &Cache{inert: true, ttl: ttl}
	}
	return &Cache{client: client, ttl: ttl}
}

// NewWithClient wraps an existing Redis client (used in tests).
func NewWithClient(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, ttl: ttl}
}

// Enabled reports whether the cache is actually talking to Redis.
func (c *Cache) Enabled() bool {
	return !c.inert
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Key builds the cache key for a provider query:
// rc:{provider}:{first 16 hex chars of sha256(provider:query:limit)}.
func Key(provider, query string, limit int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%s:%d", provider, query, limit))
	return "rc:" + provider + ":" + hex.EncodeToString(sum[:])[:16]
}

// Get returns the cached results for a provider query. Misses and Redis
// errors both report false.
func (c *Cache) Get(ctx context.Context, provider, query string, limit int) ([]search.Result, bool) {
	if c.inert {
		return nil, false
	}
	raw, err := c.client.Get(ctx, Key(provider, query, limit)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		slog.Error("Cache read failed", "provider", provider, "error", err)
		return nil, false
	}
	var results []search.Result
	if err := json.Unmarshal(raw, &results); err != nil {
		slog.Error("Cache entry corrupt, treating as miss", "provider", provider, "error", err)
		return nil, false
	}
	return results, true
}

// Set stores results under the default TTL.
func (c *Cache) Set(ctx context.Context, provider, query string, limit int, results []search.Result) {
	c.SetWithTTL(ctx, provider, query, limit, results, c.ttl)
}

// SetWithTTL stores results with an explicit TTL. A TTL of zero or less
// means don't store at all.
func (c *Cache) SetWithTTL(ctx context.Context, provider, query string, limit int, results []search.Result, ttl time.Duration) {
	if c.inert || ttl <= 0 {
		return
	}
	raw, err := json.Marshal(results)
	if err != nil {
		slog.Error("Cache encode failed", "provider", provider, "error", err)
		return
	}
	if err := c.client.Set(ctx, Key(provider, query, limit), raw, ttl).Err(); err != nil {
		slog.Error("Cache write failed", "provider", provider, "error", err)
	}
}
