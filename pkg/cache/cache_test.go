package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dossier-hq/dossier/pkg/search"
)

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewWithClient(client, ttl)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func sampleResults() []search.Result {
	return []search.Result{
		{Title: "A", URL: "https://example.com/a", Snippet: "alpha", Provider: "serpapi"},
		{Title: "B", URL: "https://example.com/b", Snippet: "beta", Provider: "serpapi"},
	}
}

func TestCache_SetAndGet(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	c.Set(ctx, "serpapi", "quantum computing", 10, sampleResults())

	got, ok := c.Get(ctx, "serpapi", "quantum computing", 10)
	require.True(t, ok)
	assert.Equal(t, sampleResults(), got)
}

func TestCache_MissOnDifferentParams(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	c.Set(ctx, "serpapi", "quantum computing", 10, sampleResults())

	_, ok := c.Get(ctx, "serpapi", "quantum computing", 20)
	assert.False(t, ok, "different limit must be a different key")

	_, ok = c.Get(ctx, "newsapi", "quantum computing", 10)
	assert.False(t, ok, "different provider must be a different key")
}

func TestCache_TTLExpiry(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	c.Set(ctx, "arxiv", "q", 5, sampleResults())

	_, ok := c.Get(ctx, "arxiv", "q", 5)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	_, ok = c.Get(ctx, "arxiv", "q", 5)
	assert.False(t, ok)
}

func TestCache_ZeroTTLDoesNotStore(t *testing.T) {
	c, mr := newTestCache(t, time.Hour)
	ctx := context.Background()

	c.SetWithTTL(ctx, "serpapi", "q", 5, sampleResults(), 0)

	assert.Empty(t, mr.Keys())
	_, ok := c.Get(ctx, "serpapi", "q", 5)
	assert.False(t, ok)
}

func TestCache_InertWhenRedisUnreachable(t *testing.T) {
	ctx := context.Background()
	c := New(ctx, "127.0.0.1:1", "", 0, time.Hour)

	assert.False(t, c.Enabled())

	// Both directions are silent no-ops.
	c.Set(ctx, "serpapi", "q", 5, sampleResults())
	_, ok := c.Get(ctx, "serpapi", "q", 5)
	assert.False(t, ok)
}

func TestCache_InertWhenUnconfigured(t *testing.T) {
	c := New(context.Background(), "", "", 0, 0)
	assert.False(t, c.Enabled())
}

func TestCache_CorruptEntryIsMiss(t *testing.T) {
	c, mr := newTestCache(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, mr.Set(Key("serpapi", "q", 5), "{not json"))

	_, ok := c.Get(ctx, "serpapi", "q", 5)
	assert.False(t, ok)
}

func TestKey_Format(t *testing.T) {
	key := Key("serpapi", "quantum computing", 10)

	require.True(t, strings.HasPrefix(key, "rc:serpapi:"))
	hash := strings.TrimPrefix(key, "rc:serpapi:")
	assert.Len(t, hash, 16)

	// Deterministic.
	assert.Equal(t, key, Key("serpapi", "quantum computing", 10))
	assert.NotEqual(t, key, Key("serpapi", "quantum computing", 11))
}
