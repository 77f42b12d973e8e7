package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dossier-hq/dossier/pkg/models"
)

type stubProvider struct {
	name    string
	results []Result
	err     error
	calls   int
	mu      sync.Mutex
}

func (s *stubProvider) Name() string                    { return s.name }
func (s *stubProvider) Category() models.SourceCategory { return models.CategoryWeb }

func (s *stubProvider) Search(_ context.Context, _ string, _ int) ([]Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.results, s.err
}

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]Result
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string][]Result)}
}

func (c *mapCache) key(provider, query string, limit int) string {
	return provider + ":" + query + ":" + string(rune('0'+limit%10))
}

func (c *mapCache) Get(_ context.Context, provider, query string, limit int) ([]Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.data[c.key(provider, query, limit)]
	return r, ok
}

func (c *mapCache) Set(_ context.Context, provider, query string, limit int, results []Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[c.key(provider, query, limit)] = results
}

func TestFanout_SearchAll_AllProvidersReported(t *testing.T) {
	good := &stubProvider{name: "serpapi", results: []Result{
		{Title: "A", URL: "https://a.example", Provider: "serpapi"},
	}}
	broken := &stubProvider{name: "newsapi", err: errors.New("quota exhausted")}
	empty := &stubProvider{name: "wikipedia"}

	f := NewFanout([]Provider{good, broken, empty}, nil, time.Second)
	results := f.SearchAll(context.Background(), "test", 5, nil)

	require.Len(t, results, 3)
	assert.Len(t, results["serpapi"], 1)
	assert.Empty(t, results["newsapi"])
	assert.Empty(t, results["wikipedia"])
}

func TestFanout_SearchAll_DoneCallbackOncePerProvider(t *testing.T) {
	providers := []Provider{
		&stubProvider{name: "serpapi", results: []Result{{Title: "A", URL: "https://a.example"}}},
		&stubProvider{name: "newsapi", err: errors.New("down")},
		&stubProvider{name: "arxiv", results: []Result{{Title: "B", URL: "https://b.example"}}},
	}

	var (
		mu        sync.Mutex
		seen      = map[string]int{}
		completes []int
	)
	f := NewFanout(providers, nil, time.Second)
	f.SearchAll(context.Background(), "test", 5, func(provider string, _, completed, total int) {
		mu.Lock()
		defer mu.Unlock()
		seen[provider]++
		completes = append(completes, completed)
		assert.Equal(t, 3, total)
	})

	require.Len(t, seen, 3)
	for name, n := range seen {
		assert.Equal(t, 1, n, "provider %s reported more than once", name)
	}
	// completed is monotone even though completion order is undefined.
	assert.ElementsMatch(t, []int{1, 2, 3}, completes)
}

func TestFanout_CacheHitSkipsProvider(t *testing.T) {
	p := &stubProvider{name: "serpapi", results: []Result{{Title: "A", URL: "https://a.example"}}}
	cache := newMapCache()
	f := NewFanout([]Provider{p}, cache, time.Second)

	f.SearchAll(context.Background(), "test", 5, nil)
	assert.Equal(t, 1, p.callCount())

	// Second call for the same query is served from cache.
	results := f.SearchAll(context.Background(), "test", 5, nil)
	assert.Equal(t, 1, p.callCount())
	assert.Len(t, results["serpapi"], 1)
}

func TestFanout_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	p := &stubProvider{name: "serpapi", err: errors.New("down")}
	f := NewFanout([]Provider{p}, nil, time.Second)

	for i := 0; i < 5; i++ {
		f.SearchAll(context.Background(), "test", 5, nil)
	}

	// Breaker trips after 3 consecutive failures; later calls never
	// reach the provider.
	assert.Equal(t, 3, p.callCount())
}

func TestFanout_Providers(t *testing.T) {
	f := NewFanout([]Provider{
		&stubProvider{name: "serpapi"},
		&stubProvider{name: "arxiv"},
	}, nil, time.Second)
	assert.Equal(t, []string{"serpapi", "arxiv"}, f.Providers())
}

func TestFanout_Subset(t *testing.T) {
	serp := &stubProvider{name: "serpapi", results: []Result{{Title: "A", URL: "https://a.example"}}}
	arxiv := &stubProvider{name: "arxiv", results: []Result{{Title: "B", URL: "https://b.example"}}}
	f := NewFanout([]Provider{serp, arxiv}, nil, time.Second)

	sub := f.Subset([]string{"arxiv"})
	require.Equal(t, []string{"arxiv"}, sub.Providers())

	results := sub.SearchAll(context.Background(), "test", 5, nil)
	assert.Len(t, results, 1)
	assert.Equal(t, 0, serp.callCount())
	assert.Equal(t, 1, arxiv.callCount())

	// No preferences or unknown names fall back to the full set.
	assert.Equal(t, f, f.Subset(nil))
	assert.Equal(t, f, f.Subset([]string{"bing"}))
}
