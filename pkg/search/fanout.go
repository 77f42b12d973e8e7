package search

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
)

// Fanout queries all configured providers concurrently. Provider
// failures are absorbed: a failed provider contributes an empty slice
// and the rest of the retrieval continues.
type Fanout struct {
	providers []Provider
	cache     ResultCache
	timeout   time.Duration
	breakers  map[string]*gobreaker.CircuitBreaker
}

// NewFanout wires the given providers behind per-provider circuit
// breakers. cache may be nil. timeout bounds each individual provider
// call; zero means 30 seconds.
func NewFanout(providers []Provider, cache ResultCache, timeout time.Duration) *Fanout {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	breakers := make(map[string]*gobreaker.CircuitBreaker, len(providers))
	for _, p := range providers {
		name := p.Name()
		breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("Search provider breaker state change",
					"provider", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return &Fanout{
		providers: providers,
		cache:     cache,
		timeout:   timeout,
		breakers:  breakers,
	}
}

// Subset returns a fanout restricted to the named providers, sharing
// the parent's breakers and cache. Unknown names are ignored; a list
// matching nothing falls back to the full set.
func (f *Fanout) Subset(names []string) *Fanout {
	if len(names) == 0 {
		return f
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var subset []Provider
	for _, p := range f.providers {
		if want[p.Name()] {
			subset = append(subset, p)
		}
	}
	if len(subset) == 0 {
		slog.Warn("Provider preferences matched no configured provider, using all", "prefs", names)
		return f
	}
	return &Fanout{
		providers: subset,
		cache:     f.cache,
		timeout:   f.timeout,
		breakers:  f.breakers,
	}
}

// Providers returns the configured provider names.
func (f *Fanout) Providers() []string {
	names := make([]string, 0, len(f.providers))
	for _, p := range f.providers {
		names = append(names, p.Name())
	}
	return names
}

// SearchAll queries every provider for the same query with a shared
// per-provider result limit. The returned map has one key per provider;
// failed providers map to an empty slice. onDone, if non-nil, fires
// exactly once per provider as it completes.
func (f *Fanout) SearchAll(ctx context.Context, query string, perProvider int, onDone DoneFunc) map[string][]Result {
	results := make(map[string][]Result, len(f.providers))
	var (
		mu        sync.Mutex
		completed int
	)
	total := len(f.providers)

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range f.providers {
		g.Go(func() error {
			found := f.searchOne(gctx, p, query, perProvider)

			mu.Lock()
			results[p.Name()] = found
			completed++
			done := completed
			mu.Unlock()

			if onDone != nil {
				onDone(p.Name(), len(found), done, total)
			}
			return nil
		})
	}
	// Workers never return errors; failures become empty result sets.
	_ = g.Wait()
	return results
}

func (f *Fanout) searchOne(ctx context.Context, p Provider, query string, limit int) []Result {
	name := p.Name()

	if f.cache != nil {
		if cached, ok := f.cache.Get(ctx, name, query, limit); ok {
			slog.Debug("Search cache hit", "provider", name, "query", query)
			return cached
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	out, err := f.breakers[name].Execute(func() (any, error) {
		return p.Search(callCtx, query, limit)
	})
	if err != nil {
		slog.Error("Search provider failed", "provider", name, "query", query, "error", err)
		return nil
	}

	found := out.([]Result)
	if len(found) == 0 {
		// Zero results from a configured provider is worth noticing: it
		// usually means quota exhaustion or an over-narrow query.
		slog.Warn("Search provider returned zero results", "provider", name, "query", query)
		return nil
	}

	if f.cache != nil {
		f.cache.Set(ctx, name, query, limit, found)
	}
	return found
}
