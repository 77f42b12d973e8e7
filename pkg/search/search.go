// Package search implements the retrieval providers and the parallel
// fan-out that queries them.
package search

import (
	"context"

	"github.com/dossier-hq/dossier/pkg/models"
)

// Result is one raw document returned by a provider, before relevance
// filtering turns it into a persisted Source.
type Result struct {
	Title    string                `json:"title"`
	URL      string                `json:"url"`
	Snippet  string                `json:"snippet,omitempty"`
	Provider string                `json:"provider"`
	Category models.SourceCategory `json:"category"`
}

// Provider is a single search backend.
type Provider interface {
	// Name is the stable provider identifier used in cache keys and
	// source rows ("serpapi", "newsapi", "arxiv", "pubmed", "wikipedia").
	Name() string
	Category() models.SourceCategory
	// Search returns up to limit results. Implementations convert their
	// own transport failures into errors; the fan-out absorbs them.
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// ResultCache is the read/write-through cache consulted before each
// provider call. A nil cache or a cache in degraded mode simply misses.
type ResultCache interface {
	Get(ctx context.Context, provider, query string, limit int) ([]Result, bool)
	Set(ctx context.Context, provider, query string, limit int, results []Result)
}

// DoneFunc is invoked exactly once per provider as it finishes, whether
// it succeeded or failed. completed counts finished providers so far.
type DoneFunc func(provider string, resultCount, completed, total int)
