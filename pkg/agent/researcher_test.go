package agent

import (
	"context"
	"fmt"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dossier-hq/dossier/pkg/models"
	"github.com/dossier-hq/dossier/pkg/search"
)

type fixedProvider struct {
	name     string
	category models.SourceCategory
	results  []search.Result
	calls    int
}

func (p *fixedProvider) Name() string                    { return p.name }
func (p *fixedProvider) Category() models.SourceCategory { return p.category }

func (p *fixedProvider) Search(_ context.Context, _ string, limit int) ([]search.Result, error) {
	p.calls++
	if len(p.results) > limit {
		return p.results[:limit], nil
	}
	return p.results, nil
}

func webResults(n int) []search.Result {
	out := make([]search.Result, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, search.Result{
			Title:    fmt.Sprintf("Solar panel efficiency result %d", i),
			URL:      fmt.Sprintf("https://web.example/%d", i),
			Snippet:  "solar panel efficiency data and analysis",
			Provider: "web",
			Category: models.CategoryWeb,
		})
	}
	return out
}

func researchFake() *fakeLLM {
	return (&fakeLLM{}).
		on("search queries", "solar panel efficiency records\nsolar cell cost trends\n").
		on("relevance filter", "0, 1, 2, 3, 4").
		on("Extract 3-7 concrete findings",
			"FINDING: Panel efficiency improved 20% since 2020.\nSOURCES: 0\nCREDIBILITY: high\n"+
				"FINDING: Costs per watt dropped below $0.20.\nSOURCES: 1, 2\nCREDIBILITY: medium\n").
		on("near-duplicates", "0, 1")
}

func TestResearcherPersistsSourcesAndFindings(t *testing.T) {
	session := &models.Session{
		Query:      "solar panel efficiency",
		Depth:      models.DepthStandard,
		MaxSources: 20,
	}
	execCtx, st := newExecContext(t, session)

	provider := &fixedProvider{name: "web", category: models.CategoryWeb, results: webResults(30)}
	fanout := search.NewFanout([]search.Provider{provider}, nil, 0)
	r := NewResearcher(researchFake(), fanout)

	require.NoError(t, r.Execute(context.Background(), execCtx))

	ctx := context.Background()
	sources, err := st.ListSources(ctx, session.ID)
	require.NoError(t, err)
	require.NotEmpty(t, sources)
	assert.LessOrEqual(t, len(sources), 20)

	seen := make(map[string]bool)
	for _, s := range sources {
		assert.False(t, seen[s.URL], "duplicate URL persisted: %s", s.URL)
		seen[s.URL] = true
		assert.NotEmpty(t, s.Provider)
		assert.Greater(t, s.Credibility, 0.0)
	}

	findings, err := st.ListFindings(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, findings, 2)
	assert.Equal(t, "Panel efficiency improved 20% since 2020.", findings[0].Text)
	require.NotEmpty(t, findings[0].Sources)
	assert.Contains(t, findings[0].Sources[0].URL, "https://web.example/")

	stored, err := st.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, len(sources), stored.SourceCount)
	assert.Equal(t, 2, stored.FindingCount)
}

func TestResearcherZeroMaxSourcesSkipsRetrieval(t *testing.T) {
	session := &models.Session{
		Query:      "anything at all",
		Depth:      models.DepthStandard,
		MaxSources: 0,
	}
	execCtx, st := newExecContext(t, session)

	provider := &fixedProvider{name: "web", category: models.CategoryWeb, results: webResults(5)}
	fanout := search.NewFanout([]search.Provider{provider}, nil, 0)
	r := NewResearcher(&fakeLLM{}, fanout)

	require.NoError(t, r.Execute(context.Background(), execCtx))
	assert.Zero(t, provider.calls)

	count, err := st.CountSources(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

// blockedProvider hangs until the caller's context dies, standing in
// for a slow upstream during a cancellation.
type blockedProvider struct {
	calls int
}

func (p *blockedProvider) Name() string                    { return "web" }
func (p *blockedProvider) Category() models.SourceCategory { return models.CategoryWeb }

func (p *blockedProvider) Search(ctx context.Context, _ string, _ int) ([]search.Result, error) {
	p.calls++
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestResearcherPropagatesCancellation(t *testing.T) {
	session := &models.Session{
		Query:      "solar panel efficiency",
		Depth:      models.DepthStandard,
		MaxSources: 20,
	}
	execCtx, st := newExecContext(t, session)

	provider := &blockedProvider{}
	fanout := search.NewFanout([]search.Provider{provider}, nil, 0)
	r := NewResearcher(researchFake(), fanout)

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(20*time.Millisecond, cancel)
	defer timer.Stop()

	err := r.Execute(ctx, execCtx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Positive(t, provider.calls)

	count, cerr := st.CountSources(context.Background(), session.ID)
	require.NoError(t, cerr)
	assert.Zero(t, count)
}

func TestResearcherFilterFallbackKeepsLexicalTop(t *testing.T) {
	session := &models.Session{
		Query:      "solar panel efficiency",
		Depth:      models.DepthStandard,
		MaxSources: 10,
	}
	execCtx, st := newExecContext(t, session)

	// Variant generation succeeds but every filter and extraction call
	// fails; retrieval must still persist the lexical top-N.
	fake := (&fakeLLM{}).on("search queries", "solar output trends\n")

	provider := &fixedProvider{name: "web", category: models.CategoryWeb, results: webResults(30)}
	fanout := search.NewFanout([]search.Provider{provider}, nil, 0)
	r := NewResearcher(fake, fanout)

	require.NoError(t, r.Execute(context.Background(), execCtx))

	sources, err := st.ListSources(context.Background(), session.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, sources)
	assert.LessOrEqual(t, len(sources), 10)

	// No extraction reply means no findings, but the stage succeeds.
	findings, err := st.ListFindings(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestGenerateVariantsCapAndClarifiedHint(t *testing.T) {
	session := &models.Session{
		Query:      "battery storage",
		Depth:      models.DepthStandard,
		MaxSources: 50,
		FocusAreas: []string{"grid", "cost", "safety", "recycling"},
	}
	execCtx, st := newExecContext(t, session)

	require.NoError(t, st.PutArtifact(context.Background(), session.ID, models.ArtifactClarification,
		Clarification{OriginalQuery: "battery storage", ClarifiedQuery: "grid-scale battery storage adoption"}))

	fake := (&fakeLLM{}).on("search queries",
		"battery storage economics\nbattery degradation rates\nbattery fire incidents\nutility battery deployments\nbattery supply chain\n")

	r := NewResearcher(fake, search.NewFanout(nil, nil, 0))
	variants := r.generateVariants(context.Background(), execCtx, session.Query)

	require.Len(t, variants, maxVariantsStandard)
	assert.Equal(t, "battery storage", variants[0])
	assert.Equal(t, "grid-scale battery storage adoption", variants[1])
	assert.Equal(t, "battery storage grid", variants[2])
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc", truncate("abcdef", 3))

	// Cutting inside the two-byte é backs up to the previous boundary.
	assert.Equal(t, "ab", truncate("abécd", 3))
	assert.True(t, utf8.ValidString(truncate("données énergétiques", 10)))
}

func TestDedupByURL(t *testing.T) {
	unique := dedupByURL([]search.Result{
		{Title: "first", URL: "https://x.example/a"},
		{Title: "dup", URL: "https://x.example/a"},
		{Title: "empty", URL: ""},
		{Title: "second", URL: "https://x.example/b"},
	})
	require.Len(t, unique, 2)
	assert.Equal(t, "first", unique[0].Title)
	assert.Equal(t, "second", unique[1].Title)
}

func TestDedupFindingsKeepsAllOnFailure(t *testing.T) {
	findings := make([]models.Finding, 12)
	for i := range findings {
		findings[i] = models.Finding{Text: fmt.Sprintf("finding %d", i)}
	}

	r := NewResearcher((&fakeLLM{}).on("near-duplicates", "not an index list"), nil)
	kept := r.dedupFindings(context.Background(), findings)
	assert.Len(t, kept, 12)

	r = NewResearcher((&fakeLLM{}).on("near-duplicates", "0, 2, 4"), nil)
	kept = r.dedupFindings(context.Background(), findings)
	require.Len(t, kept, 3)
	assert.Equal(t, "finding 4", kept[2].Text)
}
