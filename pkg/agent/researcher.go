package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/dossier-hq/dossier/pkg/llm"
	"github.com/dossier-hq/dossier/pkg/models"
	"github.com/dossier-hq/dossier/pkg/search"
)

// Retrieval tuning. Deep mode raises the variant cap, the per-provider
// cap, and the extraction budget.
const (
	maxVariantsStandard = 8
	maxVariantsDeep     = 12
	llmVariantLimit     = 5

	lexicalKeep     = 150
	filterBatchSize = 20
	lexicalFallback = 0.1
	minKeptSources  = 10
	refillTarget    = 50

	extractLimitStandard = 45
	extractLimitDeep     = 60
	extractBatchSize     = 15

	findingDedupThreshold = 10
)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"were": true, "of": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "and": true, "or": true, "but": true, "not": true, "with": true,
	"how": true, "what": true, "why": true, "when": true, "where": true,
	"which": true, "who": true, "does": true, "do": true, "can": true,
	"could": true, "would": true, "should": true, "its": true, "it": true,
	"this": true, "that": true, "these": true, "those": true, "has": true,
	"have": true, "had": true, "will": true, "be": true, "been": true,
	"being": true, "from": true, "by": true, "about": true, "into": true,
	"through": true, "during": true, "before": true, "after": true,
	"above": true, "below": true, "between": true, "under": true,
	"over": true, "then": true, "than": true, "so": true, "if": true,
}

const researcherSystemPrompt = `You are a research expert who searches multiple sources to gather comprehensive, RELEVANT information. Quality over quantity: only sources that directly address the research query add value. Prioritize sources with specific data, statistics, or expert analysis, and preserve source attribution.`

// Researcher drives retrieval: query variants, provider fan-out,
// deduplication, two-phase relevance filtering, and bounded finding
// extraction.
type Researcher struct {
	llm    llm.Generator
	fanout *search.Fanout
}

func NewResearcher(generator llm.Generator, fanout *search.Fanout) *Researcher {
	return &Researcher{llm: generator, fanout: fanout}
}

func (r *Researcher) Name() string { return StageRetrieve }

func (r *Researcher) Execute(ctx context.Context, execCtx *ExecContext) error {
	return r.Research(ctx, execCtx, execCtx.Session.Query, execCtx.Session.MaxSources)
}

// Research runs the full retrieval pass for the given query. The
// orchestrator calls it a second time with a broadened query when the
// first pass persists zero sources.
func (r *Researcher) Research(ctx context.Context, execCtx *ExecContext, query string, maxSources int) error {
	session := execCtx.Session
	deep := session.Depth == models.DepthDeep

	if maxSources <= 0 {
		execCtx.progress(100, "Source cap is zero, skipping retrieval")
		return nil
	}

	execCtx.progress(5, "Analyzing query and preparing search strategy...")
	variants := r.generateVariants(ctx, execCtx, query)
	execCtx.progress(10, fmt.Sprintf("Generated %d search queries", len(variants)))

	collected := r.collect(ctx, execCtx, variants, maxSources, deep)
	// Provider and LLM failures inside the loops degrade to fallbacks,
	// so a dead context must be surfaced explicitly before persisting.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}
	execCtx.progress(55, fmt.Sprintf("Collected %d sources, deduplicating...", len(collected)))

	unique := dedupByURL(collected)
	execCtx.progress(60, fmt.Sprintf("Filtering %d sources for relevance...", len(unique)))

	relevant := r.filterRelevant(ctx, query, unique, maxSources)
	if len(relevant) > maxSources {
		relevant = relevant[:maxSources]
	}
	execCtx.progress(80, fmt.Sprintf("%d relevant sources found (filtered from %d)", len(relevant), len(unique)))

	sources := make([]models.Source, 0, len(relevant))
	for _, s := range relevant {
		sources = append(sources, models.Source{
			SessionID:   session.ID,
			Title:       s.result.Title,
			URL:         s.result.URL,
			Snippet:     s.result.Snippet,
			Provider:    s.result.Provider,
			Category:    s.result.Category,
			Relevance:   s.score,
			Credibility: CredibilityForURL(s.result.URL),
		})
	}
	if _, err := execCtx.Store.InsertSources(ctx, session.ID, sources); err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}

	execCtx.progress(85, "Extracting key information from relevant sources...")
	findings := r.extractFindings(ctx, query, relevant, deep)
	findings = r.dedupFindings(ctx, findings)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}
	if err := execCtx.Store.InsertFindings(ctx, session.ID, findings); err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}

	sourceCount, err := execCtx.Store.CountSources(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}
	if err := execCtx.Store.UpdateSessionCounts(ctx, session.ID, sourceCount, len(findings)); err != nil {
		slog.Error("Failed to update session counters", "session_id", session.ID, "error", err)
	}

	execCtx.progress(100, fmt.Sprintf("Research complete: %d relevant sources, %d findings extracted",
		sourceCount, len(findings)))
	return nil
}

// generateVariants builds the search query list: original first, the
// clarified hint if one exists, one variant per focus area, then up to
// five LLM suggestions, capped by depth.
func (r *Researcher) generateVariants(ctx context.Context, execCtx *ExecContext, query string) []string {
	session := execCtx.Session
	variantCap := maxVariantsStandard
	if session.Depth == models.DepthDeep {
		variantCap = maxVariantsDeep
	}

	variants := []string{query}
	var clarification Clarification
	if err := execCtx.Store.GetArtifact(ctx, session.ID, models.ArtifactClarification, &clarification); err == nil {
		if hint := strings.TrimSpace(clarification.ClarifiedQuery); hint != "" && hint != query {
			variants = append(variants, hint)
		}
	}
	for _, area := range session.FocusAreas {
		variants = append(variants, query+" "+area)
	}

	prompt := fmt.Sprintf(`Generate 3-5 highly specific search queries to research this topic THOROUGHLY.

Main Query: %s
Focus Areas: %s

Rules:
- Each query must be DIRECTLY relevant to the main topic
- Include queries that would find statistics, data, and expert analysis
- Include queries that would find recent studies and reports
- DO NOT generate generic or tangential queries

Return only the queries, one per line, no numbering or explanation.`,
		query, joinOrGeneral(session.FocusAreas))

	reply, err := r.llm.Generate(ctx, llm.Request{
		System:      researcherSystemPrompt,
		Prompt:      prompt,
		Temperature: ptr(0.3),
	})
	if err != nil {
		slog.Warn("Query variant generation failed", "session_id", session.ID, "error", err)
	} else {
		added := 0
		for _, line := range strings.Split(reply, "\n") {
			line = strings.TrimSpace(line)
			if len(line) <= 5 || added >= llmVariantLimit {
				continue
			}
			variants = append(variants, line)
			added++
		}
	}

	if len(variants) > variantCap {
		variants = variants[:variantCap]
	}
	return variants
}

// collect fans each variant out across providers, stopping early once
// the accumulator exceeds twice the source cap.
func (r *Researcher) collect(ctx context.Context, execCtx *ExecContext, variants []string, maxSources int, deep bool) []search.Result {
	perProvider := maxSources / (len(variants) * 3)
	if perProvider < 5 {
		perProvider = 5
	}
	if perProvider > 15 {
		perProvider = 15
	}
	if deep {
		perProvider *= 2
		if perProvider > 25 {
			perProvider = 25
		}
	}

	fanout := r.fanout.Subset(execCtx.Session.ProviderPrefs)

	var collected []search.Result
	for i, variant := range variants {
		if ctx.Err() != nil {
			break
		}
		progress := 10 + float64(i)/float64(len(variants))*40
		execCtx.progress(progress, fmt.Sprintf("Searching: %s", truncate(variant, 50)))

		byProvider := fanout.SearchAll(ctx, variant, perProvider, func(provider string, count, completed, total int) {
			slog.Debug("Provider finished", "provider", provider, "results", count,
				"completed", completed, "total", total)
		})
		for _, results := range byProvider {
			collected = append(collected, results...)
		}
		if len(collected) > 2*maxSources {
			break
		}
	}
	return collected
}

func dedupByURL(results []search.Result) []search.Result {
	seen := make(map[string]bool, len(results))
	var unique []search.Result
	for _, r := range results {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		unique = append(unique, r)
	}
	return unique
}

type scoredResult struct {
	result search.Result
	score  float64
}

// lexicalScore ranks candidates by query-keyword coverage of
// title+snippet, boosted 1.2x for academic sources.
func lexicalScore(query string, results []search.Result) []scoredResult {
	keywords := queryKeywords(query)

	scored := make([]scoredResult, 0, len(results))
	for _, r := range results {
		combined := strings.ToLower(r.Title + " " + r.Snippet)
		hits := 0
		for kw := range keywords {
			if strings.Contains(combined, kw) {
				hits++
			}
		}
		denom := len(keywords)
		if denom == 0 {
			denom = 1
		}
		score := float64(hits) / float64(denom)
		if r.Category == models.CategoryAcademic {
			score *= 1.2
		}
		scored = append(scored, scoredResult{result: r, score: score})
	}

	// Stable descending sort keeps provider order among ties.
	for i := 1; i < len(scored); i++ {
		for j := i; j > 0 && scored[j].score > scored[j-1].score; j-- {
			scored[j], scored[j-1] = scored[j-1], scored[j]
		}
	}
	return scored
}

func queryKeywords(query string) map[string]bool {
	keywords := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if !stopWords[w] {
			keywords[w] = true
		}
	}
	return keywords
}

// filterRelevant runs the two-phase relevance filter: a lexical
// pre-filter keeping the top candidates, then LLM batch selection with
// per-batch lexical fallback, a whole-phase fallback, and a minimum
// source guarantee.
func (r *Researcher) filterRelevant(ctx context.Context, query string, results []search.Result, maxSources int) []scoredResult {
	if len(results) == 0 {
		return nil
	}

	scored := lexicalScore(query, results)
	candidates := scored
	if len(candidates) > lexicalKeep {
		candidates = candidates[:lexicalKeep]
	}

	var kept []scoredResult
	anyBatchParsed := false
	for start := 0; start < len(candidates); start += filterBatchSize {
		end := min(start+filterBatchSize, len(candidates))
		batch := candidates[start:end]

		indices, err := r.filterBatch(ctx, query, batch)
		if err != nil {
			slog.Warn("LLM relevance filtering failed for batch, using lexical fallback", "error", err)
			for _, s := range batch {
				if s.score >= lexicalFallback {
					kept = append(kept, s)
				}
			}
			continue
		}
		anyBatchParsed = true
		for _, idx := range indices {
			if idx >= 0 && idx < len(batch) {
				kept = append(kept, batch[idx])
			}
		}
	}

	// Every batch failed: fall back to the lexical ranking wholesale.
	if !anyBatchParsed {
		slog.Warn("Relevance filtering failed for all batches, keeping lexical top-N")
		if len(candidates) > maxSources {
			return candidates[:maxSources]
		}
		return candidates
	}

	// Minimum guarantee: too few survivors means the filter was too
	// aggressive, so refill from the lexical ordering.
	if len(kept) < minKeptSources {
		slog.Warn("Relevance filtering kept too few sources, refilling from lexical ranking",
			"kept", len(kept))
		have := make(map[string]bool, len(kept))
		for _, s := range kept {
			have[s.result.URL] = true
		}
		for _, s := range scored {
			if len(kept) >= refillTarget {
				break
			}
			if !have[s.result.URL] {
				have[s.result.URL] = true
				kept = append(kept, s)
			}
		}
	}
	return kept
}

func (r *Researcher) filterBatch(ctx context.Context, query string, batch []scoredResult) ([]int, error) {
	var list strings.Builder
	for i, s := range batch {
		title := s.result.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&list, "[%d] %s — %s\n", i, title, truncate(s.result.Snippet, 200))
	}

	prompt := fmt.Sprintf(`You are a research relevance filter. Evaluate which sources are DIRECTLY relevant to this research query.

RESEARCH QUERY: %s

SOURCES:
%s
A source is relevant if it contains information, data, analysis, or insights that directly help answer the research query. A source is NOT relevant if it is about a different topic, even if it shares keywords.

Respond with ONLY a comma-separated list of relevant source indices (e.g., "0, 2, 5, 7").
If none are relevant, respond with "NONE".`, query, list.String())

	reply, err := r.llm.Generate(ctx, llm.Request{
		System:      researcherSystemPrompt,
		Prompt:      prompt,
		Temperature: ptr(0.2),
	})
	if err != nil {
		return nil, err
	}
	return llm.ParseIndexList(reply)
}

// extractFindings asks the LLM for 3-7 findings per batch of sources.
// A failed batch contributes no findings; it never aborts the stage.
func (r *Researcher) extractFindings(ctx context.Context, query string, sources []scoredResult, deep bool) []models.Finding {
	limit := extractLimitStandard
	if deep {
		limit = extractLimitDeep
	}
	if len(sources) < limit {
		limit = len(sources)
	}

	var findings []models.Finding
	for start := 0; start < limit; start += extractBatchSize {
		end := min(start+extractBatchSize, limit)
		batch := sources[start:end]

		batchFindings, err := r.extractBatch(ctx, query, batch)
		if err != nil {
			slog.Warn("Finding extraction failed for batch", "batch_start", start, "error", err)
			continue
		}
		findings = append(findings, batchFindings...)
	}
	return findings
}

func (r *Researcher) extractBatch(ctx context.Context, query string, batch []scoredResult) ([]models.Finding, error) {
	var list strings.Builder
	for i, s := range batch {
		fmt.Fprintf(&list, "[%d] %s\n%s\n\n", i, s.result.Title, truncate(s.result.Snippet, 300))
	}

	prompt := fmt.Sprintf(`Extract 3-7 concrete findings relevant to the research query from these sources.

RESEARCH QUERY: %s

SOURCES:
%s
For each finding output exactly three lines:
FINDING: <one factual statement with specific data where available>
SOURCES: <comma-separated indices of the sources above that support it>
CREDIBILITY: <high, medium, or low>

Output findings only, no commentary.`, query, list.String())

	reply, err := r.llm.Generate(ctx, llm.Request{
		System:      researcherSystemPrompt,
		Prompt:      prompt,
		Temperature: ptr(0.3),
		MaxTokens:   4096,
	})
	if err != nil {
		return nil, err
	}
	return parseFindingLines(reply, batch), nil
}

// parseFindingLines decodes the FINDING/SOURCES/CREDIBILITY line format
// and resolves numeric source tags against the batch.
func parseFindingLines(reply string, batch []scoredResult) []models.Finding {
	var (
		findings []models.Finding
		current  *models.Finding
	)
	flush := func() {
		if current != nil && current.Text != "" {
			findings = append(findings, *current)
		}
		current = nil
	}

	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "FINDING:"):
			flush()
			current = &models.Finding{Text: strings.TrimSpace(strings.TrimPrefix(line, "FINDING:"))}
		case strings.HasPrefix(line, "SOURCES:") && current != nil:
			for _, part := range strings.Split(strings.TrimPrefix(line, "SOURCES:"), ",") {
				idx, err := parseInt(strings.TrimSpace(part))
				if err != nil || idx < 0 || idx >= len(batch) {
					continue
				}
				current.Sources = append(current.Sources, models.SourceRef{
					Title: batch[idx].result.Title,
					URL:   batch[idx].result.URL,
				})
			}
		case strings.HasPrefix(line, "CREDIBILITY:") && current != nil:
			label := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "CREDIBILITY:")))
			if label == "high" || label == "medium" || label == "low" {
				current.Credibility = label
			}
		}
	}
	flush()
	return findings
}

// dedupFindings asks the LLM to merge near-duplicates once the set is
// large enough to bother. Parse failure keeps everything.
func (r *Researcher) dedupFindings(ctx context.Context, findings []models.Finding) []models.Finding {
	if len(findings) <= findingDedupThreshold {
		return findings
	}

	var list strings.Builder
	for i, f := range findings {
		fmt.Fprintf(&list, "[%d] %s\n", i, truncate(f.Text, 150))
	}
	prompt := fmt.Sprintf(`These research findings may contain near-duplicates.

FINDINGS:
%s
Respond with ONLY a comma-separated list of the indices to KEEP so that each distinct fact appears once. Prefer the more specific phrasing of any duplicate pair.`, list.String())

	reply, err := r.llm.Generate(ctx, llm.Request{
		System:      researcherSystemPrompt,
		Prompt:      prompt,
		Temperature: ptr(0.2),
	})
	if err != nil {
		slog.Warn("Finding dedup failed, keeping all findings", "error", err)
		return findings
	}
	indices, err := llm.ParseIndexList(reply)
	if err != nil || len(indices) == 0 {
		slog.Warn("Finding dedup reply unparseable, keeping all findings", "error", err)
		return findings
	}

	var kept []models.Finding
	seen := make(map[int]bool)
	for _, idx := range indices {
		if idx >= 0 && idx < len(findings) && !seen[idx] {
			seen[idx] = true
			kept = append(kept, findings[idx])
		}
	}
	if len(kept) == 0 {
		return findings
	}
	return kept
}

// truncate cuts s to at most n bytes, backing up to a rune boundary so
// a multi-byte rune is never split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
