package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dossier-hq/dossier/pkg/llm"
	"github.com/dossier-hq/dossier/pkg/models"
)

const analystSystemPrompt = `You are a research analyst. You consolidate raw findings into coherent themes, surface patterns and contradictions, and distill actionable insights. You never invent facts that are not grounded in the findings you are given.`

// Analyst consolidates raw findings into themes, patterns,
// contradictions, and insights, each persisted as its own artifact.
type Analyst struct {
	llm llm.Generator
}

func NewAnalyst(generator llm.Generator) *Analyst {
	return &Analyst{llm: generator}
}

func (a *Analyst) Name() string { return StageAnalyze }

// ConsolidatedFinding groups related raw findings under one theme.
type ConsolidatedFinding struct {
	Theme      string   `json:"theme"`
	Summary    string   `json:"summary"`
	Supporting []int    `json:"supporting_findings,omitempty"`
	Sources    []string `json:"sources,omitempty"`
}

// Pattern is a recurring trend observed across consolidated findings.
type Pattern struct {
	Description string `json:"description"`
	Evidence    string `json:"evidence,omitempty"`
}

// Contradiction records two findings that disagree.
type Contradiction struct {
	ClaimA     string `json:"claim_a"`
	ClaimB     string `json:"claim_b"`
	Assessment string `json:"assessment,omitempty"`
}

// OrganizedFindings is the analysis stage's structured handoff to
// verification and reporting.
type OrganizedFindings struct {
	Consolidated   []ConsolidatedFinding `json:"consolidated"`
	Patterns       []Pattern             `json:"patterns"`
	Contradictions []Contradiction       `json:"contradictions"`
	KeyInsights    []string              `json:"key_insights"`
}

func (a *Analyst) Execute(ctx context.Context, execCtx *ExecContext) error {
	session := execCtx.Session

	execCtx.progress(5, "Loading findings for analysis...")
	findings, err := execCtx.Store.ListFindings(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	organized := OrganizedFindings{}
	if len(findings) == 0 {
		slog.Warn("No findings to analyze, persisting empty analysis", "session_id", session.ID)
	} else {
		execCtx.progress(20, fmt.Sprintf("Consolidating %d findings into themes...", len(findings)))
		organized.Consolidated = a.consolidate(ctx, findings)

		execCtx.progress(50, "Identifying patterns across findings...")
		organized.Patterns = a.patterns(ctx, organized.Consolidated)

		execCtx.progress(65, "Checking for contradictions...")
		organized.Contradictions = a.contradictions(ctx, findings)

		execCtx.progress(80, "Distilling key insights...")
		organized.KeyInsights = a.insights(ctx, organized)
	}

	for key, data := range map[string]any{
		models.ArtifactConsolidated:   organized.Consolidated,
		models.ArtifactPatterns:       organized.Patterns,
		models.ArtifactContradictions: organized.Contradictions,
		models.ArtifactInsights:       organized.KeyInsights,
		models.ArtifactOrganized:      organized,
	} {
		if err := execCtx.Store.PutArtifact(ctx, session.ID, key, data); err != nil {
			return fmt.Errorf("analyze: persist %s: %w", key, err)
		}
	}

	execCtx.progress(100, fmt.Sprintf("Analysis complete: %d themes, %d patterns, %d insights",
		len(organized.Consolidated), len(organized.Patterns), len(organized.KeyInsights)))
	return nil
}

// consolidate groups raw findings into 4-8 themes. Failure degrades to
// one catch-all theme so downstream stages still have a structure.
func (a *Analyst) consolidate(ctx context.Context, findings []models.Finding) []ConsolidatedFinding {
	prompt := fmt.Sprintf(`Consolidate these research findings into 4-8 coherent themes.

FINDINGS:
%s
Respond in JSON:
[
  {
    "theme": "short theme name",
    "summary": "2-3 sentence synthesis of what the supporting findings say",
    "supporting_findings": [0, 3, 7]
  }
]

Each finding index should appear under at least one theme. Summaries must stay grounded in the findings.`,
		numberedFindings(findings))

	reply, err := a.llm.Generate(ctx, llm.Request{
		System:      analystSystemPrompt,
		Prompt:      prompt,
		Temperature: ptr(0.3),
		MaxTokens:   4096,
	})
	var consolidated []ConsolidatedFinding
	if err == nil {
		err = llm.UnmarshalReply(reply, &consolidated)
	}
	if err != nil || len(consolidated) == 0 {
		slog.Warn("Finding consolidation failed, using single catch-all theme", "error", err)
		all := make([]int, len(findings))
		summary := make([]string, 0, len(findings))
		for i, f := range findings {
			all[i] = i
			summary = append(summary, f.Text)
		}
		return []ConsolidatedFinding{{
			Theme:      "Research findings",
			Summary:    strings.Join(summary, " "),
			Supporting: all,
		}}
	}

	for i := range consolidated {
		consolidated[i].Sources = sourcesForIndices(findings, consolidated[i].Supporting)
	}
	return consolidated
}

func (a *Analyst) patterns(ctx context.Context, themes []ConsolidatedFinding) []Pattern {
	var list strings.Builder
	for _, t := range themes {
		fmt.Fprintf(&list, "- %s: %s\n", t.Theme, t.Summary)
	}
	prompt := fmt.Sprintf(`Identify 3-5 patterns or trends that recur across these research themes.

THEMES:
%s
Respond in JSON:
[{"description": "the pattern", "evidence": "which themes show it and how"}]`, list.String())

	reply, err := a.llm.Generate(ctx, llm.Request{
		System:      analystSystemPrompt,
		Prompt:      prompt,
		Temperature: ptr(0.4),
	})
	var patterns []Pattern
	if err == nil {
		err = llm.UnmarshalReply(reply, &patterns)
	}
	if err != nil {
		slog.Warn("Pattern detection failed", "error", err)
		return nil
	}
	return patterns
}

func (a *Analyst) contradictions(ctx context.Context, findings []models.Finding) []Contradiction {
	prompt := fmt.Sprintf(`Identify contradictions between these research findings: pairs of claims that cannot both be fully true.

FINDINGS:
%s
Respond in JSON (empty array if there are none):
[{"claim_a": "...", "claim_b": "...", "assessment": "which is better supported and why"}]`,
		numberedFindings(findings))

	reply, err := a.llm.Generate(ctx, llm.Request{
		System:      analystSystemPrompt,
		Prompt:      prompt,
		Temperature: ptr(0.3),
	})
	var contradictions []Contradiction
	if err == nil {
		err = llm.UnmarshalReply(reply, &contradictions)
	}
	if err != nil {
		slog.Warn("Contradiction detection failed", "error", err)
		return nil
	}
	return contradictions
}

func (a *Analyst) insights(ctx context.Context, organized OrganizedFindings) []string {
	var sb strings.Builder
	sb.WriteString("THEMES:\n")
	for _, t := range organized.Consolidated {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Theme, t.Summary)
	}
	if len(organized.Patterns) > 0 {
		sb.WriteString("PATTERNS:\n")
		for _, p := range organized.Patterns {
			fmt.Fprintf(&sb, "- %s\n", p.Description)
		}
	}

	prompt := fmt.Sprintf(`Distill 5-7 key insights from this analysis. Each insight should be one sentence a decision-maker could act on.

%s
Respond in JSON: ["insight 1", "insight 2", ...]`, sb.String())

	reply, err := a.llm.Generate(ctx, llm.Request{
		System:      analystSystemPrompt,
		Prompt:      prompt,
		Temperature: ptr(0.4),
	})
	var insights []string
	if err == nil {
		err = llm.UnmarshalReply(reply, &insights)
	}
	if err != nil {
		slog.Warn("Insight distillation failed", "error", err)
		return nil
	}
	return insights
}

func numberedFindings(findings []models.Finding) string {
	var sb strings.Builder
	for i, f := range findings {
		fmt.Fprintf(&sb, "[%d] %s\n", i, f.Text)
	}
	return sb.String()
}

func sourcesForIndices(findings []models.Finding, indices []int) []string {
	seen := make(map[string]bool)
	var urls []string
	for _, idx := range indices {
		if idx < 0 || idx >= len(findings) {
			continue
		}
		for _, ref := range findings[idx].Sources {
			if ref.URL != "" && !seen[ref.URL] {
				seen[ref.URL] = true
				urls = append(urls, ref.URL)
			}
		}
	}
	return urls
}
