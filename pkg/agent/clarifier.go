package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dossier-hq/dossier/pkg/llm"
	"github.com/dossier-hq/dossier/pkg/models"
)

// Clarification is the clarify stage's persisted artifact. The
// clarified query is a search hint only; the session query itself is
// never rewritten.
type Clarification struct {
	OriginalQuery  string   `json:"original_query"`
	ClarifiedQuery string   `json:"clarified_query,omitempty"`
	KeyConcepts    []string `json:"key_concepts,omitempty"`
	ResearchPlan   []string `json:"research_plan,omitempty"`
}

// Clarifier analyzes the query and drafts a research plan.
type Clarifier struct {
	llm llm.Generator
}

func NewClarifier(generator llm.Generator) *Clarifier {
	return &Clarifier{llm: generator}
}

func (c *Clarifier) Name() string { return StageClarify }

const clarifierSystemPrompt = `You are a research planning assistant. You analyze research queries, surface the key concepts, and draft a short ordered research plan. You never change the meaning of the user's question.`

func (c *Clarifier) Execute(ctx context.Context, execCtx *ExecContext) error {
	session := execCtx.Session
	execCtx.progress(10, "Analyzing research query...")

	prompt := fmt.Sprintf(`Analyze this research query and produce a research plan.

QUERY: %s
FOCUS AREAS: %s

Respond in JSON:
{
  "clarified_query": "a sharper phrasing usable as a search hint (or the original if already clear)",
  "key_concepts": ["..."],
  "research_plan": ["step 1", "step 2", "..."]
}`, session.Query, joinOrGeneral(session.FocusAreas))

	clarification := Clarification{OriginalQuery: session.Query}

	reply, err := c.llm.Generate(ctx, llm.Request{
		System:      clarifierSystemPrompt,
		Prompt:      prompt,
		Temperature: ptr(0.3),
	})
	if err != nil {
		return fmt.Errorf("clarify: %w", err)
	}

	var parsed struct {
		ClarifiedQuery string   `json:"clarified_query"`
		KeyConcepts    []string `json:"key_concepts"`
		ResearchPlan   []string `json:"research_plan"`
	}
	if err := llm.UnmarshalReply(reply, &parsed); err != nil {
		// A plan is nice to have; the original query alone is enough to
		// proceed.
		slog.Warn("Clarification reply unparseable, continuing with original query",
			"session_id", session.ID, "error", err)
	} else {
		clarification.ClarifiedQuery = parsed.ClarifiedQuery
		clarification.KeyConcepts = parsed.KeyConcepts
		clarification.ResearchPlan = parsed.ResearchPlan
	}

	execCtx.progress(80, "Persisting research plan...")
	if err := execCtx.Store.PutArtifact(ctx, session.ID, models.ArtifactClarification, clarification); err != nil {
		return fmt.Errorf("clarify: %w", err)
	}
	execCtx.progress(100, "Query analysis complete")
	return nil
}

func joinOrGeneral(areas []string) string {
	if len(areas) == 0 {
		return "General"
	}
	out := areas[0]
	for _, a := range areas[1:] {
		out += ", " + a
	}
	return out
}

func ptr[T any](v T) *T { return &v }
