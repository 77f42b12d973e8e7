package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/dossier-hq/dossier/pkg/llm"
	"github.com/dossier-hq/dossier/pkg/models"
)

const (
	crossRefSourceCap = 25
	crossRefPromptCap = 10
	biasSampleCap     = 10

	// Confidence summary blend.
	weightFindings    = 0.40
	weightCredibility = 0.35
	weightStats       = 0.25

	defaultFindingConfidence = 0.5
	statClaimErrorScore      = 0.3
)

const factCheckerSystemPrompt = `You are a meticulous fact checker. You verify research claims against the provided sources only, you flag statistical claims that look implausible, and you never mark a claim verified without supporting evidence.`

var statClaimPattern = regexp.MustCompile(`\d+(\.\d+)?\s*(%|percent|million|billion|trillion|thousand)|\$\s*\d`)

// FactChecker cross-references findings against sources, sanity-checks
// statistical claims, samples sources for bias, and blends the results
// into a confidence summary.
type FactChecker struct {
	llm llm.Generator
}

func NewFactChecker(generator llm.Generator) *FactChecker {
	return &FactChecker{llm: generator}
}

func (f *FactChecker) Name() string { return StageVerify }

// ValidatedFinding is a finding with its verification verdict.
type ValidatedFinding struct {
	Text        string  `json:"text"`
	Verified    bool    `json:"verified"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation,omitempty"`
}

// BiasAnalysis summarizes the leanings of a sample of sources.
type BiasAnalysis struct {
	SampleSize   int            `json:"sample_size"`
	Distribution map[string]int `json:"distribution"`
	Dominant     string         `json:"dominant"`
}

func (f *FactChecker) Execute(ctx context.Context, execCtx *ExecContext) error {
	session := execCtx.Session

	execCtx.progress(5, "Loading findings and sources for verification...")
	findings, err := execCtx.Store.ListFindings(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	sources, err := execCtx.Store.ListSources(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if len(sources) > crossRefSourceCap {
		sources = sources[:crossRefSourceCap]
	}

	validated := make([]ValidatedFinding, 0, len(findings))
	for i, finding := range findings {
		if ctx.Err() != nil {
			return fmt.Errorf("verify: %w", ctx.Err())
		}
		progress := 10 + float64(i)/float64(max(len(findings), 1))*50
		execCtx.progress(progress, fmt.Sprintf("Cross-referencing finding %d of %d...", i+1, len(findings)))
		validated = append(validated, f.crossReference(ctx, finding, sources))
	}

	execCtx.progress(65, "Verifying statistical claims...")
	statsAccuracy := f.verifyStatClaims(ctx, findings)

	execCtx.progress(80, "Analyzing source bias...")
	bias := analyzeBias(sources)

	summary := confidenceSummary(validated, sources, statsAccuracy)

	for key, data := range map[string]any{
		models.ArtifactValidated:         validated,
		models.ArtifactBias:              bias,
		models.ArtifactConfidenceSummary: summary,
	} {
		if err := execCtx.Store.PutArtifact(ctx, session.ID, key, data); err != nil {
			return fmt.Errorf("verify: persist %s: %w", key, err)
		}
	}

	execCtx.progress(100, fmt.Sprintf("Verification complete: %.0f%% overall confidence (%s)",
		summary.Overall*100, summary.Level))
	return nil
}

// crossReference asks the LLM whether the sources support the finding.
// An unusable reply leaves the finding unverified at the default
// confidence rather than failing the stage.
func (f *FactChecker) crossReference(ctx context.Context, finding models.Finding, sources []models.Source) ValidatedFinding {
	out := ValidatedFinding{Text: finding.Text, Confidence: defaultFindingConfidence}

	var list strings.Builder
	limit := min(len(sources), crossRefPromptCap)
	for i := 0; i < limit; i++ {
		fmt.Fprintf(&list, "[%d] %s — %s\n", i, sources[i].Title, truncate(sources[i].Snippet, 200))
	}

	prompt := fmt.Sprintf(`Verify this claim against the sources below.

CLAIM: %s

SOURCES:
%s
Respond in JSON:
{"verified": true or false, "confidence": 0.0 to 1.0, "explanation": "one sentence"}`,
		finding.Text, list.String())

	reply, err := f.llm.Generate(ctx, llm.Request{
		System:      factCheckerSystemPrompt,
		Prompt:      prompt,
		Temperature: ptr(0.2),
	})
	if err != nil {
		slog.Warn("Cross-reference call failed", "error", err)
		return out
	}

	var parsed struct {
		Verified    bool    `json:"verified"`
		Confidence  float64 `json:"confidence"`
		Explanation string  `json:"explanation"`
	}
	if err := llm.UnmarshalReply(reply, &parsed); err != nil {
		slog.Warn("Cross-reference reply unparseable", "error", err)
		return out
	}
	out.Verified = parsed.Verified
	out.Confidence = clamp01(parsed.Confidence)
	out.Explanation = parsed.Explanation
	return out
}

// verifyStatClaims scores the plausibility of numeric claims. No
// statistical claims at all means nothing to doubt, scoring 1.0; a
// claim whose check errors scores the pessimistic fallback.
func (f *FactChecker) verifyStatClaims(ctx context.Context, findings []models.Finding) float64 {
	var claims []string
	for _, finding := range findings {
		if statClaimPattern.MatchString(finding.Text) {
			claims = append(claims, finding.Text)
		}
	}
	if len(claims) == 0 {
		return 1.0
	}

	total := 0.0
	for _, claim := range claims {
		prompt := fmt.Sprintf(`Assess the plausibility of the statistics in this claim based on general knowledge of realistic magnitudes.

CLAIM: %s

Respond in JSON: {"accuracy": 0.0 to 1.0, "note": "one sentence"}`, claim)

		reply, err := f.llm.Generate(ctx, llm.Request{
			System:      factCheckerSystemPrompt,
			Prompt:      prompt,
			Temperature: ptr(0.2),
		})
		var parsed struct {
			Accuracy float64 `json:"accuracy"`
		}
		if err == nil {
			err = llm.UnmarshalReply(reply, &parsed)
		}
		if err != nil {
			slog.Warn("Statistical claim check failed", "error", err)
			total += statClaimErrorScore
			continue
		}
		total += clamp01(parsed.Accuracy)
	}
	return total / float64(len(claims))
}

// analyzeBias samples sources and buckets them by loaded language.
func analyzeBias(sources []models.Source) BiasAnalysis {
	sample := sources
	if len(sample) > biasSampleCap {
		sample = sample[:biasSampleCap]
	}

	dist := make(map[string]int)
	for _, s := range sample {
		dist[DetectBias(s.Title+" "+s.Snippet)]++
	}

	dominant := "neutral"
	best := 0
	for bucket, n := range dist {
		if n > best || (n == best && bucket == "neutral") {
			best = n
			dominant = bucket
		}
	}
	return BiasAnalysis{SampleSize: len(sample), Distribution: dist, Dominant: dominant}
}

// confidenceSummary blends mean finding confidence, mean source
// credibility, and statistical accuracy.
func confidenceSummary(validated []ValidatedFinding, sources []models.Source, statsAccuracy float64) models.ConfidenceSummary {
	findingConf := defaultFindingConfidence
	if len(validated) > 0 {
		total := 0.0
		for _, v := range validated {
			total += v.Confidence
		}
		findingConf = total / float64(len(validated))
	}

	credibility := defaultFindingConfidence
	if len(sources) > 0 {
		total := 0.0
		for _, s := range sources {
			total += s.Credibility
		}
		credibility = total / float64(len(sources))
	}

	overall := clamp01(weightFindings*findingConf + weightCredibility*credibility + weightStats*statsAccuracy)
	return models.ConfidenceSummary{
		Overall: overall,
		Level:   models.LevelForConfidence(overall),
	}
}
