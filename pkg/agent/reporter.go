package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dossier-hq/dossier/pkg/llm"
	"github.com/dossier-hq/dossier/pkg/models"
	"github.com/dossier-hq/dossier/pkg/store"
)

const reporterSystemPrompt = `You are a research report writer. You write clear, well-structured prose grounded strictly in the analysis you are given. You never introduce facts that the analysis does not contain.`

// Reporter assembles the final report. It prefers validated findings
// and degrades through organized and consolidated analysis down to raw
// findings, so a report is produced even after upstream degradation.
type Reporter struct {
	llm llm.Generator
}

func NewReporter(generator llm.Generator) *Reporter {
	return &Reporter{llm: generator}
}

func (r *Reporter) Name() string { return StageReport }

// reportInputs is everything the renderer needs, resolved through the
// fallback chain.
type reportInputs struct {
	Session      *models.Session
	Findings     []ValidatedFinding
	Organized    OrganizedFindings
	Confidence   models.ConfidenceSummary
	Bias         *BiasAnalysis
	Sources      []models.Source
	FindingBasis string
	ExecSummary  string
	Conclusions  string
	GeneratedAt  time.Time
}

func (r *Reporter) Execute(ctx context.Context, execCtx *ExecContext) error {
	session := execCtx.Session

	execCtx.progress(5, "Gathering analysis results...")
	inputs, err := r.gather(ctx, execCtx)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	execCtx.progress(30, "Writing executive summary...")
	inputs.ExecSummary = r.executiveSummary(ctx, inputs)

	execCtx.progress(55, "Writing conclusions...")
	inputs.Conclusions = r.conclusions(ctx, inputs)

	execCtx.progress(75, "Rendering report...")
	markdown := renderMarkdown(inputs)

	verifiedRatio := verifiedRatio(inputs.Findings)
	report := models.Report{
		SessionID:     session.ID,
		Markdown:      markdown,
		Quality:       reportQuality(len(inputs.Sources), verifiedRatio, inputs.Confidence.Overall),
		SourceCount:   len(inputs.Sources),
		VerifiedRatio: verifiedRatio,
		Confidence:    inputs.Confidence.Overall,
	}
	if session.ReportFormat == "html" {
		report.HTML = markdownToHTML(markdown)
	}

	if err := execCtx.Store.SaveReport(ctx, &report); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if err := execCtx.Store.PutArtifact(ctx, session.ID, models.ArtifactReport, report); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	execCtx.progress(100, fmt.Sprintf("Report complete (quality %.1f/5)", report.Quality))
	return nil
}

// gather resolves the finding fallback chain and loads the supporting
// artifacts, tolerating every missing piece except the store itself.
func (r *Reporter) gather(ctx context.Context, execCtx *ExecContext) (*reportInputs, error) {
	session := execCtx.Session
	st := execCtx.Store
	inputs := &reportInputs{Session: session, GeneratedAt: time.Now().UTC()}

	sources, err := st.ListSources(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	inputs.Sources = sources

	if err := st.GetArtifact(ctx, session.ID, models.ArtifactConfidenceSummary, &inputs.Confidence); err != nil {
		inputs.Confidence = models.FallbackConfidenceSummary("verification unavailable")
	}
	var bias BiasAnalysis
	if err := st.GetArtifact(ctx, session.ID, models.ArtifactBias, &bias); err == nil {
		inputs.Bias = &bias
	}
	if err := st.GetArtifact(ctx, session.ID, models.ArtifactOrganized, &inputs.Organized); err != nil {
		var consolidated []ConsolidatedFinding
		if err := st.GetArtifact(ctx, session.ID, models.ArtifactConsolidated, &consolidated); err == nil {
			inputs.Organized.Consolidated = consolidated
		}
	}

	// Fallback chain for the findings section: validated, then
	// organized themes, then consolidated themes, then raw findings.
	var validated []ValidatedFinding
	switch {
	case st.GetArtifact(ctx, session.ID, models.ArtifactValidated, &validated) == nil && len(validated) > 0:
		inputs.Findings = validated
		inputs.FindingBasis = "verified findings"
	case len(inputs.Organized.Consolidated) > 0:
		for _, t := range inputs.Organized.Consolidated {
			inputs.Findings = append(inputs.Findings, ValidatedFinding{
				Text:       t.Theme + ": " + t.Summary,
				Confidence: defaultFindingConfidence,
			})
		}
		inputs.FindingBasis = "consolidated analysis (unverified)"
	default:
		raw, err := st.ListFindings(ctx, session.ID)
		if err != nil && err != store.ErrNotFound {
			return nil, err
		}
		for _, f := range raw {
			inputs.Findings = append(inputs.Findings, ValidatedFinding{
				Text:       f.Text,
				Confidence: defaultFindingConfidence,
			})
		}
		inputs.FindingBasis = "raw findings (unverified)"
	}
	return inputs, nil
}

func (r *Reporter) executiveSummary(ctx context.Context, inputs *reportInputs) string {
	prompt := fmt.Sprintf(`Write a 3-5 sentence executive summary of this research.

QUERY: %s
KEY INSIGHTS:
%s
FINDINGS:
%s
Write prose only, no headers or bullets.`,
		inputs.Session.Query, bulleted(inputs.Organized.KeyInsights), validatedList(inputs.Findings, 10))

	reply, err := r.llm.Generate(ctx, llm.Request{
		System:      reporterSystemPrompt,
		Prompt:      prompt,
		Temperature: ptr(0.4),
	})
	if err != nil {
		slog.Warn("Executive summary generation failed", "error", err)
		return fmt.Sprintf("This report presents research findings for the query \"%s\", drawing on %d sources.",
			inputs.Session.Query, len(inputs.Sources))
	}
	return reply
}

func (r *Reporter) conclusions(ctx context.Context, inputs *reportInputs) string {
	prompt := fmt.Sprintf(`Write a short conclusions section (2-4 sentences) for this research.

QUERY: %s
OVERALL CONFIDENCE: %.0f%% (%s)
KEY INSIGHTS:
%s
Write prose only. Acknowledge uncertainty where confidence is low.`,
		inputs.Session.Query, inputs.Confidence.Overall*100, inputs.Confidence.Level,
		bulleted(inputs.Organized.KeyInsights))

	reply, err := r.llm.Generate(ctx, llm.Request{
		System:      reporterSystemPrompt,
		Prompt:      prompt,
		Temperature: ptr(0.4),
	})
	if err != nil {
		slog.Warn("Conclusions generation failed", "error", err)
		return "The findings above represent the best available synthesis of the retrieved sources."
	}
	return reply
}

// reportQuality scores the report 0-5 from source volume, verification
// ratio, and overall confidence.
func reportQuality(sourceCount int, verifiedRatio, confidence float64) float64 {
	coverage := float64(sourceCount) / 100
	if coverage > 1 {
		coverage = 1
	}
	q := 1.5*coverage + 2.0*verifiedRatio + 1.5*confidence
	if q < 0 {
		return 0
	}
	if q > 5 {
		return 5
	}
	return q
}

func verifiedRatio(findings []ValidatedFinding) float64 {
	if len(findings) == 0 {
		return 0
	}
	verified := 0
	for _, f := range findings {
		if f.Verified {
			verified++
		}
	}
	return float64(verified) / float64(len(findings))
}
