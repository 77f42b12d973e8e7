package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dossier-hq/dossier/pkg/llm"
	"github.com/dossier-hq/dossier/pkg/models"
	"github.com/dossier-hq/dossier/pkg/search"
	"github.com/dossier-hq/dossier/pkg/store"
)

// fakeLLM routes replies by prompt substring so tests do not depend on
// the exact number or order of calls an agent makes.
type fakeLLM struct {
	rules []rule
	calls []llm.Request
}

type rule struct {
	contains string
	reply    string
	err      error
}

func (f *fakeLLM) on(contains, reply string) *fakeLLM {
	f.rules = append(f.rules, rule{contains: contains, reply: reply})
	return f
}

func (f *fakeLLM) failOn(contains string, err error) *fakeLLM {
	f.rules = append(f.rules, rule{contains: contains, err: err})
	return f
}

func (f *fakeLLM) Generate(_ context.Context, req llm.Request) (string, error) {
	f.calls = append(f.calls, req)
	for _, r := range f.rules {
		if strings.Contains(req.Prompt, r.contains) || strings.Contains(req.System, r.contains) {
			return r.reply, r.err
		}
	}
	return "", assert.AnError
}

func newExecContext(t *testing.T, session *models.Session) (*ExecContext, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	session.ID = uuid.NewString()
	session.Status = models.StatusRunning
	session.CreatedAt = time.Now().UTC()
	require.NoError(t, st.CreateSession(context.Background(), session))
	return &ExecContext{Session: session, Store: st}, st
}

func TestCredibilityForURL(t *testing.T) {
	assert.InDelta(t, 0.95, CredibilityForURL("https://www.cdc.gov/page"), 0.001)
	assert.InDelta(t, 0.90, CredibilityForURL("https://cs.stanford.edu/paper"), 0.001)
	assert.InDelta(t, 0.85, CredibilityForURL("https://arxiv.org/abs/1234"), 0.001)
	assert.InDelta(t, 0.70, CredibilityForURL("https://en.wikipedia.org/wiki/Go"), 0.001)

	// Unknown domains are neutral, personal platforms are capped.
	assert.InDelta(t, 0.5, CredibilityForURL("https://example.com/post"), 0.001)
	assert.InDelta(t, 0.5, CredibilityForURL("https://myblog.wordpress.com/x"), 0.001)

	// Unknown outlets that sound like news get a mild cap.
	assert.InDelta(t, 0.6, CredibilityForURL("https://fastnews24.com/story"), 0.001)

	assert.InDelta(t, 0.3, CredibilityForURL("not a url"), 0.001)
}

func TestDetectBias(t *testing.T) {
	assert.Equal(t, "left", DetectBias("A progressive liberal take on policy"))
	assert.Equal(t, "right", DetectBias("a conservative view rooted in traditional values"))
	assert.Equal(t, "neutral", DetectBias("quarterly revenue grew by four percent"))
}

func TestClarifierPersistsArtifact(t *testing.T) {
	session := &models.Session{Query: "impact of remote work", Depth: models.DepthStandard}
	execCtx, st := newExecContext(t, session)

	fake := (&fakeLLM{}).on("research plan", `{"clarified_query":"remote work productivity impact","key_concepts":["remote work"],"research_plan":["search","analyze"]}`)
	c := NewClarifier(fake)

	require.NoError(t, c.Execute(context.Background(), execCtx))

	var clarification Clarification
	require.NoError(t, st.GetArtifact(context.Background(), session.ID, models.ArtifactClarification, &clarification))
	assert.Equal(t, "impact of remote work", clarification.OriginalQuery)
	assert.Equal(t, "remote work productivity impact", clarification.ClarifiedQuery)
	assert.Len(t, clarification.ResearchPlan, 2)
}

func TestClarifierToleratesUnparseableReply(t *testing.T) {
	session := &models.Session{Query: "quantum computing", Depth: models.DepthStandard}
	execCtx, st := newExecContext(t, session)

	fake := (&fakeLLM{}).on("research plan", "sorry, I cannot produce JSON today")
	require.NoError(t, NewClarifier(fake).Execute(context.Background(), execCtx))

	// The artifact still exists with the original query preserved.
	var clarification Clarification
	require.NoError(t, st.GetArtifact(context.Background(), session.ID, models.ArtifactClarification, &clarification))
	assert.Equal(t, "quantum computing", clarification.OriginalQuery)
	assert.Empty(t, clarification.ClarifiedQuery)
}

func TestLexicalScore(t *testing.T) {
	scored := lexicalScore("solar panel efficiency", []search.Result{
		{Title: "Solar panel efficiency gains", Snippet: "efficiency records for solar panels", Category: models.CategoryWeb},
		{Title: "Cooking recipes", Snippet: "pasta and sauces", Category: models.CategoryWeb},
		{Title: "Solar panel efficiency study", Snippet: "panel efficiency measured", Category: models.CategoryAcademic},
	})

	// The academic hit outranks the equally matching web hit.
	assert.Equal(t, "Solar panel efficiency study", scored[0].result.Title)
	assert.Equal(t, "Solar panel efficiency gains", scored[1].result.Title)
	assert.Equal(t, 0.0, scored[2].score)
}

func TestQueryKeywordsDropsStopWords(t *testing.T) {
	kw := queryKeywords("What is the impact of remote work")
	assert.True(t, kw["impact"])
	assert.True(t, kw["remote"])
	assert.False(t, kw["what"])
	assert.False(t, kw["the"])
	assert.False(t, kw["of"])
}

func TestParseFindingLines(t *testing.T) {
	batch := []scoredResult{
		{result: search.Result{Title: "Source A", URL: "https://a.example"}},
		{result: search.Result{Title: "Source B", URL: "https://b.example"}},
	}
	reply := `FINDING: Solar capacity doubled between 2020 and 2024.
SOURCES: 0, 1
CREDIBILITY: high
FINDING: Panel costs fell 40%.
SOURCES: 1, 9
CREDIBILITY: medium
FINDING: Malformed entry with no metadata`

	findings := parseFindingLines(reply, batch)
	require.Len(t, findings, 3)

	assert.Equal(t, "Solar capacity doubled between 2020 and 2024.", findings[0].Text)
	require.Len(t, findings[0].Sources, 2)
	assert.Equal(t, "https://a.example", findings[0].Sources[0].URL)
	assert.Equal(t, "high", findings[0].Credibility)

	// Out-of-range source index 9 is dropped.
	require.Len(t, findings[1].Sources, 1)
	assert.Equal(t, "Source B", findings[1].Sources[0].Title)

	assert.Empty(t, findings[2].Sources)
	assert.Empty(t, findings[2].Credibility)
}

func TestConfidenceSummaryBlend(t *testing.T) {
	validated := []ValidatedFinding{
		{Confidence: 0.8}, {Confidence: 0.6},
	}
	sources := []models.Source{
		{Credibility: 0.9}, {Credibility: 0.7},
	}

	summary := confidenceSummary(validated, sources, 1.0)
	// 0.40*0.7 + 0.35*0.8 + 0.25*1.0 = 0.81
	assert.InDelta(t, 0.81, summary.Overall, 0.001)
	assert.Equal(t, models.ConfidenceHigh, summary.Level)
}

func TestConfidenceSummaryEmptyInputs(t *testing.T) {
	summary := confidenceSummary(nil, nil, 1.0)
	// 0.40*0.5 + 0.35*0.5 + 0.25*1.0 = 0.625
	assert.InDelta(t, 0.625, summary.Overall, 0.001)
	assert.Equal(t, models.ConfidenceMedium, summary.Level)
}

func TestAnalyzeBias(t *testing.T) {
	sources := []models.Source{
		{Title: "A progressive proposal", Snippet: "liberal lawmakers push the plan"},
		{Title: "Budget figures released", Snippet: "spending rose three percent"},
	}
	bias := analyzeBias(sources)
	assert.Equal(t, 2, bias.SampleSize)
	assert.Equal(t, 1, bias.Distribution["left"])
	assert.Equal(t, 1, bias.Distribution["neutral"])
}

func TestReportQualityClamped(t *testing.T) {
	assert.InDelta(t, 5.0, reportQuality(1000, 1.0, 1.0), 0.001)
	assert.InDelta(t, 0.0, reportQuality(0, 0, 0), 0.001)
	// 1.5*0.5 + 2.0*0.5 + 1.5*0.8 = 2.95
	assert.InDelta(t, 2.95, reportQuality(50, 0.5, 0.8), 0.001)
}

func TestFormatCitation(t *testing.T) {
	src := models.Source{Title: "Solar Outlook 2026", URL: "https://www.example.org/reports/solar"}
	apa := formatCitation("apa", src, 2026)
	assert.Contains(t, apa, "example.org. (2026).")
	assert.Contains(t, apa, "*Solar Outlook 2026*")

	mla := formatCitation("mla", src, 2026)
	assert.True(t, strings.HasPrefix(mla, "\"Solar Outlook 2026.\""))
	assert.Contains(t, mla, "*example.org*")

	chicago := formatCitation("chicago", src, 2026)
	assert.Contains(t, chicago, "example.org. \"Solar Outlook 2026.\"")
	assert.Contains(t, chicago, "Accessed 2026.")
}

func TestMarkdownToHTML(t *testing.T) {
	md := "# Title\n\nSome **bold** text.\n\n- item one\n- item two\n\n1. first\n2. second\n"
	out := markdownToHTML(md)
	assert.Contains(t, out, "<h1>Title</h1>")
	assert.Contains(t, out, "<strong>bold</strong>")
	assert.Contains(t, out, "<ul>\n<li>item one</li>\n<li>item two</li>\n</ul>")
	assert.Contains(t, out, "<ol>\n<li>first</li>\n<li>second</li>\n</ol>")
	assert.NotContains(t, out, "**")
}

func TestMarkdownToHTMLEscapes(t *testing.T) {
	out := markdownToHTML("a <script> tag & friends")
	assert.Contains(t, out, "&lt;script&gt;")
	assert.Contains(t, out, "&amp;")
	assert.NotContains(t, out, "<script>")
}
