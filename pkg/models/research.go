package models

import (
	"encoding/json"
	"time"
)

// SourceCategory classifies where a source came from.
type SourceCategory string

const (
	CategoryWeb          SourceCategory = "web"
	CategoryNews         SourceCategory = "news"
	CategoryAcademic     SourceCategory = "academic"
	CategoryEncyclopedia SourceCategory = "encyclopedia"
)

// Source is one retrieved document that survived relevance filtering.
type Source struct {
	ID          int64          `json:"id"`
	SessionID   string         `json:"session_id"`
	Title       string         `json:"title"`
	URL         string         `json:"url"`
	Snippet     string         `json:"snippet,omitempty"`
	Provider    string         `json:"provider"`
	Category    SourceCategory `json:"category"`
	Relevance   float64        `json:"relevance"`
	Credibility float64        `json:"credibility,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// SourceRef is a resolved citation attached to a finding.
type SourceRef struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Finding is one extracted factual statement with its supporting sources.
type Finding struct {
	ID          int64       `json:"id"`
	SessionID   string      `json:"session_id"`
	Text        string      `json:"text"`
	Sources     []SourceRef `json:"sources,omitempty"`
	Credibility string      `json:"credibility,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ConfidenceLevel buckets an overall confidence score.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// LevelForConfidence maps a score to its bucket: high above 0.75,
// medium above 0.5, low otherwise.
func LevelForConfidence(overall float64) ConfidenceLevel {
	switch {
	case overall > 0.75:
		return ConfidenceHigh
	case overall > 0.5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// ConfidenceSummary is the verification stage's aggregate output.
type ConfidenceSummary struct {
	Overall float64         `json:"overall"`
	Level   ConfidenceLevel `json:"level"`
	Note    string          `json:"note,omitempty"`
}

// FallbackConfidenceSummary is persisted when verification fails, so the
// report stage always has something to cite.
func FallbackConfidenceSummary(note string) ConfidenceSummary {
	return ConfidenceSummary{Overall: 0.5, Level: ConfidenceMedium, Note: note}
}

// Artifact keys for persisted stage outputs.
const (
	ArtifactClarification     = "clarification"
	ArtifactConsolidated      = "consolidated_findings"
	ArtifactPatterns          = "patterns"
	ArtifactContradictions    = "contradictions"
	ArtifactInsights          = "key_insights"
	ArtifactOrganized         = "organized_findings"
	ArtifactValidated         = "validated_findings"
	ArtifactBias              = "bias_analysis"
	ArtifactConfidenceSummary = "confidence_summary"
	ArtifactReport            = "report"
	ArtifactMetadata          = "execution_metadata"
)

// Artifact is a persisted stage output, keyed per session. Stages never
// pass data in memory: each reads its predecessors' artifacts from the
// store.
type Artifact struct {
	SessionID string          `json:"session_id"`
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// Report is the final pipeline output.
type Report struct {
	SessionID     string    `json:"session_id"`
	Markdown      string    `json:"markdown"`
	HTML          string    `json:"html,omitempty"`
	Quality       float64   `json:"quality"`
	SourceCount   int       `json:"source_count"`
	VerifiedRatio float64   `json:"verified_ratio"`
	Confidence    float64   `json:"confidence"`
	CreatedAt     time.Time `json:"created_at"`
}

// ProgressEvent is one progress update published on the session's channel.
type ProgressEvent struct {
	SessionID       string    `json:"session_id"`
	Agent           string    `json:"agent"`
	Status          string    `json:"status"`
	Progress        float64   `json:"progress"`
	OverallProgress float64   `json:"overall_progress"`
	Message         string    `json:"message,omitempty"`
	Error           string    `json:"error,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Progress event status values.
const (
	ProgressStarted          = "started"
	ProgressWorking          = "working"
	ProgressCompleted        = "completed"
	ProgressFailed           = "failed"
	ProgressDegraded         = "degraded"
	ProgressAwaitingApproval = "awaiting_approval"
	ProgressCancelled        = "cancelled"
)
