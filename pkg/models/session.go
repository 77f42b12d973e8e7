package models

import (
	"time"
)

// SessionStatus is the lifecycle state of a research session.
type SessionStatus string

const (
	// StatusPending means created and queued, not yet claimed by a worker.
	StatusPending SessionStatus = "pending"
	StatusRunning SessionStatus = "running"
	StatusPaused  SessionStatus = "paused"

	// Terminal states.
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
	StatusCancelled SessionStatus = "cancelled"
	// StatusRejected means a supervisor declined the research plan. Distinct
	// from failed: rejection is a decision, not an error.
	StatusRejected SessionStatus = "rejected"
)

// IsTerminal reports whether no further transitions are possible.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// ResearchDepth selects how aggressively the retrieval stage expands
// queries and extracts findings.
type ResearchDepth string

const (
	DepthStandard ResearchDepth = "standard"
	DepthDeep     ResearchDepth = "deep"
)

// Session is a single research request moving through the pipeline.
// Query is immutable after creation: downstream stages may derive search
// hints from it but never overwrite it.
type Session struct {
	ID            string        `json:"session_id"`
	Query         string        `json:"query"`
	Depth         ResearchDepth `json:"depth"`
	MaxSources    int           `json:"max_sources"`
	FocusAreas    []string      `json:"focus_areas,omitempty"`
	ProviderPrefs []string      `json:"provider_prefs,omitempty"`
	ReportFormat  string        `json:"report_format,omitempty"`
	CitationStyle string        `json:"citation_style,omitempty"`
	Supervised    bool          `json:"supervised"`
	Status        SessionStatus `json:"status"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	SourceCount   int           `json:"source_count"`
	FindingCount  int           `json:"finding_count"`
	CreatedAt     time.Time     `json:"created_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// CreateSessionRequest contains fields for submitting a new research query.
type CreateSessionRequest struct {
	Query         string   `json:"query"`
	Depth         string   `json:"depth,omitempty"`
	MaxSources    int      `json:"max_sources,omitempty"`
	FocusAreas    []string `json:"focus_areas,omitempty"`
	ProviderPrefs []string `json:"provider_prefs,omitempty"`
	ReportFormat  string   `json:"report_format,omitempty"`
	CitationStyle string   `json:"citation_style,omitempty"`
	Supervised    bool     `json:"supervised,omitempty"`
}

// SessionFilters contains filtering options for listing sessions.
type SessionFilters struct {
	Status SessionStatus `json:"status,omitempty"`
	Limit  int           `json:"limit,omitempty"`
	Offset int           `json:"offset,omitempty"`
}
