package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dossier-hq/dossier/pkg/models"
	"github.com/dossier-hq/dossier/pkg/orchestrator"
	"github.com/dossier-hq/dossier/pkg/store"
)

const maxQueryLength = 2000

// createResearchRequest mirrors models.CreateSessionRequest with a
// pointer source cap, so an explicit zero is distinguishable from an
// omitted field.
type createResearchRequest struct {
	Query         string   `json:"query"`
	Depth         string   `json:"depth,omitempty"`
	MaxSources    *int     `json:"max_sources,omitempty"`
	FocusAreas    []string `json:"focus_areas,omitempty"`
	ProviderPrefs []string `json:"provider_prefs,omitempty"`
	ReportFormat  string   `json:"report_format,omitempty"`
	CitationStyle string   `json:"citation_style,omitempty"`
	Supervised    bool     `json:"supervised,omitempty"`
}

// CreateResearch accepts a research request and queues a session.
func (s *Server) CreateResearch(c *gin.Context) {
	var req createResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	if len(req.Query) > maxQueryLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query too long"})
		return
	}

	depth := models.ResearchDepth(req.Depth)
	switch depth {
	case "":
		depth = models.DepthStandard
	case models.DepthStandard, models.DepthDeep:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "depth must be standard or deep"})
		return
	}

	maxSources := s.defaultMaxSources
	if req.MaxSources != nil {
		if *req.MaxSources < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "max_sources must not be negative"})
			return
		}
		maxSources = *req.MaxSources
	}

	session := &models.Session{
		ID:            uuid.NewString(),
		Query:         req.Query,
		Depth:         depth,
		MaxSources:    maxSources,
		FocusAreas:    req.FocusAreas,
		ProviderPrefs: req.ProviderPrefs,
		ReportFormat:  req.ReportFormat,
		CitationStyle: req.CitationStyle,
		Supervised:    req.Supervised,
		Status:        models.StatusPending,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateSession(c.Request.Context(), session); err != nil {
		slog.Error("Failed to create session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	slog.Info("Research session created", "session_id", session.ID,
		"depth", session.Depth, "supervised", session.Supervised)
	c.JSON(http.StatusAccepted, session)
}

// ListResearch returns sessions, newest first, with optional status
// filtering and pagination.
func (s *Server) ListResearch(c *gin.Context) {
	filters := models.SessionFilters{
		Status: models.SessionStatus(c.Query("status")),
		Limit:  intQuery(c, "limit", 50),
		Offset: intQuery(c, "offset", 0),
	}

	sessions, total, err := s.store.ListSessions(c.Request.Context(), filters)
	if err != nil {
		slog.Error("Failed to list sessions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "total": total})
}

// GetResearch returns one session by ID.
func (s *Server) GetResearch(c *gin.Context) {
	session, err := s.store.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.notFoundOr500(c, err, "session")
		return
	}
	c.JSON(http.StatusOK, session)
}

// GetReport returns the final report for a completed session.
func (s *Server) GetReport(c *gin.Context) {
	id := c.Param("id")
	report, err := s.store.GetReport(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Distinguish "not done yet" from "no such session".
			if _, serr := s.store.GetSession(c.Request.Context(), id); serr == nil {
				c.JSON(http.StatusConflict, gin.H{"error": "report not available yet"})
				return
			}
		}
		s.notFoundOr500(c, err, "report")
		return
	}
	c.JSON(http.StatusOK, report)
}

// CancelResearch stops a session. Idempotent: cancelling a terminal
// session is accepted and changes nothing.
func (s *Server) CancelResearch(c *gin.Context) {
	id := c.Param("id")
	if err := s.queue.Cancel(c.Request.Context(), id); err != nil {
		s.notFoundOr500(c, err, "session")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": id, "status": "cancelling"})
}

// ResolveApproval delivers a collaborator decision to a session waiting
// at a supervised checkpoint.
func (s *Server) ResolveApproval(c *gin.Context) {
	var req struct {
		Approved bool   `json:"approved"`
		Comment  string `json:"comment,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	id := c.Param("id")
	err := s.approvals.Resolve(id, orchestrator.Decision{Approved: req.Approved, Comment: req.Comment})
	if err != nil {
		if errors.Is(err, orchestrator.ErrNoPendingApproval) {
			c.JSON(http.StatusConflict, gin.H{"error": "session is not awaiting approval"})
			return
		}
		slog.Error("Failed to resolve approval", "session_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve approval"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "approved": req.Approved})
}

func (s *Server) notFoundOr500(c *gin.Context, err error, what string) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
		return
	}
	slog.Error("Unexpected store error", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
