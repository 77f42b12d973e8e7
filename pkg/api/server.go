// Package api exposes the research service over HTTP: session CRUD,
// cancellation, checkpoint approvals, and a WebSocket progress stream.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dossier-hq/dossier/pkg/events"
	"github.com/dossier-hq/dossier/pkg/models"
	"github.com/dossier-hq/dossier/pkg/orchestrator"
	"github.com/dossier-hq/dossier/pkg/queue"
	"github.com/dossier-hq/dossier/pkg/store"
)

// Server wires the HTTP surface to the store, queue, bus, and approval
// registry.
type Server struct {
	store     store.Store
	queue     *queue.Queue
	bus       *events.Bus
	approvals *orchestrator.ApprovalRegistry

	defaultMaxSources int
}

func NewServer(st store.Store, q *queue.Queue, bus *events.Bus, approvals *orchestrator.ApprovalRegistry, defaultMaxSources int) *Server {
	if defaultMaxSources <= 0 {
		defaultMaxSources = 100
	}
	return &Server{
		store:             st,
		queue:             q,
		bus:               bus,
		approvals:         approvals,
		defaultMaxSources: defaultMaxSources,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", s.Health)
		v1.POST("/research", s.CreateResearch)
		v1.GET("/research", s.ListResearch)
		v1.GET("/research/:id", s.GetResearch)
		v1.GET("/research/:id/report", s.GetReport)
		v1.POST("/research/:id/cancel", s.CancelResearch)
		v1.POST("/research/:id/approval", s.ResolveApproval)
	}
	r.GET("/ws/research/:id", s.StreamProgress)

	return r
}

// Health reports service liveness and store reachability.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if _, _, err := s.store.ListSessions(ctx, models.SessionFilters{Limit: 1}); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
