// Package store persists research sessions, sources, findings, stage
// artifacts, and reports. Stages communicate exclusively through the
// store: each stage reads its predecessors' outputs by session ID.
package store

import (
	"context"
	"errors"

	"github.com/dossier-hq/dossier/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrNoSessionsAvailable is returned by ClaimNextSession when no pending
// session can be claimed.
var ErrNoSessionsAvailable = errors.New("no sessions available")

// Store is the persistence boundary for the research pipeline.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, f models.SessionFilters) ([]*models.Session, int, error)
	// UpdateSessionStatus transitions a session, stamping started_at on
	// the first move to running and completed_at on terminal states.
	UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus, errMsg string) error
	UpdateSessionCounts(ctx context.Context, id string, sources, findings int) error
	// ClaimNextSession atomically claims the oldest pending session and
	// marks it running. Returns ErrNoSessionsAvailable when the queue is
	// empty.
	ClaimNextSession(ctx context.Context) (*models.Session, error)

	// Sources. InsertSources skips duplicates (same session, same URL)
	// and returns the number of rows actually inserted.
	InsertSources(ctx context.Context, sessionID string, sources []models.Source) (int, error)
	ListSources(ctx context.Context, sessionID string) ([]models.Source, error)
	CountSources(ctx context.Context, sessionID string) (int, error)

	// Findings
	InsertFindings(ctx context.Context, sessionID string, findings []models.Finding) error
	ListFindings(ctx context.Context, sessionID string) ([]models.Finding, error)

	// Stage artifacts, keyed per session. PutArtifact overwrites.
	PutArtifact(ctx context.Context, sessionID, key string, data any) error
	// GetArtifact unmarshals the stored JSON into out. ErrNotFound when
	// the key has never been written for the session.
	GetArtifact(ctx context.Context, sessionID, key string, out any) error

	// Reports
	SaveReport(ctx context.Context, r *models.Report) error
	GetReport(ctx context.Context, sessionID string) (*models.Report, error)
}
