// Package agent implements the five pipeline stages: clarifier,
// researcher, analyst, fact checker, and reporter. Each agent reads its
// inputs from the store by session ID and writes its outputs back
// before returning; nothing is handed off in memory.
package agent

import (
	"context"

	"github.com/dossier-hq/dossier/pkg/models"
	"github.com/dossier-hq/dossier/pkg/store"
)

// Stage names, also used as the agent field of progress events.
const (
	StageClarify  = "clarifier"
	StageRetrieve = "researcher"
	StageAnalyze  = "analyst"
	StageVerify   = "fact_checker"
	StageReport   = "reporter"
)

// ProgressFunc reports per-agent progress (0-100) with a short message.
type ProgressFunc func(progress float64, message string)

// ExecContext is the lightweight context an agent runs with. It carries
// identifiers and collaborators only, never stage payloads.
type ExecContext struct {
	Session  *models.Session
	Store    store.Store
	Progress ProgressFunc
}

func (e *ExecContext) progress(p float64, msg string) {
	if e.Progress != nil {
		e.Progress(p, msg)
	}
}

// Agent is one pipeline stage.
type Agent interface {
	Name() string
	Execute(ctx context.Context, execCtx *ExecContext) error
}
