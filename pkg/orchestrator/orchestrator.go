// Package orchestrator runs the research pipeline: five agents in
// sequence with weighted progress, supervised checkpoints, per-stage
// timeouts, and a degraded path for verification failures.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dossier-hq/dossier/pkg/agent"
	"github.com/dossier-hq/dossier/pkg/events"
	"github.com/dossier-hq/dossier/pkg/models"
	"github.com/dossier-hq/dossier/pkg/store"
)

const (
	defaultStageTimeout = 2 * time.Minute
	defaultApprovalWait = 500 * time.Millisecond

	retryQuerySuffix  = " overview research analysis"
	retryMinSourceCap = 100
)

// Config tunes pipeline execution.
type Config struct {
	// StageTimeout bounds each agent run. Zero means two minutes.
	StageTimeout time.Duration
	// ApprovalWait is how long a supervised checkpoint waits for a
	// collaborator before continuing on its own. Zero means 500ms.
	ApprovalWait time.Duration
}

// Retriever is the retrieval stage plus the broadened-query entry point
// the zero-source retry needs.
type Retriever interface {
	agent.Agent
	Research(ctx context.Context, execCtx *agent.ExecContext, query string, maxSources int) error
}

// Orchestrator executes research sessions end to end.
type Orchestrator struct {
	store      store.Store
	bus        *events.Bus
	approvals  *ApprovalRegistry
	researcher Retriever
	stages     map[string]agent.Agent
	cfg        Config
}

// executionMetadata is the per-session run record persisted as an
// artifact when the pipeline reaches a terminal state.
type executionMetadata struct {
	AgentsExecuted []string          `json:"agents_executed"`
	Errors         map[string]string `json:"errors,omitempty"`
	Degraded       bool              `json:"degraded,omitempty"`
	RetriedSearch  bool              `json:"retried_search,omitempty"`
}

func New(st store.Store, bus *events.Bus, researcher Retriever, clarifier, analyst, factChecker, reporter agent.Agent, cfg Config) *Orchestrator {
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = defaultStageTimeout
	}
	if cfg.ApprovalWait <= 0 {
		cfg.ApprovalWait = defaultApprovalWait
	}
	return &Orchestrator{
		store:      st,
		bus:        bus,
		approvals:  NewApprovalRegistry(),
		researcher: researcher,
		stages: map[string]agent.Agent{
			agent.StageClarify:  clarifier,
			agent.StageRetrieve: researcher,
			agent.StageAnalyze:  analyst,
			agent.StageVerify:   factChecker,
			agent.StageReport:   reporter,
		},
		cfg: cfg,
	}
}

// Approvals exposes the checkpoint registry to the API layer.
func (o *Orchestrator) Approvals() *ApprovalRegistry { return o.approvals }

// Run executes the full pipeline for one session. Cancelling ctx stops
// the pipeline at the next opportunity and marks the session cancelled.
func (o *Orchestrator) Run(ctx context.Context, sessionID string) error {
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if session.Status.IsTerminal() {
		slog.Warn("Session already terminal, skipping", "session_id", sessionID, "status", session.Status)
		return nil
	}
	if session.Status != models.StatusRunning {
		if err := o.store.UpdateSessionStatus(ctx, sessionID, models.StatusRunning, ""); err != nil {
			return fmt.Errorf("mark session running: %w", err)
		}
		session.Status = models.StatusRunning
	}

	slog.Info("Starting research pipeline", "session_id", sessionID,
		"query", session.Query, "depth", session.Depth, "supervised", session.Supervised)

	tracker := newProgressTracker()
	meta := executionMetadata{Errors: make(map[string]string)}

	for _, stage := range stageOrder {
		if err := ctx.Err(); err != nil {
			return o.finishCancelled(sessionID, tracker)
		}

		if err := o.runStage(ctx, session, stage, tracker); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return o.finishCancelled(sessionID, tracker)
			}

			meta.Errors[stage] = err.Error()
			if stage == agent.StageVerify {
				// Verification is the one non-fatal stage: persist a neutral
				// confidence summary and let the reporter degrade.
				slog.Warn("Verification failed, continuing with fallback confidence",
					"session_id", sessionID, "error", err)
				meta.Degraded = true
				fallback := models.FallbackConfidenceSummary("verification failed")
				if perr := o.store.PutArtifact(ctx, sessionID, models.ArtifactConfidenceSummary, fallback); perr != nil {
					return o.finishFailed(ctx, sessionID, tracker, &meta, fmt.Errorf("persist fallback confidence: %w", perr))
				}
				o.publish(sessionID, stage, models.ProgressDegraded, 100,
					tracker.completeStage(stage), "Verification failed, confidence defaulted", err.Error())
				continue
			}
			return o.finishFailed(ctx, sessionID, tracker, &meta, fmt.Errorf("%s: %w", stage, err))
		}

		meta.AgentsExecuted = append(meta.AgentsExecuted, stage)
		o.publish(sessionID, stage, models.ProgressCompleted, 100, tracker.completeStage(stage), "", "")

		if stage == agent.StageRetrieve {
			if err := o.retryIfNoSources(ctx, session, tracker, &meta); err != nil {
				if errors.Is(err, context.Canceled) && ctx.Err() != nil {
					return o.finishCancelled(sessionID, tracker)
				}
				meta.Errors[stage+"_retry"] = err.Error()
				return o.finishFailed(ctx, sessionID, tracker, &meta, fmt.Errorf("%s retry: %w", stage, err))
			}
		}

		approved, err := o.checkpoint(ctx, session, stage, tracker)
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return o.finishCancelled(sessionID, tracker)
			}
			return o.finishFailed(ctx, sessionID, tracker, &meta, err)
		}
		if !approved {
			return o.finishRejected(ctx, sessionID, stage, tracker, &meta)
		}
	}

	if err := o.store.PutArtifact(ctx, sessionID, models.ArtifactMetadata, meta); err != nil {
		slog.Error("Failed to persist execution metadata", "session_id", sessionID, "error", err)
	}
	if err := o.store.UpdateSessionStatus(ctx, sessionID, models.StatusCompleted, ""); err != nil {
		return fmt.Errorf("mark session completed: %w", err)
	}
	o.publish(sessionID, agent.StageReport, models.ProgressCompleted, 100, 100, "Research complete", "")
	slog.Info("Research pipeline completed", "session_id", sessionID, "degraded", meta.Degraded)
	return nil
}

func (o *Orchestrator) runStage(ctx context.Context, session *models.Session, stage string, tracker *progressTracker) error {
	ag := o.stages[stage]
	tracker.beginStage(stage)
	o.publish(session.ID, stage, models.ProgressStarted, 0, tracker.overall(), "", "")

	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()

	execCtx := &agent.ExecContext{
		Session: session,
		Store:   o.store,
		Progress: func(p float64, msg string) {
			o.publish(session.ID, stage, models.ProgressWorking, p, tracker.update(p), msg, "")
		},
	}

	err := ag.Execute(stageCtx, execCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("timed out after %s: %w", o.cfg.StageTimeout, err)
	}
	return err
}

// retryIfNoSources broadens the query and reruns retrieval exactly once
// when the first pass persisted nothing. A zero source cap is honored
// as-is, so the retry is skipped.
func (o *Orchestrator) retryIfNoSources(ctx context.Context, session *models.Session, tracker *progressTracker, meta *executionMetadata) error {
	if session.MaxSources <= 0 || meta.RetriedSearch {
		return nil
	}
	count, err := o.store.CountSources(ctx, session.ID)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	meta.RetriedSearch = true
	broadened := session.Query + retryQuerySuffix
	sourceCap := session.MaxSources
	if sourceCap < retryMinSourceCap {
		sourceCap = retryMinSourceCap
	}
	slog.Warn("No sources found, retrying with broadened query",
		"session_id", session.ID, "query", broadened, "max_sources", sourceCap)
	o.publish(session.ID, agent.StageRetrieve, models.ProgressWorking, 100, tracker.overall(),
		"No sources found, retrying with a broadened query", "")

	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()

	execCtx := &agent.ExecContext{Session: session, Store: o.store}
	return o.researcher.Research(stageCtx, execCtx, broadened, sourceCap)
}

// checkpoint pauses a supervised session after the clarify, retrieve,
// and analyze stages. Without a collaborator decision within the wait
// window the pipeline continues on its own.
func (o *Orchestrator) checkpoint(ctx context.Context, session *models.Session, stage string, tracker *progressTracker) (bool, error) {
	if !session.Supervised {
		return true, nil
	}
	switch stage {
	case agent.StageClarify, agent.StageRetrieve, agent.StageAnalyze:
	default:
		return true, nil
	}

	if err := o.store.UpdateSessionStatus(ctx, session.ID, models.StatusPaused, ""); err != nil {
		return false, fmt.Errorf("pause at checkpoint: %w", err)
	}
	o.publish(session.ID, stage, models.ProgressAwaitingApproval, 100, tracker.overall(),
		fmt.Sprintf("Awaiting approval after %s", stage), "")

	ch := o.approvals.await(session.ID)
	defer o.approvals.clear(session.ID)

	timer := time.NewTimer(o.cfg.ApprovalWait)
	defer timer.Stop()

	approved := true
	select {
	case decision := <-ch:
		approved = decision.Approved
	case <-timer.C:
		slog.Debug("Checkpoint auto-continued", "session_id", session.ID, "stage", stage)
	case <-ctx.Done():
		return false, ctx.Err()
	}

	if !approved {
		return false, nil
	}
	if err := o.store.UpdateSessionStatus(ctx, session.ID, models.StatusRunning, ""); err != nil {
		return false, fmt.Errorf("resume after checkpoint: %w", err)
	}
	session.Status = models.StatusRunning
	return true, nil
}

func (o *Orchestrator) finishFailed(ctx context.Context, sessionID string, tracker *progressTracker, meta *executionMetadata, cause error) error {
	slog.Error("Research pipeline failed", "session_id", sessionID, "error", cause)
	if err := o.store.PutArtifact(ctx, sessionID, models.ArtifactMetadata, meta); err != nil {
		slog.Error("Failed to persist execution metadata", "session_id", sessionID, "error", err)
	}
	if err := o.setTerminal(ctx, sessionID, models.StatusFailed, cause.Error()); err != nil {
		return err
	}
	o.publish(sessionID, "", models.ProgressFailed, 0, tracker.overall(), "", cause.Error())
	return cause
}

func (o *Orchestrator) finishRejected(ctx context.Context, sessionID, stage string, tracker *progressTracker, meta *executionMetadata) error {
	slog.Info("Session rejected at checkpoint", "session_id", sessionID, "stage", stage)
	if err := o.store.PutArtifact(ctx, sessionID, models.ArtifactMetadata, meta); err != nil {
		slog.Error("Failed to persist execution metadata", "session_id", sessionID, "error", err)
	}
	if err := o.setTerminal(ctx, sessionID, models.StatusRejected, ""); err != nil {
		return err
	}
	o.publish(sessionID, stage, models.ProgressCancelled, 100, tracker.overall(),
		"Rejected at checkpoint", "")
	return nil
}

// finishCancelled uses a fresh context: the run context is already dead.
func (o *Orchestrator) finishCancelled(sessionID string, tracker *progressTracker) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := o.setTerminal(ctx, sessionID, models.StatusCancelled, ""); err != nil {
		return err
	}
	o.publish(sessionID, "", models.ProgressCancelled, 0, tracker.overall(), "Research cancelled", "")
	slog.Info("Research pipeline cancelled", "session_id", sessionID)
	return nil
}

// setTerminal writes a terminal status unless one is already set, so a
// cancel racing a completion never overwrites it.
func (o *Orchestrator) setTerminal(ctx context.Context, sessionID string, status models.SessionStatus, errMsg string) error {
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session for terminal status: %w", err)
	}
	if session.Status.IsTerminal() {
		return nil
	}
	if err := o.store.UpdateSessionStatus(ctx, sessionID, status, errMsg); err != nil {
		return fmt.Errorf("mark session %s: %w", status, err)
	}
	return nil
}

func (o *Orchestrator) publish(sessionID, agentName, status string, progress, overall float64, msg, errStr string) {
	if o.bus == nil {
		return
	}
	// Events outlive stage deadlines; publishing gets its own context.
	o.bus.Publish(context.Background(), models.ProgressEvent{
		SessionID:       sessionID,
		Agent:           agentName,
		Status:          status,
		Progress:        progress,
		OverallProgress: overall,
		Message:         msg,
		Error:           errStr,
	})
}
