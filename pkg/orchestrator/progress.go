package orchestrator

import (
	"sync"

	"github.com/dossier-hq/dossier/pkg/agent"
)

// stageWeights apportions overall progress across the pipeline.
var stageWeights = map[string]float64{
	agent.StageClarify:  10,
	agent.StageRetrieve: 30,
	agent.StageAnalyze:  25,
	agent.StageVerify:   20,
	agent.StageReport:   15,
}

// stageOrder is the execution order of the pipeline.
var stageOrder = []string{
	agent.StageClarify,
	agent.StageRetrieve,
	agent.StageAnalyze,
	agent.StageVerify,
	agent.StageReport,
}

// progressTracker computes the weighted overall progress. Reported
// progress never decreases even if a stage reports out of order.
type progressTracker struct {
	mu        sync.Mutex
	completed float64
	current   string
	stagePct  float64
	reported  float64
}

func newProgressTracker() *progressTracker {
	return &progressTracker{}
}

// beginStage marks a stage as the current one at zero progress.
func (t *progressTracker) beginStage(stage string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = stage
	t.stagePct = 0
}

// update records within-stage progress and returns the overall value.
func (t *progressTracker) update(stagePct float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if stagePct < 0 {
		stagePct = 0
	}
	if stagePct > 100 {
		stagePct = 100
	}
	if stagePct > t.stagePct {
		t.stagePct = stagePct
	}
	return t.overallLocked()
}

// completeStage folds the stage's full weight into the completed total.
func (t *progressTracker) completeStage(stage string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed += stageWeights[stage]
	t.current = ""
	t.stagePct = 0
	return t.overallLocked()
}

func (t *progressTracker) overall() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.overallLocked()
}

func (t *progressTracker) overallLocked() float64 {
	overall := t.completed
	if t.current != "" {
		overall += stageWeights[t.current] * t.stagePct / 100
	}
	if overall > 100 {
		overall = 100
	}
	if overall < t.reported {
		return t.reported
	}
	t.reported = overall
	return overall
}
