package orchestrator

import (
	"fmt"
	"sync"
)

// Decision is a collaborator's verdict on a supervised checkpoint.
type Decision struct {
	Approved bool
	Comment  string
}

// ErrNoPendingApproval is returned when a decision arrives for a
// session that is not waiting at a checkpoint.
var ErrNoPendingApproval = fmt.Errorf("no pending approval for session")

// ApprovalRegistry connects checkpoint waits inside the pipeline with
// decisions arriving over the API.
type ApprovalRegistry struct {
	mu      sync.Mutex
	pending map[string]chan Decision
}

func NewApprovalRegistry() *ApprovalRegistry {
	return &ApprovalRegistry{pending: make(map[string]chan Decision)}
}

// await registers a checkpoint wait and returns its decision channel.
// A second checkpoint for the same session replaces the first.
func (r *ApprovalRegistry) await(sessionID string) chan Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan Decision, 1)
	r.pending[sessionID] = ch
	return ch
}

// clear removes the checkpoint wait once it has been resolved or timed
// out.
func (r *ApprovalRegistry) clear(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, sessionID)
}

// Resolve delivers a collaborator decision to a waiting checkpoint.
func (r *ApprovalRegistry) Resolve(sessionID string, decision Decision) error {
	r.mu.Lock()
	ch, ok := r.pending[sessionID]
	if ok {
		delete(r.pending, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPendingApproval, sessionID)
	}
	ch <- decision
	return nil
}

// Pending reports whether the session is waiting at a checkpoint.
func (r *ApprovalRegistry) Pending(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[sessionID]
	return ok
}
