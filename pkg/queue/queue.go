// Package queue runs pending research sessions on a small worker pool.
// Workers claim sessions from the store one at a time, so multiple
// replicas can share a database without double-processing.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/dossier-hq/dossier/pkg/models"
	"github.com/dossier-hq/dossier/pkg/store"
)

const (
	defaultWorkers         = 2
	defaultPollInterval    = 2 * time.Second
	defaultMaxConcurrent   = 4
	defaultShutdownTimeout = 30 * time.Second
)

// Runner executes one claimed session to a terminal state.
type Runner interface {
	Run(ctx context.Context, sessionID string) error
}

// Config tunes the worker pool.
type Config struct {
	Workers         int
	PollInterval    time.Duration
	MaxConcurrent   int
	ShutdownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return c
}

// Queue polls for pending sessions and hands them to the runner.
type Queue struct {
	store  store.Store
	runner Runner
	cfg    Config

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	wg       sync.WaitGroup
	sem      chan struct{}
	stopBase context.CancelFunc
}

func New(st store.Store, runner Runner, cfg Config) *Queue {
	cfg = cfg.withDefaults()
	return &Queue{
		store:   st,
		runner:  runner,
		cfg:     cfg,
		cancels: make(map[string]context.CancelFunc),
		sem:     make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Start launches the worker pool. It returns immediately; use Stop for
// a graceful shutdown.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.stopBase = context.WithCancel(ctx)
	slog.Info("Starting session queue", "workers", q.cfg.Workers,
		"poll_interval", q.cfg.PollInterval, "max_concurrent", q.cfg.MaxConcurrent)

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}

		session, err := q.store.ClaimNextSession(ctx)
		if err != nil {
			if !errors.Is(err, store.ErrNoSessionsAvailable) && ctx.Err() == nil {
				slog.Error("Failed to claim session", "worker", id, "error", err)
			}
			if !sleepCtx(ctx, jitter(q.cfg.PollInterval)) {
				return
			}
			continue
		}

		select {
		case q.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		q.process(ctx, session)
		<-q.sem
	}
}

func (q *Queue) process(ctx context.Context, session *models.Session) {
	runCtx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.cancels[session.ID] = cancel
	q.mu.Unlock()
	defer func() {
		cancel()
		q.mu.Lock()
		delete(q.cancels, session.ID)
		q.mu.Unlock()
	}()

	slog.Info("Processing session", "session_id", session.ID, "query", session.Query)
	if err := q.runner.Run(runCtx, session.ID); err != nil {
		slog.Error("Session run finished with error", "session_id", session.ID, "error", err)
	}
}

// Cancel stops a session wherever it is: a pending session is marked
// cancelled directly, a running one has its context cancelled, and a
// terminal one is left alone. Safe to call repeatedly.
func (q *Queue) Cancel(ctx context.Context, sessionID string) error {
	q.mu.Lock()
	cancel, running := q.cancels[sessionID]
	q.mu.Unlock()
	if running {
		cancel()
		return nil
	}

	session, err := q.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status.IsTerminal() {
		return nil
	}
	if session.Status == models.StatusPending {
		return q.store.UpdateSessionStatus(ctx, sessionID, models.StatusCancelled, "")
	}
	// Running in another replica: this replica cannot reach its context.
	slog.Warn("Cancel requested for session running elsewhere", "session_id", sessionID)
	return q.store.UpdateSessionStatus(ctx, sessionID, models.StatusCancelled, "")
}

// Stop cancels all in-flight work and waits for the workers to drain,
// up to the shutdown timeout.
func (q *Queue) Stop() {
	if q.stopBase != nil {
		q.stopBase()
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Session queue stopped")
	case <-time.After(q.cfg.ShutdownTimeout):
		slog.Warn("Session queue shutdown timed out", "timeout", q.cfg.ShutdownTimeout)
	}
}

// jitter spreads polls out so replicas do not hammer the store in step.
func jitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
