package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dossier-hq/dossier/pkg/events"
	"github.com/dossier-hq/dossier/pkg/models"
	"github.com/dossier-hq/dossier/pkg/orchestrator"
	"github.com/dossier-hq/dossier/pkg/queue"
	"github.com/dossier-hq/dossier/pkg/store"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type testEnv struct {
	store     store.Store
	bus       *events.Bus
	approvals *orchestrator.ApprovalRegistry
	router    *gin.Engine
}

type noopRunner struct{}

func (noopRunner) Run(context.Context, string) error { return nil }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	bus := events.NewBus(nil)
	approvals := orchestrator.NewApprovalRegistry()
	q := queue.New(st, noopRunner{}, queue.Config{})
	srv := NewServer(st, q, bus, approvals, 100)
	return &testEnv{store: st, bus: bus, approvals: approvals, router: srv.Router()}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) createSession(t *testing.T, status models.SessionStatus) string {
	t.Helper()
	session := &models.Session{
		ID:        uuid.NewString(),
		Query:     "solar growth",
		Depth:     models.DepthStandard,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, e.store.CreateSession(context.Background(), session))
	return session.ID
}

func TestCreateResearch(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/research", gin.H{
		"query": "impact of heat pumps on grid demand",
		"depth": "deep",
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var session models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, models.StatusPending, session.Status)
	assert.Equal(t, models.DepthDeep, session.Depth)
	assert.Equal(t, 100, session.MaxSources)

	stored, err := env.store.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, "impact of heat pumps on grid demand", stored.Query)
}

func TestCreateResearchExplicitZeroSources(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/research", gin.H{
		"query":       "anything",
		"max_sources": 0,
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var session models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	assert.Zero(t, session.MaxSources)
}

func TestCreateResearchValidation(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodPost, "/api/v1/research", gin.H{"query": "  "}).Code)
	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodPost, "/api/v1/research", gin.H{"query": "x", "depth": "exhaustive"}).Code)
	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodPost, "/api/v1/research", gin.H{"query": "x", "max_sources": -1}).Code)
}

func TestGetResearch(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t, models.StatusRunning)

	w := env.do(t, http.MethodGet, "/api/v1/research/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var session models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	assert.Equal(t, id, session.ID)

	assert.Equal(t, http.StatusNotFound,
		env.do(t, http.MethodGet, "/api/v1/research/"+uuid.NewString(), nil).Code)
}

func TestListResearchFiltersByStatus(t *testing.T) {
	env := newTestEnv(t)
	env.createSession(t, models.StatusCompleted)
	env.createSession(t, models.StatusPending)

	w := env.do(t, http.MethodGet, "/api/v1/research?status=completed", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Sessions []models.Session `json:"sessions"`
		Total    int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, models.StatusCompleted, resp.Sessions[0].Status)
}

func TestGetReport(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t, models.StatusCompleted)

	// Session exists but no report yet.
	assert.Equal(t, http.StatusConflict,
		env.do(t, http.MethodGet, "/api/v1/research/"+id+"/report", nil).Code)

	require.NoError(t, env.store.SaveReport(context.Background(), &models.Report{
		SessionID: id, Markdown: "# Research Report", Quality: 3.2,
	}))

	w := env.do(t, http.MethodGet, "/api/v1/research/"+id+"/report", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report models.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, "# Research Report", report.Markdown)

	assert.Equal(t, http.StatusNotFound,
		env.do(t, http.MethodGet, "/api/v1/research/"+uuid.NewString()+"/report", nil).Code)
}

func TestCancelResearch(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t, models.StatusPending)

	w := env.do(t, http.MethodPost, "/api/v1/research/"+id+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	session, err := env.store.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, session.Status)

	// Cancelling again is accepted and changes nothing.
	assert.Equal(t, http.StatusAccepted,
		env.do(t, http.MethodPost, "/api/v1/research/"+id+"/cancel", nil).Code)

	assert.Equal(t, http.StatusNotFound,
		env.do(t, http.MethodPost, "/api/v1/research/"+uuid.NewString()+"/cancel", nil).Code)
}

func TestResolveApproval(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t, models.StatusPaused)

	// No pending checkpoint yet.
	assert.Equal(t, http.StatusConflict,
		env.do(t, http.MethodPost, "/api/v1/research/"+id+"/approval", gin.H{"approved": true}).Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestStreamProgressUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/ws/research/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
