package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dossier-hq/dossier/pkg/models"
)

func TestStreamProgressDeliversEvents(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t, models.StatusRunning)

	ts := httptest.NewServer(env.router)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/research/" + id
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var snapshot struct {
		Type    string         `json:"type"`
		Session models.Session `json:"session"`
	}
	require.NoError(t, wsjson.Read(ctx, conn, &snapshot))
	assert.Equal(t, "snapshot", snapshot.Type)
	assert.Equal(t, id, snapshot.Session.ID)

	// Published events reach the client; other sessions' events do not.
	env.bus.Publish(ctx, models.ProgressEvent{
		SessionID: "someone-else", Agent: "clarifier", Status: models.ProgressWorking,
	})
	env.bus.Publish(ctx, models.ProgressEvent{
		SessionID: id, Agent: "clarifier", Status: models.ProgressWorking,
		Progress: 50, OverallProgress: 5, Message: "Analyzing research query...",
	})

	var update struct {
		Type  string               `json:"type"`
		Event models.ProgressEvent `json:"event"`
	}
	require.NoError(t, wsjson.Read(ctx, conn, &update))
	assert.Equal(t, "progress", update.Type)
	assert.Equal(t, id, update.Event.SessionID)
	assert.Equal(t, "clarifier", update.Event.Agent)
	assert.InDelta(t, 5, update.Event.OverallProgress, 0.001)

	// A terminal event ends the stream from the server side.
	env.bus.Publish(ctx, models.ProgressEvent{
		SessionID: id, Agent: "reporter", Status: models.ProgressCompleted,
		Progress: 100, OverallProgress: 100,
	})
	require.NoError(t, wsjson.Read(ctx, conn, &update))
	assert.Equal(t, models.ProgressCompleted, update.Event.Status)

	err = wsjson.Read(ctx, conn, &update)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestStreamProgressTerminalSessionClosesAfterSnapshot(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t, models.StatusCompleted)

	ts := httptest.NewServer(env.router)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/research/" + id
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var snapshot struct {
		Type    string         `json:"type"`
		Session models.Session `json:"session"`
	}
	require.NoError(t, wsjson.Read(ctx, conn, &snapshot))
	assert.Equal(t, models.StatusCompleted, snapshot.Session.Status)

	err = wsjson.Read(ctx, conn, &snapshot)
	require.Error(t, err)
}
