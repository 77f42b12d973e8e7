package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/dossier-hq/dossier/pkg/models"
	"github.com/dossier-hq/dossier/pkg/store"
)

const wsWriteTimeout = 10 * time.Second

// StreamProgress upgrades the connection and streams the session's
// progress events until the session reaches a terminal state or the
// client disconnects.
func (s *Server) StreamProgress(c *gin.Context) {
	sessionID := c.Param("id")

	session, err := s.store.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// TODO: replace with an OriginPatterns allowlist once the
		// dashboard origin is pinned down.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Error("WebSocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := c.Request.Context()

	// Subscribe before the snapshot so no event can fall in between.
	sub := s.bus.Subscribe(sessionID)
	defer s.bus.Unsubscribe(sub)

	if err := writeJSON(ctx, conn, gin.H{"type": "snapshot", "session": session}); err != nil {
		return
	}
	if session.Status.IsTerminal() {
		return
	}

	// Drain reads so close frames and pings are processed.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeJSON(ctx, conn, gin.H{"type": "progress", "event": ev}); err != nil {
				return
			}
			if isTerminalEvent(ev) {
				conn.Close(websocket.StatusNormalClosure, "session finished")
				return
			}
		case <-readDone:
			return
		case <-ctx.Done():
			return
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, v)
}

// isTerminalEvent reports whether the event ends the stream: a pipeline
// failure, a cancellation, or the reporter finishing.
func isTerminalEvent(ev models.ProgressEvent) bool {
	switch ev.Status {
	case models.ProgressFailed, models.ProgressCancelled:
		return true
	case models.ProgressCompleted:
		return ev.OverallProgress >= 100
	}
	return false
}
