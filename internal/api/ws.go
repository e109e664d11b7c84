package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/tutormesh/internal/identity"
)

const wsWriteTimeout = 5 * time.Second

// HandleOutputsWS pushes the student's output entries over a websocket as
// they are appended. since resumes after a known ordinal.
func (h *BridgeHandler) HandleOutputsWS(w http.ResponseWriter, r *http.Request) {
	studentID := identity.Resolve(r.Context(), firstNonEmpty(r.URL.Query().Get("student_id"), r.URL.Query().Get("studentId")))
	if studentID == "" {
		Error(w, http.StatusBadRequest, "A valid student id is required.")
		return
	}
	since, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		Error(w, http.StatusBadRequest, "since must be a non-negative integer.")
		return
	}
	if !h.checkOrigin(r) {
		Error(w, http.StatusForbidden, "origin not allowed")
		return
	}

	logger := h.logger.With("student_id", studentID, "ip", identity.IPFromRequest(r))
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("failed to accept websocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			logger.Debug("failed to close websocket", "error", closeErr)
		}
	}()
	logger.Info("output stream opened", "since", since)

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := ws.CloseRead(r.Context())
	if err := h.pushOutputs(ctx, ws, studentID, since); err != nil &&
		!errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == -1 {
		logger.Warn("output stream failed", "error", err)
	}
	logger.Info("output stream closed")
}

func (h *BridgeHandler) pushOutputs(ctx context.Context, ws *websocket.Conn, studentID string, since int64) error {
	keepalive := time.NewTicker(30 * h.pollInterval())
	defer keepalive.Stop()

	last := since
	for {
		changed := h.buffer.Changed()
		for _, e := range h.buffer.Since(studentID, last) {
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, ws, e)
			cancel()
			if err != nil {
				return err
			}
			last = e.Ordinal
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		case <-keepalive.C:
			pingCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (h *BridgeHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	h.logger.Warn("websocket origin rejected", "origin", origin)
	return false
}
