package handler

import (
	"net/http"

	"github.com/STageSub/orchestra-system-sub002/internal/notify"
)

// ProgressReader is the slice of the notification batcher the progress
// endpoint needs.
type ProgressReader interface {
	Progress(sessionID string) (notify.Progress, bool)
}

// ProgressHandler serves GET /send-progress?sessionId=... for observers
// polling a notification session.
type ProgressHandler struct {
	batcher ProgressReader
}

// NewProgressHandler creates the progress polling handler.
func NewProgressHandler(batcher ProgressReader) *ProgressHandler {
	return &ProgressHandler{batcher: batcher}
}

// Get reports a session's progress snapshot.
func (h *ProgressHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorReply{Error: "missing sessionId"})
		return
	}
	progress, ok := h.batcher.Progress(sessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorReply{Error: "unknown session"})
		return
	}
	writeJSON(w, http.StatusOK, progress)
}
