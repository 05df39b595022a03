package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nstogner/forge/pkg/domain"
)

// streamFrame is the envelope for every live-update emission, on both the
// SSE and WebSocket surfaces.
type streamFrame struct {
	Type string         `json:"type"`
	Data domain.Message `json:"data"`
}

// handleStream serves live updates for one project as server-sent events.
// The stream ends after the first terminal message is forwarded.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		http.Error(w, "Missing projectId", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	slog.Info("Live stream opened", "projectID", projectID)
	err := s.poller.Run(r.Context(), projectID, func(msg domain.Message) error {
		payload, err := json.Marshal(streamFrame{Type: "streaming", Data: msg})
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Live stream failed", "projectID", projectID, "error", err)
		return
	}
	slog.Info("Live stream closed", "projectID", projectID)
}
