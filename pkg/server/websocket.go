package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleLiveWebSocket is the WebSocket variant of the live-update channel:
// the same poller-driven frames as /api/stream, pushed over a socket. The
// connection closes after the terminal frame.
func (s *Server) handleLiveWebSocket(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if projectID == "" {
		http.Error(w, "Missing project ID", http.StatusBadRequest)
		return
	}

	if _, err := s.projects.GetProject(r.Context(), projectID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Project not found", http.StatusNotFound)
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader loop: the client sends nothing meaningful, but reads are how
	// we learn the peer went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = s.poller.Run(ctx, projectID, func(msg domain.Message) error {
		return ws.WriteJSON(streamFrame{Type: "streaming", Data: msg})
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Live websocket failed", "projectID", projectID, "error", err)
		return
	}
	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
