// Package server exposes the HTTP API: project and message CRUD plus the
// two live-update surfaces (SSE and WebSocket) backed by live.Poller.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/live"
	"github.com/nstogner/forge/pkg/store"
)

// Dispatcher enqueues build jobs for the background runner.
type Dispatcher interface {
	Dispatch(ctx context.Context, event domain.BuildEvent) error
}

// Server serves the REST API for the build system.
type Server struct {
	projects   store.ProjectStore
	messages   store.MessageStore
	dispatcher Dispatcher
	poller     *live.Poller
	srv        *http.Server
}

// New creates a new Server.
func New(projects store.ProjectStore, messages store.MessageStore, dispatcher Dispatcher, poller *live.Poller) *Server {
	return &Server{
		projects:   projects,
		messages:   messages,
		dispatcher: dispatcher,
		poller:     poller,
	}
}

// Handler builds the routed handler. Split from Start so tests can drive
// it through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Project routes
	mux.HandleFunc("GET /api/projects", s.handleListProjects)
	mux.HandleFunc("POST /api/projects", s.handleCreateProject)
	mux.HandleFunc("GET /api/projects/{id}", s.handleGetProject)

	// Messages
	mux.HandleFunc("GET /api/projects/{id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/projects/{id}/messages", s.handleCreateMessage)

	// Live updates
	mux.HandleFunc("GET /api/stream", s.handleStream)
	mux.HandleFunc("/api/projects/{id}/live", s.handleLiveWebSocket)

	return s.corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	slog.Info("Starting web server", "addr", addr)
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, err error) {
	slog.Error("API Error", "error", err)
	s.jsonResponse(w, status, map[string]string{"error": err.Error()})
}
