package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/job"
	"github.com/nstogner/forge/pkg/store"
)

// maxPromptLen bounds the build prompt accepted from clients.
const maxPromptLen = 1000

// buildErrorStatus maps a startBuild failure to an HTTP status: a full
// queue is backpressure, everything else is a server fault.
func buildErrorStatus(err error) int {
	if errors.Is(err, job.ErrQueueFull) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

func (p *promptRequest) validate() error {
	if p.Prompt == "" {
		return errors.New("prompt is required")
	}
	if len(p.Prompt) > maxPromptLen {
		return fmt.Errorf("prompt must be less than %d characters", maxPromptLen)
	}
	return nil
}

// --- Projects ---

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.projects.ListProjects(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, projects)
}

// handleCreateProject creates a project from a prompt and kicks off its
// first build: USER message, empty STREAMING assistant message, then the
// build event.
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if err := req.validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}

	project := &domain.Project{
		ID:   uuid.New().String(),
		Name: generateSlug(),
	}
	if err := s.projects.CreateProject(r.Context(), project); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}

	if err := s.startBuild(r, project.ID, req.Prompt); err != nil {
		s.errorResponse(w, buildErrorStatus(err), err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, project)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	project, err := s.projects.GetProject(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, errors.New("project not found"))
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, project)
}

// --- Messages ---

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	messages, err := s.messages.ListMessages(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, messages)
}

// handleCreateMessage submits a follow-up prompt to an existing project,
// triggering a fresh build.
func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.projects.GetProject(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, errors.New("project not found"))
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}

	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if err := req.validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}

	if err := s.startBuild(r, id, req.Prompt); err != nil {
		s.errorResponse(w, buildErrorStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// startBuild records the USER message, opens the STREAMING assistant
// message, and enqueues the build. The request returns as soon as the
// event is queued; the job runs in the background.
func (s *Server) startBuild(r *http.Request, projectID, prompt string) error {
	ctx := r.Context()

	user := &domain.Message{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Role:      domain.RoleUser,
		Type:      domain.TypeResult,
		Content:   prompt,
		Status:    domain.StatusCompleted,
	}
	if err := s.messages.CreateMessage(ctx, user); err != nil {
		return fmt.Errorf("creating user message: %w", err)
	}

	streaming := &domain.Message{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Role:      domain.RoleAssistant,
		Type:      domain.TypeResult,
		Status:    domain.StatusStreaming,
	}
	if err := s.messages.CreateMessage(ctx, streaming); err != nil {
		return fmt.Errorf("creating streaming message: %w", err)
	}

	return s.dispatcher.Dispatch(ctx, domain.BuildEvent{
		Text:      prompt,
		ProjectID: projectID,
		MessageID: streaming.ID,
	})
}
