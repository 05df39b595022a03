package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/job"
	"github.com/nstogner/forge/pkg/live"
	"github.com/nstogner/forge/pkg/store/sqlite"
)

type fakeDispatcher struct {
	events []domain.BuildEvent
	err    error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, event domain.BuildEvent) error {
	if d.err != nil {
		return d.err
	}
	d.events = append(d.events, event)
	return nil
}

func newTestServer(t *testing.T) (*Server, *sqlite.Store, *fakeDispatcher) {
	t.Helper()
	s, err := sqlite.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	d := &fakeDispatcher{}
	srv := New(s, s, d, live.New(s, 5*time.Millisecond, time.Minute))
	return srv, s, d
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestCreateProjectStartsBuild(t *testing.T) {
	srv, s, d := newTestServer(t)
	handler := srv.Handler()

	w := postJSON(t, handler, "/api/projects", `{"prompt":"build me a todo app"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var project domain.Project
	if err := json.Unmarshal(w.Body.Bytes(), &project); err != nil {
		t.Fatalf("decoding project: %v", err)
	}
	if project.ID == "" || !strings.Contains(project.Name, "-") {
		t.Errorf("project = %+v, want id and slug name", project)
	}

	messages, err := s.ListMessages(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("messages = %d, want user + streaming assistant", len(messages))
	}
	if messages[0].Role != domain.RoleUser || messages[0].Status != domain.StatusCompleted {
		t.Errorf("first message = %+v", messages[0])
	}
	if messages[1].Role != domain.RoleAssistant || messages[1].Status != domain.StatusStreaming {
		t.Errorf("second message = %+v", messages[1])
	}

	if len(d.events) != 1 {
		t.Fatalf("dispatched events = %d, want 1", len(d.events))
	}
	if d.events[0].ProjectID != project.ID || d.events[0].MessageID != messages[1].ID || d.events[0].Text != "build me a todo app" {
		t.Errorf("event = %+v", d.events[0])
	}
}

func TestCreateProjectValidation(t *testing.T) {
	srv, _, d := newTestServer(t)
	handler := srv.Handler()

	if w := postJSON(t, handler, "/api/projects", `{"prompt":""}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty prompt status = %d", w.Code)
	}
	long := strings.Repeat("x", 1001)
	if w := postJSON(t, handler, "/api/projects", `{"prompt":"`+long+`"}`); w.Code != http.StatusBadRequest {
		t.Errorf("long prompt status = %d", w.Code)
	}
	if len(d.events) != 0 {
		t.Errorf("invalid requests dispatched %d events", len(d.events))
	}
}

func TestCreateProjectQueueFull(t *testing.T) {
	srv, _, d := newTestServer(t)
	d.err = job.ErrQueueFull

	w := postJSON(t, srv.Handler(), "/api/projects", `{"prompt":"anything"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestGetProjectNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/projects/nope", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestCreateMessageFollowUp(t *testing.T) {
	srv, _, d := newTestServer(t)
	handler := srv.Handler()

	w := postJSON(t, handler, "/api/projects", `{"prompt":"first build"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create project status = %d", w.Code)
	}
	var project domain.Project
	json.Unmarshal(w.Body.Bytes(), &project)

	w = postJSON(t, handler, "/api/projects/"+project.ID+"/messages", `{"prompt":"now add auth"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("follow-up status = %d, body = %s", w.Code, w.Body.String())
	}
	if len(d.events) != 2 {
		t.Fatalf("dispatched events = %d, want 2", len(d.events))
	}
	if d.events[1].Text != "now add auth" || d.events[1].ProjectID != project.ID {
		t.Errorf("follow-up event = %+v", d.events[1])
	}

	if w := postJSON(t, handler, "/api/projects/nope/messages", `{"prompt":"x"}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown project status = %d", w.Code)
	}
}

func TestStreamEmitsFramesUntilTerminal(t *testing.T) {
	srv, s, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	w := postJSON(t, srv.Handler(), "/api/projects", `{"prompt":"stream me"}`)
	var project domain.Project
	json.Unmarshal(w.Body.Bytes(), &project)
	messages, _ := s.ListMessages(context.Background(), project.ID)
	streamingID := messages[1].ID

	resp, err := http.Get(ts.URL + "/api/stream?projectId=" + project.ID)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	// Drive the build to a terminal state while the stream is open.
	go func() {
		ctx := context.Background()
		s.UpdateStreaming(ctx, streamingID, "working", domain.StatusStreaming)
		time.Sleep(20 * time.Millisecond)
		s.UpdateStreaming(ctx, streamingID, "nope", domain.StatusFailed)
	}()

	var frames []streamFrame
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame streamFrame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
			t.Fatalf("decoding frame %q: %v", line, err)
		}
		frames = append(frames, frame)
	}
	// The server closes the stream after the terminal frame, ending the
	// scan without error.
	if err := scanner.Err(); err != nil {
		t.Fatalf("reading stream: %v", err)
	}

	if len(frames) == 0 {
		t.Fatal("no frames received")
	}
	for _, f := range frames {
		if f.Type != "streaming" {
			t.Errorf("frame type = %q", f.Type)
		}
	}
	last := frames[len(frames)-1]
	if last.Data.Status != domain.StatusFailed {
		t.Errorf("last frame status = %s, want %s", last.Data.Status, domain.StatusFailed)
	}
}

func TestStreamRequiresProjectID(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestLiveWebSocket(t *testing.T) {
	srv, s, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	w := postJSON(t, srv.Handler(), "/api/projects", `{"prompt":"push me"}`)
	var project domain.Project
	json.Unmarshal(w.Body.Bytes(), &project)
	messages, _ := s.ListMessages(context.Background(), project.ID)
	streamingID := messages[1].ID

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/projects/" + project.ID + "/live"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	defer ws.Close()

	go func() {
		s.UpdateStreaming(context.Background(), streamingID, "done", domain.StatusCompleted)
	}()

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var sawTerminal bool
	for !sawTerminal {
		var frame streamFrame
		if err := ws.ReadJSON(&frame); err != nil {
			t.Fatalf("reading frame: %v", err)
		}
		if frame.Type != "streaming" {
			t.Errorf("frame type = %q", frame.Type)
		}
		sawTerminal = frame.Data.Terminal()
	}
}
