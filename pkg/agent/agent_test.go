package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"testing"

	"github.com/nstogner/forge/pkg/model"
	"github.com/nstogner/forge/pkg/sandbox"
)

// fakeProvider replays a scripted sequence of responses.
type fakeProvider struct {
	responses []model.Response
	calls     int
	requests  []model.Request
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	p.requests = append(p.requests, req)
	if p.calls >= len(p.responses) {
		// Script exhausted: keep producing non-terminal chatter.
		p.calls++
		return &model.Response{Text: "still working"}, nil
	}
	resp := p.responses[p.calls]
	p.calls++
	return &resp, nil
}

func (p *fakeProvider) StreamText(ctx context.Context, modelName, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield("fake stream", nil)
	}
}

// fakeSandbox is an in-memory sandbox.
type fakeSandbox struct {
	files    map[string]string
	commands []string
	cmdErr   error
	readErr  error
}

func newFakeSandbox() *fakeSandbox {
	return &fakeSandbox{files: make(map[string]string)}
}

func (s *fakeSandbox) ID() string { return "fake-sandbox" }

func (s *fakeSandbox) RunCommand(ctx context.Context, command string, onStdout, onStderr sandbox.OutputFunc) (*sandbox.CommandResult, error) {
	s.commands = append(s.commands, command)
	if s.cmdErr != nil {
		return nil, s.cmdErr
	}
	out := "ran: " + command
	if onStdout != nil {
		onStdout(out)
	}
	return &sandbox.CommandResult{Stdout: out}, nil
}

func (s *fakeSandbox) WriteFile(ctx context.Context, path, content string) error {
	s.files[path] = content
	return nil
}

func (s *fakeSandbox) ReadFile(ctx context.Context, path string) (string, error) {
	if s.readErr != nil {
		return "", s.readErr
	}
	content, ok := s.files[path]
	if !ok {
		return "", fmt.Errorf("no such file: %s", path)
	}
	return content, nil
}

func (s *fakeSandbox) HostURL(ctx context.Context, port int) (string, error) {
	return fmt.Sprintf("http://127.0.0.1:%d", port), nil
}

func (s *fakeSandbox) Remove(ctx context.Context) error { return nil }

func toolCallMsg(id, name string, input map[string]any) model.Response {
	return model.Response{
		Text:      "working on it",
		ToolCalls: []model.ToolCall{{ID: id, Name: name, Input: input}},
	}
}

func filesInput(files ...[2]string) map[string]any {
	var entries []any
	for _, f := range files {
		entries = append(entries, map[string]any{"path": f[0], "content": f[1]})
	}
	return map[string]any{"files": entries}
}

func TestRunCompletesOnSummary(t *testing.T) {
	provider := &fakeProvider{responses: []model.Response{
		toolCallMsg("c1", "createOrUpdateFiles", filesInput([2]string{"app/page.tsx", "v1"})),
		{Text: "<task_summary>Built the page.</task_summary>"},
	}}
	sb := newFakeSandbox()
	state := NewState("proj-1")

	var turns []Turn
	a := New(provider, sb, Options{
		ModelName: "test-model",
		OnTurn:    func(ctx context.Context, turn Turn) { turns = append(turns, turn) },
	})
	if err := a.Run(context.Background(), state, "build a page"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if state.Summary != "Built the page." {
		t.Errorf("Summary = %q", state.Summary)
	}
	if provider.calls != 2 {
		t.Errorf("provider calls = %d, want 2 (loop stops on summary)", provider.calls)
	}
	if len(turns) != 2 {
		t.Fatalf("turns observed = %d, want 2", len(turns))
	}
	if turns[0].Kind != TurnContinuing || turns[1].Kind != TurnCompleted {
		t.Errorf("turn kinds = %v, %v", turns[0].Kind, turns[1].Kind)
	}
	if sb.files["app/page.tsx"] != "v1" {
		t.Errorf("sandbox file = %q, want v1", sb.files["app/page.tsx"])
	}
}

func TestRunFileMergeLastWriteWins(t *testing.T) {
	provider := &fakeProvider{responses: []model.Response{
		toolCallMsg("c1", "createOrUpdateFiles", filesInput(
			[2]string{"app/page.tsx", "v1"},
			[2]string{"app/layout.tsx", "layout"},
		)),
		toolCallMsg("c2", "createOrUpdateFiles", filesInput([2]string{"app/page.tsx", "v2"})),
		{Text: "<task_summary>done</task_summary>"},
	}}
	sb := newFakeSandbox()
	state := NewState("proj-1")

	a := New(provider, sb, Options{ModelName: "test-model"})
	if err := a.Run(context.Background(), state, "build"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(state.Files) != 2 {
		t.Fatalf("Files len = %d, want 2: %v", len(state.Files), state.Files)
	}
	if state.Files["app/page.tsx"] != "v2" {
		t.Errorf("page.tsx = %q, want v2 (later write wins)", state.Files["app/page.tsx"])
	}
	if state.Files["app/layout.tsx"] != "layout" {
		t.Errorf("layout.tsx = %q", state.Files["app/layout.tsx"])
	}
}

func TestRunStopsAtIterationCap(t *testing.T) {
	provider := &fakeProvider{} // never produces a summary
	sb := newFakeSandbox()
	state := NewState("proj-1")

	a := New(provider, sb, Options{ModelName: "test-model", MaxIterations: 4})
	if err := a.Run(context.Background(), state, "build"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if state.Summary != "" {
		t.Errorf("Summary = %q, want empty at cap", state.Summary)
	}
	if provider.calls != 4 {
		t.Errorf("provider calls = %d, want 4", provider.calls)
	}
}

func TestToolErrorsBecomeResults(t *testing.T) {
	provider := &fakeProvider{responses: []model.Response{
		toolCallMsg("c1", "terminal", map[string]any{"command": "npm run build"}),
		{Text: "<task_summary>done</task_summary>"},
	}}
	sb := newFakeSandbox()
	sb.cmdErr = errors.New("connection reset")
	state := NewState("proj-1")

	a := New(provider, sb, Options{ModelName: "test-model"})
	if err := a.Run(context.Background(), state, "build"); err != nil {
		t.Fatalf("Run: %v (tool failures must not abort the loop)", err)
	}

	// The failure text must have been fed back as a tool result.
	second := provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != model.RoleTool {
		t.Fatalf("last message role = %q, want tool", last.Role)
	}
	tr := last.Content[0].ToolResult
	if tr == nil || !tr.IsError {
		t.Fatalf("tool result = %+v, want error result", tr)
	}
	if !strings.Contains(tr.Content, "connection reset") {
		t.Errorf("result content = %q, want the failure text", tr.Content)
	}
}

func TestReadFilesRoundTrip(t *testing.T) {
	provider := &fakeProvider{responses: []model.Response{
		toolCallMsg("c1", "readFiles", map[string]any{"files": []any{"app/page.tsx"}}),
		{Text: "<task_summary>done</task_summary>"},
	}}
	sb := newFakeSandbox()
	sb.files["app/page.tsx"] = "contents here"
	state := NewState("proj-1")

	a := New(provider, sb, Options{ModelName: "test-model"})
	if err := a.Run(context.Background(), state, "read"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	second := provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	tr := last.Content[0].ToolResult
	if tr == nil || tr.IsError {
		t.Fatalf("tool result = %+v, want success", tr)
	}
	if !strings.Contains(tr.Content, "contents here") {
		t.Errorf("result = %q, want file contents", tr.Content)
	}
	// readFiles must not touch accumulated state.
	if len(state.Files) != 0 {
		t.Errorf("state.Files = %v, want empty", state.Files)
	}
}
