package live

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/store/sqlite"
)

func seedStreaming(t *testing.T, s *sqlite.Store) (projectID, messageID string) {
	t.Helper()
	ctx := context.Background()
	p := &domain.Project{ID: uuid.NewString(), Name: "calm-heron"}
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	m := &domain.Message{
		ID: uuid.NewString(), ProjectID: p.ID,
		Role: domain.RoleAssistant, Type: domain.TypeResult,
		Content: "working...", Status: domain.StatusStreaming,
	}
	if err := s.CreateMessage(ctx, m); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	return p.ID, m.ID
}

func TestRunEmitsUpdatesAndStopsAtTerminal(t *testing.T) {
	ctx := context.Background()
	s, err := sqlite.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	defer s.Close()
	projectID, messageID := seedStreaming(t, s)

	p := New(s, 5*time.Millisecond, time.Minute)

	var emitted []domain.Message
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx, projectID, func(msg domain.Message) error {
			emitted = append(emitted, msg)
			return nil
		})
	}()

	// Let the poller observe the streaming row, then write updates ending
	// in a terminal status.
	time.Sleep(20 * time.Millisecond)
	if err := s.UpdateStreaming(ctx, messageID, "working... more", domain.StatusStreaming); err != nil {
		t.Fatalf("UpdateStreaming: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := s.UpdateStreaming(ctx, messageID, "failed", domain.StatusFailed); err != nil {
		t.Fatalf("UpdateStreaming terminal: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after terminal emission")
	}

	if len(emitted) == 0 {
		t.Fatal("nothing emitted")
	}
	last := emitted[len(emitted)-1]
	if last.Status != domain.StatusFailed {
		t.Errorf("last emission status = %s, want %s", last.Status, domain.StatusFailed)
	}
	terminal := 0
	for _, m := range emitted {
		if m.Terminal() {
			terminal++
		}
	}
	if terminal != 1 {
		t.Errorf("terminal emissions = %d, want exactly 1", terminal)
	}
}

func TestRunStopsWhenEmitFails(t *testing.T) {
	ctx := context.Background()
	s, err := sqlite.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	defer s.Close()
	projectID, _ := seedStreaming(t, s)

	p := New(s, 5*time.Millisecond, time.Minute)
	clientGone := fmt.Errorf("client gone")
	err = p.Run(ctx, projectID, func(domain.Message) error { return clientGone })
	if !errors.Is(err, clientGone) {
		t.Fatalf("Run err = %v, want emit error", err)
	}
}

func TestRunHonorsContext(t *testing.T) {
	s, err := sqlite.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(s, 5*time.Millisecond, time.Minute).Run(ctx, "no-such-project", func(domain.Message) error { return nil })
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
