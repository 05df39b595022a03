// Package job executes build jobs: for each BuildEvent it walks the fixed
// pipeline — provision a sandbox, narrate a plan, run the agent loop, then
// persist either a completed fragment or a failure notice. Named pipeline
// steps are memoized so a re-delivered or re-entered job never repeats a
// committed side effect.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nstogner/forge/pkg/agent"
	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/model"
	"github.com/nstogner/forge/pkg/sandbox"
	"github.com/nstogner/forge/pkg/store"
)

// Fixed progress notices appended to the streaming message as the job
// advances. Clients render these verbatim.
const (
	noticeAnalyzing = "Analyzing your request and planning the implementation..."
	noticeSandbox   = "Setting up the build environment..."
	noticeCompleted = "Implementation completed successfully."
	noticeFailed    = "Something went wrong. Please try again."
)

// appPort is the sandbox port the generated application serves on; the
// fragment's preview URL points at it.
const appPort = 3000

// Config tunes a Runner. Zero values select the defaults.
type Config struct {
	// Model is the completion model used for both planning and the agent
	// loop.
	Model string
	// Template is the sandbox template (image) builds run in.
	Template string
	// MaxIterations caps the agent loop. 0 means agent.DefaultMaxIterations.
	MaxIterations int
	// PacingDelay spaces out planning-phase writes so the live channel
	// observes incremental growth.
	PacingDelay time.Duration
	// CompletionPause is how long the completion notice stays visible
	// before the final atomic update replaces the message content.
	CompletionPause time.Duration
}

// Runner consumes BuildEvents and drives each one through the build
// pipeline. One Runner serves the whole process; jobs for distinct
// messages run concurrently, and each job is the sole writer of its
// streaming message.
type Runner struct {
	messages  store.MessageStore
	steps     store.StepStore
	sandboxes sandbox.Client
	provider  model.Provider
	cfg       Config
}

// NewRunner wires a Runner to its collaborators.
func NewRunner(messages store.MessageStore, steps store.StepStore, sandboxes sandbox.Client, provider model.Provider, cfg Config) *Runner {
	if cfg.PacingDelay == 0 {
		cfg.PacingDelay = 50 * time.Millisecond
	}
	if cfg.CompletionPause == 0 {
		cfg.CompletionPause = time.Second
	}
	return &Runner{
		messages:  messages,
		steps:     steps,
		sandboxes: sandboxes,
		provider:  provider,
		cfg:       cfg,
	}
}

// Run consumes events until the channel closes or ctx is cancelled. Each
// event is handled in its own goroutine; Run returns only after all
// in-flight jobs finish.
func (r *Runner) Run(ctx context.Context, events <-chan domain.BuildEvent) {
	var inflight sync.WaitGroup
	defer inflight.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				if err := r.Execute(ctx, event); err != nil {
					slog.Error("Build job failed", "messageID", event.MessageID, "err", err)
				}
			}()
		}
	}
}

// Execute runs one build job to a terminal message state. It returns an
// error only when the pipeline itself breaks (storage or step substrate
// failures); build failures are persisted as FAILED messages and return
// nil.
func (r *Runner) Execute(ctx context.Context, event domain.BuildEvent) error {
	log := slog.With("projectID", event.ProjectID, "messageID", event.MessageID)

	// Duplicate-delivery guard: a message already past STREAMING means a
	// previous delivery finished this job. Exit without side effects.
	msg, err := r.messages.GetMessage(ctx, event.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		log.Info("Streaming message gone, skipping delivery")
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading streaming message: %w", err)
	}
	if msg.Terminal() {
		log.Info("Build already finished, skipping duplicate delivery", "status", msg.Status)
		return nil
	}

	if err := r.messages.UpdateStreaming(ctx, event.MessageID, noticeAnalyzing, domain.StatusStreaming); err != nil {
		return fmt.Errorf("writing initial notice: %w", err)
	}

	steps := NewSteps(r.steps, event.MessageID)

	sandboxID, err := steps.Do(ctx, "get-sandbox-id", func(ctx context.Context) (string, error) {
		content := noticeAnalyzing + "\n\n" + noticeSandbox
		if err := r.messages.UpdateStreaming(ctx, event.MessageID, content, domain.StatusStreaming); err != nil {
			return "", err
		}
		sb, err := r.sandboxes.Create(ctx, r.cfg.Template)
		if err != nil {
			return "", err
		}
		return sb.ID(), nil
	})
	if err != nil {
		return r.fail(ctx, log, event.MessageID, "", fmt.Errorf("provisioning sandbox: %w", err))
	}
	log.Info("Sandbox ready", "sandboxID", sandboxID)

	if _, err := steps.Do(ctx, "stream-planning", func(ctx context.Context) (string, error) {
		return r.streamPlanning(ctx, event), nil
	}); err != nil {
		return r.fail(ctx, log, event.MessageID, sandboxID, fmt.Errorf("planning: %w", err))
	}

	// The agent phase reconnects rather than holding the handle across the
	// step boundary, so a re-entered job picks up the same sandbox.
	sb, err := r.sandboxes.Connect(ctx, sandboxID)
	if err != nil {
		return r.fail(ctx, log, event.MessageID, sandboxID, fmt.Errorf("connecting to sandbox %s: %w", sandboxID, err))
	}

	state := agent.NewState(event.ProjectID)
	a := agent.New(r.provider, sb, agent.Options{
		ModelName:     r.cfg.Model,
		Instructions:  instructions,
		MaxIterations: r.cfg.MaxIterations,
		OnTurn:        r.appendTurn(event.MessageID),
	})
	if err := a.Run(ctx, state, event.Text); err != nil {
		return r.fail(ctx, log, event.MessageID, sandboxID, fmt.Errorf("agent loop: %w", err))
	}

	// No summary means the loop hit its cap; no files means the agent
	// never wrote anything. Either way there is no artifact to persist.
	if state.Summary == "" || len(state.Files) == 0 {
		log.Warn("Build produced no artifact", "haveSummary", state.Summary != "", "fileCount", len(state.Files))
		return r.fail(ctx, log, event.MessageID, sandboxID, nil)
	}

	sandboxURL, err := steps.Do(ctx, "get-sandbox-url", func(ctx context.Context) (string, error) {
		return sb.HostURL(ctx, appPort)
	})
	if err != nil {
		return r.fail(ctx, log, event.MessageID, sandboxID, fmt.Errorf("resolving sandbox URL: %w", err))
	}

	if _, err := steps.Do(ctx, "save-result", func(ctx context.Context) (string, error) {
		return "", r.saveResult(ctx, event.MessageID, state, sandboxURL)
	}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// A concurrent delivery won the terminal write.
			log.Info("Message already terminal, result dropped")
			return nil
		}
		return fmt.Errorf("persisting result: %w", err)
	}
	log.Info("Build completed", "fileCount", len(state.Files), "sandboxURL", sandboxURL)
	return nil
}

// streamPlanning narrates the agent's plan into the streaming message,
// pacing writes so polling clients see the text grow. This phase is
// cosmetic: any provider failure falls back to a fixed narration and the
// job continues.
func (r *Runner) streamPlanning(ctx context.Context, event domain.BuildEvent) string {
	base := noticeAnalyzing + "\n\n" + noticeSandbox + "\n\n"

	var plan strings.Builder
	for chunk, err := range r.provider.StreamText(ctx, r.cfg.Model, planningPrompt(event.Text)) {
		if err != nil {
			slog.Warn("Planning stream failed, using fallback narration", "messageID", event.MessageID, "err", err)
			fallback := base + "I understand your request. I'll set up the project structure and then implement each part step by step."
			r.updateContent(ctx, event.MessageID, fallback)
			return fallback
		}
		plan.WriteString(chunk)
		r.updateContent(ctx, event.MessageID, base+plan.String())
		r.pace(ctx)
	}
	return base + plan.String()
}

// appendTurn returns the agent turn hook: each non-terminal turn's text is
// appended to the streaming message so the client can follow along. The
// terminal summary is not appended here; save-result replaces the whole
// content with it.
func (r *Runner) appendTurn(messageID string) agent.TurnFunc {
	return func(ctx context.Context, turn agent.Turn) {
		if turn.Kind == agent.TurnCompleted || turn.Text == "" {
			return
		}
		current, err := r.messages.GetMessage(ctx, messageID)
		if err != nil {
			slog.Warn("Reading streaming message for turn append", "messageID", messageID, "err", err)
			return
		}
		r.updateContent(ctx, messageID, current.Content+"\n\n"+turn.Text)
	}
}

// saveResult performs the terminal success sequence: visible completion
// notice, a short pause, then the atomic flip to COMPLETED with the
// fragment attached.
func (r *Runner) saveResult(ctx context.Context, messageID string, state *agent.State, sandboxURL string) error {
	current, err := r.messages.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if err := r.messages.UpdateStreaming(ctx, messageID, current.Content+"\n\n"+noticeCompleted, domain.StatusStreaming); err != nil {
		return err
	}
	select {
	case <-time.After(r.cfg.CompletionPause):
	case <-ctx.Done():
	}

	frag := &domain.Fragment{
		ID:         uuid.NewString(),
		MessageID:  messageID,
		Title:      "fragment",
		Summary:    state.Summary,
		Files:      state.Files,
		SandboxURL: sandboxURL,
	}
	return r.messages.CompleteMessage(ctx, messageID, state.Summary, frag)
}

// fail persists the terminal failure notice and tears the sandbox down.
// cause is logged, not shown to the user; a nil cause means the agent
// finished without producing an artifact.
func (r *Runner) fail(ctx context.Context, log *slog.Logger, messageID, sandboxID string, cause error) error {
	if cause != nil {
		log.Error("Build failed", "err", cause)
	}
	if sandboxID != "" {
		if sb, err := r.sandboxes.Connect(ctx, sandboxID); err == nil {
			if err := sb.Remove(ctx); err != nil {
				log.Warn("Removing sandbox after failure", "sandboxID", sandboxID, "err", err)
			}
		}
	}
	if err := r.messages.UpdateStreaming(ctx, messageID, noticeFailed, domain.StatusFailed); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Already terminal; a concurrent delivery beat us to it.
			return nil
		}
		return fmt.Errorf("writing failure notice: %w", err)
	}
	return nil
}

// updateContent writes a non-terminal content update, logging rather than
// propagating errors: progress text is cosmetic and must not fail the job.
func (r *Runner) updateContent(ctx context.Context, messageID, content string) {
	if err := r.messages.UpdateStreaming(ctx, messageID, content, domain.StatusStreaming); err != nil {
		slog.Warn("Updating streaming message", "messageID", messageID, "err", err)
	}
}

func (r *Runner) pace(ctx context.Context) {
	select {
	case <-time.After(r.cfg.PacingDelay):
	case <-ctx.Done():
	}
}
