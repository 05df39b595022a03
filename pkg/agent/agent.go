// Package agent implements the iterative reasoning and tool-execution loop
// that drives one build job: call the model with the build tools, execute
// whatever tools it asks for against the sandbox, and repeat until the
// agent declares the task complete or the iteration budget runs out.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nstogner/forge/pkg/model"
	"github.com/nstogner/forge/pkg/sandbox"
)

// DefaultMaxIterations bounds the loop when no explicit cap is configured.
const DefaultMaxIterations = 15

// TurnFunc observes each parsed agent turn. The build job uses it to append
// intermediate turn text to the streaming message.
type TurnFunc func(ctx context.Context, turn Turn)

// Agent runs the tool loop for a single build job against one sandbox.
type Agent struct {
	provider      model.Provider
	sandbox       sandbox.Sandbox
	modelName     string
	instructions  string
	maxIterations int
	onTurn        TurnFunc
}

// Options configures an Agent.
type Options struct {
	// ModelName selects the completion model.
	ModelName string
	// Instructions is the system prompt.
	Instructions string
	// MaxIterations caps the loop; 0 means DefaultMaxIterations.
	MaxIterations int
	// OnTurn, if set, observes each parsed turn as it happens.
	OnTurn TurnFunc
}

// New creates an Agent bound to a provider and a sandbox handle.
func New(provider model.Provider, sb sandbox.Sandbox, opts Options) *Agent {
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	return &Agent{
		provider:      provider,
		sandbox:       sb,
		modelName:     opts.ModelName,
		instructions:  opts.Instructions,
		maxIterations: maxIter,
		onTurn:        opts.OnTurn,
	}
}

// Run executes the loop for the given prompt, mutating state as tools run.
// It returns once the agent completes (state.Summary set) or the iteration
// cap is reached; the caller classifies a capped run with no summary as a
// failed build. An error is returned only for unrecoverable provider or
// context failures — tool failures are fed back to the agent as results.
func (a *Agent) Run(ctx context.Context, state *State, prompt string) error {
	messages := []model.Message{{
		Role:    model.RoleUser,
		Content: []model.Content{{Type: model.ContentTypeText, Text: prompt}},
	}}
	tools := buildTools()

	for i := 0; i < a.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := a.provider.Complete(ctx, model.Request{
			Model:        a.modelName,
			Instructions: a.instructions,
			Tools:        tools,
			Messages:     messages,
		})
		if err != nil {
			return fmt.Errorf("completing iteration %d: %w", i+1, err)
		}
		slog.Debug("Agent iteration", "iteration", i+1, "toolCalls", len(resp.ToolCalls), "textLen", len(resp.Text))

		// Record the assistant reply in the conversation.
		var content []model.Content
		if resp.Text != "" {
			content = append(content, model.Content{Type: model.ContentTypeText, Text: resp.Text})
		}
		for idx := range resp.ToolCalls {
			content = append(content, model.Content{
				Type:     model.ContentTypeToolCall,
				ToolCall: &resp.ToolCalls[idx],
			})
		}
		if len(content) > 0 {
			messages = append(messages, model.Message{Role: model.RoleAssistant, Content: content})
		}

		// Execute requested tools synchronously, in order; results become
		// part of the next iteration's context.
		for _, tc := range resp.ToolCalls {
			result := a.dispatchTool(ctx, state, tc)
			messages = append(messages, model.Message{
				Role:    model.RoleTool,
				Content: []model.Content{{Type: model.ContentTypeToolResult, ToolResult: &result}},
			})
		}

		if resp.Text == "" {
			continue
		}

		turn := ParseTurn(resp.Text)
		if a.onTurn != nil {
			a.onTurn(ctx, turn)
		}
		if turn.Kind == TurnCompleted {
			state.Summary = turn.Summary
			slog.Info("Agent completed task", "iterations", i+1, "files", len(state.Files))
			return nil
		}
	}

	slog.Warn("Agent reached iteration cap without completing", "cap", a.maxIterations)
	return nil
}
