package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nstogner/forge/pkg/model"
)

// Tool names available to the build agent.
const (
	toolTerminal            = "terminal"
	toolCreateOrUpdateFiles = "createOrUpdateFiles"
	toolReadFiles           = "readFiles"
)

// buildTools declares the tool set offered to the model on every iteration.
func buildTools() []model.Tool {
	return []model.Tool{
		{
			Name:        toolTerminal,
			Description: "Run a terminal command in the sandbox and return its output.",
			Parameters: &model.Schema{
				Type: "object",
				Properties: map[string]*model.Schema{
					"command": {Type: "string", Description: "The shell command to run."},
				},
				Required: []string{"command"},
			},
		},
		{
			Name:        toolCreateOrUpdateFiles,
			Description: "Create or update files in the sandbox.",
			Parameters: &model.Schema{
				Type: "object",
				Properties: map[string]*model.Schema{
					"files": {
						Type:        "array",
						Description: "The files to write.",
						Items: &model.Schema{
							Type: "object",
							Properties: map[string]*model.Schema{
								"path":    {Type: "string", Description: "Relative file path."},
								"content": {Type: "string", Description: "Full file content."},
							},
							Required: []string{"path", "content"},
						},
					},
				},
				Required: []string{"files"},
			},
		},
		{
			Name:        toolReadFiles,
			Description: "Read files from the sandbox.",
			Parameters: &model.Schema{
				Type: "object",
				Properties: map[string]*model.Schema{
					"files": {
						Type:        "array",
						Description: "The file paths to read.",
						Items:       &model.Schema{Type: "string"},
					},
				},
				Required: []string{"files"},
			},
		},
	}
}

// dispatchTool routes a tool call to its handler. Handlers never return an
// error for sandbox failures: the failure text becomes the tool result so
// the agent can see it and self-correct within its iteration budget.
func (a *Agent) dispatchTool(ctx context.Context, state *State, tc model.ToolCall) model.ToolResult {
	var content string
	var isError bool

	switch tc.Name {
	case toolTerminal:
		content, isError = a.toolTerminal(ctx, tc)
	case toolCreateOrUpdateFiles:
		content, isError = a.toolCreateOrUpdateFiles(ctx, state, tc)
	case toolReadFiles:
		content, isError = a.toolReadFiles(ctx, tc)
	default:
		content, isError = fmt.Sprintf("Error: unknown tool %q", tc.Name), true
	}

	if isError {
		slog.Warn("Tool call failed", "tool", tc.Name, "result", content)
	}
	return model.ToolResult{ToolCallID: tc.ID, Content: content, IsError: isError}
}

func (a *Agent) toolTerminal(ctx context.Context, tc model.ToolCall) (string, bool) {
	command, _ := tc.Input["command"].(string)
	if command == "" {
		return "Error: 'command' parameter is required", true
	}

	slog.Debug("Running sandbox command", "command", command)
	res, err := a.sandbox.RunCommand(ctx, command, nil, nil)
	if err != nil {
		return fmt.Sprintf("Error running command: %v", err), true
	}
	if res.ExitCode != 0 {
		return fmt.Sprintf("Command exited with code %d\nstdout: %s\nstderr: %s",
			res.ExitCode, res.Stdout, res.Stderr), true
	}
	return res.Stdout, false
}

func (a *Agent) toolCreateOrUpdateFiles(ctx context.Context, state *State, tc model.ToolCall) (string, bool) {
	rawFiles, ok := tc.Input["files"].([]any)
	if !ok {
		return "Error: 'files' parameter is required and must be an array", true
	}

	for _, raw := range rawFiles {
		entry, ok := raw.(map[string]any)
		if !ok {
			return "Error: each file must be an object with 'path' and 'content'", true
		}
		path, _ := entry["path"].(string)
		content, _ := entry["content"].(string)
		if path == "" {
			return "Error: file 'path' must be a non-empty string", true
		}

		if err := a.sandbox.WriteFile(ctx, path, content); err != nil {
			return fmt.Sprintf("Error writing %s: %v", path, err), true
		}
		state.Files[path] = content
	}

	// The tool result is the full merged mapping, matching what the agent
	// is told the sandbox now contains.
	b, _ := json.Marshal(state.Files)
	return string(b), false
}

func (a *Agent) toolReadFiles(ctx context.Context, tc model.ToolCall) (string, bool) {
	rawPaths, ok := tc.Input["files"].([]any)
	if !ok {
		return "Error: 'files' parameter is required and must be an array", true
	}

	type fileContent struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	var contents []fileContent
	for _, raw := range rawPaths {
		path, _ := raw.(string)
		if path == "" {
			return "Error: file paths must be non-empty strings", true
		}
		content, err := a.sandbox.ReadFile(ctx, path)
		if err != nil {
			return fmt.Sprintf("Error reading %s: %v", path, err), true
		}
		contents = append(contents, fileContent{Path: path, Content: content})
	}

	b, _ := json.Marshal(contents)
	return string(b), false
}
