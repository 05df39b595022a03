package model

import (
	"context"
	"iter"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser is the human (or orchestrator) side of the conversation.
	RoleUser Role = "user"
	// RoleAssistant is the model side.
	RoleAssistant Role = "assistant"
	// RoleTool carries tool execution results back to the model.
	RoleTool Role = "tool"
)

// Content part types.
const (
	ContentTypeText       = "text"
	ContentTypeToolCall   = "tool_call"
	ContentTypeToolResult = "tool_result"
)

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResult represents the outcome of executing a tool call.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// Content is a single component of a message.
type Content struct {
	Type       string      `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// Message is one turn in the conversation sent to the model.
type Message struct {
	Role    Role      `json:"role"`
	Content []Content `json:"content"`
}

// Schema describes a tool parameter shape, provider-neutrally. It covers
// the small subset of JSON schema the build tools need.
type Schema struct {
	Type        string // "object", "array", "string"
	Description string
	Properties  map[string]*Schema
	Items       *Schema
	Required    []string
}

// Tool declares a function the model may invoke.
type Tool struct {
	Name        string
	Description string
	Parameters  *Schema
}

// Request is a structured completion request: system instructions, a tool
// set, and the conversation so far.
type Request struct {
	Model        string
	Instructions string
	Tools        []Tool
	Messages     []Message
}

// Response is a finished structured completion: the assistant's text plus
// any tool invocations it requested.
type Response struct {
	Text      string     `json:"text,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Provider represents an LLM service.
type Provider interface {
	// Name returns the provider's identifier (e.g. "gemini").
	Name() string

	// Complete performs one structured completion with tool support and
	// blocks until the full response is available.
	Complete(ctx context.Context, req Request) (*Response, error)

	// StreamText performs an incremental plain-text completion of a single
	// prompt. The returned sequence is finite and non-restartable; the
	// concatenation of its chunks is the full response.
	StreamText(ctx context.Context, modelName, prompt string) iter.Seq2[string, error]
}
