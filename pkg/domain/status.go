package domain

// Role identifies the author of a message.
type Role string

const (
	// RoleUser marks a prompt submitted by the user.
	RoleUser Role = "USER"
	// RoleAssistant marks a message produced by a build job.
	RoleAssistant Role = "ASSISTANT"
)

// MessageType classifies what an assistant message carries.
type MessageType string

const (
	// TypeResult marks a normal message (user prompt or build output).
	TypeResult MessageType = "RESULT"
	// TypeError marks a message carrying an error notice.
	TypeError MessageType = "ERROR"
)

// MessageStatus is the live-update lifecycle of an assistant message.
// USER messages are created already COMPLETED.
type MessageStatus string

const (
	// StatusStreaming means a build job is actively appending content.
	StatusStreaming MessageStatus = "STREAMING"
	// StatusCompleted is terminal: the build succeeded and a fragment exists.
	StatusCompleted MessageStatus = "COMPLETED"
	// StatusFailed is terminal: the build did not produce a usable artifact.
	StatusFailed MessageStatus = "FAILED"
)
