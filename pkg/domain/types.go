package domain

import "time"

// Project groups the messages of one user-initiated build. It is created
// once per build request and never mutated afterwards except for timestamp
// touches when child messages change.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one exchange turn within a project. ASSISTANT messages carry a
// status lifecycle (STREAMING → COMPLETED|FAILED) and are the unit of
// live-update delivery: their content grows while a build job runs and the
// live channel forwards each observed change to the client.
type Message struct {
	ID        string        `json:"id"`
	ProjectID string        `json:"project_id"`
	Role      Role          `json:"role"`
	Type      MessageType   `json:"type"`
	Content   string        `json:"content"`
	Status    MessageStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`

	// Fragment is the build artifact paired with a COMPLETED RESULT
	// message. Nil for user messages and non-terminal assistant messages.
	Fragment *Fragment `json:"fragment,omitempty"`
}

// Terminal reports whether the message has reached a final status.
func (m *Message) Terminal() bool {
	return m.Status == StatusCompleted || m.Status == StatusFailed
}

// Fragment is the persisted artifact of a successful build: the generated
// files plus the public URL of the sandbox serving the preview. Created
// exactly once, atomically with the owning message's COMPLETED transition.
type Fragment struct {
	ID         string            `json:"id"`
	MessageID  string            `json:"message_id"`
	Title      string            `json:"title"`
	Summary    string            `json:"summary"`
	Files      map[string]string `json:"files"`
	SandboxURL string            `json:"sandbox_url"`
	CreatedAt  time.Time         `json:"created_at"`
}

// BuildEvent is the payload that triggers one background build job.
// MessageID identifies the ASSISTANT message created in STREAMING state by
// the request that emitted the event.
type BuildEvent struct {
	Text      string `json:"text"`
	ProjectID string `json:"project_id"`
	MessageID string `json:"message_id"`
}
