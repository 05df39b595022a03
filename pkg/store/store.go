package store

import (
	"context"
	"errors"
	"time"

	"github.com/nstogner/forge/pkg/domain"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ProjectStore manages the persistence of projects.
type ProjectStore interface {
	// CreateProject persists a new project. The ID field must be set by the caller.
	CreateProject(ctx context.Context, p *domain.Project) error

	// GetProject retrieves a project by its unique ID.
	// Returns ErrNotFound if the project does not exist.
	GetProject(ctx context.Context, id string) (*domain.Project, error)

	// ListProjects returns all projects, most recently updated first.
	ListProjects(ctx context.Context) ([]domain.Project, error)
}

// MessageStore manages messages and their paired fragments. A message's
// content and status are mutated by exactly one writer (the active build
// job) while STREAMING; a terminal write makes the row immutable.
type MessageStore interface {
	// CreateMessage persists a new message. ID must be set by the caller.
	CreateMessage(ctx context.Context, m *domain.Message) error

	// GetMessage retrieves a message by ID, with its fragment embedded if
	// one exists. Returns ErrNotFound if the message does not exist.
	GetMessage(ctx context.Context, id string) (*domain.Message, error)

	// ListMessages returns all messages of a project ordered by updated_at
	// ascending, fragments embedded.
	ListMessages(ctx context.Context, projectID string) ([]domain.Message, error)

	// UpdateStreaming replaces the content and status of a message that is
	// still streaming. It refreshes updated_at so pollers observe the write.
	UpdateStreaming(ctx context.Context, id, content string, status domain.MessageStatus) error

	// CompleteMessage performs the terminal success transition in a single
	// transaction: content becomes the summary, status COMPLETED, type
	// RESULT, and the fragment row is created. The fragment's MessageID is
	// taken from the message ID.
	CompleteMessage(ctx context.Context, id, content string, frag *domain.Fragment) error

	// UpdatedSince returns the project's messages with updated_at strictly
	// newer than the watermark, ordered by updated_at ascending, fragments
	// embedded. This is the read side of the live-update channel.
	UpdatedSince(ctx context.Context, projectID string, watermark time.Time) ([]domain.Message, error)

	// ListStreaming returns all assistant messages still in STREAMING
	// state, across projects. Used at startup to re-enter builds that were
	// interrupted by a process restart.
	ListStreaming(ctx context.Context) ([]domain.Message, error)
}

// StepStore journals the memoized results of named job steps. A step result
// written once is returned verbatim on re-entry, which is what makes job
// steps safe to replay after a process restart without repeating side
// effects that already committed.
type StepStore interface {
	// GetStep returns the memoized result for (jobID, name).
	// Returns ErrNotFound if the step has not completed yet.
	GetStep(ctx context.Context, jobID, name string) (string, error)

	// PutStep records the result for (jobID, name). Writing the same step
	// twice is an error; steps are execute-once by construction.
	PutStep(ctx context.Context, jobID, name, result string) error
}
