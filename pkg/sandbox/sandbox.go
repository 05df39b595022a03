package sandbox

import "context"

// CommandResult holds the captured output of a sandbox command.
type CommandResult struct {
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code"`
}

// OutputFunc receives a chunk of command output as it is produced.
type OutputFunc func(chunk string)

// Sandbox is a handle to one running execution environment. A sandbox is
// exclusively owned by a single build job for the duration of that job;
// Connect makes it reachable across job step boundaries, never across jobs.
type Sandbox interface {
	// ID returns the stable identifier used to reconnect to this sandbox.
	ID() string

	// RunCommand executes a shell command, invoking onStdout/onStderr (either
	// may be nil) as output arrives, and returns the captured result. A
	// non-zero exit code is not an error; the result carries it.
	RunCommand(ctx context.Context, command string, onStdout, onStderr OutputFunc) (*CommandResult, error)

	// WriteFile creates or replaces a file. Relative paths resolve against
	// the sandbox working directory; parent directories are created.
	WriteFile(ctx context.Context, path, content string) error

	// ReadFile returns the content of a file.
	ReadFile(ctx context.Context, path string) (string, error)

	// HostURL resolves the externally reachable URL for a service listening
	// on the given port inside the sandbox.
	HostURL(ctx context.Context, port int) (string, error)

	// Remove tears the sandbox down and releases its resources.
	Remove(ctx context.Context) error
}

// Client provisions sandboxes from a template and reconnects to existing
// ones by ID.
type Client interface {
	// Create provisions a fresh sandbox from the named template.
	Create(ctx context.Context, template string) (Sandbox, error)

	// Connect returns a handle to an existing, running sandbox.
	Connect(ctx context.Context, id string) (Sandbox, error)
}
