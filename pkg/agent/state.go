package agent

// State is the mutable working state of one build job's agent run. It is
// exclusively owned by that run: the loop and its tool handlers mutate it
// sequentially, so no locking is involved, and it is discarded once the job
// persists its result.
type State struct {
	// Summary is empty until the agent signals completion; afterwards it
	// holds the final task summary.
	Summary string

	// Files accumulates every file the agent created or updated, keyed by
	// sandbox-relative path. Later writes to the same path overwrite.
	Files map[string]string

	// ProjectID is the project this run builds for.
	ProjectID string
}

// NewState returns an empty state for the given project.
func NewState(projectID string) *State {
	return &State{
		Files:     make(map[string]string),
		ProjectID: projectID,
	}
}
