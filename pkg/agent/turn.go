package agent

import "strings"

// The agent signals completion by wrapping its final summary in a marker
// tag. ParseTurn is the single place that knows about the marker; the rest
// of the system only sees the tagged Turn value.
const (
	summaryOpen  = "<task_summary>"
	summaryClose = "</task_summary>"
)

// TurnKind tags the outcome of one agent turn.
type TurnKind int

const (
	// TurnContinuing means the agent produced an intermediate update and
	// the loop should keep going.
	TurnContinuing TurnKind = iota
	// TurnCompleted means the agent declared the task done.
	TurnCompleted
)

// Turn is the parsed outcome of one assistant reply.
type Turn struct {
	Kind TurnKind
	// Text is the raw reply, set for continuing turns.
	Text string
	// Summary is the final task summary, set for completed turns.
	Summary string
}

// ParseTurn classifies an assistant reply. A reply containing the summary
// marker is terminal; the summary is the marker body when the tag is well
// formed, or the whole reply when the closing tag is missing.
func ParseTurn(text string) Turn {
	open := strings.Index(text, summaryOpen)
	if open < 0 {
		return Turn{Kind: TurnContinuing, Text: text}
	}

	summary := strings.TrimSpace(text)
	if end := strings.Index(text, summaryClose); end > open {
		summary = strings.TrimSpace(text[open+len(summaryOpen) : end])
	}
	return Turn{Kind: TurnCompleted, Summary: summary}
}
