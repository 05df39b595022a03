package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/store"
)

// ErrQueueFull is returned when the dispatch buffer has no room; the
// caller surfaces it as backpressure rather than blocking the request.
var ErrQueueFull = errors.New("build queue full")

// Dispatcher is the in-process bridge between the HTTP layer and the
// Runner: requests enqueue BuildEvents, the Runner drains them.
type Dispatcher struct {
	events chan domain.BuildEvent
}

// NewDispatcher creates a dispatcher with the given queue depth.
func NewDispatcher(buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	return &Dispatcher{events: make(chan domain.BuildEvent, buffer)}
}

// Dispatch enqueues one build. It never blocks: a full queue returns
// ErrQueueFull immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.BuildEvent) error {
	select {
	case d.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Events is the consumer side, drained by Runner.Run.
func (d *Dispatcher) Events() <-chan domain.BuildEvent {
	return d.events
}

// Close releases the channel; Runner.Run returns after draining it.
func (d *Dispatcher) Close() {
	close(d.events)
}

// Recover re-enqueues builds that were interrupted by a process restart:
// any assistant message still STREAMING belongs to a job that never
// reached a terminal write. The original prompt is recovered from the
// latest USER message in the same project. Memoized steps make the
// re-entry skip work that already committed.
func Recover(ctx context.Context, messages store.MessageStore, d *Dispatcher) error {
	pending, err := messages.ListStreaming(ctx)
	if err != nil {
		return fmt.Errorf("listing interrupted builds: %w", err)
	}
	for _, msg := range pending {
		history, err := messages.ListMessages(ctx, msg.ProjectID)
		if err != nil {
			return fmt.Errorf("loading project %s history: %w", msg.ProjectID, err)
		}
		var prompt string
		for _, h := range history {
			if h.Role == domain.RoleUser {
				prompt = h.Content
			}
		}
		if prompt == "" {
			slog.Warn("Interrupted build has no user prompt, leaving as-is", "messageID", msg.ID)
			continue
		}
		slog.Info("Re-entering interrupted build", "projectID", msg.ProjectID, "messageID", msg.ID)
		if err := d.Dispatch(ctx, domain.BuildEvent{
			Text:      prompt,
			ProjectID: msg.ProjectID,
			MessageID: msg.ID,
		}); err != nil {
			return err
		}
	}
	return nil
}
