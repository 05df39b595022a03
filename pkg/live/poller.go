// Package live turns message-row writes into a push-style event stream.
// There is no event bus: the job writes rows, and a per-connection poller
// re-reads them on an interval and forwards anything newer than its
// watermark. Both the SSE and WebSocket endpoints sit on top of this.
package live

import (
	"context"
	"fmt"
	"time"

	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/store"
)

const (
	// DefaultInterval is how often the store is re-polled.
	DefaultInterval = 2 * time.Second
	// DefaultLookback backdates the initial watermark so writes that
	// landed just before the client connected are not missed.
	DefaultLookback = 10 * time.Second
)

// EmitFunc delivers one message to the client. A returned error aborts the
// stream (the client is gone).
type EmitFunc func(msg domain.Message) error

// Poller streams a project's message changes to one client.
type Poller struct {
	store    store.MessageStore
	interval time.Duration
	lookback time.Duration
}

// New creates a Poller. Zero durations select the defaults.
func New(s store.MessageStore, interval, lookback time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Poller{store: s, interval: interval, lookback: lookback}
}

// Run polls until a terminal message is emitted, emit fails, ctx is done,
// or the store errors. Rows are emitted oldest-first and the watermark
// advances past each one, so a row is re-emitted only if it changes again.
// A COMPLETED or FAILED row is emitted exactly once: it ends the stream.
func (p *Poller) Run(ctx context.Context, projectID string, emit EmitFunc) error {
	watermark := time.Now().UTC().Add(-p.lookback)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		msgs, err := p.store.UpdatedSince(ctx, projectID, watermark)
		if err != nil {
			return fmt.Errorf("polling messages: %w", err)
		}
		for _, msg := range msgs {
			if err := emit(msg); err != nil {
				return err
			}
			watermark = msg.UpdatedAt
			if msg.Terminal() {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
