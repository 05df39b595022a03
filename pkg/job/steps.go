package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/nstogner/forge/pkg/store"
)

// Steps memoizes named step results for one job so a re-entered job skips
// side effects that already committed. Results are stored before being
// returned, so a crash between the side effect and the store can repeat the
// step — the job is configured with zero automatic retries to keep that
// window from being hit more than once per delivery.
type Steps struct {
	store store.StepStore
	jobID string
}

// NewSteps scopes a step substrate to one job.
func NewSteps(s store.StepStore, jobID string) *Steps {
	return &Steps{store: s, jobID: jobID}
}

// Do runs fn unless a result for name was already recorded, in which case
// the recorded result is returned and fn is skipped. Failed runs are not
// recorded.
func (s *Steps) Do(ctx context.Context, name string, fn func(ctx context.Context) (string, error)) (string, error) {
	cached, err := s.store.GetStep(ctx, s.jobID, name)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("loading step %s: %w", name, err)
	}

	result, err := fn(ctx)
	if err != nil {
		return "", fmt.Errorf("step %s: %w", name, err)
	}
	if err := s.store.PutStep(ctx, s.jobID, name, result); err != nil {
		return "", fmt.Errorf("recording step %s: %w", name, err)
	}
	return result, nil
}
