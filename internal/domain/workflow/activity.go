package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"bella-server/internal/domain/retry"
	"bella-server/internal/domain/status"
)

// ActivityOptions names an activity and sets its retry policy.
type ActivityOptions struct {
	Name   string
	Policy retry.Policy
}

// ActivityError is returned when an activity exhausted its retries or
// failed permanently.
type ActivityError struct {
	Activity string
	Attempts int
	Err      error
}

func (e *ActivityError) Error() string {
	return fmt.Sprintf("activity %s failed after %d attempt(s): %v", e.Activity, e.Attempts, e.Err)
}

func (e *ActivityError) Unwrap() error {
	return e.Err
}

type runKey struct{}

type attemptKey struct{}

// run is the per-execution state carried in the workflow context.
type run struct {
	execution *Execution
	store     Store
	observer  Observer
	log       zerolog.Logger

	mu        sync.Mutex
	completed map[string]json.RawMessage
}

func newRun(execution *Execution, store Store, observer Observer, checkpoints []Checkpoint, log zerolog.Logger) *run {
	completed := make(map[string]json.RawMessage, len(checkpoints))
	for _, cp := range checkpoints {
		if cp.Status == status.CheckpointCompleted {
			completed[cp.Activity] = cp.Result
		}
	}
	return &run{
		execution: execution,
		store:     store,
		observer:  observer,
		log:       log,
		completed: completed,
	}
}

func (r *run) result(activity string) (json.RawMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, ok := r.completed[activity]
	return raw, ok
}

func (r *run) complete(activity string, raw json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed[activity] = raw
}

// Activity runs fn as a named, checkpointed step of the current execution.
// A completed checkpoint short-circuits fn and returns the stored result.
// Otherwise fn runs under the activity's retry policy; the durable attempt
// number is available to fn through Attempt.
func Activity[T any](ctx context.Context, opts ActivityOptions, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	r, ok := ctx.Value(runKey{}).(*run)
	if !ok {
		return zero, ErrNoExecution
	}

	if raw, done := r.result(opts.Name); done {
		var out T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &out); err != nil {
				return zero, fmt.Errorf("decode %s checkpoint: %w", opts.Name, err)
			}
		}
		r.log.Debug().Str("activity", opts.Name).Msg("activity replayed from checkpoint")
		return out, nil
	}

	attempts := 0
	result, err := retry.ExecuteWithResult(ctx, opts.Policy, func(ctx context.Context, _ int) (T, error) {
		n, err := r.store.StartActivityAttempt(ctx, r.execution.ID, opts.Name)
		if err != nil {
			return zero, fmt.Errorf("record %s attempt: %w", opts.Name, err)
		}
		attempts = n

		actx, end := r.observer.ActivityStarted(ctx, r.execution, opts.Name, n)
		v, err := fn(context.WithValue(actx, attemptKey{}, n))
		end(err)
		if err != nil {
			r.log.Warn().Err(err).Str("activity", opts.Name).Int("activity_attempt", n).Msg("activity attempt failed")
		}
		return v, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return zero, err
		}
		if failErr := r.store.FailActivity(ctx, r.execution.ID, opts.Name, err.Error()); failErr != nil {
			r.log.Error().Err(failErr).Str("activity", opts.Name).Msg("failed to record activity failure")
		}
		return zero, &ActivityError{Activity: opts.Name, Attempts: attempts, Err: err}
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return zero, fmt.Errorf("encode %s result: %w", opts.Name, err)
	}
	if err := r.store.CompleteActivity(ctx, r.execution.ID, opts.Name, raw); err != nil {
		return zero, fmt.Errorf("checkpoint %s: %w", opts.Name, err)
	}
	r.complete(opts.Name, raw)
	return result, nil
}

// Attempt returns the durable attempt number of the running activity,
// counting attempts made by earlier runs of the execution. It is 0 outside
// an activity.
func Attempt(ctx context.Context) int {
	n, _ := ctx.Value(attemptKey{}).(int)
	return n
}

// ExecutionID returns the idempotency key of the running execution.
func ExecutionID(ctx context.Context) string {
	if r, ok := ctx.Value(runKey{}).(*run); ok {
		return r.execution.ID
	}
	return ""
}
