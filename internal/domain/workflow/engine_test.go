package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bella-server/internal/domain/retry"
	"bella-server/internal/domain/status"
	"bella-server/internal/domain/workflow"
	"bella-server/internal/domain/workflow/workflowtest"
)

type greeting struct {
	Name string `json:"name"`
}

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, InitialDelay: time.Millisecond, BackoffStrategy: retry.BackoffFixed}
}

func newEngine(t *testing.T) (*workflow.Engine, *workflowtest.MemoryStore) {
	t.Helper()
	store := workflowtest.NewMemoryStore()
	return workflow.NewEngine(store, nil, zerolog.Nop()), store
}

func claim(t *testing.T, store *workflowtest.MemoryStore) *workflow.Execution {
	t.Helper()
	exec, err := store.Claim(context.Background(), "runner-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, exec, "expected a claimable execution")
	return exec
}

func TestEngine_TriggerIsIdempotent(t *testing.T) {
	engine, store := newEngine(t)
	engine.MustRegister(workflow.Definition{Name: "Greet", Run: func(ctx context.Context, payload json.RawMessage) error { return nil }})
	ctx := context.Background()

	created, err := engine.Trigger(ctx, "Greet", "conv-1/msg-1", greeting{Name: "Ada"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = engine.Trigger(ctx, "Greet", "conv-1/msg-1", greeting{Name: "Ada"})
	require.NoError(t, err)
	assert.False(t, created)

	depth, err := store.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	select {
	case <-engine.Wake():
	default:
		t.Error("Trigger() did not signal Wake")
	}
}

func TestEngine_TriggerUnknownWorkflow(t *testing.T) {
	engine, _ := newEngine(t)
	_, err := engine.Trigger(context.Background(), "Missing", "k", nil)
	assert.ErrorIs(t, err, workflow.ErrUnknownWorkflow)
}

func TestEngine_RegisterRejectsDuplicates(t *testing.T) {
	engine, _ := newEngine(t)
	def := workflow.Definition{Name: "Greet", Run: func(ctx context.Context, payload json.RawMessage) error { return nil }}
	require.NoError(t, engine.Register(def))
	assert.Error(t, engine.Register(def))
	assert.Error(t, engine.Register(workflow.Definition{Name: "NoRun"}))
}

func TestEngine_ExecuteCompletesAndSkipsFinishedExecutions(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()

	var runs atomic.Int32
	var seen string
	engine.MustRegister(workflow.Definition{
		Name: "Greet",
		Run: func(ctx context.Context, payload json.RawMessage) error {
			runs.Add(1)
			var in greeting
			if err := json.Unmarshal(payload, &in); err != nil {
				return err
			}
			out, err := workflow.Activity(ctx, workflow.ActivityOptions{Name: "compose", Policy: fastPolicy(1)}, func(ctx context.Context) (string, error) {
				return "hello " + in.Name, nil
			})
			seen = out
			return err
		},
	})

	_, err := engine.Trigger(ctx, "Greet", "k1", greeting{Name: "Ada"})
	require.NoError(t, err)
	exec := claim(t, store)

	require.NoError(t, engine.Execute(ctx, exec))
	assert.Equal(t, "hello Ada", seen)

	stored, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, status.ExecutionCompleted, stored.Status)

	// Executing a finished execution is a no-op.
	require.NoError(t, engine.Execute(ctx, stored))
	assert.Equal(t, int32(1), runs.Load())

	// A second trigger with the same key never produces new work.
	created, err := engine.Trigger(ctx, "Greet", "k1", greeting{Name: "Ada"})
	require.NoError(t, err)
	assert.False(t, created)
	next, err := store.Claim(ctx, "runner-1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestEngine_ResumesFromLastCheckpoint(t *testing.T) {
	engine, store := newEngine(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return base }

	var firstCalls, secondCalls atomic.Int32
	var crash atomic.Bool
	crash.Store(true)
	var cancelRun context.CancelFunc

	engine.MustRegister(workflow.Definition{
		Name: "TwoSteps",
		Run: func(ctx context.Context, payload json.RawMessage) error {
			plan, err := workflow.Activity(ctx, workflow.ActivityOptions{Name: "first", Policy: fastPolicy(3)}, func(ctx context.Context) (int, error) {
				firstCalls.Add(1)
				return 42, nil
			})
			if err != nil {
				return err
			}
			_, err = workflow.Activity(ctx, workflow.ActivityOptions{Name: "second", Policy: fastPolicy(3)}, func(ctx context.Context) (int, error) {
				secondCalls.Add(1)
				if crash.Load() {
					cancelRun()
					return 0, ctx.Err()
				}
				return plan + 1, nil
			})
			return err
		},
	})

	_, err := engine.Trigger(context.Background(), "TwoSteps", "k2", nil)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(context.Background())
	cancelRun = cancel
	err = engine.Execute(runCtx, claim(t, store))
	require.ErrorIs(t, err, context.Canceled)

	stored, err := store.Get(context.Background(), "k2")
	require.NoError(t, err)
	assert.Equal(t, status.ExecutionRunning, stored.Status, "cancelled execution stays claimable")

	// The lease has not expired yet.
	next, err := store.Claim(context.Background(), "runner-2", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, next)

	store.Now = func() time.Time { return base.Add(2 * time.Minute) }
	crash.Store(false)
	resumed, err := store.Claim(context.Background(), "runner-2", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, resumed)
	assert.Equal(t, 2, resumed.Attempts)

	require.NoError(t, engine.Execute(context.Background(), resumed))
	assert.Equal(t, int32(1), firstCalls.Load(), "completed activity must not rerun")
	assert.Equal(t, int32(2), secondCalls.Load())

	cp, ok := store.Checkpoint("k2", "second")
	require.True(t, ok)
	assert.Equal(t, status.CheckpointCompleted, cp.Status)
	assert.Equal(t, 2, cp.Attempts, "attempt count survives the crash")
	assert.JSONEq(t, "43", string(cp.Result))
}

func TestActivity_RetriesWithDurableAttemptNumbers(t *testing.T) {
	engine, store := newEngine(t)
	var attempts []int

	engine.MustRegister(workflow.Definition{
		Name: "Flaky",
		Run: func(ctx context.Context, payload json.RawMessage) error {
			_, err := workflow.Activity(ctx, workflow.ActivityOptions{Name: "call", Policy: fastPolicy(3)}, func(ctx context.Context) (string, error) {
				attempts = append(attempts, workflow.Attempt(ctx))
				assert.Equal(t, "k3", workflow.ExecutionID(ctx))
				if len(attempts) < 3 {
					return "", errors.New("unavailable")
				}
				return "ok", nil
			})
			return err
		},
	})

	_, err := engine.Trigger(context.Background(), "Flaky", "k3", nil)
	require.NoError(t, err)
	require.NoError(t, engine.Execute(context.Background(), claim(t, store)))
	assert.Equal(t, []int{1, 2, 3}, attempts)
}

func TestEngine_ExhaustedActivityFailsAndCompensates(t *testing.T) {
	engine, store := newEngine(t)
	boom := errors.New("model unavailable")
	var compensated error

	engine.MustRegister(workflow.Definition{
		Name: "Doomed",
		Run: func(ctx context.Context, payload json.RawMessage) error {
			_, err := workflow.Activity(ctx, workflow.ActivityOptions{Name: "generate", Policy: fastPolicy(2)}, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, boom
			})
			return err
		},
		Compensate: func(ctx context.Context, payload json.RawMessage, cause error) {
			compensated = cause
		},
	})

	_, err := engine.Trigger(context.Background(), "Doomed", "k4", nil)
	require.NoError(t, err)
	err = engine.Execute(context.Background(), claim(t, store))

	var activityErr *workflow.ActivityError
	require.ErrorAs(t, err, &activityErr)
	assert.Equal(t, "generate", activityErr.Activity)
	assert.Equal(t, 2, activityErr.Attempts)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, compensated, boom)

	stored, err := store.Get(context.Background(), "k4")
	require.NoError(t, err)
	assert.Equal(t, status.ExecutionFailed, stored.Status)
	assert.Contains(t, stored.LastError, "model unavailable")

	cp, ok := store.Checkpoint("k4", "generate")
	require.True(t, ok)
	assert.Equal(t, status.CheckpointFailed, cp.Status)
}

func TestActivity_PermanentErrorStopsRetrying(t *testing.T) {
	engine, store := newEngine(t)
	var calls atomic.Int32

	engine.MustRegister(workflow.Definition{
		Name: "Permanent",
		Run: func(ctx context.Context, payload json.RawMessage) error {
			_, err := workflow.Activity(ctx, workflow.ActivityOptions{Name: "validate", Policy: fastPolicy(5)}, func(ctx context.Context) (int, error) {
				calls.Add(1)
				return 0, retry.Permanent(errors.New("bad input"))
			})
			return err
		},
	})

	_, err := engine.Trigger(context.Background(), "Permanent", "k5", nil)
	require.NoError(t, err)
	require.Error(t, engine.Execute(context.Background(), claim(t, store)))
	assert.Equal(t, int32(1), calls.Load())
}

func TestEngine_PanicFailsExecution(t *testing.T) {
	engine, store := newEngine(t)
	engine.MustRegister(workflow.Definition{
		Name: "Panics",
		Run:  func(ctx context.Context, payload json.RawMessage) error { panic("nil plan") },
	})

	_, err := engine.Trigger(context.Background(), "Panics", "k6", nil)
	require.NoError(t, err)
	err = engine.Execute(context.Background(), claim(t, store))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	stored, err := store.Get(context.Background(), "k6")
	require.NoError(t, err)
	assert.Equal(t, status.ExecutionFailed, stored.Status)
}

func TestEngine_FinishRequiresLease(t *testing.T) {
	engine, store := newEngine(t)
	engine.MustRegister(workflow.Definition{Name: "Greet", Run: func(ctx context.Context, payload json.RawMessage) error { return nil }})

	_, err := engine.Trigger(context.Background(), "Greet", "k7", nil)
	require.NoError(t, err)
	exec := claim(t, store)
	exec.LeaseOwner = "someone-else"

	err = engine.Execute(context.Background(), exec)
	assert.ErrorIs(t, err, workflow.ErrLeaseLost)
}

func TestActivity_OutsideExecution(t *testing.T) {
	_, err := workflow.Activity(context.Background(), workflow.ActivityOptions{Name: "x"}, func(ctx context.Context) (int, error) {
		return 1, nil
	})
	assert.ErrorIs(t, err, workflow.ErrNoExecution)
}

func TestEngine_CallerDeadlineLeavesExecutionClaimable(t *testing.T) {
	engine, store := newEngine(t)

	var compensated atomic.Bool
	engine.MustRegister(workflow.Definition{
		Name: "Slow",
		Run: func(ctx context.Context, payload json.RawMessage) error {
			_, err := workflow.Activity(ctx, workflow.ActivityOptions{Name: "wait", Policy: fastPolicy(1)}, func(ctx context.Context) (int, error) {
				<-ctx.Done()
				return 0, ctx.Err()
			})
			return err
		},
		Compensate: func(ctx context.Context, payload json.RawMessage, cause error) {
			compensated.Store(true)
		},
	})

	_, err := engine.Trigger(context.Background(), "Slow", "k-deadline", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = engine.Execute(ctx, claim(t, store))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	stored, err := store.Get(context.Background(), "k-deadline")
	require.NoError(t, err)
	assert.Equal(t, status.ExecutionRunning, stored.Status)
	assert.False(t, compensated.Load())
}
