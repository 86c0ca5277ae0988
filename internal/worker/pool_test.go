package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"bella-server/internal/domain/status"
	"bella-server/internal/domain/workflow"
	"bella-server/internal/domain/workflow/workflowtest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() Config {
	return Config{
		RunnerID:        "runner-test",
		WorkerCount:     2,
		PollInterval:    10 * time.Millisecond,
		LeaseTTL:        time.Second,
		ShutdownTimeout: time.Second,
	}
}

func TestPool_RunsTriggeredExecutions(t *testing.T) {
	store := workflowtest.NewMemoryStore()
	engine := workflow.NewEngine(store, nil, zerolog.Nop())

	var runs atomic.Int32
	engine.MustRegister(workflow.Definition{
		Name: "Count",
		Run: func(ctx context.Context, payload json.RawMessage) error {
			runs.Add(1)
			return nil
		},
	})

	ctx := context.Background()
	for _, key := range []string{"a", "b", "c"} {
		_, err := engine.Trigger(ctx, "Count", key, nil)
		require.NoError(t, err)
	}
	// Duplicate trigger is absorbed by the key.
	_, err := engine.Trigger(ctx, "Count", "a", nil)
	require.NoError(t, err)

	pool := NewPool(store, engine, engine.Wake(), testConfig(), zerolog.Nop())
	require.NoError(t, pool.Start(ctx))
	defer pool.Stop()

	require.Eventually(t, func() bool { return runs.Load() == 3 }, 2*time.Second, 5*time.Millisecond)

	for _, key := range []string{"a", "b", "c"} {
		exec, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, status.ExecutionCompleted, exec.Status, key)
	}

	depth, err := pool.GetQueueDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestPool_WakeStartsWorkWithoutWaitingForPoll(t *testing.T) {
	store := workflowtest.NewMemoryStore()
	engine := workflow.NewEngine(store, nil, zerolog.Nop())

	ran := make(chan struct{}, 1)
	engine.MustRegister(workflow.Definition{
		Name: "Signal",
		Run: func(ctx context.Context, payload json.RawMessage) error {
			ran <- struct{}{}
			return nil
		},
	})

	cfg := testConfig()
	cfg.PollInterval = time.Hour
	pool := NewPool(store, engine, engine.Wake(), cfg, zerolog.Nop())
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	_, err := engine.Trigger(context.Background(), "Signal", "k", nil)
	require.NoError(t, err)

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("execution did not run after wake")
	}
}

type blockingExecutor struct {
	started chan struct{}
}

func (b *blockingExecutor) Execute(ctx context.Context, execution *workflow.Execution) error {
	close(b.started)
	<-ctx.Done()
	return ctx.Err()
}

func TestWorker_HeartbeatExtendsLeaseAndStopCancels(t *testing.T) {
	store := workflowtest.NewMemoryStore()
	_, err := store.CreateIfAbsent(context.Background(), &workflow.Execution{ID: "long", Workflow: "Long"})
	require.NoError(t, err)

	executor := &blockingExecutor{started: make(chan struct{})}
	cfg := testConfig()
	cfg.WorkerCount = 1
	cfg.LeaseTTL = 60 * time.Millisecond

	pool := NewPool(store, executor, nil, cfg, zerolog.Nop())
	require.NoError(t, pool.Start(context.Background()))

	<-executor.started
	first, err := store.Get(context.Background(), "long")
	require.NoError(t, err)
	require.NotNil(t, first.LeaseExpiresAt)

	require.Eventually(t, func() bool {
		exec, err := store.Get(context.Background(), "long")
		return err == nil && exec.LeaseExpiresAt.After(*first.LeaseExpiresAt)
	}, time.Second, 5*time.Millisecond, "lease was never extended")

	pool.Stop()

	exec, err := store.Get(context.Background(), "long")
	require.NoError(t, err)
	assert.Equal(t, status.ExecutionRunning, exec.Status, "cancelled execution remains claimable")
}

type deadlineExecutor struct {
	hasDeadline chan bool
}

func (d *deadlineExecutor) Execute(ctx context.Context, execution *workflow.Execution) error {
	_, ok := ctx.Deadline()
	select {
	case d.hasDeadline <- ok:
	default:
	}
	return nil
}

func TestWorker_ExecutionHasNoDeadline(t *testing.T) {
	store := workflowtest.NewMemoryStore()
	_, err := store.CreateIfAbsent(context.Background(), &workflow.Execution{ID: "stream", Workflow: "Stream"})
	require.NoError(t, err)

	executor := &deadlineExecutor{hasDeadline: make(chan bool, 1)}
	cfg := testConfig()
	cfg.WorkerCount = 1

	pool := NewPool(store, executor, nil, cfg, zerolog.Nop())
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	select {
	case ok := <-executor.hasDeadline:
		assert.False(t, ok, "long streams must not be cut off by the worker")
	case <-time.After(2 * time.Second):
		t.Fatal("execution did not run")
	}
}
