package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bella-server/internal/domain/workflow"
)

// Worker claims workflow executions from the queue and runs them.
type Worker struct {
	id       int
	owner    string
	queue    workflow.Queue
	executor Executor
	wake     <-chan struct{}
	cfg      Config
	log      zerolog.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new background worker.
func NewWorker(
	id int,
	queue workflow.Queue,
	executor Executor,
	wake <-chan struct{},
	cfg Config,
	log zerolog.Logger,
) *Worker {
	cfg = cfg.withDefaults()
	owner := fmt.Sprintf("%s#%d", cfg.RunnerID, id)
	return &Worker{
		id:       id,
		owner:    owner,
		queue:    queue,
		executor: executor,
		wake:     wake,
		cfg:      cfg,
		log:      log.With().Int("worker_id", id).Str("component", "worker").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start processes executions until ctx is done or Stop is called. It polls
// on an interval and drains the queue whenever it is woken.
func (w *Worker) Start(ctx context.Context) {
	w.log.Debug().Msg("worker started")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Debug().Msg("worker stopped by context")
			return
		case <-w.stopChan:
			w.log.Debug().Msg("worker stopped")
			return
		case <-ticker.C:
			w.drain(ctx)
		case <-w.wake:
			w.drain(ctx)
		}
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
}

func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil && !w.stopped() {
		if !w.processNext(ctx) {
			return
		}
	}
}

func (w *Worker) stopped() bool {
	select {
	case <-w.stopChan:
		return true
	default:
		return false
	}
}

// processNext runs one execution and reports whether one was claimed.
func (w *Worker) processNext(ctx context.Context) bool {
	execution, err := w.queue.Claim(ctx, w.owner, w.cfg.LeaseTTL)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("failed to claim workflow execution")
		}
		return false
	}
	if execution == nil {
		return false
	}

	log := w.log.With().
		Str("workflow", execution.Workflow).
		Str("execution_id", execution.ID).
		Int("attempt", execution.Attempts).
		Logger()
	log.Info().Msg("processing workflow execution")

	// No deadline: a stream may run as long as the model keeps producing.
	// A runner that dies is covered by lease expiry.
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		w.heartbeat(execCtx, execution.ID, cancel, done, log)
	}()

	err = w.executor.Execute(execCtx, execution)
	close(done)
	<-heartbeatDone

	switch {
	case err == nil:
		log.Info().Msg("workflow execution finished")
	case errors.Is(err, context.Canceled):
		log.Warn().Err(err).Msg("workflow execution cancelled")
	default:
		log.Error().Err(err).Msg("workflow execution failed")
	}
	return true
}

// heartbeat extends the lease while the execution runs and cancels it when
// another runner took the lease over.
func (w *Worker) heartbeat(ctx context.Context, id string, cancel context.CancelFunc, done <-chan struct{}, log zerolog.Logger) {
	interval := w.cfg.LeaseTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.queue.ExtendLease(ctx, id, w.owner, w.cfg.LeaseTTL)
			if errors.Is(err, workflow.ErrLeaseLost) {
				log.Warn().Msg("workflow execution lease lost, cancelling")
				cancel()
				return
			}
			if err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("failed to extend workflow execution lease")
			}
		}
	}
}
