package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bella-server/internal/domain/workflow"
	"bella-server/internal/infrastructure/metrics"
)

// Executor runs a claimed workflow execution.
type Executor interface {
	Execute(ctx context.Context, execution *workflow.Execution) error
}

// Pool manages the workers that claim and run workflow executions.
type Pool struct {
	workers  []*Worker
	queue    workflow.Queue
	executor Executor
	wake     <-chan struct{}
	cfg      Config
	log      zerolog.Logger
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// Config contains worker pool configuration.
type Config struct {
	RunnerID        string
	WorkerCount     int
	PollInterval    time.Duration
	LeaseTTL        time.Duration
	ShutdownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	return c
}

// NewPool creates a new worker pool. wake may be nil; workers then rely on polling.
func NewPool(
	queue workflow.Queue,
	executor Executor,
	wake <-chan struct{},
	cfg Config,
	log zerolog.Logger,
) *Pool {
	return &Pool{
		queue:    queue,
		executor: executor,
		wake:     wake,
		cfg:      cfg.withDefaults(),
		log:      log.With().Str("component", "worker-pool").Logger(),
	}
}

// Start initializes and starts all workers.
func (p *Pool) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)
	p.log.Info().Int("worker_count", p.cfg.WorkerCount).Str("runner_id", p.cfg.RunnerID).Msg("starting worker pool")

	p.workers = make([]*Worker, p.cfg.WorkerCount)
	for i := 0; i < p.cfg.WorkerCount; i++ {
		worker := NewWorker(i+1, p.queue, p.executor, p.wake, p.cfg, p.log)
		p.workers[i] = worker

		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Start(ctx)
		}(worker)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reportQueueDepth(ctx)
	}()

	p.log.Info().Msg("worker pool started")
	return nil
}

// Stop gracefully shuts down all workers. Executions still running are
// cancelled and stay claimable once their lease expires.
func (p *Pool) Stop() {
	p.log.Info().Msg("stopping worker pool")

	for _, worker := range p.workers {
		worker.Stop()
	}
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info().Msg("all workers stopped gracefully")
	case <-time.After(p.cfg.ShutdownTimeout):
		p.log.Warn().Msg("worker pool shutdown timed out")
	}
}

// GetQueueDepth returns the current queue depth.
func (p *Pool) GetQueueDepth(ctx context.Context) (int64, error) {
	return p.queue.Depth(ctx)
}

func (p *Pool) reportQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := p.queue.Depth(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.log.Warn().Err(err).Msg("failed to read queue depth")
				}
				continue
			}
			metrics.SetQueueDepth(depth)
		}
	}
}
