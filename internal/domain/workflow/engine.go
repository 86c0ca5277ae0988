package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"

	"bella-server/internal/domain/status"
)

// Definition registers a workflow by name. Run is called with the payload
// given to Trigger; it composes activities through Activity. Compensate, if
// set, runs once when Run fails for good.
type Definition struct {
	Name       string
	Run        func(ctx context.Context, payload json.RawMessage) error
	Compensate func(ctx context.Context, payload json.RawMessage, cause error)
}

// Engine triggers and executes durable workflows.
type Engine struct {
	store    Store
	observer Observer
	log      zerolog.Logger

	mu          sync.RWMutex
	definitions map[string]Definition

	wake chan struct{}
}

// NewEngine creates an engine. A nil observer disables instrumentation.
func NewEngine(store Store, observer Observer, log zerolog.Logger) *Engine {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Engine{
		store:       store,
		observer:    observer,
		log:         log.With().Str("component", "workflow-engine").Logger(),
		definitions: make(map[string]Definition),
		wake:        make(chan struct{}, 1),
	}
}

// Register adds a workflow definition.
func (e *Engine) Register(def Definition) error {
	if def.Name == "" || def.Run == nil {
		return fmt.Errorf("workflow definition requires a name and a run function")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.definitions[def.Name]; exists {
		return fmt.Errorf("workflow %q already registered", def.Name)
	}
	e.definitions[def.Name] = def
	return nil
}

// MustRegister is Register for wiring code.
func (e *Engine) MustRegister(def Definition) {
	if err := e.Register(def); err != nil {
		panic(err)
	}
}

// Trigger records a PENDING execution for key unless one already exists.
// It reports whether a new execution was created; triggering an existing
// key, finished or not, is a no-op.
func (e *Engine) Trigger(ctx context.Context, workflow, key string, payload any) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("trigger %s: idempotency key is required", workflow)
	}
	if _, ok := e.definition(workflow); !ok {
		return false, fmt.Errorf("trigger %s: %w", workflow, ErrUnknownWorkflow)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("encode %s payload: %w", workflow, err)
	}

	created, err := e.store.CreateIfAbsent(ctx, &Execution{
		ID:       key,
		Workflow: workflow,
		Payload:  raw,
		Status:   status.ExecutionPending,
	})
	if err != nil {
		return false, fmt.Errorf("create %s execution: %w", workflow, err)
	}

	if created {
		e.log.Debug().Str("workflow", workflow).Str("execution_id", key).Msg("workflow triggered")
		e.notify()
	} else {
		e.log.Debug().Str("workflow", workflow).Str("execution_id", key).Msg("duplicate trigger ignored")
	}
	return created, nil
}

// Wake signals when a local trigger created new work.
func (e *Engine) Wake() <-chan struct{} {
	return e.wake
}

func (e *Engine) notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Execute runs a claimed execution to completion. Activities that already
// completed return their checkpointed results. A terminal execution is left
// untouched. When ctx is cancelled or its deadline passes the execution stays
// RUNNING so another runner resumes it once the lease expires.
func (e *Engine) Execute(ctx context.Context, execution *Execution) error {
	if execution.Status.IsTerminal() {
		return nil
	}

	log := e.log.With().
		Str("workflow", execution.Workflow).
		Str("execution_id", execution.ID).
		Int("attempt", execution.Attempts).
		Logger()

	def, ok := e.definition(execution.Workflow)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownWorkflow, execution.Workflow)
		log.Error().Err(err).Msg("cannot execute workflow")
		return errors.Join(err, e.store.Finish(ctx, execution.ID, execution.LeaseOwner, status.ExecutionFailed, err.Error()))
	}

	checkpoints, err := e.store.Checkpoints(ctx, execution.ID)
	if err != nil {
		return fmt.Errorf("load checkpoints: %w", err)
	}

	r := newRun(execution, e.store, e.observer, checkpoints, log)
	ctx = context.WithValue(ctx, runKey{}, r)
	ctx, end := e.observer.ExecutionStarted(ctx, execution)

	runErr := runSafely(ctx, def, execution.Payload)
	if runErr == nil {
		err := e.store.Finish(ctx, execution.ID, execution.LeaseOwner, status.ExecutionCompleted, "")
		end(err)
		if err != nil {
			return fmt.Errorf("finish execution: %w", err)
		}
		log.Info().Msg("workflow completed")
		return nil
	}

	if ctx.Err() != nil && (errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)) {
		log.Warn().Err(runErr).Msg("workflow interrupted by shutdown, leaving it for re-claim")
		end(runErr)
		return runErr
	}

	log.Error().Err(runErr).Msg("workflow failed, running compensation")
	detached := context.WithoutCancel(ctx)
	if def.Compensate != nil {
		def.Compensate(detached, execution.Payload, runErr)
	}
	e.observer.Compensated(detached, execution, runErr)

	finishErr := e.store.Finish(detached, execution.ID, execution.LeaseOwner, status.ExecutionFailed, runErr.Error())
	end(runErr)
	if finishErr != nil {
		return errors.Join(runErr, fmt.Errorf("finish execution: %w", finishErr))
	}
	return runErr
}

func (e *Engine) definition(name string) (Definition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	def, ok := e.definitions[name]
	return def, ok
}

func runSafely(ctx context.Context, def Definition, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workflow %s panicked: %v\n%s", def.Name, r, debug.Stack())
		}
	}()
	return def.Run(ctx, payload)
}
