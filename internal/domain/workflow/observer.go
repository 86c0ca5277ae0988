package workflow

import "context"

// Observer is notified of execution and activity lifecycle events. The
// returned context carries whatever the observer attaches (for example a
// span) and the returned func is called once with the outcome.
type Observer interface {
	ExecutionStarted(ctx context.Context, execution *Execution) (context.Context, func(err error))
	ActivityStarted(ctx context.Context, execution *Execution, activity string, attempt int) (context.Context, func(err error))
	Compensated(ctx context.Context, execution *Execution, cause error)
}

type nopObserver struct{}

func (nopObserver) ExecutionStarted(ctx context.Context, _ *Execution) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (nopObserver) ActivityStarted(ctx context.Context, _ *Execution, _ string, _ int) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (nopObserver) Compensated(context.Context, *Execution, error) {}
