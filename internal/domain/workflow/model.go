// Package workflow is a small durable workflow engine. A workflow run is an
// execution keyed by an idempotency key; its activities checkpoint their
// results so a resumed execution skips completed work.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bella-server/internal/domain/status"
)

var (
	// ErrExecutionNotFound is returned when no execution has the given key.
	ErrExecutionNotFound = errors.New("workflow execution not found")
	// ErrLeaseLost is returned when another runner took over the execution.
	ErrLeaseLost = errors.New("workflow execution lease lost")
	// ErrUnknownWorkflow is returned when an execution names an unregistered workflow.
	ErrUnknownWorkflow = errors.New("unknown workflow")
	// ErrNoExecution is returned by Activity when ctx does not belong to an execution.
	ErrNoExecution = errors.New("activity called outside a workflow execution")
)

// Execution is the engine's record of one workflow run.
type Execution struct {
	ID             string           `json:"id"`
	Workflow       string           `json:"workflow"`
	Payload        json.RawMessage  `json:"payload"`
	Status         status.Execution `json:"status"`
	Attempts       int              `json:"attempts"`
	LeaseOwner     string           `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time       `json:"lease_expires_at,omitempty"`
	LastError      string           `json:"last_error,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}

// Checkpoint is the stored state of one activity of an execution.
type Checkpoint struct {
	ExecutionID string            `json:"execution_id"`
	Activity    string            `json:"activity"`
	Status      status.Checkpoint `json:"status"`
	Attempts    int               `json:"attempts"`
	Result      json.RawMessage   `json:"result,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Store persists executions and their checkpoints.
type Store interface {
	// CreateIfAbsent inserts a PENDING execution and reports false when the
	// key already exists, whatever its status.
	CreateIfAbsent(ctx context.Context, execution *Execution) (bool, error)
	Get(ctx context.Context, id string) (*Execution, error)
	Checkpoints(ctx context.Context, executionID string) ([]Checkpoint, error)
	// StartActivityAttempt increments and returns the durable attempt count
	// of an activity, creating its checkpoint on first use.
	StartActivityAttempt(ctx context.Context, executionID, activity string) (int, error)
	CompleteActivity(ctx context.Context, executionID, activity string, result json.RawMessage) error
	FailActivity(ctx context.Context, executionID, activity, errMsg string) error
	// Finish moves a RUNNING execution held by owner to a terminal status.
	// It returns ErrLeaseLost when owner no longer holds the lease.
	Finish(ctx context.Context, id, owner string, st status.Execution, errMsg string) error
}

// Queue hands executions to workers.
type Queue interface {
	// Claim leases the oldest PENDING execution, or a RUNNING one whose
	// lease expired, to owner. It returns nil when nothing is claimable.
	Claim(ctx context.Context, owner string, lease time.Duration) (*Execution, error)
	// ExtendLease pushes the lease forward and returns ErrLeaseLost when
	// owner no longer holds it.
	ExtendLease(ctx context.Context, id, owner string, lease time.Duration) error
	Depth(ctx context.Context) (int64, error)
}
