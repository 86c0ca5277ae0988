package entities

import (
	"time"

	"gorm.io/datatypes"

	"bella-server/internal/domain/status"
	"bella-server/internal/domain/workflow"
)

// WorkflowExecution is the engine's idempotency record, keyed by the
// workflow's idempotency key.
type WorkflowExecution struct {
	ID             string         `gorm:"type:varchar(255);primaryKey"`
	Workflow       string         `gorm:"type:varchar(64);not null"`
	Payload        datatypes.JSON `gorm:"type:jsonb"`
	Status         string         `gorm:"type:varchar(16);not null;index:idx_workflow_execution_claim,priority:1"`
	Attempts       int            `gorm:"not null;default:0"`
	LeaseOwner     *string        `gorm:"type:varchar(128)"`
	LeaseExpiresAt *time.Time
	LastError      *string   `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"not null;index:idx_workflow_execution_claim,priority:2"`
	UpdatedAt      time.Time `gorm:"not null"`
	CompletedAt    *time.Time
}

// TableName specifies the table name for WorkflowExecution.
func (WorkflowExecution) TableName() string {
	return "workflow_execution"
}

// EtoD converts database entity to domain model
func (e *WorkflowExecution) EtoD() *workflow.Execution {
	return &workflow.Execution{
		ID:             e.ID,
		Workflow:       e.Workflow,
		Payload:        []byte(e.Payload),
		Status:         status.Execution(e.Status),
		Attempts:       e.Attempts,
		LeaseOwner:     deref(e.LeaseOwner),
		LeaseExpiresAt: e.LeaseExpiresAt,
		LastError:      deref(e.LastError),
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
		CompletedAt:    e.CompletedAt,
	}
}

// NewSchemaWorkflowExecution creates a database entity from domain model
func NewSchemaWorkflowExecution(e *workflow.Execution) *WorkflowExecution {
	return &WorkflowExecution{
		ID:             e.ID,
		Workflow:       e.Workflow,
		Payload:        datatypes.JSON(e.Payload),
		Status:         string(e.Status),
		Attempts:       e.Attempts,
		LeaseOwner:     ref(e.LeaseOwner),
		LeaseExpiresAt: e.LeaseExpiresAt,
		LastError:      ref(e.LastError),
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
		CompletedAt:    e.CompletedAt,
	}
}

// WorkflowCheckpoint stores the state of one activity of an execution.
type WorkflowCheckpoint struct {
	ExecutionID string         `gorm:"type:varchar(255);primaryKey"`
	Activity    string         `gorm:"type:varchar(64);primaryKey"`
	Status      string         `gorm:"type:varchar(16);not null"`
	Attempts    int            `gorm:"not null;default:0"`
	Result      datatypes.JSON `gorm:"type:jsonb"`
	LastError   *string        `gorm:"type:text"`
	CreatedAt   time.Time      `gorm:"not null"`
	UpdatedAt   time.Time      `gorm:"not null"`
}

// TableName specifies the table name for WorkflowCheckpoint.
func (WorkflowCheckpoint) TableName() string {
	return "workflow_checkpoint"
}

// EtoD converts database entity to domain model
func (c *WorkflowCheckpoint) EtoD() *workflow.Checkpoint {
	return &workflow.Checkpoint{
		ExecutionID: c.ExecutionID,
		Activity:    c.Activity,
		Status:      status.Checkpoint(c.Status),
		Attempts:    c.Attempts,
		Result:      []byte(c.Result),
		LastError:   deref(c.LastError),
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ref(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
