package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bella-server/internal/domain/status"
	domain "bella-server/internal/domain/workflow"
	"bella-server/internal/infrastructure/database"
	"bella-server/internal/infrastructure/database/entities"
)

// Store persists workflow executions and checkpoints.
type Store struct {
	db  *database.Database
	now func() time.Time
}

var _ domain.Store = (*Store)(nil)

// NewStore builds a workflow store.
func NewStore(db *database.Database) *Store {
	return &Store{db: db, now: time.Now}
}

// CreateIfAbsent inserts a PENDING execution unless the key exists.
func (s *Store) CreateIfAbsent(ctx context.Context, execution *domain.Execution) (bool, error) {
	now := s.now().UTC()
	entity := entities.NewSchemaWorkflowExecution(execution)
	entity.Status = string(status.ExecutionPending)
	entity.Attempts = 0
	entity.CreatedAt = now
	entity.UpdatedAt = now

	result := s.db.GetTx(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(entity)
	if result.Error != nil {
		return false, fmt.Errorf("insert execution %s: %w", execution.ID, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Get fetches an execution by idempotency key.
func (s *Store) Get(ctx context.Context, id string) (*domain.Execution, error) {
	var entity entities.WorkflowExecution
	if err := s.db.GetTx(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("execution %s: %w", id, domain.ErrExecutionNotFound)
		}
		return nil, fmt.Errorf("fetch execution %s: %w", id, err)
	}
	return entity.EtoD(), nil
}

// Checkpoints lists the checkpoints of an execution in creation order.
func (s *Store) Checkpoints(ctx context.Context, executionID string) ([]domain.Checkpoint, error) {
	var rows []entities.WorkflowCheckpoint
	if err := s.db.GetTx(ctx).
		Where("execution_id = ?", executionID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list checkpoints of %s: %w", executionID, err)
	}
	out := make([]domain.Checkpoint, len(rows))
	for i := range rows {
		out[i] = *rows[i].EtoD()
	}
	return out, nil
}

// StartActivityAttempt increments the durable attempt counter of an activity.
func (s *Store) StartActivityAttempt(ctx context.Context, executionID, activity string) (int, error) {
	var attempts int
	_, err := s.db.Transaction(ctx, func(ctx context.Context) error {
		tx := s.db.GetTx(ctx)
		now := s.now().UTC()

		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entities.WorkflowCheckpoint{
			ExecutionID: executionID,
			Activity:    activity,
			Status:      string(status.CheckpointRunning),
			CreatedAt:   now,
			UpdatedAt:   now,
		}).Error; err != nil {
			return fmt.Errorf("insert checkpoint: %w", err)
		}

		if err := tx.Model(&entities.WorkflowCheckpoint{}).
			Where("execution_id = ? AND activity = ?", executionID, activity).
			UpdateColumns(map[string]any{
				"attempts":   gorm.Expr("attempts + 1"),
				"status":     string(status.CheckpointRunning),
				"updated_at": now,
			}).Error; err != nil {
			return fmt.Errorf("increment attempts: %w", err)
		}

		var cp entities.WorkflowCheckpoint
		if err := tx.Select("attempts").
			Where("execution_id = ? AND activity = ?", executionID, activity).
			First(&cp).Error; err != nil {
			return fmt.Errorf("read attempts: %w", err)
		}
		attempts = cp.Attempts
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("start %s attempt for %s: %w", activity, executionID, err)
	}
	return attempts, nil
}

// CompleteActivity stores the activity result.
func (s *Store) CompleteActivity(ctx context.Context, executionID, activity string, result json.RawMessage) error {
	return s.updateCheckpoint(ctx, executionID, activity, map[string]any{
		"status":     string(status.CheckpointCompleted),
		"result":     datatypes.JSON(result),
		"last_error": nil,
		"updated_at": s.now().UTC(),
	})
}

// FailActivity records the final error of an activity.
func (s *Store) FailActivity(ctx context.Context, executionID, activity, errMsg string) error {
	return s.updateCheckpoint(ctx, executionID, activity, map[string]any{
		"status":     string(status.CheckpointFailed),
		"last_error": errMsg,
		"updated_at": s.now().UTC(),
	})
}

// Finish moves a RUNNING execution held by owner to a terminal status.
func (s *Store) Finish(ctx context.Context, id, owner string, st status.Execution, errMsg string) error {
	if !st.IsTerminal() {
		return fmt.Errorf("finish execution %s with %s: %w", id, st, status.ErrInvalidTransition)
	}

	now := s.now().UTC()
	var lastError any
	if errMsg != "" {
		lastError = errMsg
	}

	result := s.db.GetTx(ctx).
		Model(&entities.WorkflowExecution{}).
		Where("id = ? AND status = ? AND lease_owner = ?", id, string(status.ExecutionRunning), owner).
		UpdateColumns(map[string]any{
			"status":           string(st),
			"last_error":       lastError,
			"lease_owner":      nil,
			"lease_expires_at": nil,
			"completed_at":     now,
			"updated_at":       now,
		})
	if result.Error != nil {
		return fmt.Errorf("finish execution %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("finish execution %s: %w", id, domain.ErrLeaseLost)
	}
	return nil
}

func (s *Store) updateCheckpoint(ctx context.Context, executionID, activity string, values map[string]any) error {
	result := s.db.GetTx(ctx).
		Model(&entities.WorkflowCheckpoint{}).
		Where("execution_id = ? AND activity = ?", executionID, activity).
		UpdateColumns(values)
	if result.Error != nil {
		return fmt.Errorf("update checkpoint %s/%s: %w", executionID, activity, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("checkpoint %s/%s not found", executionID, activity)
	}
	return nil
}
