// Package queue hands workflow executions to workers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bella-server/internal/domain/status"
	"bella-server/internal/domain/workflow"
	"bella-server/internal/infrastructure/database"
	"bella-server/internal/infrastructure/database/entities"
)

// PostgresQueue implements workflow.Queue on the workflow_execution table.
type PostgresQueue struct {
	db  *database.Database
	now func() time.Time
	log zerolog.Logger
}

var _ workflow.Queue = (*PostgresQueue)(nil)

// NewPostgresQueue creates a new PostgreSQL-backed execution queue.
func NewPostgresQueue(db *database.Database, log zerolog.Logger) *PostgresQueue {
	return &PostgresQueue{
		db:  db,
		now: time.Now,
		log: log.With().Str("component", "postgres-queue").Logger(),
	}
}

// Claim leases the oldest claimable execution using FOR UPDATE SKIP LOCKED,
// so concurrent runners never receive the same row.
func (q *PostgresQueue) Claim(ctx context.Context, owner string, lease time.Duration) (*workflow.Execution, error) {
	var claimed *workflow.Execution

	_, err := q.db.Transaction(ctx, func(ctx context.Context) error {
		tx := q.db.GetTx(ctx)
		now := q.now().UTC()

		var entity entities.WorkflowExecution
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", string(status.ExecutionPending)).
			Or("status = ? AND lease_expires_at <= ?", string(status.ExecutionRunning), now).
			Order("created_at ASC").
			Order("id ASC").
			First(&entity).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("select claimable execution: %w", err)
		}

		expires := now.Add(lease)
		if err := tx.Model(&entities.WorkflowExecution{}).
			Where("id = ?", entity.ID).
			UpdateColumns(map[string]any{
				"status":           string(status.ExecutionRunning),
				"attempts":         gorm.Expr("attempts + 1"),
				"lease_owner":      owner,
				"lease_expires_at": expires,
				"updated_at":       now,
			}).Error; err != nil {
			return fmt.Errorf("lease execution %s: %w", entity.ID, err)
		}

		if entity.Status == string(status.ExecutionRunning) {
			q.log.Warn().
				Str("execution_id", entity.ID).
				Str("previous_owner", deref(entity.LeaseOwner)).
				Str("owner", owner).
				Msg("reclaiming execution with expired lease")
		}

		entity.Status = string(status.ExecutionRunning)
		entity.Attempts++
		entity.LeaseOwner = &owner
		entity.LeaseExpiresAt = &expires
		entity.UpdatedAt = now
		claimed = entity.EtoD()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim execution: %w", err)
	}
	return claimed, nil
}

// ExtendLease pushes the lease of a running execution forward.
func (q *PostgresQueue) ExtendLease(ctx context.Context, id, owner string, lease time.Duration) error {
	now := q.now().UTC()
	result := q.db.GetTx(ctx).
		Model(&entities.WorkflowExecution{}).
		Where("id = ? AND status = ? AND lease_owner = ?", id, string(status.ExecutionRunning), owner).
		UpdateColumns(map[string]any{
			"lease_expires_at": now.Add(lease),
			"updated_at":       now,
		})
	if result.Error != nil {
		return fmt.Errorf("extend lease of %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("extend lease of %s: %w", id, workflow.ErrLeaseLost)
	}
	return nil
}

// Depth returns the number of executions waiting for a worker.
func (q *PostgresQueue) Depth(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.GetTx(ctx).
		Model(&entities.WorkflowExecution{}).
		Where("status = ?", string(status.ExecutionPending)).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("get queue depth: %w", err)
	}
	return count, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
