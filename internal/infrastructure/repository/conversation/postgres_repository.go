package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "bella-server/internal/domain/conversation"
	"bella-server/internal/domain/status"
	"bella-server/internal/infrastructure/database"
	"bella-server/internal/infrastructure/database/entities"
	"bella-server/internal/utils/idgen"
)

// Repository persists conversations, messages, parts and evaluations.
type Repository struct {
	db  *database.Database
	now func() time.Time
}

var (
	_ domain.Repository           = (*Repository)(nil)
	_ domain.EvaluationRepository = (*Repository)(nil)
)

// NewRepository builds a conversation repository.
func NewRepository(db *database.Database) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Transaction runs fn in one transaction and returns its marker.
func (r *Repository) Transaction(ctx context.Context, fn func(ctx context.Context) error) (domain.TransactionMarker, error) {
	marker, err := r.db.Transaction(ctx, fn)
	return domain.TransactionMarker(marker), err
}

// CreateConversation inserts the conversation record.
func (r *Repository) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	if err := r.db.GetTx(ctx).Create(entities.NewSchemaConversation(conv)).Error; err != nil {
		return fmt.Errorf("insert conversation %s: %w", conv.ID, err)
	}
	return nil
}

// FindConversation fetches a live conversation by id.
func (r *Repository) FindConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var entity entities.Conversation
	if err := r.db.GetTx(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("fetch conversation %s: %w", id, err)
	}
	return entity.EtoD(), nil
}

// TouchConversation bumps updated_at.
func (r *Repository) TouchConversation(ctx context.Context, id string, at time.Time) error {
	result := r.db.GetTx(ctx).
		Model(&entities.Conversation{}).
		Where("id = ?", id).
		UpdateColumn("updated_at", at)
	if result.Error != nil {
		return fmt.Errorf("touch conversation %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// CreateMessage inserts the message and its parts.
func (r *Repository) CreateMessage(ctx context.Context, msg *domain.Message) error {
	tx := r.db.GetTx(ctx)
	if err := tx.Create(entities.NewSchemaMessage(msg)).Error; err != nil {
		return fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	for i := range msg.Parts {
		msg.Parts[i].MessageID = msg.ID
		if err := r.insertPart(tx, &msg.Parts[i]); err != nil {
			return err
		}
	}
	return nil
}

// FindMessage fetches a message with the newest attempt's parts.
func (r *Repository) FindMessage(ctx context.Context, id string) (*domain.Message, error) {
	var entity entities.Message
	if err := r.db.GetTx(ctx).
		Preload("Parts", orderParts).
		Where("id = ?", id).
		First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("fetch message %s: %w", id, err)
	}
	msg := entity.EtoD()
	msg.Parts = newestAttempt(msg.Parts)
	return msg, nil
}

// MessageStatus reads only the status column.
func (r *Repository) MessageStatus(ctx context.Context, id string) (status.Message, error) {
	var entity entities.Message
	if err := r.db.GetTx(ctx).Select("status").Where("id = ?", id).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
		}
		return "", fmt.Errorf("fetch message status %s: %w", id, err)
	}
	return status.Message(entity.Status), nil
}

// ListMessages returns the newest limit messages oldest first.
func (r *Repository) ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	query := r.db.GetTx(ctx).
		Preload("Parts", orderParts).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []entities.Message
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", conversationID, err)
	}

	messages := make([]domain.Message, len(rows))
	for i := range rows {
		msg := rows[i].EtoD()
		msg.Parts = newestAttempt(msg.Parts)
		messages[len(rows)-1-i] = *msg
	}
	return messages, nil
}

// TransitionMessage is a conditional status update.
func (r *Repository) TransitionMessage(ctx context.Context, conversationID, messageID string, from, to status.Message) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("transition %s -> %s: %w", from, to, status.ErrInvalidTransition)
	}
	result := r.db.GetTx(ctx).
		Model(&entities.Message{}).
		Where("id = ? AND conversation_id = ? AND status = ?", messageID, conversationID, string(from)).
		UpdateColumn("status", string(to))
	if result.Error != nil {
		return false, fmt.Errorf("update message %s status: %w", messageID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListStaleGenerating returns assistant messages stuck IN_PROGRESS that have
// no generation execution. Messages whose execution exists are left to the
// engine's lease re-claim.
func (r *Repository) ListStaleGenerating(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Message, error) {
	var rows []entities.Message
	if err := r.db.GetTx(ctx).
		Where("role = ? AND status = ? AND created_at < ?", string(domain.RoleAssistant), string(status.MessageInProgress), createdBefore).
		Where("NOT EXISTS (SELECT 1 FROM workflow_execution e WHERE e.id = message.conversation_id || '/' || message.id)").
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list stale generating messages: %w", err)
	}

	messages := make([]domain.Message, len(rows))
	for i := range rows {
		messages[i] = *rows[i].EtoD()
	}
	return messages, nil
}

// AppendPart inserts a new part row.
func (r *Repository) AppendPart(ctx context.Context, part *domain.Part) error {
	return r.insertPart(r.db.GetTx(ctx), part)
}

// CompleteKnowledgeSearch writes results into a pending knowledge search part.
func (r *Repository) CompleteKnowledgeSearch(ctx context.Context, partID string, results []domain.KnowledgeResult) error {
	if results == nil {
		results = []domain.KnowledgeResult{}
	}

	_, err := r.db.Transaction(ctx, func(ctx context.Context) error {
		tx := r.db.GetTx(ctx)

		var entity entities.MessagePart
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", partID).First(&entity).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("message part %s: %w", partID, domain.ErrNotFound)
			}
			return fmt.Errorf("fetch message part %s: %w", partID, err)
		}

		data := entity.Data.Data()
		if entity.Type != string(domain.PartTypeKnowledgeSearch) || data.KnowledgeSearch == nil {
			return fmt.Errorf("message part %s is not a knowledge search", partID)
		}
		if !data.KnowledgeSearch.Pending() {
			return fmt.Errorf("message part %s: %w", partID, domain.ErrAlreadyBackfilled)
		}

		data.KnowledgeSearch.Results = results
		if err := tx.Model(&entities.MessagePart{}).
			Where("id = ?", partID).
			UpdateColumn("data", datatypes.NewJSONType(data)).Error; err != nil {
			return fmt.Errorf("write knowledge search results %s: %w", partID, err)
		}
		return nil
	})
	return err
}

// CreateEvaluation inserts an evaluation.
func (r *Repository) CreateEvaluation(ctx context.Context, evaluation *domain.Evaluation) error {
	if evaluation.ID == "" {
		evaluation.ID = idgen.New("eval")
	}
	if evaluation.CreatedAt.IsZero() {
		evaluation.CreatedAt = r.now().UTC()
	}
	if err := r.db.GetTx(ctx).Create(entities.NewSchemaEvaluation(evaluation)).Error; err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

// FindEvaluation fetches an evaluation by id.
func (r *Repository) FindEvaluation(ctx context.Context, id string) (*domain.Evaluation, error) {
	var entity entities.UserExperienceEvaluation
	if err := r.db.GetTx(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("evaluation %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("fetch evaluation %s: %w", id, err)
	}
	return entity.EtoD(), nil
}

// SetEvaluationResolvedAt sets or clears resolved_at of an evaluation that
// belongs to one of the conversation's messages.
func (r *Repository) SetEvaluationResolvedAt(ctx context.Context, conversationID, evaluationID string, resolvedAt *time.Time) error {
	tx := r.db.GetTx(ctx)
	owned := tx.Session(&gorm.Session{NewDB: true}).
		Model(&entities.Message{}).
		Select("id").
		Where("conversation_id = ?", conversationID)

	result := tx.Model(&entities.UserExperienceEvaluation{}).
		Where("id = ? AND message_id IN (?)", evaluationID, owned).
		UpdateColumn("resolved_at", resolvedAt)
	if result.Error != nil {
		return fmt.Errorf("update evaluation %s: %w", evaluationID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("evaluation %s in conversation %s: %w", evaluationID, conversationID, domain.ErrNotFound)
	}
	return nil
}

func (r *Repository) insertPart(tx *gorm.DB, part *domain.Part) error {
	if part.ID == "" {
		part.ID = idgen.New("part")
	}
	if part.CreatedAt.IsZero() {
		part.CreatedAt = r.now().UTC()
	}
	if part.Attempt <= 0 {
		part.Attempt = 1
	}
	if err := tx.Create(entities.NewSchemaMessagePart(part)).Error; err != nil {
		return fmt.Errorf("insert message part for %s: %w", part.MessageID, err)
	}
	return nil
}

func orderParts(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC, id ASC")
}

// newestAttempt keeps the parts written by the latest generation attempt.
func newestAttempt(parts []domain.Part) []domain.Part {
	latest := 0
	for _, p := range parts {
		if p.Attempt > latest {
			latest = p.Attempt
		}
	}
	out := make([]domain.Part, 0, len(parts))
	for _, p := range parts {
		if p.Attempt == latest {
			out = append(out, p)
		}
	}
	return out
}
