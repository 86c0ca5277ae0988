package entities

import (
	"time"

	"bella-server/internal/domain/conversation"
)

// UserExperienceEvaluation stores an offline classifier verdict on an answer.
type UserExperienceEvaluation struct {
	ID          string     `gorm:"type:varchar(64);primaryKey"`
	MessageID   string     `gorm:"type:varchar(64);not null;index"`
	Category    string     `gorm:"type:varchar(32);not null"`
	Severity    string     `gorm:"type:varchar(16);not null"`
	Description string     `gorm:"type:text;not null;default:''"`
	CreatedAt   time.Time  `gorm:"not null"`
	ResolvedAt  *time.Time `gorm:"index"`
}

// TableName specifies the table name for UserExperienceEvaluation.
func (UserExperienceEvaluation) TableName() string {
	return "user_experience_evaluation"
}

// EtoD converts database entity to domain model
func (e *UserExperienceEvaluation) EtoD() *conversation.Evaluation {
	return &conversation.Evaluation{
		ID:          e.ID,
		MessageID:   e.MessageID,
		Category:    conversation.EvaluationCategory(e.Category),
		Severity:    conversation.EvaluationSeverity(e.Severity),
		Description: e.Description,
		CreatedAt:   e.CreatedAt,
		ResolvedAt:  e.ResolvedAt,
	}
}

// NewSchemaEvaluation creates a database entity from domain model
func NewSchemaEvaluation(e *conversation.Evaluation) *UserExperienceEvaluation {
	return &UserExperienceEvaluation{
		ID:          e.ID,
		MessageID:   e.MessageID,
		Category:    string(e.Category),
		Severity:    string(e.Severity),
		Description: e.Description,
		CreatedAt:   e.CreatedAt,
		ResolvedAt:  e.ResolvedAt,
	}
}
