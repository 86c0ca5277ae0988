package conversation

import (
	"context"
	"errors"
	"time"

	"bella-server/internal/domain/status"
)

// ErrNotFound is returned when a conversation, message or evaluation does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyBackfilled is returned when knowledge search results were already written.
var ErrAlreadyBackfilled = errors.New("knowledge search results already written")

// Repository persists conversations, messages and their parts.
//
// Methods called with a context returned by Transaction's callback run inside
// that transaction.
type Repository interface {
	// Transaction runs fn in one storage transaction and returns its marker.
	Transaction(ctx context.Context, fn func(ctx context.Context) error) (TransactionMarker, error)

	CreateConversation(ctx context.Context, conversation *Conversation) error
	FindConversation(ctx context.Context, id string) (*Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error

	// CreateMessage inserts the message and its parts.
	CreateMessage(ctx context.Context, message *Message) error
	FindMessage(ctx context.Context, id string) (*Message, error)
	MessageStatus(ctx context.Context, id string) (status.Message, error)
	// ListMessages returns the newest limit messages oldest first, with parts
	// in generation order. limit <= 0 returns all messages.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
	// TransitionMessage moves a message from one status to another and
	// reports false when the message was not in the from status.
	TransitionMessage(ctx context.Context, conversationID, messageID string, from, to status.Message) (bool, error)
	// ListStaleGenerating returns assistant messages still IN_PROGRESS that
	// were created before the cutoff.
	ListStaleGenerating(ctx context.Context, createdBefore time.Time, limit int) ([]Message, error)

	AppendPart(ctx context.Context, part *Part) error
	// CompleteKnowledgeSearch writes results into a pending knowledge search part once.
	CompleteKnowledgeSearch(ctx context.Context, partID string, results []KnowledgeResult) error
}

// EvaluationRepository persists user-experience evaluations.
type EvaluationRepository interface {
	CreateEvaluation(ctx context.Context, evaluation *Evaluation) error
	FindEvaluation(ctx context.Context, id string) (*Evaluation, error)
	// SetEvaluationResolvedAt sets or clears resolved_at for an evaluation
	// that belongs to the conversation.
	SetEvaluationResolvedAt(ctx context.Context, conversationID, evaluationID string, resolvedAt *time.Time) error
}
