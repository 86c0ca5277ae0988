package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	flowerrors "bella-server/internal/domain/errors"
	"bella-server/internal/domain/status"
	"bella-server/internal/utils/stringutils"
)

const maxTitleLength = 80

// ErrInvalidMessage is returned when an RPC payload is malformed.
var ErrInvalidMessage = errors.New("invalid message")

// TitleGenerator produces a short conversation title from the first user message.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, text string) (string, error)
}

// GenerationTrigger starts the durable answer workflow for an assistant message.
type GenerationTrigger interface {
	TriggerGeneration(ctx context.Context, conversationID, assistantMessageID string) error
}

// Service is the conversation actor. It keeps no state between calls: every
// operation reloads what it needs from storage inside one transaction.
type Service struct {
	repo        Repository
	evaluations EvaluationRepository
	titles      TitleGenerator
	trigger     GenerationTrigger
	now         func() time.Time
	log         zerolog.Logger
}

// NewService creates the conversation actor.
func NewService(
	repo Repository,
	evaluations EvaluationRepository,
	titles TitleGenerator,
	trigger GenerationTrigger,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:        repo,
		evaluations: evaluations,
		titles:      titles,
		trigger:     trigger,
		now:         time.Now,
		log:         log.With().Str("component", "conversation-actor").Logger(),
	}
}

// Start creates the conversation with its first user message and an
// IN_PROGRESS assistant message, then triggers generation.
func (s *Service) Start(ctx context.Context, conversationID string, user UserMessageInput, assistant AssistantMessageStub) (TransactionMarker, error) {
	if err := validateTurn(conversationID, user, assistant); err != nil {
		return "", err
	}

	title := s.generateTitle(ctx, user.Text())
	now := s.now().UTC()

	marker, err := s.repo.Transaction(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateConversation(ctx, &Conversation{
			ID:        conversationID,
			Title:     title,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		return s.insertTurn(ctx, conversationID, user, assistant, now)
	})
	if err != nil {
		return "", flowerrors.DataAccess(err, "start conversation")
	}

	s.triggerGeneration(ctx, conversationID, assistant.ID)
	return marker, nil
}

// Continue appends a user turn and an IN_PROGRESS assistant message to an
// existing conversation, then triggers generation.
func (s *Service) Continue(ctx context.Context, conversationID string, user UserMessageInput, assistant AssistantMessageStub) (TransactionMarker, error) {
	if err := validateTurn(conversationID, user, assistant); err != nil {
		return "", err
	}

	now := s.now().UTC()
	marker, err := s.repo.Transaction(ctx, func(ctx context.Context) error {
		if err := s.repo.TouchConversation(ctx, conversationID, now); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		return s.insertTurn(ctx, conversationID, user, assistant, now)
	})
	if err != nil {
		return "", flowerrors.DataAccess(err, "continue conversation")
	}

	s.triggerGeneration(ctx, conversationID, assistant.ID)
	return marker, nil
}

// StopGeneration marks an in-flight assistant message INTERRUPTED. The running
// workflow observes the status through its cached interruption check.
// A message that already reached a terminal status yields STOPPING_IDLE.
func (s *Service) StopGeneration(ctx context.Context, conversationID, assistantMessageID string) (TransactionMarker, error) {
	if conversationID == "" || assistantMessageID == "" {
		return "", fmt.Errorf("%w: conversation and message ids are required", ErrInvalidMessage)
	}

	var idle bool
	marker, err := s.repo.Transaction(ctx, func(ctx context.Context) error {
		changed, err := s.repo.TransitionMessage(ctx, conversationID, assistantMessageID, status.MessageInProgress, status.MessageInterrupted)
		if err != nil {
			return fmt.Errorf("interrupt message: %w", err)
		}
		idle = !changed
		return nil
	})
	if err != nil {
		return "", flowerrors.DataAccess(err, "stop generation")
	}
	if idle {
		s.log.Debug().
			Str("conversation_id", conversationID).
			Str("message_id", assistantMessageID).
			Msg("stop requested for idle message")
		return "", flowerrors.StoppingIdle(assistantMessageID)
	}

	s.log.Info().
		Str("conversation_id", conversationID).
		Str("message_id", assistantMessageID).
		Msg("generation interrupted")
	return marker, nil
}

// ChangeEvaluationResolvedStatus sets or clears an evaluation's resolved_at.
func (s *Service) ChangeEvaluationResolvedStatus(ctx context.Context, conversationID, evaluationID string, isResolved bool) (TransactionMarker, error) {
	if conversationID == "" || evaluationID == "" {
		return "", fmt.Errorf("%w: conversation and evaluation ids are required", ErrInvalidMessage)
	}

	var resolvedAt *time.Time
	if isResolved {
		now := s.now().UTC()
		resolvedAt = &now
	}

	marker, err := s.repo.Transaction(ctx, func(ctx context.Context) error {
		return s.evaluations.SetEvaluationResolvedAt(ctx, conversationID, evaluationID, resolvedAt)
	})
	if err != nil {
		return "", flowerrors.DataAccess(err, "change evaluation resolved status")
	}
	return marker, nil
}

// Messages returns the conversation's messages for the read path.
func (s *Service) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	if _, err := s.repo.FindConversation(ctx, conversationID); err != nil {
		return nil, flowerrors.DataAccess(err, "find conversation")
	}
	messages, err := s.repo.ListMessages(ctx, conversationID, 0)
	if err != nil {
		return nil, flowerrors.DataAccess(err, "list messages")
	}
	return messages, nil
}

func (s *Service) insertTurn(ctx context.Context, conversationID string, user UserMessageInput, assistant AssistantMessageStub, now time.Time) error {
	parts := make([]Part, len(user.Parts))
	for i, p := range user.Parts {
		parts[i] = Part{Type: PartTypeText, Text: p.Text, Attempt: 1, CreatedAt: now}
	}

	if err := s.repo.CreateMessage(ctx, &Message{
		ID:             user.ID,
		ConversationID: conversationID,
		Role:           RoleUser,
		Status:         status.MessageCompleted,
		CreatedAt:      now,
		Parts:          parts,
	}); err != nil {
		return fmt.Errorf("create user message: %w", err)
	}

	// The assistant row sorts after the user row even when both share a timestamp.
	if err := s.repo.CreateMessage(ctx, &Message{
		ID:             assistant.ID,
		ConversationID: conversationID,
		Role:           RoleAssistant,
		Status:         status.MessageInProgress,
		CreatedAt:      now.Add(time.Microsecond),
	}); err != nil {
		return fmt.Errorf("create assistant message: %w", err)
	}
	return nil
}

func (s *Service) generateTitle(ctx context.Context, text string) string {
	if s.titles != nil {
		title, err := s.titles.GenerateTitle(ctx, text)
		if err == nil {
			if title = stringutils.SanitizeTitle(title); title != "" {
				return stringutils.TruncateTitle(title, maxTitleLength)
			}
		} else {
			s.log.Warn().Err(err).Msg("title generation failed, using message text")
		}
	}
	return stringutils.FallbackTitle(text, maxTitleLength)
}

// triggerGeneration enqueues the workflow after the turn committed. Failures
// are logged rather than returned: the turn is durable and the recovery sweep
// re-triggers assistant messages left IN_PROGRESS.
func (s *Service) triggerGeneration(ctx context.Context, conversationID, assistantMessageID string) {
	if s.trigger == nil {
		return
	}
	if err := s.trigger.TriggerGeneration(context.WithoutCancel(ctx), conversationID, assistantMessageID); err != nil {
		s.log.Error().Err(err).
			Str("conversation_id", conversationID).
			Str("message_id", assistantMessageID).
			Msg("failed to trigger generation")
	}
}

func validateTurn(conversationID string, user UserMessageInput, assistant AssistantMessageStub) error {
	switch {
	case conversationID == "":
		return fmt.Errorf("%w: conversation id is required", ErrInvalidMessage)
	case user.ID == "" || assistant.ID == "":
		return fmt.Errorf("%w: user and assistant message ids are required", ErrInvalidMessage)
	case user.ID == assistant.ID:
		return fmt.Errorf("%w: user and assistant message ids must differ", ErrInvalidMessage)
	case len(user.Parts) == 0:
		return fmt.Errorf("%w: user message has no parts", ErrInvalidMessage)
	}
	for _, p := range user.Parts {
		if p.Type != PartTypeText {
			return fmt.Errorf("%w: user message parts must be text, got %q", ErrInvalidMessage, p.Type)
		}
	}
	return nil
}
