// Package evaluation implements the offline EvaluateUserExperience workflow.
// It reads the user's reaction to the previous answer and records negative
// experiences for review.
package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"bella-server/internal/domain/conversation"
	flowerrors "bella-server/internal/domain/errors"
	"bella-server/internal/domain/llm"
	"bella-server/internal/domain/retry"
	"bella-server/internal/domain/workflow"
	"bella-server/internal/utils/idgen"
)

const (
	WorkflowName = "EvaluateUserExperience"

	ActivityClassify = "classifyUserExperience"
	ActivityRecord   = "recordEvaluation"

	// minMessages is the history length below which there is no earlier answer to judge.
	minMessages = 3
)

// Payload names the assistant message whose turn triggered the evaluation.
type Payload struct {
	ConversationID     string `json:"conversation_id"`
	AssistantMessageID string `json:"assistant_message_id"`
}

// Experience is the classifier's verdict. A nil result, or an UNCLASSIFIED
// category, means nothing worth recording.
type Experience struct {
	Category    conversation.EvaluationCategory `json:"category" jsonschema:"enum=FACTUAL_ERROR,enum=UNNECESSARY_REFUSAL,enum=CONTEXT_IGNORED,enum=IRRELEVANT,enum=UNCLASSIFIED,description=FACTUAL_ERROR: the user points out incorrect information. UNNECESSARY_REFUSAL: the user does not understand why the answer was refused. CONTEXT_IGNORED: the answer ignored previously established facts. IRRELEVANT: off-topic or vague answers. UNCLASSIFIED: negative but fits nothing else"`
	Severity    conversation.EvaluationSeverity `json:"severity" jsonschema:"enum=LOW,enum=MEDIUM,enum=HIGH"`
	Description string                          `json:"description" jsonschema:"description=Short description of the negative experience in English"`
}

// Classification wraps the optional experience.
type Classification struct {
	Result *Experience `json:"result"`
}

// Classifier judges a slice of the conversation.
type Classifier interface {
	ClassifyUserExperience(ctx context.Context, messages []llm.ChatMessage) (Classification, error)
}

// verdict is the checkpointed output of the classify activity.
type verdict struct {
	EvaluationID string      `json:"evaluation_id,omitempty"`
	MessageID    string      `json:"message_id,omitempty"`
	Experience   *Experience `json:"experience,omitempty"`
}

// Evaluator runs EvaluateUserExperience.
type Evaluator struct {
	repo        conversation.Repository
	evaluations conversation.EvaluationRepository
	classifier  Classifier
	policy      retry.Policy
	log         zerolog.Logger
}

// NewEvaluator creates the evaluator.
func NewEvaluator(repo conversation.Repository, evaluations conversation.EvaluationRepository, classifier Classifier, log zerolog.Logger) *Evaluator {
	return &Evaluator{
		repo:        repo,
		evaluations: evaluations,
		classifier:  classifier,
		policy:      retry.ClassificationPolicy(),
		log:         log.With().Str("component", "evaluate-user-experience").Logger(),
	}
}

// WithPolicy overrides the activity retry policy.
func (e *Evaluator) WithPolicy(policy retry.Policy) *Evaluator {
	e.policy = policy
	return e
}

// Definition returns the workflow definition to register with the engine.
func (e *Evaluator) Definition() workflow.Definition {
	return workflow.Definition{
		Name:       WorkflowName,
		Run:        e.run,
		Compensate: e.compensate,
	}
}

func (e *Evaluator) run(ctx context.Context, raw json.RawMessage) error {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	v, err := workflow.Activity(ctx, workflow.ActivityOptions{Name: ActivityClassify, Policy: e.policy},
		func(ctx context.Context) (verdict, error) {
			return e.classify(ctx, p)
		})
	if err != nil {
		return err
	}
	if v.Experience == nil {
		return nil
	}

	_, err = workflow.Activity(ctx, workflow.ActivityOptions{Name: ActivityRecord, Policy: e.policy},
		func(ctx context.Context) (string, error) {
			return v.EvaluationID, e.record(ctx, v)
		})
	return err
}

func (e *Evaluator) classify(ctx context.Context, p Payload) (verdict, error) {
	messages, err := e.repo.ListMessages(ctx, p.ConversationID, 0)
	if err != nil {
		return verdict{}, flowerrors.Evaluation(err, "load conversation history")
	}

	// Judge the turn before the answer that triggered the evaluation.
	end := len(messages)
	for i, m := range messages {
		if m.ID == p.AssistantMessageID {
			end = i + 1
			break
		}
	}
	messages = messages[:end]
	if len(messages) < minMessages {
		return verdict{}, nil
	}

	judged := messages[len(messages)-minMessages : len(messages)-1]
	target := judged[len(judged)-1]
	if target.Role != conversation.RoleUser {
		e.log.Warn().Str("message_id", target.ID).Msg("second to last message is not a user message, skipping evaluation")
		return verdict{}, nil
	}

	prompt := make([]llm.ChatMessage, 0, len(judged))
	for _, m := range judged {
		role := llm.RoleUser
		if m.Role == conversation.RoleAssistant {
			role = llm.RoleAssistant
		}
		prompt = append(prompt, llm.ChatMessage{Role: role, Content: m.Text()})
	}

	classification, err := e.classifier.ClassifyUserExperience(ctx, prompt)
	if err != nil {
		return verdict{}, flowerrors.Evaluation(err, "classify user experience")
	}

	experience := classification.Result
	if experience == nil || experience.Category == conversation.EvaluationUnclassified {
		return verdict{}, nil
	}
	return verdict{
		EvaluationID: idgen.New("eval"),
		MessageID:    target.ID,
		Experience:   experience,
	}, nil
}

// record inserts the evaluation once; the id comes from the classify checkpoint
// so a retried insert finds the existing row.
func (e *Evaluator) record(ctx context.Context, v verdict) error {
	if _, err := e.evaluations.FindEvaluation(ctx, v.EvaluationID); err == nil {
		return nil
	} else if !errors.Is(err, conversation.ErrNotFound) {
		return flowerrors.Evaluation(err, "look up evaluation")
	}

	if err := e.evaluations.CreateEvaluation(ctx, &conversation.Evaluation{
		ID:          v.EvaluationID,
		MessageID:   v.MessageID,
		Category:    v.Experience.Category,
		Severity:    v.Experience.Severity,
		Description: v.Experience.Description,
	}); err != nil {
		return flowerrors.Evaluation(err, "insert evaluation")
	}

	e.log.Info().
		Str("evaluation_id", v.EvaluationID).
		Str("message_id", v.MessageID).
		Str("category", string(v.Experience.Category)).
		Str("severity", string(v.Experience.Severity)).
		Msg("negative user experience recorded")
	return nil
}

func (e *Evaluator) compensate(ctx context.Context, raw json.RawMessage, cause error) {
	var p Payload
	_ = json.Unmarshal(raw, &p)
	e.log.Warn().Err(cause).
		Str("conversation_id", p.ConversationID).
		Str("message_id", p.AssistantMessageID).
		Msg("user experience evaluation failed")
}
