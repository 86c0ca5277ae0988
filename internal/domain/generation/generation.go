// Package generation implements the GenerateMessage workflow: plan the
// response, then stream and persist the answer for one assistant message.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"bella-server/internal/domain/conversation"
	flowerrors "bella-server/internal/domain/errors"
	"bella-server/internal/domain/knowledge"
	"bella-server/internal/domain/llm"
	"bella-server/internal/domain/planner"
	"bella-server/internal/domain/retry"
	"bella-server/internal/domain/status"
	"bella-server/internal/domain/workflow"
)

const (
	WorkflowName = "GenerateMessage"

	ActivityDeterminePlan  = "determineResponsePlan"
	ActivityGenerateAnswer = "generateAnswerContent"

	// EvaluationWorkflowName is triggered after an answer completes.
	EvaluationWorkflowName = "EvaluateUserExperience"
)

// Payload identifies the assistant message to generate.
type Payload struct {
	ConversationID     string `json:"conversation_id"`
	AssistantMessageID string `json:"assistant_message_id"`
}

// Key is the idempotency key of the GenerateMessage execution for a message.
func Key(conversationID, assistantMessageID string) string {
	return conversationID + "/" + assistantMessageID
}

// EvaluationKey is the idempotency key of the evaluation that follows a message.
func EvaluationKey(conversationID, assistantMessageID string) string {
	return "evaluation/" + conversationID + "/" + assistantMessageID
}

// Outcome is the checkpointed result of the answer activity.
type Outcome struct {
	Status status.Message `json:"status"`
	Model  string         `json:"model"`
	Parts  int            `json:"parts"`
}

// Trigger inserts executions. It is satisfied by *workflow.Engine.
type Trigger interface {
	Trigger(ctx context.Context, workflow, key string, payload any) (bool, error)
}

// InterruptionChecker reports whether StopGeneration hit a message.
type InterruptionChecker interface {
	IsInterrupted(ctx context.Context, messageID string) (bool, error)
	Forget(messageID string)
}

// Recorder receives generation metrics.
type Recorder interface {
	RecordResponse(planType, model string)
	RecordGeneration(status string)
}

// storageInterruptions reads the status on every check.
type storageInterruptions struct {
	repo conversation.Repository
}

func (s storageInterruptions) IsInterrupted(ctx context.Context, messageID string) (bool, error) {
	st, err := s.repo.MessageStatus(ctx, messageID)
	if err != nil {
		return false, err
	}
	return st == status.MessageInterrupted, nil
}

func (storageInterruptions) Forget(string) {}

type nopRecorder struct{}

func (nopRecorder) RecordResponse(string, string) {}
func (nopRecorder) RecordGeneration(string)       {}

// Dependencies are the collaborators of the generator.
type Dependencies struct {
	Repository    conversation.Repository
	Classifier    planner.Classifier
	Streamer      llm.Streamer
	Queries       knowledge.QueryGenerator
	Retriever     knowledge.Retriever
	Interruptions InterruptionChecker
	Trigger       Trigger
	Recorder      Recorder
}

// Generator runs GenerateMessage.
type Generator struct {
	repo          conversation.Repository
	planner       *planner.Planner
	streamer      llm.Streamer
	queries       knowledge.QueryGenerator
	retriever     knowledge.Retriever
	interruptions InterruptionChecker
	trigger       Trigger
	recorder      Recorder

	planPolicy   retry.Policy
	answerPolicy retry.Policy
	log          zerolog.Logger
}

// NewGenerator creates the generator. The activity owns the classification
// retry schedule, so the planner itself does not retry. Without an
// InterruptionChecker every check reads the message status from the
// repository.
func NewGenerator(deps Dependencies, log zerolog.Logger) *Generator {
	recorder := deps.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	interruptions := deps.Interruptions
	if interruptions == nil {
		interruptions = storageInterruptions{repo: deps.Repository}
	}
	return &Generator{
		repo:          deps.Repository,
		planner:       planner.NewPlanner(deps.Classifier).WithPolicy(retry.NoRetryPolicy()),
		streamer:      deps.Streamer,
		queries:       deps.Queries,
		retriever:     deps.Retriever,
		interruptions: interruptions,
		trigger:       deps.Trigger,
		recorder:      recorder,
		planPolicy:    retry.ClassificationPolicy(),
		answerPolicy:  retry.DefaultPolicy(),
		log:           log.With().Str("component", "generate-message").Logger(),
	}
}

// WithPolicies overrides the activity retry policies.
func (g *Generator) WithPolicies(plan, answer retry.Policy) *Generator {
	g.planPolicy = plan
	g.answerPolicy = answer
	return g
}

// Definition returns the workflow definition to register with the engine.
func (g *Generator) Definition() workflow.Definition {
	return workflow.Definition{
		Name:       WorkflowName,
		Run:        g.run,
		Compensate: g.compensate,
	}
}

// TriggerGeneration starts GenerateMessage for an assistant message. A
// second trigger for the same message is absorbed by the idempotency key.
func (g *Generator) TriggerGeneration(ctx context.Context, conversationID, assistantMessageID string) error {
	_, err := g.trigger.Trigger(ctx, WorkflowName, Key(conversationID, assistantMessageID), Payload{
		ConversationID:     conversationID,
		AssistantMessageID: assistantMessageID,
	})
	return err
}

func (g *Generator) run(ctx context.Context, raw json.RawMessage) error {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	log := g.log.With().
		Str("conversation_id", p.ConversationID).
		Str("message_id", p.AssistantMessageID).
		Logger()

	plan, err := workflow.Activity(ctx, workflow.ActivityOptions{Name: ActivityDeterminePlan, Policy: g.planPolicy},
		func(ctx context.Context) (planner.ResponsePlan, error) {
			return g.determineResponsePlan(ctx, p)
		})
	if err != nil {
		return err
	}
	log.Info().Str("plan", plan.Label()).Str("language", plan.Language()).Msg("response planned")

	outcome, err := workflow.Activity(ctx, workflow.ActivityOptions{Name: ActivityGenerateAnswer, Policy: g.answerPolicy},
		func(ctx context.Context) (Outcome, error) {
			return g.generateAnswer(ctx, p, plan)
		})
	if err != nil {
		return err
	}
	g.interruptions.Forget(p.AssistantMessageID)

	g.recorder.RecordResponse(plan.Label(), outcome.Model)
	g.recorder.RecordGeneration(string(outcome.Status))
	log.Info().Str("status", string(outcome.Status)).Int("parts", outcome.Parts).Msg("answer generated")

	if outcome.Status == status.MessageCompleted && g.trigger != nil {
		if _, err := g.trigger.Trigger(ctx, EvaluationWorkflowName, EvaluationKey(p.ConversationID, p.AssistantMessageID), p); err != nil {
			log.Warn().Err(err).Msg("failed to trigger user experience evaluation")
		}
	}
	return nil
}

func (g *Generator) determineResponsePlan(ctx context.Context, p Payload) (planner.ResponsePlan, error) {
	messages, err := g.repo.ListMessages(ctx, p.ConversationID, 0)
	if err != nil {
		return planner.ResponsePlan{}, flowerrors.DataAccess(err, "load conversation history")
	}

	chat := promptHistory(messages, p.AssistantMessageID)
	history := make([]planner.HistoryMessage, len(chat))
	for i, m := range chat {
		history[i] = planner.HistoryMessage{Role: m.Role, Text: m.Content}
	}
	if len(history) == 0 {
		return planner.ResponsePlan{}, retry.Permanent(flowerrors.Classification(nil, "conversation has no user message to answer"))
	}

	plan, _, err := g.planner.PlanResponse(ctx, history)
	if err != nil {
		return planner.ResponsePlan{}, flowerrors.Classification(err, "classify conversation")
	}
	return plan, nil
}

func (g *Generator) compensate(ctx context.Context, raw json.RawMessage, cause error) {
	var p Payload
	_ = json.Unmarshal(raw, &p)

	var activityErr *workflow.ActivityError
	event := g.log.Error().Err(cause).
		Str("conversation_id", p.ConversationID).
		Str("message_id", p.AssistantMessageID).
		Str("kind", string(flowerrors.KindOf(cause)))
	if errors.As(cause, &activityErr) {
		event = event.Str("activity", activityErr.Activity).Int("attempts", activityErr.Attempts)
	}
	event.Msg("message generation failed")

	g.recorder.RecordGeneration("FAILED")
	g.interruptions.Forget(p.AssistantMessageID)
}

func chatRole(role conversation.Role) string {
	if role == conversation.RoleAssistant {
		return llm.RoleAssistant
	}
	return llm.RoleUser
}
