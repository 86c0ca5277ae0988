// Package planner turns a classified conversation tail into a response plan.
package planner

import (
	"context"
	"fmt"

	"bella-server/internal/domain/retry"
)

// ClassifiedMessageCount is how many trailing messages the classifier sees.
const ClassifiedMessageCount = 3

// Plan maps a classification to a response plan. It is pure: the same
// classification always yields the same plan. Checks run in order and the
// first match wins.
func Plan(c Classification) ResponsePlan {
	switch {
	case c.Tone == ToneHostile:
		return NewRefusal(Refusal{Language: c.Language, Reason: RefusalUserHostility})
	case c.HasTopic(TopicPolitics):
		return NewRefusal(Refusal{Language: c.Language, Reason: RefusalPolitics})
	case c.HasTopic(TopicProgramming):
		return NewFulfillment(Fulfillment{
			Language:         c.Language,
			AnswerStyle:      styleFor(c.Tone),
			Model:            ModelClaudeSonnet,
			ReasoningEnabled: true,
			KnowledgeSources: []KnowledgeSource{},
		})
	}

	sources := []KnowledgeSource{}
	if c.HasTopic(TopicBrandonSandersonBooks) {
		sources = append(sources, KnowledgeSourceCoppermind)
	}

	return NewFulfillment(Fulfillment{
		Language:         c.Language,
		AnswerStyle:      styleFor(c.Tone),
		Model:            ModelForComplexity(c.Complexity),
		ReasoningEnabled: c.Complexity >= 6,
		KnowledgeSources: sources,
	})
}

// ModelForComplexity selects the model tier for a 0-10 complexity score.
func ModelForComplexity(complexity float64) Model {
	switch {
	case complexity < 4:
		return ModelGeminiFlashLite
	case complexity < 7:
		return ModelGeminiFlash
	case complexity < 10:
		return ModelGeminiPro
	default:
		return ModelClaudeOpus
	}
}

func styleFor(tone Tone) AnswerStyle {
	switch tone {
	case ToneFormal:
		return AnswerStyleFormal
	case ToneFriendly, TonePlayful, ToneHostile, ToneUnclassified:
		return AnswerStyleFriendly
	default:
		return AnswerStyleFriendly
	}
}

// HistoryMessage is a message as seen by the classifier.
type HistoryMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Classifier reads the conversation tail.
type Classifier interface {
	Classify(ctx context.Context, messages []HistoryMessage) (Classification, error)
}

// Planner classifies the conversation tail and plans the response.
type Planner struct {
	classifier Classifier
	policy     retry.Policy
}

// NewPlanner creates a planner using the classification retry schedule.
func NewPlanner(classifier Classifier) *Planner {
	return &Planner{classifier: classifier, policy: retry.ClassificationPolicy()}
}

// WithPolicy overrides the classification retry policy.
func (p *Planner) WithPolicy(policy retry.Policy) *Planner {
	p.policy = policy
	return p
}

// PlanResponse classifies the last ClassifiedMessageCount messages and returns the plan.
func (p *Planner) PlanResponse(ctx context.Context, history []HistoryMessage) (ResponsePlan, Classification, error) {
	if len(history) == 0 {
		return ResponsePlan{}, Classification{}, fmt.Errorf("plan response: empty history")
	}
	if len(history) > ClassifiedMessageCount {
		history = history[len(history)-ClassifiedMessageCount:]
	}

	classification, err := retry.ExecuteWithResult(ctx, p.policy, func(ctx context.Context, attempt int) (Classification, error) {
		return p.classifier.Classify(ctx, history)
	})
	if err != nil {
		return ResponsePlan{}, Classification{}, fmt.Errorf("classify messages: %w", err)
	}
	return Plan(classification), classification, nil
}
