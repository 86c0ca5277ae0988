package planner

import "fmt"

// Model identifies a provider model as "provider:model".
type Model string

const (
	ModelGeminiFlashLite Model = "google:gemini-2.5-flash-lite"
	ModelGeminiFlash     Model = "google:gemini-2.5-flash"
	ModelGeminiPro       Model = "google:gemini-2.5-pro"
	ModelClaudeSonnet    Model = "anthropic:claude-4-sonnet"
	ModelClaudeOpus      Model = "anthropic:claude-4.1-opus"
)

// AnswerStyle selects the register of the answer prompt.
type AnswerStyle string

const (
	AnswerStyleFriendly AnswerStyle = "FRIENDLY"
	AnswerStyleFormal   AnswerStyle = "FORMAL"
)

// RefusalReason explains why a request is not answered.
type RefusalReason string

const (
	RefusalUserHostility RefusalReason = "USER_HOSTILITY"
	RefusalPolitics      RefusalReason = "POLITICS"
)

// KnowledgeSource names an external passage index the answer may draw on.
type KnowledgeSource string

const (
	KnowledgeSourceCoppermind KnowledgeSource = "COPPERMIND"
)

// PlanKind tags the ResponsePlan variant.
type PlanKind string

const (
	PlanRefusal     PlanKind = "refusal"
	PlanFulfillment PlanKind = "fulfillment"
)

// Refusal declines to answer.
type Refusal struct {
	Language string        `json:"language"`
	Reason   RefusalReason `json:"reason"`
}

// Fulfillment answers with the chosen model and options.
type Fulfillment struct {
	Language         string            `json:"language"`
	AnswerStyle      AnswerStyle       `json:"answer_style"`
	Model            Model             `json:"model"`
	ReasoningEnabled bool              `json:"reasoning_enabled"`
	KnowledgeSources []KnowledgeSource `json:"knowledge_sources"`
}

// ResponsePlan is either a Refusal or a Fulfillment. Exactly one pointer is set,
// matching Kind. The struct form keeps the plan JSON-serializable for checkpoints.
type ResponsePlan struct {
	Kind        PlanKind     `json:"kind"`
	Refusal     *Refusal     `json:"refusal,omitempty"`
	Fulfillment *Fulfillment `json:"fulfillment,omitempty"`
}

// NewRefusal wraps a Refusal as a plan.
func NewRefusal(r Refusal) ResponsePlan {
	return ResponsePlan{Kind: PlanRefusal, Refusal: &r}
}

// NewFulfillment wraps a Fulfillment as a plan.
func NewFulfillment(f Fulfillment) ResponsePlan {
	return ResponsePlan{Kind: PlanFulfillment, Fulfillment: &f}
}

// Match calls the handler for the plan's variant. Every caller handles both
// variants; a plan with an unknown kind is a programming error.
func Match[T any](p ResponsePlan, onRefusal func(Refusal) T, onFulfillment func(Fulfillment) T) T {
	switch p.Kind {
	case PlanRefusal:
		return onRefusal(*p.Refusal)
	case PlanFulfillment:
		return onFulfillment(*p.Fulfillment)
	default:
		panic(fmt.Sprintf("unhandled response plan kind %q", string(p.Kind)))
	}
}

// Validate checks that the plan's tag agrees with its payload.
func (p ResponsePlan) Validate() error {
	switch p.Kind {
	case PlanRefusal:
		if p.Refusal == nil || p.Fulfillment != nil {
			return fmt.Errorf("refusal plan must carry only a refusal")
		}
	case PlanFulfillment:
		if p.Fulfillment == nil || p.Refusal != nil {
			return fmt.Errorf("fulfillment plan must carry only a fulfillment")
		}
	default:
		return fmt.Errorf("unknown plan kind %q", p.Kind)
	}
	return nil
}

// Language returns the answer language of either variant.
func (p ResponsePlan) Language() string {
	return Match(p,
		func(r Refusal) string { return r.Language },
		func(f Fulfillment) string { return f.Language },
	)
}

// Label is the metric label for the plan variant.
func (p ResponsePlan) Label() string {
	return Match(p,
		func(Refusal) string { return string(PlanRefusal) },
		func(Fulfillment) string { return string(PlanFulfillment) },
	)
}
