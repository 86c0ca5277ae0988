package planner

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"bella-server/internal/domain/retry"
)

func TestPlan_DecisionOrder(t *testing.T) {
	tests := []struct {
		name string
		in   Classification
		want ResponsePlan
	}{
		{
			name: "hostile tone wins over topics",
			in:   Classification{Language: "en", Tone: ToneHostile, Complexity: 9, Topics: []Topic{TopicProgramming}},
			want: NewRefusal(Refusal{Language: "en", Reason: RefusalUserHostility}),
		},
		{
			name: "hostile tone wins over politics",
			in:   Classification{Language: "de", Tone: ToneHostile, Topics: []Topic{TopicPolitics}},
			want: NewRefusal(Refusal{Language: "de", Reason: RefusalUserHostility}),
		},
		{
			name: "politics refused before programming",
			in:   Classification{Language: "en", Tone: ToneFriendly, Complexity: 2, Topics: []Topic{TopicProgramming, TopicPolitics}},
			want: NewRefusal(Refusal{Language: "en", Reason: RefusalPolitics}),
		},
		{
			name: "programming uses flagship with reasoning and no knowledge",
			in:   Classification{Language: "en", Tone: ToneFormal, Complexity: 1, Topics: []Topic{TopicProgramming, TopicBrandonSandersonBooks}},
			want: NewFulfillment(Fulfillment{
				Language:         "en",
				AnswerStyle:      AnswerStyleFormal,
				Model:            ModelClaudeSonnet,
				ReasoningEnabled: true,
				KnowledgeSources: []KnowledgeSource{},
			}),
		},
		{
			name: "sanderson topic adds coppermind",
			in:   Classification{Language: "en", Tone: TonePlayful, Complexity: 5, Topics: []Topic{TopicBrandonSandersonBooks}},
			want: NewFulfillment(Fulfillment{
				Language:         "en",
				AnswerStyle:      AnswerStyleFriendly,
				Model:            ModelGeminiFlash,
				ReasoningEnabled: false,
				KnowledgeSources: []KnowledgeSource{KnowledgeSourceCoppermind},
			}),
		},
		{
			name: "plain question",
			in:   Classification{Language: "fr", Tone: ToneUnclassified, Complexity: 10},
			want: NewFulfillment(Fulfillment{
				Language:         "fr",
				AnswerStyle:      AnswerStyleFriendly,
				Model:            ModelClaudeOpus,
				ReasoningEnabled: true,
				KnowledgeSources: []KnowledgeSource{},
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Plan(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Plan() = %+v, want %+v", describe(got), describe(tt.want))
			}
			if err := got.Validate(); err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}

func TestPlan_IsDeterministic(t *testing.T) {
	in := Classification{Language: "en", Tone: ToneHostile, Complexity: 9, Topics: []Topic{TopicProgramming}}
	first := Plan(in)
	for i := 0; i < 100; i++ {
		if got := Plan(in); !reflect.DeepEqual(got, first) {
			t.Fatalf("Plan() run %d = %+v, want %+v", i, describe(got), describe(first))
		}
	}
}

func TestModelForComplexity_Boundaries(t *testing.T) {
	tests := []struct {
		complexity float64
		want       Model
	}{
		{0, ModelGeminiFlashLite},
		{3.9, ModelGeminiFlashLite},
		{4.0, ModelGeminiFlash},
		{6.9, ModelGeminiFlash},
		{7.0, ModelGeminiPro},
		{9.99, ModelGeminiPro},
		{10, ModelClaudeOpus},
	}

	for _, tt := range tests {
		if got := ModelForComplexity(tt.complexity); got != tt.want {
			t.Errorf("ModelForComplexity(%v) = %v, want %v", tt.complexity, got, tt.want)
		}
	}
}

func TestPlan_ReasoningThreshold(t *testing.T) {
	tests := []struct {
		complexity float64
		want       bool
	}{
		{5.9, false},
		{6.0, true},
		{8, true},
	}

	for _, tt := range tests {
		plan := Plan(Classification{Language: "en", Tone: ToneFriendly, Complexity: tt.complexity})
		if got := plan.Fulfillment.ReasoningEnabled; got != tt.want {
			t.Errorf("ReasoningEnabled at complexity %v = %v, want %v", tt.complexity, got, tt.want)
		}
	}
}

func TestAnswerStyleFromTone(t *testing.T) {
	tests := []struct {
		tone Tone
		want AnswerStyle
	}{
		{ToneFormal, AnswerStyleFormal},
		{ToneFriendly, AnswerStyleFriendly},
		{TonePlayful, AnswerStyleFriendly},
		{ToneUnclassified, AnswerStyleFriendly},
	}

	for _, tt := range tests {
		plan := Plan(Classification{Language: "en", Tone: tt.tone, Complexity: 1})
		if got := plan.Fulfillment.AnswerStyle; got != tt.want {
			t.Errorf("AnswerStyle for %v = %v, want %v", tt.tone, got, tt.want)
		}
	}
}

func TestResponsePlan_JSONRoundTripKeepsVariant(t *testing.T) {
	plan := NewRefusal(Refusal{Language: "en", Reason: RefusalPolitics})
	raw, err := json.Marshal(plan)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded ResponsePlan
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.Label() != "refusal" || decoded.Refusal.Reason != RefusalPolitics {
		t.Errorf("decoded plan = %+v, want politics refusal", describe(decoded))
	}
}

func TestResponsePlan_ValidateRejectsMismatch(t *testing.T) {
	bad := ResponsePlan{Kind: PlanRefusal, Fulfillment: &Fulfillment{}}
	if err := bad.Validate(); err == nil {
		t.Error("Validate() error = nil, want mismatch error")
	}
	if err := (ResponsePlan{Kind: "other"}).Validate(); err == nil {
		t.Error("Validate() error = nil for unknown kind")
	}
}

type mockClassifier struct {
	ClassifyFunc func(ctx context.Context, messages []HistoryMessage) (Classification, error)
}

func (m *mockClassifier) Classify(ctx context.Context, messages []HistoryMessage) (Classification, error) {
	return m.ClassifyFunc(ctx, messages)
}

func fastRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffStrategy: retry.BackoffFixed}
}

func TestPlanner_SeesOnlyTail(t *testing.T) {
	var seen []HistoryMessage
	classifier := &mockClassifier{ClassifyFunc: func(ctx context.Context, messages []HistoryMessage) (Classification, error) {
		seen = messages
		return Classification{Language: "en", Tone: ToneFriendly, Complexity: 2}, nil
	}}

	history := []HistoryMessage{
		{Role: "user", Text: "one"},
		{Role: "assistant", Text: "two"},
		{Role: "user", Text: "three"},
		{Role: "assistant", Text: "four"},
		{Role: "user", Text: "five"},
	}

	plan, _, err := NewPlanner(classifier).WithPolicy(fastRetry()).PlanResponse(context.Background(), history)
	if err != nil {
		t.Fatalf("PlanResponse() error = %v", err)
	}
	if len(seen) != ClassifiedMessageCount || seen[0].Text != "three" || seen[2].Text != "five" {
		t.Errorf("classifier saw %+v, want last three messages", seen)
	}
	if plan.Fulfillment == nil || plan.Fulfillment.Model != ModelGeminiFlashLite {
		t.Errorf("PlanResponse() = %+v, want flash-lite fulfillment", describe(plan))
	}
}

func TestPlanner_RetriesClassifier(t *testing.T) {
	calls := 0
	classifier := &mockClassifier{ClassifyFunc: func(ctx context.Context, messages []HistoryMessage) (Classification, error) {
		calls++
		if calls < 3 {
			return Classification{}, errors.New("rate limited")
		}
		return Classification{Language: "en", Tone: ToneFriendly, Complexity: 8}, nil
	}}

	_, _, err := NewPlanner(classifier).WithPolicy(fastRetry()).PlanResponse(context.Background(), []HistoryMessage{{Role: "user", Text: "hi"}})
	if err != nil {
		t.Fatalf("PlanResponse() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("classifier calls = %d, want 3", calls)
	}
}

func TestPlanner_ExhaustedRetries(t *testing.T) {
	classifier := &mockClassifier{ClassifyFunc: func(ctx context.Context, messages []HistoryMessage) (Classification, error) {
		return Classification{}, errors.New("down")
	}}

	_, _, err := NewPlanner(classifier).WithPolicy(fastRetry()).PlanResponse(context.Background(), []HistoryMessage{{Role: "user", Text: "hi"}})
	if err == nil {
		t.Fatal("PlanResponse() error = nil, want error")
	}
}

func describe(p ResponsePlan) any {
	switch p.Kind {
	case PlanRefusal:
		return *p.Refusal
	case PlanFulfillment:
		return *p.Fulfillment
	}
	return p
}
