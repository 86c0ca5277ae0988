package evaluation_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bella-server/internal/domain/conversation"
	flowerrors "bella-server/internal/domain/errors"
	"bella-server/internal/domain/evaluation"
	"bella-server/internal/domain/llm"
	"bella-server/internal/domain/retry"
	"bella-server/internal/domain/status"
	"bella-server/internal/domain/workflow"
	"bella-server/internal/domain/workflow/workflowtest"
	"bella-server/internal/infrastructure/database"
	"bella-server/internal/infrastructure/database/dbtest"
	conversationrepo "bella-server/internal/infrastructure/repository/conversation"
)

type mockClassifier struct {
	calls                      [][]llm.ChatMessage
	ClassifyUserExperienceFunc func(ctx context.Context, messages []llm.ChatMessage) (evaluation.Classification, error)
}

func (m *mockClassifier) ClassifyUserExperience(ctx context.Context, messages []llm.ChatMessage) (evaluation.Classification, error) {
	m.calls = append(m.calls, messages)
	return m.ClassifyUserExperienceFunc(ctx, messages)
}

func returning(result *evaluation.Experience) *mockClassifier {
	return &mockClassifier{ClassifyUserExperienceFunc: func(ctx context.Context, messages []llm.ChatMessage) (evaluation.Classification, error) {
		return evaluation.Classification{Result: result}, nil
	}}
}

type harness struct {
	repo   *conversationrepo.Repository
	store  *workflowtest.MemoryStore
	engine *workflow.Engine
}

var base = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, classifier evaluation.Classifier) *harness {
	t.Helper()
	repo := conversationrepo.NewRepository(database.NewDatabase(dbtest.New(t)))
	store := workflowtest.NewMemoryStore()
	engine := workflow.NewEngine(store, nil, zerolog.Nop())

	fast := retry.Policy{MaxAttempts: 2, InitialDelay: time.Millisecond, BackoffStrategy: retry.BackoffFixed}
	engine.MustRegister(evaluation.NewEvaluator(repo, repo, classifier, zerolog.Nop()).WithPolicy(fast).Definition())
	return &harness{repo: repo, store: store, engine: engine}
}

// seed writes alternating user and assistant messages with the given texts.
func (h *harness) seed(t *testing.T, texts ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.repo.CreateConversation(ctx, &conversation.Conversation{ID: "c1", Title: "t", CreatedAt: base, UpdatedAt: base}))
	for i, text := range texts {
		role, id := conversation.RoleUser, "u"
		if i%2 == 1 {
			role, id = conversation.RoleAssistant, "a"
		}
		at := base.Add(time.Duration(i) * time.Second)
		require.NoError(t, h.repo.CreateMessage(ctx, &conversation.Message{
			ID:             id + string(rune('1'+i/2)),
			ConversationID: "c1",
			Role:           role,
			Status:         status.MessageCompleted,
			CreatedAt:      at,
			Parts:          []conversation.Part{{Type: conversation.PartTypeText, Text: text, Attempt: 1, CreatedAt: at}},
		}))
	}
}

func (h *harness) evaluate(t *testing.T, assistantID string) error {
	t.Helper()
	ctx := context.Background()
	_, err := h.engine.Trigger(ctx, evaluation.WorkflowName, "evaluation/c1/"+assistantID, evaluation.Payload{ConversationID: "c1", AssistantMessageID: assistantID})
	require.NoError(t, err)
	execution, err := h.store.Claim(ctx, "test#1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, execution)
	return h.engine.Execute(ctx, execution)
}

func TestEvaluate_RecordsNegativeExperience(t *testing.T) {
	classifier := returning(&evaluation.Experience{
		Category:    conversation.EvaluationFactualError,
		Severity:    conversation.SeverityHigh,
		Description: "User says the date is wrong",
	})
	h := newHarness(t, classifier)
	h.seed(t, "When was Mistborn published?", "In 1999.", "That's wrong, it was 2006.", "You're right, 2006.")

	require.NoError(t, h.evaluate(t, "a2"))

	require.Len(t, classifier.calls, 1)
	assert.Equal(t, []llm.ChatMessage{
		{Role: llm.RoleAssistant, Content: "In 1999."},
		{Role: llm.RoleUser, Content: "That's wrong, it was 2006."},
	}, classifier.calls[0])

	cp, ok := h.store.Checkpoint("evaluation/c1/a2", evaluation.ActivityClassify)
	require.True(t, ok)
	var verdict struct {
		EvaluationID string `json:"evaluation_id"`
	}
	require.NoError(t, json.Unmarshal(cp.Result, &verdict))
	require.NotEmpty(t, verdict.EvaluationID)

	stored, err := h.repo.FindEvaluation(context.Background(), verdict.EvaluationID)
	require.NoError(t, err)
	assert.Equal(t, "u2", stored.MessageID)
	assert.Equal(t, conversation.EvaluationFactualError, stored.Category)
	assert.Equal(t, conversation.SeverityHigh, stored.Severity)
	assert.Nil(t, stored.ResolvedAt)
}

func TestEvaluate_SkipsWithoutRecordableExperience(t *testing.T) {
	tests := []struct {
		name   string
		texts  []string
		result *evaluation.Experience
		calls  int
	}{
		{name: "first answer has nothing to judge", texts: []string{"Hi", "Hello!"}, calls: 0},
		{name: "no negative experience", texts: []string{"Hi", "Hello!", "Thanks", "You're welcome"}, calls: 1},
		{
			name:   "unclassified experience",
			texts:  []string{"Hi", "Hello!", "Meh", "Sorry"},
			result: &evaluation.Experience{Category: conversation.EvaluationUnclassified, Severity: conversation.SeverityLow},
			calls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classifier := returning(tt.result)
			h := newHarness(t, classifier)
			h.seed(t, tt.texts...)

			last := "a" + string(rune('0'+len(tt.texts)/2))
			require.NoError(t, h.evaluate(t, last))
			assert.Len(t, classifier.calls, tt.calls)

			_, ok := h.store.Checkpoint("evaluation/c1/"+last, evaluation.ActivityRecord)
			assert.False(t, ok, "nothing should be recorded")
		})
	}
}

func TestEvaluate_ClassifierFailureIsEvaluationError(t *testing.T) {
	classifier := &mockClassifier{ClassifyUserExperienceFunc: func(ctx context.Context, messages []llm.ChatMessage) (evaluation.Classification, error) {
		return evaluation.Classification{}, errors.New("model overloaded")
	}}
	h := newHarness(t, classifier)
	h.seed(t, "Hi", "Hello!", "Wrong", "Sorry")

	err := h.evaluate(t, "a2")
	require.Error(t, err)
	assert.True(t, flowerrors.IsKind(err, flowerrors.KindEvaluation))
	assert.Len(t, classifier.calls, 2)

	execution, err := h.store.Get(context.Background(), "evaluation/c1/a2")
	require.NoError(t, err)
	assert.Equal(t, status.ExecutionFailed, execution.Status)

	answer, err := h.repo.FindMessage(context.Background(), "a2")
	require.NoError(t, err)
	assert.Equal(t, status.MessageCompleted, answer.Status)
}
