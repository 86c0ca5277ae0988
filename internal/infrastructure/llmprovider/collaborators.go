package llmprovider

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"bella-server/internal/domain/evaluation"
	"bella-server/internal/domain/knowledge"
	"bella-server/internal/domain/llm"
	"bella-server/internal/domain/planner"
)

const (
	titleModel   = planner.ModelGeminiFlashLite
	utilityModel = planner.ModelGeminiFlash
)

var (
	_ planner.Classifier       = (*Client)(nil)
	_ knowledge.QueryGenerator = (*Client)(nil)
	_ evaluation.Classifier    = (*Client)(nil)
	_ llm.Streamer             = (*Client)(nil)
)

// titleExamples are few-shot turns: a user message and the title it should get.
var titleExamples = [][2]string{
	{"Cześć, co obecnie dzieje się w Polsce?", "Wydarzenia w Polsce"},
	{"Generate me a code for React component, using React Aria Components, which will be responsible for managing booking date", "Booking date component generation"},
	{"Who is the current US president?", "US president"},
}

// GenerateTitle suggests a conversation title for the first user message.
func (c *Client) GenerateTitle(ctx context.Context, text string) (string, error) {
	messages := make([]llm.ChatMessage, 0, len(titleExamples)*2+1)
	for _, ex := range titleExamples {
		messages = append(messages,
			llm.ChatMessage{Role: llm.RoleUser, Content: ex[0]},
			llm.ChatMessage{Role: llm.RoleAssistant, Content: ex[1]},
		)
	}
	messages = append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: text})

	title, err := c.complete(ctx, openai.ChatCompletionRequest{
		Model:    string(titleModel),
		Messages: toOpenAI(titlePrompt, messages),
	})
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}
	return strings.TrimSpace(title), nil
}

// Classify reads the conversation tail for the response planner.
func (c *Client) Classify(ctx context.Context, messages []planner.HistoryMessage) (planner.Classification, error) {
	chat := make([]llm.ChatMessage, len(messages))
	for i, m := range messages {
		chat[i] = llm.ChatMessage{Role: m.Role, Content: m.Text}
	}

	var out planner.Classification
	if err := c.completeJSON(ctx, string(utilityModel), "question_classification", classificationPrompt, chat, &out); err != nil {
		return planner.Classification{}, fmt.Errorf("classify messages: %w", err)
	}
	if out.Complexity < 0 || out.Complexity > 10 {
		return planner.Classification{}, fmt.Errorf("classify messages: complexity %v out of range", out.Complexity)
	}
	return out, nil
}

// GenerateQueries turns the conversation into knowledge search queries.
func (c *Client) GenerateQueries(ctx context.Context, source knowledge.Source, conversation []string) (knowledge.Queries, error) {
	var out knowledge.Queries
	messages := []llm.ChatMessage{{Role: llm.RoleUser, Content: strings.Join(conversation, "\n")}}
	if err := c.completeJSON(ctx, string(utilityModel), "knowledge_queries", queriesPrompt(source), messages, &out); err != nil {
		return knowledge.Queries{}, fmt.Errorf("generate %s queries: %w", source, err)
	}
	if len(out.SubQueries) == 0 && out.SummarizedQuery != "" {
		out.SubQueries = []string{out.SummarizedQuery}
	}
	return out, nil
}

// ClassifyUserExperience judges the user's reaction to an answer.
func (c *Client) ClassifyUserExperience(ctx context.Context, messages []llm.ChatMessage) (evaluation.Classification, error) {
	var out evaluation.Classification
	if err := c.completeJSON(ctx, string(utilityModel), "experience_classification", experiencePrompt, messages, &out); err != nil {
		return evaluation.Classification{}, fmt.Errorf("classify user experience: %w", err)
	}
	return out, nil
}
