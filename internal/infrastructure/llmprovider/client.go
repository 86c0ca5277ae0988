// Package llmprovider talks to an OpenAI compatible chat completions API.
package llmprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/invopop/jsonschema"
	openai "github.com/sashabaranov/go-openai"

	"bella-server/internal/domain/llm"
)

const chatCompletionsPath = "/v1/chat/completions"

// Client implements the model collaborators of the workflows.
type Client struct {
	httpClient   *resty.Client
	streamClient *resty.Client
	apiKey       string
	reflector    *jsonschema.Reflector
}

// NewClient creates a Resty-backed client. timeout bounds a whole structured
// call; a streamed answer is only bounded by timeout until its response
// headers arrive and may then run as long as the model keeps writing.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 75 * time.Second
	}
	baseURL = strings.TrimRight(baseURL, "/")

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	return &Client{
		httpClient: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Content-Type", "application/json").
			SetTimeout(timeout),
		streamClient: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Content-Type", "application/json").
			SetTransport(transport),
		apiKey: apiKey,
		reflector: &jsonschema.Reflector{
			AllowAdditionalProperties: false,
			DoNotReference:            true,
			ExpandedStruct:            true,
		},
	}
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.newRequest(ctx, c.httpClient)
}

func (c *Client) newRequest(ctx context.Context, client *resty.Client) *resty.Request {
	req := client.R().SetContext(ctx)
	if c.apiKey != "" {
		req.SetAuthToken(c.apiKey)
	}
	return req
}

// complete runs a non-streaming chat completion and returns the first choice's content.
func (c *Client) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	var completion openai.ChatCompletionResponse
	resp, err := c.request(ctx).
		SetBody(req).
		SetResult(&completion).
		Post(chatCompletionsPath)
	if err != nil {
		return "", fmt.Errorf("call chat completions: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("llm api error: %d %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("llm api returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

// completeJSON asks for a response that matches the JSON schema of out and decodes it.
func (c *Client) completeJSON(ctx context.Context, model, schemaName, system string, messages []llm.ChatMessage, out any) error {
	schema := c.reflector.Reflect(out)

	content, err := c.complete(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAI(system, messages),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   schemaName,
				Schema: schema,
			},
		},
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(stripCodeFence(content)), out); err != nil {
		return fmt.Errorf("decode %s response: %w", schemaName, err)
	}
	return nil
}

func toOpenAI(system string, messages []llm.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// stripCodeFence removes a ```json fence some models wrap structured output in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
