package llmprovider

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"bella-server/internal/domain/llm"
)

const (
	scannerInitialBuffer = 64 * 1024
	scannerMaxBuffer     = 1024 * 1024
	dataPrefix           = "data:"
	doneMarker           = "[DONE]"
	reasoningEffort      = "medium"
)

// streamChunk is one SSE payload. Providers put thinking output in
// reasoning_content; some gateways use reasoning instead.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			Reasoning        string `json:"reasoning"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// StreamAnswer opens a streamed chat completion.
func (c *Client) StreamAnswer(ctx context.Context, req llm.StreamRequest) (llm.Stream, error) {
	body := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toOpenAI("", req.Messages),
		Stream:   true,
	}
	if req.ReasoningEnabled {
		body.ReasoningEffort = reasoningEffort
	}

	resp, err := c.newRequest(ctx, c.streamClient).
		SetHeader("Accept", "text/event-stream").
		SetHeader("Accept-Encoding", "identity").
		SetBody(body).
		SetDoNotParseResponse(true).
		Post(chatCompletionsPath)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.RawResponse == nil || resp.RawResponse.Body == nil {
		return nil, fmt.Errorf("open stream: empty response body")
	}
	if resp.IsError() {
		defer resp.RawResponse.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.RawResponse.Body, 4096))
		return nil, fmt.Errorf("llm api error: %d %s", resp.StatusCode(), strings.TrimSpace(string(raw)))
	}

	scanner := bufio.NewScanner(resp.RawResponse.Body)
	scanner.Buffer(make([]byte, 0, scannerInitialBuffer), scannerMaxBuffer)
	return &sseStream{body: resp.RawResponse.Body, scanner: scanner}, nil
}

// sseStream turns SSE chunks into stream units.
type sseStream struct {
	body     io.ReadCloser
	scanner  *bufio.Scanner
	pending  []llm.StreamUnit
	finished bool
}

func (s *sseStream) Recv() (llm.StreamUnit, error) {
	for {
		if len(s.pending) > 0 {
			unit := s.pending[0]
			s.pending = s.pending[1:]
			return unit, nil
		}
		if s.finished {
			return llm.StreamUnit{}, io.EOF
		}

		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return llm.StreamUnit{}, fmt.Errorf("read stream: %w", err)
			}
			// Body closed without a finish reason or [DONE].
			return llm.StreamUnit{}, io.EOF
		}

		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))

		if data == doneMarker {
			s.finish("stop")
			continue
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return llm.StreamUnit{}, fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return llm.StreamUnit{}, fmt.Errorf("llm stream error: %s", chunk.Error.Message)
		}

		for _, choice := range chunk.Choices {
			reasoning := choice.Delta.ReasoningContent
			if reasoning == "" {
				reasoning = choice.Delta.Reasoning
			}
			if reasoning != "" {
				s.pending = append(s.pending, llm.StreamUnit{Kind: llm.UnitReasoning, Text: reasoning})
			}
			if choice.Delta.Content != "" {
				s.pending = append(s.pending, llm.StreamUnit{Kind: llm.UnitText, Text: choice.Delta.Content})
			}
			if choice.FinishReason != "" {
				s.finish(choice.FinishReason)
			}
		}
	}
}

func (s *sseStream) finish(reason string) {
	if s.finished {
		return
	}
	s.finished = true
	s.pending = append(s.pending, llm.StreamUnit{Kind: llm.UnitFinish, FinishReason: reason})
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
