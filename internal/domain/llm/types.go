package llm

import "context"

// Chat roles understood by the model API.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one prompt message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UnitKind tags a streamed unit.
type UnitKind string

const (
	UnitText      UnitKind = "text"
	UnitReasoning UnitKind = "reasoning"
	UnitFinish    UnitKind = "finish"
)

// StreamUnit is one element of a model stream. Text is set for text and
// reasoning units; FinishReason for the finish unit.
type StreamUnit struct {
	Kind         UnitKind
	Text         string
	FinishReason string
}

// Stream yields units until a finish unit, then io.EOF.
type Stream interface {
	Recv() (StreamUnit, error)
	Close() error
}

// StreamRequest asks a model for a streamed answer.
type StreamRequest struct {
	Model            string
	Messages         []ChatMessage
	ReasoningEnabled bool
}

// Streamer opens model streams.
type Streamer interface {
	StreamAnswer(ctx context.Context, req StreamRequest) (Stream, error)
}
