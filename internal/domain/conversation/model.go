package conversation

import (
	"strings"
	"time"

	"bella-server/internal/domain/status"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
)

// PartType identifies the payload carried by a message part.
type PartType string

const (
	PartTypeText            PartType = "text"
	PartTypeReasoning       PartType = "reasoning"
	PartTypeKnowledgeSearch PartType = "knowledgeSearch"
)

// TransactionMarker identifies the storage transaction that committed a write.
// Readers compare it against their own snapshot to know when the write is visible.
type TransactionMarker string

// Conversation is a chat thread keyed by a client-chosen id, which is also the shard key.
type Conversation struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Message is one turn of a conversation. Assistant messages start IN_PROGRESS
// and reach exactly one terminal status.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           Role           `json:"role"`
	Status         status.Message `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	Parts          []Part         `json:"parts"`
}

// IsGenerating reports whether the message is an assistant answer still being streamed.
func (m *Message) IsGenerating() bool {
	return m.Role == RoleAssistant && m.Status == status.MessageInProgress
}

// Text concatenates the message's text parts in order.
func (m *Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartTypeText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// Part is an append-only fragment of a message. Exactly one of Text or
// KnowledgeSearch is meaningful, depending on Type.
type Part struct {
	ID              string           `json:"id"`
	MessageID       string           `json:"message_id"`
	Type            PartType         `json:"type"`
	Text            string           `json:"text,omitempty"`
	KnowledgeSearch *KnowledgeSearch `json:"knowledge_search,omitempty"`
	// Attempt is the generation attempt that produced the part. Readers keep
	// only the newest attempt of an assistant message.
	Attempt   int       `json:"attempt"`
	CreatedAt time.Time `json:"created_at"`
}

// KnowledgeSearch records the queries sent to a knowledge source and,
// once available, the passages it returned.
type KnowledgeSearch struct {
	Source  string            `json:"source"`
	Queries []string          `json:"queries"`
	Results []KnowledgeResult `json:"results"`
}

// Pending reports whether results have not been back-filled yet.
func (k *KnowledgeSearch) Pending() bool {
	return k.Results == nil
}

// KnowledgeResult is one passage shown alongside a knowledge search.
type KnowledgeResult struct {
	Content   string  `json:"content"`
	SourceID  string  `json:"source_id"`
	Relevance float64 `json:"relevance"`
}

// NewTextPart returns a text part.
func NewTextPart(text string) Part {
	return Part{Type: PartTypeText, Text: text}
}

// NewReasoningPart returns a reasoning part.
func NewReasoningPart(text string) Part {
	return Part{Type: PartTypeReasoning, Text: text}
}

// NewKnowledgeSearchPart returns a knowledge search part with no results yet.
func NewKnowledgeSearchPart(source string, queries []string) Part {
	return Part{
		Type:            PartTypeKnowledgeSearch,
		KnowledgeSearch: &KnowledgeSearch{Source: source, Queries: queries},
	}
}

// UserMessageInput is the user turn submitted with Start and Continue.
type UserMessageInput struct {
	ID    string `json:"id"`
	Parts []Part `json:"parts"`
}

// Text concatenates the input's text parts.
func (u UserMessageInput) Text() string {
	var b strings.Builder
	for _, p := range u.Parts {
		if p.Type == PartTypeText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// AssistantMessageStub carries the client-chosen id of the answer to generate.
type AssistantMessageStub struct {
	ID string `json:"id"`
}

// EvaluationCategory classifies a user-experience problem.
type EvaluationCategory string

const (
	EvaluationFactualError       EvaluationCategory = "FACTUAL_ERROR"
	EvaluationUnnecessaryRefusal EvaluationCategory = "UNNECESSARY_REFUSAL"
	EvaluationContextIgnored     EvaluationCategory = "CONTEXT_IGNORED"
	EvaluationIrrelevant         EvaluationCategory = "IRRELEVANT"
	EvaluationUnclassified       EvaluationCategory = "UNCLASSIFIED"
)

// EvaluationSeverity grades a user-experience problem.
type EvaluationSeverity string

const (
	SeverityLow    EvaluationSeverity = "LOW"
	SeverityMedium EvaluationSeverity = "MEDIUM"
	SeverityHigh   EvaluationSeverity = "HIGH"
)

// Evaluation is written by the offline classifier; the actor only resolves it.
type Evaluation struct {
	ID          string             `json:"id"`
	MessageID   string             `json:"message_id"`
	Category    EvaluationCategory `json:"category"`
	Severity    EvaluationSeverity `json:"severity"`
	Description string             `json:"description"`
	CreatedAt   time.Time          `json:"created_at"`
	ResolvedAt  *time.Time         `json:"resolved_at,omitempty"`
}
