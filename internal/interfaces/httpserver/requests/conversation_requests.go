package requests

import (
	"bella-server/internal/domain/conversation"
	"bella-server/internal/infrastructure/sharding"
)

// MessagePart is a user message part. Only text parts are accepted.
type MessagePart struct {
	Type string `json:"type" binding:"required,eq=text"`
	Text string `json:"text"`
}

// UserMessage is the user turn of a Start or Continue request.
type UserMessage struct {
	ID    string        `json:"id" binding:"required"`
	Parts []MessagePart `json:"parts" binding:"required,min=1,dive"`
}

// AssistantMessage carries the client-chosen id of the answer.
type AssistantMessage struct {
	ID string `json:"id" binding:"required"`
}

// TurnRequest is the body of Start and Continue.
type TurnRequest struct {
	UserMessage      UserMessage      `json:"user_message"`
	AssistantMessage AssistantMessage `json:"assistant_message"`
}

// ToEntityCall converts the request into an entity call for op.
func (r TurnRequest) ToEntityCall(op sharding.Operation) sharding.EntityCall {
	parts := make([]conversation.Part, len(r.UserMessage.Parts))
	for i, p := range r.UserMessage.Parts {
		parts[i] = conversation.NewTextPart(p.Text)
	}
	return sharding.EntityCall{
		Operation:        op,
		UserMessage:      &conversation.UserMessageInput{ID: r.UserMessage.ID, Parts: parts},
		AssistantMessage: &conversation.AssistantMessageStub{ID: r.AssistantMessage.ID},
	}
}

// ChangeEvaluationRequest sets or clears an evaluation's resolved status.
type ChangeEvaluationRequest struct {
	IsResolved *bool `json:"is_resolved" binding:"required"`
}
