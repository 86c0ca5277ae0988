// Package sharding routes per-conversation operations to the runner that
// owns the conversation's shard.
package sharding

import (
	"context"
	"fmt"

	"bella-server/internal/domain/conversation"
)

// Operation names an entity call on the conversation actor.
type Operation string

const (
	OpStart                  Operation = "start"
	OpContinue               Operation = "continue"
	OpStopGeneration         Operation = "stop_generation"
	OpChangeEvaluationStatus Operation = "change_evaluation_resolved_status"
)

// EntityCall is one actor operation addressed to a conversation. The
// conversation id travels as the entity id, not in the call.
type EntityCall struct {
	Operation        Operation                          `json:"operation"`
	UserMessage      *conversation.UserMessageInput     `json:"user_message,omitempty"`
	AssistantMessage *conversation.AssistantMessageStub `json:"assistant_message,omitempty"`
	MessageID        string                             `json:"message_id,omitempty"`
	EvaluationID     string                             `json:"evaluation_id,omitempty"`
	IsResolved       bool                               `json:"is_resolved,omitempty"`
}

// EntityResponse is returned by every entity call.
type EntityResponse struct {
	TransactionID string `json:"transaction_id"`
}

// Actor is the conversation actor the coordinator dispatches to.
type Actor interface {
	Start(ctx context.Context, conversationID string, user conversation.UserMessageInput, assistant conversation.AssistantMessageStub) (conversation.TransactionMarker, error)
	Continue(ctx context.Context, conversationID string, user conversation.UserMessageInput, assistant conversation.AssistantMessageStub) (conversation.TransactionMarker, error)
	StopGeneration(ctx context.Context, conversationID, assistantMessageID string) (conversation.TransactionMarker, error)
	ChangeEvaluationResolvedStatus(ctx context.Context, conversationID, evaluationID string, isResolved bool) (conversation.TransactionMarker, error)
}

var _ Actor = (*conversation.Service)(nil)

// Dispatch runs call against the local actor.
func Dispatch(ctx context.Context, actor Actor, entityID string, call EntityCall) (EntityResponse, error) {
	var (
		marker conversation.TransactionMarker
		err    error
	)

	switch call.Operation {
	case OpStart, OpContinue:
		if call.UserMessage == nil || call.AssistantMessage == nil {
			return EntityResponse{}, fmt.Errorf("%w: %s requires user and assistant messages", conversation.ErrInvalidMessage, call.Operation)
		}
		if call.Operation == OpStart {
			marker, err = actor.Start(ctx, entityID, *call.UserMessage, *call.AssistantMessage)
		} else {
			marker, err = actor.Continue(ctx, entityID, *call.UserMessage, *call.AssistantMessage)
		}
	case OpStopGeneration:
		marker, err = actor.StopGeneration(ctx, entityID, call.MessageID)
	case OpChangeEvaluationStatus:
		marker, err = actor.ChangeEvaluationResolvedStatus(ctx, entityID, call.EvaluationID, call.IsResolved)
	default:
		return EntityResponse{}, fmt.Errorf("%w: unknown operation %q", conversation.ErrInvalidMessage, call.Operation)
	}
	if err != nil {
		return EntityResponse{}, err
	}
	return EntityResponse{TransactionID: string(marker)}, nil
}
