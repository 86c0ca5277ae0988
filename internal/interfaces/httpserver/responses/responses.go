package responses

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"bella-server/internal/domain/conversation"
	flowerrors "bella-server/internal/domain/errors"
	"bella-server/internal/infrastructure/sharding"
)

const (
	codeShardUnavailable = "SHARD_UNAVAILABLE"
	codeInternal         = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TransactionResponse is returned by every write.
type TransactionResponse struct {
	TransactionID string `json:"transaction_id"`
}

// MessagesResponse is the read path payload.
type MessagesResponse struct {
	ConversationID string                 `json:"conversation_id"`
	Data           []conversation.Message `json:"data"`
}

// StatusForKind maps a flow error kind to an HTTP status.
func StatusForKind(kind flowerrors.Kind) int {
	switch kind {
	case flowerrors.KindStoppingIdle:
		return http.StatusConflict
	case flowerrors.KindDataAccess:
		return http.StatusServiceUnavailable
	case flowerrors.KindClassification, flowerrors.KindGeneration:
		return http.StatusBadGateway
	case flowerrors.KindEvaluation:
		return http.StatusInternalServerError
	default:
		panic(fmt.Sprintf("unhandled flow error kind %q", string(kind)))
	}
}

// HandleError writes the error response for err.
func HandleError(c *gin.Context, err error) {
	status, body := describe(err)
	c.AbortWithStatusJSON(status, body)
}

// BadRequest writes a 400 for a request that failed binding.
func BadRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Code: sharding.CodeInvalidMessage, Message: err.Error()})
}

func describe(err error) (int, ErrorResponse) {
	if fe, ok := flowerrors.As(err); ok {
		return StatusForKind(fe.Kind), ErrorResponse{Code: string(fe.Kind), Message: fe.Message}
	}

	switch {
	case errors.Is(err, conversation.ErrInvalidMessage):
		return http.StatusBadRequest, ErrorResponse{Code: sharding.CodeInvalidMessage, Message: err.Error()}
	case errors.Is(err, sharding.ErrNotOwner):
		return http.StatusMisdirectedRequest, ErrorResponse{Code: sharding.CodeNotOwner, Message: err.Error()}
	case errors.Is(err, sharding.ErrRunnerUnreachable),
		errors.Is(err, sharding.ErrNoRunners),
		errors.Is(err, sharding.ErrLeaseUnavailable):
		return http.StatusServiceUnavailable, ErrorResponse{Code: codeShardUnavailable, Message: err.Error()}
	default:
		return http.StatusInternalServerError, ErrorResponse{Code: codeInternal, Message: "internal error"}
	}
}
