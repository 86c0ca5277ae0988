package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"bella-server/internal/domain/conversation"
	"bella-server/internal/infrastructure/sharding"
	"bella-server/internal/interfaces/httpserver/requests"
	"bella-server/internal/interfaces/httpserver/responses"
)

// EntityRouter routes conversation operations to the owning runner.
type EntityRouter interface {
	RouteEntityCall(ctx context.Context, entityID string, call sharding.EntityCall) (sharding.EntityResponse, error)
}

// MessageReader serves the read path.
type MessageReader interface {
	Messages(ctx context.Context, conversationID string) ([]conversation.Message, error)
}

// TextSanitizer redacts user content before it is logged.
type TextSanitizer interface {
	SanitizeText(input string) string
}

// ConversationHandler exposes the conversation actor over HTTP.
type ConversationHandler struct {
	router    EntityRouter
	reader    MessageReader
	sanitizer TextSanitizer
	log       zerolog.Logger
}

// NewConversationHandler constructs the handler.
func NewConversationHandler(router EntityRouter, reader MessageReader, log zerolog.Logger) *ConversationHandler {
	return &ConversationHandler{
		router: router,
		reader: reader,
		log:    log.With().Str("handler", "conversation").Logger(),
	}
}

// WithSanitizer enables debug logging of redacted user message previews.
func (h *ConversationHandler) WithSanitizer(s TextSanitizer) *ConversationHandler {
	h.sanitizer = s
	return h
}

// Start handles POST /v1/conversations/:conversation_id/start
func (h *ConversationHandler) Start(c *gin.Context) {
	h.turn(c, sharding.OpStart)
}

// Continue handles POST /v1/conversations/:conversation_id/continue
func (h *ConversationHandler) Continue(c *gin.Context) {
	h.turn(c, sharding.OpContinue)
}

func (h *ConversationHandler) turn(c *gin.Context, op sharding.Operation) {
	var req requests.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.BadRequest(c, err)
		return
	}
	call := req.ToEntityCall(op)
	if h.sanitizer != nil && call.UserMessage != nil {
		h.log.Debug().
			Str("conversation_id", c.Param("conversation_id")).
			Str("operation", string(op)).
			Str("preview", h.sanitizer.SanitizeText(call.UserMessage.Text())).
			Msg("user turn received")
	}
	h.route(c, call)
}

// StopGeneration handles POST /v1/conversations/:conversation_id/messages/:message_id/stop
func (h *ConversationHandler) StopGeneration(c *gin.Context) {
	h.route(c, sharding.EntityCall{
		Operation: sharding.OpStopGeneration,
		MessageID: c.Param("message_id"),
	})
}

// ChangeEvaluationResolvedStatus handles PATCH /v1/conversations/:conversation_id/evaluations/:evaluation_id
func (h *ConversationHandler) ChangeEvaluationResolvedStatus(c *gin.Context) {
	var req requests.ChangeEvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.BadRequest(c, err)
		return
	}
	h.route(c, sharding.EntityCall{
		Operation:    sharding.OpChangeEvaluationStatus,
		EvaluationID: c.Param("evaluation_id"),
		IsResolved:   *req.IsResolved,
	})
}

// ListMessages handles GET /v1/conversations/:conversation_id/messages
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	messages, err := h.reader.Messages(c.Request.Context(), conversationID)
	if err != nil {
		h.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to list messages")
		responses.HandleError(c, err)
		return
	}
	if messages == nil {
		messages = []conversation.Message{}
	}
	c.JSON(http.StatusOK, responses.MessagesResponse{ConversationID: conversationID, Data: messages})
}

func (h *ConversationHandler) route(c *gin.Context, call sharding.EntityCall) {
	conversationID := c.Param("conversation_id")
	resp, err := h.router.RouteEntityCall(c.Request.Context(), conversationID, call)
	if err != nil {
		h.log.Debug().Err(err).
			Str("conversation_id", conversationID).
			Str("operation", string(call.Operation)).
			Msg("entity call failed")
		responses.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, responses.TransactionResponse{TransactionID: resp.TransactionID})
}
