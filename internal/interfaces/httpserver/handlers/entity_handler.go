package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"bella-server/internal/infrastructure/sharding"
	"bella-server/internal/interfaces/httpserver/responses"
)

// ForwardedCallServer runs entity calls forwarded by other runners.
type ForwardedCallServer interface {
	ServeForwarded(ctx context.Context, entityID string, call sharding.EntityCall) (sharding.EntityResponse, error)
}

// EntityHandler serves the runner-to-runner entity endpoint.
type EntityHandler struct {
	server ForwardedCallServer
	log    zerolog.Logger
}

func NewEntityHandler(server ForwardedCallServer, log zerolog.Logger) *EntityHandler {
	return &EntityHandler{
		server: server,
		log:    log.With().Str("handler", "entity").Logger(),
	}
}

// Serve handles POST /internal/entities/conversation/:conversation_id
func (h *EntityHandler) Serve(c *gin.Context) {
	var call sharding.EntityCall
	if err := c.ShouldBindJSON(&call); err != nil {
		responses.BadRequest(c, err)
		return
	}

	resp, err := h.server.ServeForwarded(c.Request.Context(), c.Param("conversation_id"), call)
	if err != nil {
		responses.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
