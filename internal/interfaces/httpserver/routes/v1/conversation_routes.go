package v1

import (
	"github.com/gin-gonic/gin"

	"bella-server/internal/interfaces/httpserver/handlers"
)

func registerConversationRoutes(router gin.IRoutes, handler *handlers.ConversationHandler) {
	router.POST("/conversations/:conversation_id/start", handler.Start)
	router.POST("/conversations/:conversation_id/continue", handler.Continue)
	router.POST("/conversations/:conversation_id/messages/:message_id/stop", handler.StopGeneration)
	router.PATCH("/conversations/:conversation_id/evaluations/:evaluation_id", handler.ChangeEvaluationResolvedStatus)
	router.GET("/conversations/:conversation_id/messages", handler.ListMessages)
}
