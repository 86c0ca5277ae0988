package routes

import (
	"github.com/gin-gonic/gin"

	"bella-server/internal/interfaces/httpserver/handlers"
	v1 "bella-server/internal/interfaces/httpserver/routes/v1"
)

// Provider coordinates all route registrations.
type Provider struct {
	V1     *v1.Routes
	entity *handlers.EntityHandler
}

// NewProvider constructs the route provider.
func NewProvider(handlerProvider *handlers.Provider) *Provider {
	return &Provider{
		V1:     v1.NewRoutes(handlerProvider),
		entity: handlerProvider.Entity,
	}
}

// Register attaches all available routes to the gin engine.
func (p *Provider) Register(engine *gin.Engine) {
	p.V1.Register(engine)
	engine.POST("/internal/entities/conversation/:conversation_id", p.entity.Serve)
}
