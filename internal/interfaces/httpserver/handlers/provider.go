package handlers

import (
	"github.com/rs/zerolog"

	"bella-server/internal/domain/conversation"
	"bella-server/internal/infrastructure/sharding"
)

// Provider wires all HTTP handlers for dependency injection.
type Provider struct {
	Conversation *ConversationHandler
	Entity       *EntityHandler
}

// NewProvider constructs the handler provider.
func NewProvider(coordinator sharding.Coordinator, service *conversation.Service, sanitizer TextSanitizer, log zerolog.Logger) *Provider {
	return &Provider{
		Conversation: NewConversationHandler(coordinator, service, log).WithSanitizer(sanitizer),
		Entity:       NewEntityHandler(coordinator, log),
	}
}
