//go:build wireinject

package main

import (
	"context"

	"github.com/google/wire"
	"github.com/rs/zerolog"

	"bella-server/internal/config"
	"bella-server/internal/infrastructure/database"
	"bella-server/internal/infrastructure/queue"
	conversationrepo "bella-server/internal/infrastructure/repository/conversation"
	workflowrepo "bella-server/internal/infrastructure/repository/workflow"
)

var storageSet = wire.NewSet(
	newDatabaseConfig,
	newGormDB,
	database.NewDatabase,
	conversationrepo.NewRepository,
	workflowrepo.NewStore,
	queue.NewPostgresQueue,
)

var conversationSet = wire.NewSet(
	newEngine,
	newLLMClient,
	newKnowledgeClient,
	newInterruptionChecker,
	newGenerator,
	newConversationService,
)

var runnerSet = wire.NewSet(
	newRunnerID,
	newCoordinator,
	newWorkerPool,
	newCrontab,
	newSanitizer,
	newReadinessCheck,
	newHTTPServer,
)

// BuildApplication assembles the runner with Wire.
func BuildApplication(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Application, func(), error) {
	wire.Build(
		storageSet,
		conversationSet,
		runnerSet,
		NewApplication,
	)
	return nil, nil, nil
}
