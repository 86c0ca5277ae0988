package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"bella-server/internal/config"
	"bella-server/internal/domain/conversation"
	"bella-server/internal/domain/evaluation"
	"bella-server/internal/domain/generation"
	"bella-server/internal/domain/interruption"
	"bella-server/internal/domain/workflow"
	"bella-server/internal/infrastructure/crontab"
	"bella-server/internal/infrastructure/database"
	"bella-server/internal/infrastructure/knowledge"
	"bella-server/internal/infrastructure/llmprovider"
	"bella-server/internal/infrastructure/metrics"
	"bella-server/internal/infrastructure/observability"
	"bella-server/internal/infrastructure/queue"
	conversationrepo "bella-server/internal/infrastructure/repository/conversation"
	workflowrepo "bella-server/internal/infrastructure/repository/workflow"
	"bella-server/internal/infrastructure/sharding"
	"bella-server/internal/interfaces/httpserver"
	"bella-server/internal/interfaces/httpserver/handlers"
	"bella-server/internal/worker"
)

// RunnerID identifies this process in the shard registry and on workflow leases.
type RunnerID string

func newRunnerID() RunnerID {
	return RunnerID(uuid.NewString())
}

func newDatabaseConfig(cfg *config.Config) database.Config {
	return database.Config{
		DSN:             cfg.DatabaseURL,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
		LogLevel:        gormlogger.Warn,
		SlowQuery:       cfg.DBSlowQuery,
	}
}

func newGormDB(ctx context.Context, dbCfg database.Config, log zerolog.Logger) (*gorm.DB, error) {
	db, err := database.Connect(ctx, dbCfg, log)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.Migrate(ctx, db, log); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func newEngine(store *workflowrepo.Store, log zerolog.Logger) (*workflow.Engine, error) {
	observer, err := observability.NewWorkflowObserver(log)
	if err != nil {
		return nil, fmt.Errorf("create workflow observer: %w", err)
	}
	return workflow.NewEngine(store, observer, log), nil
}

func newLLMClient(cfg *config.Config) *llmprovider.Client {
	return llmprovider.NewClient(cfg.LLMAPIURL, cfg.LLMAPIKey, cfg.LLMRequestTimeout)
}

func newKnowledgeClient(cfg *config.Config) *knowledge.Client {
	return knowledge.NewClient(cfg.KnowledgeURL, cfg.KnowledgeTimeout)
}

func newInterruptionChecker(cfg *config.Config, repo *conversationrepo.Repository) (*interruption.Checker, error) {
	return interruption.NewChecker(repo, cfg.InterruptionTTL, cfg.InterruptionEntries)
}

// newGenerator builds both workflows and registers them with the engine.
func newGenerator(
	engine *workflow.Engine,
	repo *conversationrepo.Repository,
	llmClient *llmprovider.Client,
	knowledgeClient *knowledge.Client,
	interruptions *interruption.Checker,
	log zerolog.Logger,
) *generation.Generator {
	generator := generation.NewGenerator(generation.Dependencies{
		Repository:    repo,
		Classifier:    llmClient,
		Streamer:      llmClient,
		Queries:       llmClient,
		Retriever:     knowledgeClient,
		Interruptions: interruptions,
		Trigger:       engine,
		Recorder:      metrics.GenerationRecorder{},
	}, log)
	engine.MustRegister(generator.Definition())
	engine.MustRegister(evaluation.NewEvaluator(repo, repo, llmClient, log).Definition())
	return generator
}

func newConversationService(
	repo *conversationrepo.Repository,
	llmClient *llmprovider.Client,
	generator *generation.Generator,
	log zerolog.Logger,
) *conversation.Service {
	return conversation.NewService(repo, repo, llmClient, generator, log)
}

func newWorkerPool(
	cfg *config.Config,
	runnerID RunnerID,
	taskQueue *queue.PostgresQueue,
	engine *workflow.Engine,
	log zerolog.Logger,
) *worker.Pool {
	return worker.NewPool(taskQueue, engine, engine.Wake(), worker.Config{
		RunnerID:        string(runnerID),
		WorkerCount:     cfg.WorkflowWorkerCount,
		PollInterval:    cfg.WorkflowPollInterval,
		LeaseTTL:        cfg.WorkflowLeaseTTL,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, log)
}

// newCoordinator returns a Redis-backed cluster coordinator when Redis is
// configured and a single-runner coordinator otherwise.
func newCoordinator(
	cfg *config.Config,
	runnerID RunnerID,
	service *conversation.Service,
	engine *workflow.Engine,
	log zerolog.Logger,
) (sharding.Coordinator, func(), error) {
	if !cfg.ShardingEnabled() {
		return sharding.NewLocalCoordinator(service, engine, cfg.ShardCount, log), func() {}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.RedisAddrs,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	cleanup := func() {
		if err := client.Close(); err != nil {
			log.Error().Err(err).Msg("close redis client")
		}
	}

	coordinator := sharding.NewClusterCoordinator(
		sharding.Config{
			Runner:       sharding.Runner{ID: string(runnerID), Address: cfg.RunnerAddress},
			ShardCount:   cfg.ShardCount,
			HeartbeatTTL: cfg.RunnerHeartbeatTTL,
		},
		sharding.NewRedisRegistry(client),
		sharding.NewRedsyncLeases(client, cfg.ShardLeaseTTL),
		sharding.NewHTTPForwarder(cfg.ForwardTimeout),
		service,
		engine,
		log,
	)
	return coordinator, cleanup, nil
}

func newCrontab(cfg *config.Config, repo *conversationrepo.Repository, coordinator sharding.Coordinator, log zerolog.Logger) *crontab.Crontab {
	if !cfg.RecoveryEnabled {
		return nil
	}
	return crontab.NewCrontab(repo, coordinator, cfg.RecoveryGracePeriod, log)
}

func newReadinessCheck(db *database.Database) httpserver.ReadinessCheck {
	return db.Ping
}

func newSanitizer(cfg *config.Config) *observability.Sanitizer {
	return observability.NewSanitizer(observability.PIILevel(cfg.PIILevel), cfg.ServiceName)
}

func newHTTPServer(
	cfg *config.Config,
	coordinator sharding.Coordinator,
	service *conversation.Service,
	sanitizer *observability.Sanitizer,
	ready httpserver.ReadinessCheck,
	log zerolog.Logger,
) *httpserver.HttpServer {
	return httpserver.New(cfg, log, handlers.NewProvider(coordinator, service, sanitizer, log), ready)
}
