package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"bella-server/internal/config"
	"bella-server/internal/infrastructure/crontab"
	"bella-server/internal/infrastructure/database"
	"bella-server/internal/infrastructure/logger"
	"bella-server/internal/infrastructure/observability"
	"bella-server/internal/infrastructure/queue"
	conversationrepo "bella-server/internal/infrastructure/repository/conversation"
	workflowrepo "bella-server/internal/infrastructure/repository/workflow"
	"bella-server/internal/infrastructure/sharding"
	"bella-server/internal/interfaces/httpserver"
	"bella-server/internal/worker"
)

// Application owns the long-running components of one runner.
type Application struct {
	cfg         *config.Config
	httpServer  *httpserver.HttpServer
	coordinator sharding.Coordinator
	workers     *worker.Pool
	crontab     *crontab.Crontab
	log         zerolog.Logger
}

func NewApplication(
	cfg *config.Config,
	httpServer *httpserver.HttpServer,
	coordinator sharding.Coordinator,
	workers *worker.Pool,
	cron *crontab.Crontab,
	log zerolog.Logger,
) *Application {
	return &Application{
		cfg:         cfg,
		httpServer:  httpServer,
		coordinator: coordinator,
		workers:     workers,
		crontab:     cron,
		log:         log,
	}
}

// Start runs the runner until ctx is cancelled or a component fails.
func (a *Application) Start(ctx context.Context) error {
	if err := a.coordinator.Start(ctx); err != nil {
		return fmt.Errorf("start shard coordinator: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		a.coordinator.Stop(stopCtx)
	}()

	if err := a.workers.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	defer func() {
		a.log.Info().Msg("stopping worker pool")
		a.workers.Stop()
	}()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return a.httpServer.Run(ctx)
	})
	if a.crontab != nil {
		eg.Go(func() error {
			return a.crontab.Run(ctx)
		})
	}
	return eg.Wait()
}

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetry, err := observability.Init(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize observability")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	app, cleanup, err := buildApplication(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build application")
	}
	defer cleanup()

	if err := app.Start(ctx); err != nil {
		log.Error().Err(err).Msg("application stopped with error")
		return
	}

	log.Info().Msg("application exited cleanly")
}

// buildApplication assembles the runner by hand. BuildApplication in wire.go
// describes the same graph for the Wire code generator.
func buildApplication(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Application, func(), error) {
	gormDB, err := newGormDB(ctx, newDatabaseConfig(cfg), log)
	if err != nil {
		return nil, nil, err
	}
	db := database.NewDatabase(gormDB)

	repo := conversationrepo.NewRepository(db)
	engine, err := newEngine(workflowrepo.NewStore(db), log)
	if err != nil {
		return nil, nil, err
	}

	interruptions, err := newInterruptionChecker(cfg, repo)
	if err != nil {
		return nil, nil, fmt.Errorf("create interruption checker: %w", err)
	}

	llmClient := newLLMClient(cfg)
	generator := newGenerator(engine, repo, llmClient, newKnowledgeClient(cfg), interruptions, log)
	service := newConversationService(repo, llmClient, generator, log)

	runnerID := newRunnerID()
	coordinator, cleanup, err := newCoordinator(cfg, runnerID, service, engine, log)
	if err != nil {
		return nil, nil, err
	}

	workers := newWorkerPool(cfg, runnerID, queue.NewPostgresQueue(db, log), engine, log)
	httpServer := newHTTPServer(cfg, coordinator, service, newSanitizer(cfg), newReadinessCheck(db), log)

	return NewApplication(cfg, httpServer, coordinator, workers, newCrontab(cfg, repo, coordinator, log), log), cleanup, nil
}

func loadEnvFiles() {
	paths := []string{".env", "../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
