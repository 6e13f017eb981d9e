package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-review-api/internal/config"
	"github.com/noah-isme/gema-review-api/internal/database"
	"github.com/noah-isme/gema-review-api/internal/handler"
	"github.com/noah-isme/gema-review-api/internal/middleware"
	"github.com/noah-isme/gema-review-api/internal/repository"
	"github.com/noah-isme/gema-review-api/internal/router"
	"github.com/noah-isme/gema-review-api/internal/service"
	"github.com/noah-isme/gema-review-api/pkg/ai"
	"github.com/noah-isme/gema-review-api/pkg/archive"
	"github.com/noah-isme/gema-review-api/pkg/checks"
	cloud "github.com/noah-isme/gema-review-api/pkg/cloudinary"
	"github.com/noah-isme/gema-review-api/pkg/docker"
	"github.com/noah-isme/gema-review-api/pkg/snapshot"
	"github.com/noah-isme/gema-review-api/pkg/testrunner"
)

const redisStorePrefix = "gema:review"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(context.Background(), cfg.RedisURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	probes := map[string]handler.HealthProbe{}
	if redisClient != nil {
		probes["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	backend, storeProbe, err := openBackend(cfg, redisClient)
	if err != nil {
		log.Fatalf("failed to open record store: %v", err)
	}
	if storeProbe != nil {
		probes["store"] = storeProbe
	}
	stores := repository.NewStores(backend)

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
		probes["nats"] = func(context.Context) error {
			if !natsConn.IsConnected() {
				return fmt.Errorf("nats status %s", natsConn.Status())
			}
			return nil
		}
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	runner, closeRunner, err := buildTestRunner(cfg, logger)
	if err != nil {
		log.Fatalf("failed to create test runner: %v", err)
	}
	defer closeRunner()

	timeline := service.NewTimelineService(stores.Timeline, redisClient, cfg.EventsChannel, natsConn, logger)
	artifacts := service.NewArtifactStore(cfg.ArtifactsDir)

	orchestratorCfg := service.OrchestratorConfig{
		Submissions: stores.Submissions,
		Reports:     stores.Reports,
		Artifacts:   artifacts,
		Extractor: archive.NewExtractor(archive.Config{
			WorkRoot:          cfg.WorkDir,
			MaxArchiveBytes:   cfg.MaxUploadBytes,
			MaxExtractedBytes: cfg.MaxExtractedBytes,
			Logger:            logger,
		}),
		Checker: checks.NewEngine(runner, checks.Config{
			EnableTests: cfg.EnableTests && runner != nil,
			Logger:      logger,
		}),
		Logger: logger,
	}
	if cfg.AIEnabled {
		reviewer, err := buildReviewer(cfg, logger)
		if err != nil {
			log.Fatalf("failed to create ai reviewer: %v", err)
		}
		orchestratorCfg.Reviewer = reviewer
		orchestratorCfg.Snapshots = snapshot.NewBuilder(snapshot.Budget{
			MaxFiles:      cfg.SnapshotMaxFiles,
			MaxFileBytes:  cfg.SnapshotMaxFileBytes,
			MaxTotalBytes: cfg.SnapshotMaxTotalBytes,
			AllowedExts:   cfg.SnapshotAllowedExts,
			ExcludedDirs:  cfg.SnapshotExcludedDirs,
		}, logger)
	}

	var mirror service.ArchiveMirror
	cloudCfg := cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}
	if cloudCfg.Enabled() {
		uploader, err := cloud.New(cloudCfg, logger)
		if err != nil {
			log.Fatalf("failed to create cloudinary client: %v", err)
		}
		mirror = uploader
	}

	orchestrator := service.NewOrchestrator(orchestratorCfg)
	errorHandler := service.NewRunErrorHandler(stores, artifacts, timeline, logger)
	queue := service.NewRunQueue(stores, orchestrator, errorHandler, timeline, cfg.QueueCapacity, logger)

	submissionService := service.NewSubmissionService(stores.Submissions, timeline, mirror, validate, cfg.UploadDir, cfg.MaxUploadBytes, logger)
	reportService := service.NewReportService(stores.Reports)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    int(cfg.MaxUploadBytes) + 1<<20,
	})

	middleware.Register(app, middleware.Config{
		Logger:       &logger,
		AllowOrigins: cfg.CORSAllowOrigins,
		AccessLog:    cfg.AccessLog,
	})

	var jwtMiddleware fiber.Handler
	if cfg.JWTSecret != "" {
		jwtMiddleware = middleware.JWTProtected(cfg.JWTSecret)
	}
	router.Register(app, cfg, router.Dependencies{
		SubmissionHandler: handler.NewSubmissionHandler(submissionService, validate, logger),
		RunHandler:        handler.NewRunHandler(queue, submissionService, reportService, artifacts, validate, logger),
		TimelineHandler:   handler.NewTimelineHandler(timeline, logger),
		JWTMiddleware:     jwtMiddleware,
		HealthProbes:      probes,
	})

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	timeline.Start(workerCtx)
	queue.Start(workerCtx)

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, queue, logger)
}

// openBackend returns the record store backend and, for networked stores, a
// readiness probe.
func openBackend(cfg config.Config, redisClient *redis.Client) (repository.Backend, handler.HealthProbe, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite, config.StorePostgres:
		var (
			db  *gorm.DB
			err error
		)
		if cfg.StoreDriver == config.StoreSQLite {
			db, err = database.ConnectSQLite(cfg.SQLitePath)
		} else {
			db, err = database.ConnectPostgres(context.Background(), cfg.DatabaseURL)
		}
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		backend, err := repository.NewGormBackend(db)
		if err != nil {
			return nil, nil, err
		}
		return backend, sqlDB.PingContext, nil
	case config.StoreRedis:
		return repository.NewRedisBackend(redisClient, redisStorePrefix), nil, nil
	default:
		return repository.NewMemoryBackend(), nil, nil
	}
}

// buildTestRunner returns nil when tests are disabled.
func buildTestRunner(cfg config.Config, logger zerolog.Logger) (checks.TestRunner, func(), error) {
	noop := func() {}
	if !cfg.EnableTests {
		return nil, noop, nil
	}

	runnerCfg := testrunner.Config{Timeout: cfg.TestTimeout, Logger: logger}
	if cfg.TestExecutor != config.ExecutorDocker {
		return testrunner.NewRunner(testrunner.NewLocalExecutor(), runnerCfg), noop, nil
	}

	sandbox, err := docker.NewSandbox(docker.Config{
		Host:          cfg.DockerHost,
		Image:         cfg.DockerImage,
		MemoryLimitMB: int64(cfg.CodeRunMemoryMB),
		CPUShares:     int64(cfg.CodeRunCPUShares),
		Logger:        logger,
	})
	if err != nil {
		return nil, noop, err
	}
	closeSandbox := func() {
		if err := sandbox.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close docker sandbox")
		}
	}
	executor := testrunner.NewContainerExecutor(sandbox, cfg.DockerImage)
	return testrunner.NewRunner(executor, runnerCfg), closeSandbox, nil
}

func buildReviewer(cfg config.Config, logger zerolog.Logger) (*ai.Reviewer, error) {
	generator, err := ai.NewOpenAIGenerator(ai.OpenAIConfig{
		APIKey:  cfg.AIAPIKey,
		BaseURL: cfg.AIBaseURL,
		Model:   cfg.AIModel,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	prompts, err := ai.NewPromptLoader(cfg.AIReportPromptPath, cfg.AIClassifierPromptPath)
	if err != nil {
		return nil, err
	}

	retrying := ai.NewRetryingGenerator(generator, ai.RetryConfig{
		MaxAttempts:       cfg.AIMaxAttempts,
		Timeout:           cfg.AITimeout,
		BackoffBase:       cfg.AIBackoffBase,
		BackoffMultiplier: cfg.AIBackoffMultiplier,
		BackoffMax:        cfg.AIBackoffMax,
		Logger:            logger,
	})
	return ai.NewReviewer(retrying, prompts), nil
}

func waitForShutdown(app *fiber.App, queue service.RunQueue, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	queue.Stop()
	logger.Info().Msg("server stopped")
}
