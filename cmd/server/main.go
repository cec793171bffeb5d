package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"novel-continuity/internal/ai"
	"novel-continuity/internal/config"
	"novel-continuity/internal/database"
	"novel-continuity/internal/handler"
	"novel-continuity/internal/logger"
	"novel-continuity/internal/memory"
	"novel-continuity/internal/messaging"
	"novel-continuity/internal/middleware"
	"novel-continuity/internal/models"
	"novel-continuity/internal/pacing"
	"novel-continuity/internal/prompts"
	"novel-continuity/internal/service"
	"novel-continuity/internal/summary"
	"novel-continuity/internal/worker"
	"novel-continuity/pkg/migration"
	"novel-continuity/pkg/taskmanager"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	metricsPushInterval = 15 * time.Second
	taskCleanupInterval = 10 * time.Minute
)

func main() {
	envFile := flag.String("env", ".env", "path to .env file")
	skipMigrations := flag.Bool("skip-migrations", false, "do not apply database migrations on start")
	migrateSteps := flag.Int("migrate-steps", 0, "apply N migration steps (negative rolls back) and exit")
	migrateDown := flag.Bool("migrate-down", false, "roll back all migrations and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logCfg := logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding}
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)
	// pkg/ пакеты пишут через zerolog
	zl := logger.SetupZerolog(logCfg)

	log.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("db", cfg.MaskedDSN()),
		zap.String("aiClient", cfg.AIClientType),
		zap.String("aiModel", cfg.AIModel),
	)

	rootCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	// --- External Connections ---
	startCtx, cancelStart := context.WithTimeout(rootCtx, 2*time.Minute)
	defer cancelStart()

	pool, err := database.NewPool(startCtx, cfg, log)
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pool.Close()

	migrator := migration.NewMigrator(migration.Config{FS: database.MigrationsFS, Dir: database.MigrationsDir}, pool)
	migrateCtx := zl.WithContext(startCtx)
	switch {
	case *migrateDown:
		if err := migrator.Down(migrateCtx); err != nil {
			log.Fatal("Failed to roll back migrations", zap.Error(err))
		}
		log.Info("All migrations rolled back")
		return
	case *migrateSteps != 0:
		if err := migrator.Steps(migrateCtx, *migrateSteps); err != nil {
			log.Fatal("Failed to apply migration steps", zap.Int("steps", *migrateSteps), zap.Error(err))
		}
		version, dirty, err := migrator.Version(migrateCtx)
		if err != nil {
			log.Fatal("Failed to read migration version", zap.Error(err))
		}
		log.Info("Migration steps applied", zap.Int("steps", *migrateSteps), zap.Uint("version", version), zap.Bool("dirty", dirty))
		return
	case !*skipMigrations:
		if err := migrator.Up(migrateCtx); err != nil {
			log.Fatal("Failed to apply migrations", zap.Error(err))
		}
	}

	redisClient, err := database.NewRedisClient(startCtx, cfg, log)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	mqConn, err := connectRabbitMQ(startCtx, cfg, log)
	if err != nil {
		log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer mqConn.Close()

	// --- Dependency Injection ---
	p, err := prompts.Load(cfg.PromptsFile)
	if err != nil {
		log.Fatal("Failed to load prompts", zap.Error(err))
	}
	provider, err := ai.NewProvider(cfg, log)
	if err != nil {
		log.Fatal("Failed to create generation provider", zap.Error(err))
	}

	characterRepo := database.NewPgCharacterRepository(pool, log)
	chronicleRepo := database.NewPgChronicleRepository(pool, log)
	foreshadowingRepo := database.NewPgForeshadowingRepository(pool, log)
	chapterRepo := database.NewPgChapterRepository(pool, log)
	summaryRepo := database.NewPgSummaryRepository(pool, log)
	worldFactRepo := database.NewPgWorldFactRepository(pool, log)
	pacingRepo := database.NewPgPacingRepository(pool, log)
	taskStore := database.NewPgTaskStore(pool, log)

	tokens := ai.NewTokenCounter(cfg.AIModel)
	assembler := memory.NewAssembler(memory.Repositories{
		Characters:    characterRepo,
		Chronicle:     chronicleRepo,
		Foreshadowing: foreshadowingRepo,
		Summaries:     summaryRepo,
		WorldFacts:    worldFactRepo,
	}, log,
		memory.WithCache(database.NewRedisMemoryBankCache(redisClient, cfg.MemoryBankCacheTTL, log)),
		memory.WithRecentSummaries(cfg.RecentSummaryWindow),
		memory.WithTokenCounter(tokens.Count),
	)
	ranker := memory.NewRanker(memory.RankerConfig{
		RecentWindow: cfg.RankRecentWindow,
		NearWindow:   cfg.RankNearWindow,
		StaleAfter:   cfg.RankStaleAfter,
	})

	compressor := summary.NewCompressor(provider, summaryRepo, pacingRepo, p, summary.Config{
		SimilarityThreshold: cfg.SimilarityThreshold,
		SampleSize:          cfg.SimilaritySampleSize,
		TrimRatio:           cfg.TrimBoundaryRatio,
		MaxLength:           cfg.SummaryMaxLength,
		FallbackExcerpt:     cfg.FallbackExcerptLength,
	}, log)

	stateMachine := pacing.NewStateMachine(
		pacingRepo,
		provider,
		pacing.NewProviderOracle(provider, p, log),
		pacing.NewMotivationExtractor(provider, p, log),
		p,
		pacing.Config{DefaultEnabled: cfg.PacingDefaultEnabled, ActivationChapter: cfg.PacingActivationChapter},
		log,
	)

	tasks := taskmanager.New(taskmanager.Config{
		Workers: cfg.WorkerPoolSize,
		Guard:   database.NewRedisTargetGuard(redisClient, cfg.TargetGuardTTL, log),
		Store:   taskStore,
	})

	publishChannel, err := mqConn.Channel()
	if err != nil {
		log.Fatal("Failed to open RabbitMQ channel", zap.Error(err))
	}
	defer publishChannel.Close()
	statusPublisher, err := messaging.NewTaskStatusPublisher(publishChannel, cfg.TaskStatusQueue, log)
	if err != nil {
		log.Fatal("Failed to create task status publisher", zap.Error(err))
	}
	tasks.OnUpdate(statusPublisher.Callback())

	continuity := service.NewContinuityService(service.Deps{
		Assembler:         assembler,
		Ranker:            ranker,
		Compressor:        compressor,
		Pacing:            stateMachine,
		Tasks:             tasks,
		Chapters:          chapterRepo,
		WorldFacts:        worldFactRepo,
		Foreshadowing:     foreshadowingRepo,
		Provider:          provider,
		Prompts:           p,
		Batch:             worker.NewBatchRunner(cfg.BatchSize, rate.NewLimiter(rate.Limit(cfg.AIRequestsPerSecond), cfg.AIRequestBurst), log),
		Retry:             worker.RetryConfig{MaxAttempts: cfg.AIMaxAttempts, BaseDelay: cfg.AIBaseRetryDelay, MaxDelay: 30 * time.Second},
		TaskArchive:       taskStore,
		InactiveThreshold: cfg.InactiveThreshold,
	}, log)

	consumer := messaging.NewChapterConsumer(mqConn, messaging.ConsumerConfig{
		QueueName:   cfg.ChapterEventsQueue,
		Prefetch:    cfg.ConsumerPrefetch,
		Concurrency: cfg.ConsumerConcurrency,
	}, continuity, log)
	if err := consumer.Start(rootCtx); err != nil {
		log.Fatal("Failed to start chapter consumer", zap.Error(err))
	}

	var pusher *worker.MetricsPusher
	if cfg.PushgatewayURL != "" {
		pusher, err = worker.NewMetricsPusher(cfg.PushgatewayURL, log)
		if err != nil {
			log.Warn("Pushgateway unavailable, batch metrics are exposed on /metrics only", zap.Error(err))
		} else {
			pusher.Start(metricsPushInterval)
		}
	}

	go cleanupLoop(rootCtx, continuity, cfg.TaskRetention)

	// --- HTTP Server Setup (Gin) ---
	gin.SetMode(gin.ReleaseMode)
	if cfg.Env == "development" {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.ZapLogger(log), gin.Recovery())
	// метрики gin регистрируются в DefaultRegisterer и отдаются общим /metrics ниже
	ginMetrics := ginprometheus.NewPrometheus("gin")
	router.Use(ginMetrics.HandlerFunc())

	corsConfig := cors.DefaultConfig()
	if origins := cfg.GetAllowedOrigins(); len(origins) > 0 {
		corsConfig.AllowOrigins = origins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", middleware.RequestIDHeader}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "postgres": err.Error()})
			return
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer, worker.Registry()}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})))

	handler.NewHandler(continuity, log).RegisterRoutes(router.Group("/api/v1"))

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		log.Info("Starting HTTP server", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server listen error", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	<-rootCtx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server forced to shutdown", zap.Error(err))
	}
	consumer.Stop(cfg.ShutdownGrace)
	if err := tasks.Shutdown(zl.WithContext(shutdownCtx)); err != nil {
		log.Error("Task manager shutdown incomplete", zap.Error(err))
	}
	if pusher != nil {
		pusher.Close()
	}
	log.Info("Server exited")
}

// connectRabbitMQ подключается к RabbitMQ с повторами.
func connectRabbitMQ(ctx context.Context, cfg *config.Config, log *zap.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	retry := worker.RetryConfig{MaxAttempts: 10, BaseDelay: 2 * time.Second, MaxDelay: 15 * time.Second}
	err := worker.Retry(ctx, retry, log.Named("RabbitMQ"), func(context.Context) error {
		var err error
		conn, err = amqp.Dial(cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("%w: %w", models.ErrTransientIO, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	go func() {
		if closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1)); closeErr != nil {
			log.Error("RabbitMQ connection closed", zap.Error(closeErr))
		}
	}()
	log.Info("Connected to RabbitMQ")
	return conn, nil
}

func cleanupLoop(ctx context.Context, s *service.ContinuityService, retention time.Duration) {
	ticker := time.NewTicker(taskCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CleanupTasks(ctx, retention)
		}
	}
}
