package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/meridiankb/pipeline-be/internal/api/handler"
	"github.com/meridiankb/pipeline-be/internal/api/router"
	"github.com/meridiankb/pipeline-be/internal/audit"
	"github.com/meridiankb/pipeline-be/internal/config"
	"github.com/meridiankb/pipeline-be/internal/dlqadmin"
	"github.com/meridiankb/pipeline-be/internal/jobstore"
	"github.com/meridiankb/pipeline-be/internal/quota"
	"github.com/meridiankb/pipeline-be/internal/scheduler"
	"github.com/meridiankb/pipeline-be/shared/gridtable"
	"github.com/meridiankb/pipeline-be/shared/logger"
	"github.com/meridiankb/pipeline-be/shared/postgresql"
	"github.com/meridiankb/pipeline-be/shared/redisqueue"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("store_backend", cfg.Store.Backend),
	)

	// Initialize persistence
	stores, cleanup, err := initStores(cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize stores: %w", err)
	}
	defer cleanup()

	// Initialize broker. A missing broker disables queue-backed submissions
	// but keeps the rest of the API serving.
	queueClient := initBroker(&cfg.Broker, appLogger.Logger)
	defer func() {
		if queueClient != nil {
			queueClient.Close()
		}
	}()

	ledger := quota.NewLedger(stores.quota, quota.Defaults{
		RetrievalEngine:  cfg.Quota.RetrievalEngine,
		Model:            cfg.Quota.Model,
		RagQueriesPerDay: cfg.Quota.RagQueriesPerDay,
		IngestDocsPerDay: cfg.Quota.IngestDocsPerDay,
		LLMTokensPerDay:  cfg.Quota.LLMTokensPerDay,
	}, appLogger.Logger)

	schedCfg := &scheduler.Config{
		Logger: appLogger.Logger,
		Store:  stores.jobs,
		Ledger: ledger,
		Audit:  audit.NewSlogSink(appLogger.Logger),
		Streams: scheduler.Streams{
			Extract: cfg.Broker.Streams.Extract,
			Rag:     cfg.Broker.Streams.Rag,
		},
	}
	if queueClient != nil {
		schedCfg.Transport = queueClient
	}
	manager := scheduler.NewManager(schedCfg)

	var dlqTransport dlqadmin.Transport
	if queueClient != nil {
		dlqTransport = queueClient
	}
	dlqAdmin := dlqadmin.New(dlqTransport, appLogger.Logger)

	// Initialize router
	r := initRouter(cfg.App.Environment, appLogger.Logger, manager, dlqAdmin)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// stores bundles the backend-selected persistence layers.
type stores struct {
	jobs  jobstore.Store
	quota quota.Store
}

// initStores selects the job-store and quota backends from configuration.
// Quota counters live next to the jobs only on the postgres backend; the
// memory and grid backends keep them in process memory.
func initStores(cfg *config.Config, logger *slog.Logger) (*stores, func(), error) {
	cleanup := func() {}

	switch cfg.Store.Backend {
	case config.BackendPostgres:
		dbClient, err := initPostgreSQL(&cfg.Database, logger)
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = func() { dbClient.Close() }
		return &stores{
			jobs:  jobstore.NewPostgresStore(dbClient.GetDB(), logger),
			quota: quota.NewPostgresStore(dbClient.GetDB()),
		}, cleanup, nil

	case config.BackendGrid:
		gridClient := gridtable.NewClient(gridtable.Config{
			BaseURL: cfg.Grid.BaseURL,
			Token:   cfg.Grid.Token,
			Timeout: cfg.Grid.Timeout,
		})
		return &stores{
			jobs:  jobstore.NewGridStore(gridClient, cfg.Grid.JobsTable, logger),
			quota: quota.NewMemoryStore(),
		}, cleanup, nil

	default:
		return &stores{
			jobs:  jobstore.NewMemoryStore(),
			quota: quota.NewMemoryStore(),
		}, cleanup, nil
	}
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initBroker connects to the broker. Connection failure is logged and
// tolerated: the server starts with the queue disabled.
func initBroker(cfg *config.BrokerConfig, logger *slog.Logger) *redisqueue.Client {
	if cfg.URL == "" {
		logger.Warn("No broker URL configured, queue-backed submissions are disabled")
		return nil
	}

	client, err := redisqueue.NewClient(redisqueue.Config{
		URL:              cfg.URL,
		Password:         cfg.Password,
		ConsumerGroup:    cfg.ConsumerGroup,
		ConsumerName:     cfg.ConsumerName,
		BlockTimeout:     cfg.BlockTimeout,
		ClaimIdle:        cfg.ClaimIdle,
		MaxStreamLen:     cfg.MaxStreamLen,
		DeadLetterStream: cfg.Streams.DeadLetter,
		ConnectTimeout:   cfg.ConnectTimeout,
		ModeOverride:     cfg.Mode,
	}, logger)
	if err != nil {
		logger.Warn("Broker unavailable, queue-backed submissions are disabled",
			slog.String("error", err.Error()),
		)
		return nil
	}
	return client
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, logger *slog.Logger, manager *scheduler.Manager, dlqAdmin *dlqadmin.Admin) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize handler dependencies
	handlerDeps := &handler.Dependencies{
		Logger:    logger,
		Scheduler: manager,
		DLQ:       dlqAdmin,
	}

	// Setup router
	return router.SetupRouter(handlerDeps)
}
