package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/meridiankb/pipeline-be/internal/config"
	"github.com/meridiankb/pipeline-be/internal/jobstore"
	"github.com/meridiankb/pipeline-be/internal/worker"
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
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("store_backend", cfg.Store.Backend),
	)

	// Initialize job store
	store, cleanup, err := initStore(cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize job store: %w", err)
	}
	defer cleanup()

	// Initialize broker. Unlike the API service, a worker is useless without
	// the broker, so connection failure is fatal here.
	queueClient, err := redisqueue.NewClient(redisqueue.Config{
		URL:              cfg.Broker.URL,
		Password:         cfg.Broker.Password,
		ConsumerGroup:    cfg.Broker.ConsumerGroup,
		ConsumerName:     cfg.Broker.ConsumerName,
		BlockTimeout:     cfg.Broker.BlockTimeout,
		ClaimIdle:        cfg.Broker.ClaimIdle,
		MaxStreamLen:     cfg.Broker.MaxStreamLen,
		DeadLetterStream: cfg.Broker.Streams.DeadLetter,
		ConnectTimeout:   cfg.Broker.ConnectTimeout,
		ModeOverride:     cfg.Broker.Mode,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer queueClient.Close()

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:       appLogger.Logger,
		Store:        store,
		Queue:        queueClient,
		Streams:      []string{cfg.Broker.Streams.Extract, cfg.Broker.Streams.Rag},
		Concurrency:  cfg.Worker.Concurrency,
		BlockTimeout: cfg.Worker.BlockTimeout,
	})

	registerHandlers(workerInstance, appLogger.Logger)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	// Cancel context to stop worker
	cancel()

	// Give worker time to shutdown gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	// Stop worker
	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// registerHandlers binds the task handlers. Document extraction and retrieval
// execution live in downstream services; these handlers stand in until those
// are linked in, recording the envelope they would act on.
func registerHandlers(w *worker.Worker, logger *slog.Logger) {
	w.Register("extract", func(ctx context.Context, msg *redisqueue.Message) (jobstore.Payload, error) {
		logger.Info("Extract task received",
			slog.String("job_id", msg.Get("job_id")),
			slog.String("doc_id", msg.Get("doc_id")),
			slog.String("retry", msg.Get("retry")),
		)
		return jobstore.Payload{"doc_id": msg.Get("doc_id")}, nil
	})

	w.Register("rag_query", func(ctx context.Context, msg *redisqueue.Message) (jobstore.Payload, error) {
		logger.Info("Retrieval task received",
			slog.String("job_id", msg.Get("job_id")),
			slog.String("query", msg.Get("query")),
			slog.String("top_k", msg.Get("top_k")),
		)
		return jobstore.Payload{"query": msg.Get("query")}, nil
	})
}

// initStore selects the job-store backend shared with the API service.
func initStore(cfg *config.Config, logger *slog.Logger) (jobstore.Store, func(), error) {
	cleanup := func() {}

	switch cfg.Store.Backend {
	case config.BackendPostgres:
		dbClient, err := initPostgreSQL(&cfg.Database, logger)
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = func() { dbClient.Close() }
		return jobstore.NewPostgresStore(dbClient.GetDB(), logger), cleanup, nil

	case config.BackendGrid:
		gridClient := gridtable.NewClient(gridtable.Config{
			BaseURL: cfg.Grid.BaseURL,
			Token:   cfg.Grid.Token,
			Timeout: cfg.Grid.Timeout,
		})
		return jobstore.NewGridStore(gridClient, cfg.Grid.JobsTable, logger), cleanup, nil

	default:
		// Process-local; status updates are invisible to the API service.
		// Only useful for local smoke runs.
		return jobstore.NewMemoryStore(), cleanup, nil
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
