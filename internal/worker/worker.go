package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meridiankb/pipeline-be/internal/jobstore"
	"github.com/meridiankb/pipeline-be/shared/redisqueue"
)

// Handler executes one task envelope and returns the job's output payload.
type Handler func(ctx context.Context, msg *redisqueue.Message) (jobstore.Payload, error)

// Config holds worker configuration
type Config struct {
	Logger       *slog.Logger
	Store        jobstore.Store
	Queue        *redisqueue.Client
	Streams      []string
	Concurrency  int
	BlockTimeout time.Duration
}

// Worker pulls task envelopes from the broker streams and dispatches them to
// registered handlers. Delivery is at least once: a message is acknowledged
// only after its handler outcome has been recorded, so a crash mid-flight
// leaves it pending for reclaim by another consumer.
type Worker struct {
	logger       *slog.Logger
	store        jobstore.Store
	queue        *redisqueue.Client
	streams      []string
	concurrency  int
	blockTimeout time.Duration

	handlers map[string]Handler
	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	return &Worker{
		logger:       cfg.Logger,
		store:        cfg.Store,
		queue:        cfg.Queue,
		streams:      cfg.Streams,
		concurrency:  cfg.Concurrency,
		blockTimeout: cfg.BlockTimeout,
		handlers:     make(map[string]Handler),
		stopChan:     make(chan struct{}),
	}
}

// Register binds a handler to a task name. Must be called before Start.
func (w *Worker) Register(task string, h Handler) {
	w.handlers[task] = h
}

// Start begins processing jobs
func (w *Worker) Start(ctx context.Context) error {
	if w.queue == nil || !w.queue.Enabled() {
		return fmt.Errorf("broker is not available")
	}
	if len(w.handlers) == 0 {
		return fmt.Errorf("no task handlers registered")
	}

	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.String("consumer", w.queue.ConsumerName()),
		slog.Any("streams", w.streams),
	)

	w.spawnWorkerPool(ctx)

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")

	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
