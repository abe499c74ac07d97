package worker

import (
	"context"
	"fmt"
	"log/slog"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop is the main processing loop for each worker goroutine. It
// round-robins the configured streams; the blocking read bounds how long a
// pass can stall on an empty stream.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.queue.ConsumerName(), workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
		slog.Int("worker_num", workerNum),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		default:
		}

		for _, stream := range w.streams {
			msg, err := w.queue.Dequeue(ctx, stream, w.blockTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.logger.Error("Failed to dequeue message",
					slog.String("worker_name", workerName),
					slog.String("stream", stream),
					slog.String("error", err.Error()),
				)
				continue
			}
			if msg == nil {
				continue
			}

			w.processMessage(ctx, workerName, msg)
		}
	}
}
