package worker

import (
	"context"
	"log/slog"

	"github.com/meridiankb/pipeline-be/internal/jobstore"
	"github.com/meridiankb/pipeline-be/shared/redisqueue"
)

// processMessage runs one delivered envelope through its handler and records
// the outcome. Status writes are best effort; a failed bookkeeping write never
// blocks acknowledgment, only the handler result does.
func (w *Worker) processMessage(ctx context.Context, workerName string, msg *redisqueue.Message) {
	task := msg.Get("task")
	jobID := msg.Get("job_id")
	tenantID := msg.Get("tenant_id")

	w.logger.Info("Worker received task",
		slog.String("worker_name", workerName),
		slog.String("task", task),
		slog.String("job_id", jobID),
		slog.String("stream", msg.Stream),
		slog.String("message_id", msg.ID),
	)

	handler, ok := w.handlers[task]
	if !ok {
		w.logger.Error("No handler registered for task",
			slog.String("task", task),
			slog.String("job_id", jobID),
		)
		w.deadLetter(ctx, msg, "no handler registered for task")
		w.ack(ctx, msg)
		return
	}

	if jobID == "" || tenantID == "" {
		w.logger.Error("Malformed task envelope",
			slog.String("task", task),
			slog.String("message_id", msg.ID),
		)
		w.deadLetter(ctx, msg, "envelope is missing job_id or tenant_id")
		w.ack(ctx, msg)
		return
	}

	if outcome := w.store.UpdateStatus(ctx, tenantID, jobID, jobstore.StatusProcessing, nil, ""); outcome.Err != nil {
		w.logger.Warn("Failed to mark job processing",
			slog.String("job_id", jobID),
			slog.String("error", outcome.Err.Error()),
		)
	}

	output, err := handler(ctx, msg)
	if err != nil {
		w.logger.Error("Task execution failed",
			slog.String("worker_name", workerName),
			slog.String("task", task),
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)

		w.store.UpdateStatus(ctx, tenantID, jobID, jobstore.StatusFailed, nil, err.Error())
		w.deadLetter(ctx, msg, err.Error())
		w.ack(ctx, msg)
		return
	}

	w.store.UpdateStatus(ctx, tenantID, jobID, jobstore.StatusCompleted, output, "")

	w.logger.Info("Task completed successfully",
		slog.String("worker_name", workerName),
		slog.String("task", task),
		slog.String("job_id", jobID),
	)

	w.ack(ctx, msg)
}

// deadLetter copies the envelope onto the dead-letter stream with a reason.
func (w *Worker) deadLetter(ctx context.Context, msg *redisqueue.Message, reason string) {
	payload := make(map[string]any, len(msg.Values))
	for k, v := range msg.Values {
		payload[k] = v
	}
	if err := w.queue.EnqueueDeadLetter(ctx, payload, reason); err != nil {
		w.logger.Error("Failed to dead-letter message",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Worker) ack(ctx context.Context, msg *redisqueue.Message) {
	if err := w.queue.Ack(ctx, msg); err != nil {
		w.logger.Error("Failed to acknowledge message",
			slog.String("message_id", msg.ID),
			slog.String("stream", msg.Stream),
			slog.String("error", err.Error()),
		)
	}
}
