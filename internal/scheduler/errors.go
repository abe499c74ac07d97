package scheduler

import "errors"

var (
	// ErrQueueDisabled is returned when an operation needs the broker but no
	// broker connection is configured; callers fail fast instead of
	// degrading silently.
	ErrQueueDisabled = errors.New("queue transport is disabled")

	// ErrInvalidState is returned when retry or cancel finds the job in a
	// status that does not permit the transition; nothing is mutated.
	ErrInvalidState = errors.New("job status does not permit this operation")

	// ErrRetryUnsupported is returned for job types that have no queue-backed
	// retry path.
	ErrRetryUnsupported = errors.New("job type cannot be retried through the queue")
)
