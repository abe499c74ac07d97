// Package dlqadmin offers tenant-filtered inspection and removal of
// dead-letter messages. Both operations are best-effort and not atomic: they
// scan a bounded prefix of the dead-letter stream so a large backlog cannot
// stall an administrative call.
package dlqadmin

import (
	"context"
	"log/slog"

	"github.com/meridiankb/pipeline-be/internal/identity"
	"github.com/meridiankb/pipeline-be/internal/scheduler"
	"github.com/meridiankb/pipeline-be/shared/redisqueue"
)

const (
	// DefaultScanLimit bounds a scan when the caller does not choose one.
	DefaultScanLimit = 500

	// MaxScanLimit is the hard ceiling on a single scan.
	MaxScanLimit = 1000
)

// Transport is the slice of the broker client the admin needs.
type Transport interface {
	Enabled() bool
	ScanDeadLetters(ctx context.Context, count int64) ([]redisqueue.DeadLetter, error)
	RemoveDeadLetter(ctx context.Context, id string) error
}

// PeekResult reports the matched entries along with how far the scan went,
// so callers can tell whether the scan window was exhausted.
type PeekResult struct {
	Items   []redisqueue.DeadLetter `json:"items"`
	Scanned int                     `json:"scanned"`
	Matched int                     `json:"matched"`
}

// Admin inspects and drains the dead-letter stream for one tenant at a time.
type Admin struct {
	transport Transport
	logger    *slog.Logger
}

// New creates a dead-letter admin over the queue transport. A nil transport
// behaves as a permanently disabled queue.
func New(transport Transport, logger *slog.Logger) *Admin {
	if transport == nil {
		transport = disabledTransport{}
	}
	return &Admin{
		transport: transport,
		logger:    logger,
	}
}

type disabledTransport struct{}

func (disabledTransport) Enabled() bool { return false }

func (disabledTransport) ScanDeadLetters(context.Context, int64) ([]redisqueue.DeadLetter, error) {
	return nil, scheduler.ErrQueueDisabled
}

func (disabledTransport) RemoveDeadLetter(context.Context, string) error {
	return scheduler.ErrQueueDisabled
}

func clampScanLimit(scanLimit int) int64 {
	if scanLimit <= 0 {
		return DefaultScanLimit
	}
	if scanLimit > MaxScanLimit {
		return MaxScanLimit
	}
	return int64(scanLimit)
}

// Peek returns up to limit dead-letter entries whose tenant_id field matches,
// scanning at most scanLimit entries from the head of the stream.
func (a *Admin) Peek(ctx context.Context, caller identity.Context, tenantID string, limit, scanLimit int) (*PeekResult, error) {
	if !caller.IsAdmin() {
		return nil, identity.ErrForbidden
	}
	if !a.transport.Enabled() {
		return nil, scheduler.ErrQueueDisabled
	}
	if limit <= 0 {
		limit = 10
	}

	entries, err := a.transport.ScanDeadLetters(ctx, clampScanLimit(scanLimit))
	if err != nil {
		return nil, err
	}

	result := &PeekResult{Scanned: len(entries)}
	for _, e := range entries {
		if e.Get("tenant_id") != tenantID {
			continue
		}
		result.Matched++
		if len(result.Items) < limit {
			result.Items = append(result.Items, e)
		}
	}
	return result, nil
}

// Pop removes up to count matching entries from the dead-letter stream and
// returns them (for administrative requeue). Each deletion is attempted
// individually; one failure does not abort collection of the others.
func (a *Admin) Pop(ctx context.Context, caller identity.Context, tenantID string, count, scanLimit int) ([]redisqueue.DeadLetter, error) {
	if !caller.IsAdmin() {
		return nil, identity.ErrForbidden
	}
	if !a.transport.Enabled() {
		return nil, scheduler.ErrQueueDisabled
	}
	if count <= 0 {
		count = 1
	}

	entries, err := a.transport.ScanDeadLetters(ctx, clampScanLimit(scanLimit))
	if err != nil {
		return nil, err
	}

	popped := make([]redisqueue.DeadLetter, 0, count)
	for _, e := range entries {
		if len(popped) >= count {
			break
		}
		if e.Get("tenant_id") != tenantID {
			continue
		}

		if err := a.transport.RemoveDeadLetter(ctx, e.ID); err != nil {
			a.logger.Warn("Failed to delete dead-letter entry",
				slog.String("message_id", e.ID),
				slog.Any("error", err),
			)
			continue
		}
		popped = append(popped, e)
	}

	a.logger.Info("Dead-letter entries popped",
		slog.String("tenant_id", tenantID),
		slog.Int("count", len(popped)),
		slog.String("actor_id", caller.UserID),
	)
	return popped, nil
}
