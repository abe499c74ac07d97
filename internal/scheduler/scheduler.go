// Package scheduler implements the tenant pipeline manager: the component
// mediating every unit of asynchronous work. Submission runs admission
// control, persists the job, and hands queue-backed work to the broker;
// retry and cancel re-validate ownership before touching anything.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/meridiankb/pipeline-be/internal/audit"
	"github.com/meridiankb/pipeline-be/internal/identity"
	"github.com/meridiankb/pipeline-be/internal/jobstore"
	"github.com/meridiankb/pipeline-be/internal/quota"
)

// QueueTransport is the slice of the broker client the scheduler needs.
type QueueTransport interface {
	Enabled() bool
	Enqueue(ctx context.Context, stream string, payload map[string]any) error
}

// Streams names the broker streams queue-backed job types are routed to.
type Streams struct {
	Extract string
	Rag     string
}

// ApplyDefaults fills empty stream names.
func (s *Streams) ApplyDefaults() {
	if s.Extract == "" {
		s.Extract = "streams:extract"
	}
	if s.Rag == "" {
		s.Rag = "streams:rag"
	}
}

// Config holds scheduler dependencies.
type Config struct {
	Logger    *slog.Logger
	Store     jobstore.Store
	Ledger    *quota.Ledger
	Transport QueueTransport
	Audit     audit.Sink
	Streams   Streams
}

// Manager orchestrates quota, job persistence, and the queue transport.
type Manager struct {
	logger    *slog.Logger
	store     jobstore.Store
	ledger    *quota.Ledger
	transport QueueTransport
	audit     audit.Sink
	streams   Streams
}

// NewManager creates the tenant pipeline manager.
func NewManager(cfg *Config) *Manager {
	cfg.Streams.ApplyDefaults()
	sink := cfg.Audit
	if sink == nil {
		sink = audit.NopSink{}
	}
	transport := cfg.Transport
	if transport == nil {
		transport = disabledTransport{}
	}
	return &Manager{
		logger:    cfg.Logger,
		store:     cfg.Store,
		ledger:    cfg.Ledger,
		transport: transport,
		audit:     sink,
		streams:   cfg.Streams,
	}
}

// disabledTransport stands in when no broker is configured; every queue path
// short-circuits through Enabled.
type disabledTransport struct{}

func (disabledTransport) Enabled() bool { return false }

func (disabledTransport) Enqueue(context.Context, string, map[string]any) error {
	return ErrQueueDisabled
}

// queueBacked reports whether submissions of this type are handed to the broker.
func queueBacked(t jobstore.JobType) bool {
	return t == jobstore.TypeIngest || t == jobstore.TypeRAG
}

// Submit admits, persists, and (for queue-backed job types) enqueues a new
// job. On quota rejection no job is created.
func (m *Manager) Submit(ctx context.Context, caller identity.Context, jobType, flow string, input jobstore.Payload) (*jobstore.Job, error) {
	jt := jobstore.ParseJobType(jobType)

	if queueBacked(jt) && !m.transport.Enabled() {
		return nil, ErrQueueDisabled
	}

	if _, err := m.ledger.CheckAndBump(ctx, caller.TenantID, caller.UserID, jt); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &jobstore.Job{
		ID:        uuid.New().String(),
		TenantID:  caller.TenantID,
		UserID:    caller.UserID,
		JobType:   jt,
		Priority:  PriorityFor(flow),
		Status:    jobstore.StatusPending,
		InputRef:  input.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if queueBacked(jt) {
		if err := m.enqueueWork(ctx, job, false); err != nil {
			// The job row exists but never reached the broker; mark it
			// failed best-effort so it is visible and retryable.
			m.store.UpdateStatus(ctx, job.TenantID, job.ID, jobstore.StatusFailed, nil, err.Error())
			return nil, fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
		}
	}

	m.logger.Info("Job submitted",
		slog.String("job_id", job.ID),
		slog.String("tenant_id", job.TenantID),
		slog.String("user_id", job.UserID),
		slog.String("job_type", string(jt)),
		slog.Int("priority", job.Priority),
	)
	m.auditLog(ctx, "job.submitted", job)

	return job, nil
}

// Get returns a job visible to the caller's tenant.
func (m *Manager) Get(ctx context.Context, caller identity.Context, jobID string) (*jobstore.Job, error) {
	return m.store.Get(ctx, caller.TenantID, jobID)
}

// Retry re-queues a failed or dead-lettered job. Only the owning user or an
// administrator may retry, only ingest and rag jobs have a queue-backed retry
// path, and the broker must be enabled.
func (m *Manager) Retry(ctx context.Context, caller identity.Context, jobID string) (*jobstore.Job, error) {
	job, err := m.store.Get(ctx, caller.TenantID, jobID)
	if err != nil {
		return nil, err
	}
	if !caller.Owns(job.UserID) {
		return nil, identity.ErrForbidden
	}
	if !queueBacked(job.JobType) {
		return nil, fmt.Errorf("%w: %s", ErrRetryUnsupported, job.JobType)
	}
	if !m.transport.Enabled() {
		return nil, ErrQueueDisabled
	}

	job, err = m.store.Transition(ctx, caller.TenantID, jobID,
		[]jobstore.Status{jobstore.StatusFailed, jobstore.StatusDeadLetter},
		jobstore.StatusPending,
	)
	if err != nil {
		if errors.Is(err, jobstore.ErrInvalidTransition) {
			return nil, fmt.Errorf("%w: retry requires failed or dead_letter", ErrInvalidState)
		}
		return nil, err
	}

	if err := m.enqueueWork(ctx, job, true); err != nil {
		return nil, fmt.Errorf("failed to re-enqueue job %s: %w", job.ID, err)
	}

	m.logger.Info("Job retried",
		slog.String("job_id", job.ID),
		slog.String("tenant_id", job.TenantID),
		slog.String("actor_id", caller.UserID),
	)
	m.auditLog(ctx, "job.retried", job)

	return job, nil
}

// Cancel transitions a pending job to canceled. Only the owning user or an
// administrator may cancel, and only while the job is still pending; a worker
// already processing it is not interrupted.
func (m *Manager) Cancel(ctx context.Context, caller identity.Context, jobID string) (*jobstore.Job, error) {
	job, err := m.store.Get(ctx, caller.TenantID, jobID)
	if err != nil {
		return nil, err
	}
	if !caller.Owns(job.UserID) {
		return nil, identity.ErrForbidden
	}

	job, err = m.store.Transition(ctx, caller.TenantID, jobID,
		[]jobstore.Status{jobstore.StatusPending},
		jobstore.StatusCanceled,
	)
	if err != nil {
		if errors.Is(err, jobstore.ErrInvalidTransition) {
			return nil, fmt.Errorf("%w: cancel requires pending", ErrInvalidState)
		}
		return nil, err
	}

	m.logger.Info("Job canceled",
		slog.String("job_id", job.ID),
		slog.String("tenant_id", job.TenantID),
		slog.String("actor_id", caller.UserID),
	)
	m.auditLog(ctx, "job.canceled", job)

	return job, nil
}

// StatusReport aggregates a tenant's pipeline state.
type StatusReport struct {
	Profile    *quota.Profile   `json:"profile"`
	Jobs       *jobstore.Counts `json:"jobs"`
	QueueDepth int              `json:"queue_depth"`
	Quota      *quota.Record    `json:"quota,omitempty"`
}

// Status returns the tenant profile, job counts by status and type, current
// queue depth (pending jobs), and, when userID is given, that user's quota
// record for today.
func (m *Manager) Status(ctx context.Context, caller identity.Context, userID string) (*StatusReport, error) {
	profile, err := m.ledger.Profile(ctx, caller.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant profile: %w", err)
	}

	counts, err := m.store.Counts(ctx, caller.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	report := &StatusReport{
		Profile:    profile,
		Jobs:       counts,
		QueueDepth: counts.ByStatus[jobstore.StatusPending],
	}

	if userID != "" {
		rec, err := m.ledger.Record(ctx, caller.TenantID, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load quota record: %w", err)
		}
		report.Quota = rec
	}

	return report, nil
}

// enqueueWork routes a queue-backed job onto its stream.
func (m *Manager) enqueueWork(ctx context.Context, job *jobstore.Job, retry bool) error {
	switch job.JobType {
	case jobstore.TypeIngest:
		return m.transport.Enqueue(ctx, m.streams.Extract, extractTask(job, retry))
	case jobstore.TypeRAG:
		return m.transport.Enqueue(ctx, m.streams.Rag, ragTask(job))
	}
	return fmt.Errorf("%w: %s", ErrRetryUnsupported, job.JobType)
}

// extractTask builds the extract-stream envelope for an ingest job.
func extractTask(job *jobstore.Job, retry bool) map[string]any {
	task := map[string]any{
		"task":      "extract",
		"job_id":    job.ID,
		"tenant_id": job.TenantID,
		"user_id":   job.UserID,
		"doc_id":    stringField(job.InputRef, "doc_id", ""),
	}
	if retry {
		task["retry"] = "true"
	}
	return task
}

// ragTask rebuilds the retrieval envelope from the stored input, defaulting
// missing tuning fields.
func ragTask(job *jobstore.Job) map[string]any {
	in := job.InputRef

	filterJSON := "{}"
	if f, ok := in["filter"]; ok && f != nil {
		if data, err := json.Marshal(f); err == nil {
			filterJSON = string(data)
		}
	}

	return map[string]any{
		"task":      "rag_query",
		"job_id":    job.ID,
		"tenant_id": job.TenantID,
		"user_id":   job.UserID,
		"query":     stringField(in, "query", ""),
		"top_k":     strconv.Itoa(intField(in, "top_k", 5)),
		"threshold": strconv.FormatFloat(floatField(in, "threshold", 0.6), 'f', -1, 64),
		"filter":    filterJSON,
		"role":      stringField(in, "role", ""),
	}
}

func stringField(p jobstore.Payload, key, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}

func intField(p jobstore.Payload, key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatField(p jobstore.Payload, key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// auditLog emits a best-effort audit event; sink failures never fail the
// triggering operation.
func (m *Manager) auditLog(ctx context.Context, eventType string, job *jobstore.Job) {
	err := m.audit.Log(ctx, eventType, map[string]any{
		"job_id":    job.ID,
		"tenant_id": job.TenantID,
		"user_id":   job.UserID,
		"job_type":  string(job.JobType),
		"status":    string(job.Status),
	})
	if err != nil {
		m.logger.Debug("Audit event dropped",
			slog.String("event", eventType),
			slog.Any("error", err),
		)
	}
}
