package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresStore persists jobs in a relational `jobs` table. Every statement
// carries the tenant_id so rows from other tenants are unreachable.
//
// Expected schema:
//
//	CREATE TABLE jobs (
//	    job_id        UUID PRIMARY KEY,
//	    tenant_id     TEXT NOT NULL,
//	    user_id       TEXT NOT NULL,
//	    job_type      TEXT NOT NULL,
//	    priority      INT  NOT NULL,
//	    status        TEXT NOT NULL,
//	    input_ref     JSONB NOT NULL DEFAULT '{}',
//	    output_ref    JSONB,
//	    error_message TEXT NOT NULL DEFAULT '',
//	    created_at    TIMESTAMPTZ NOT NULL,
//	    updated_at    TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX jobs_tenant_status_idx ON jobs (tenant_id, status);
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresStore creates a PostgreSQL-backed job store.
func NewPostgresStore(db *sqlx.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

const jobColumns = `job_id, tenant_id, user_id, job_type, priority, status, input_ref, output_ref, error_message, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, job *Job) error {
	query := `
		INSERT INTO jobs (
			job_id, tenant_id, user_id, job_type, priority,
			status, input_ref, output_ref, error_message, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.TenantID,
		job.UserID,
		job.JobType,
		job.Priority,
		job.Status,
		job.InputRef,
		job.OutputRef,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

func (s *PostgresStore) Get(ctx context.Context, tenantID, jobID string) (*Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE tenant_id = $1 AND job_id = $2
	`

	var job Job
	err := s.db.GetContext(ctx, &job, query, tenantID, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, tenantID, jobID string, status Status, output Payload, errMsg string) UpdateOutcome {
	query := `
		UPDATE jobs
		SET status = $1,
		    output_ref = COALESCE($2, output_ref),
		    error_message = $3,
		    updated_at = NOW()
		WHERE tenant_id = $4 AND job_id = $5
	`

	var outputArg any
	if output != nil {
		outputArg = output
	}

	res, err := s.db.ExecContext(ctx, query, status, outputArg, errMsg, tenantID, jobID)
	if err != nil {
		// Bookkeeping writes are best-effort; the primary operation of the
		// caller must still succeed, so the failure is only surfaced here.
		s.logger.Warn("Job status update failed",
			slog.String("job_id", jobID),
			slog.String("status", string(status)),
			slog.Any("error", err),
		)
		return UpdateOutcome{Updated: false, Err: err}
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return UpdateOutcome{Updated: false, Err: err}
	}
	if rows == 0 {
		return UpdateOutcome{Updated: false, Err: ErrJobNotFound}
	}
	return UpdateOutcome{Updated: true}
}

// Transition relies on a conditional UPDATE so that concurrent callers cannot
// both move the same job; the losing caller observes the new status.
func (s *PostgresStore) Transition(ctx context.Context, tenantID, jobID string, from []Status, to Status) (*Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    output_ref = CASE WHEN $1 = 'pending' THEN NULL ELSE output_ref END,
		    error_message = CASE WHEN $1 = 'pending' THEN '' ELSE error_message END,
		    updated_at = NOW()
		WHERE tenant_id = $2 AND job_id = $3 AND status = ANY($4)
		RETURNING ` + jobColumns + `
	`

	fromStrs := make([]string, len(from))
	for i, st := range from {
		fromStrs[i] = string(st)
	}

	var job Job
	err := s.db.QueryRowxContext(ctx, query, to, tenantID, jobID, pq.Array(fromStrs)).StructScan(&job)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Distinguish a missing job from an ineligible status.
			if _, getErr := s.Get(ctx, tenantID, jobID); errors.Is(getErr, ErrJobNotFound) {
				return nil, ErrJobNotFound
			}
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("failed to transition job: %w", err)
	}

	return &job, nil
}

func (s *PostgresStore) List(ctx context.Context, tenantID string, f Filter) ([]*Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE tenant_id = $1
	`
	args := []interface{}{tenantID}
	argIdx := 2

	if f.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, f.UserID)
		argIdx++
	}

	if f.JobType != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, f.JobType)
		argIdx++
	}

	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, f.Status)
		argIdx++
	}

	query += " ORDER BY created_at DESC, job_id DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	var jobs []*Job
	err := s.db.SelectContext(ctx, &jobs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

func (s *PostgresStore) Counts(ctx context.Context, tenantID string) (*Counts, error) {
	type row struct {
		Status  Status  `db:"status"`
		JobType JobType `db:"job_type"`
		Count   int     `db:"count"`
	}

	query := `
		SELECT status, job_type, COUNT(*) AS count
		FROM jobs
		WHERE tenant_id = $1
		GROUP BY status, job_type
	`

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, tenantID); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	c := &Counts{
		ByStatus: make(map[Status]int),
		ByType:   make(map[JobType]int),
	}
	for _, r := range rows {
		c.ByStatus[r.Status] += r.Count
		c.ByType[r.JobType] += r.Count
	}
	return c, nil
}
