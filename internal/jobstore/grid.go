package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridiankb/pipeline-be/shared/gridtable"
)

// gridScanLimit bounds how many rows List/Counts pull from the remote table.
const gridScanLimit = 1000

// GridStore persists jobs in a remote REST-table service. Each operation is
// translated to filtered select/insert/update row calls, always scoped by
// tenant_id in the filter.
//
// The remote service offers no conditional update, so Transition is a
// read-then-write narrowed by including the observed status in the update
// filter; a concurrent transition makes the update match zero rows.
type GridStore struct {
	client *gridtable.Client
	table  string
	logger *slog.Logger
}

// NewGridStore creates a grid-table-backed job store.
func NewGridStore(client *gridtable.Client, table string, logger *slog.Logger) *GridStore {
	if table == "" {
		table = "jobs"
	}
	return &GridStore{
		client: client,
		table:  table,
		logger: logger,
	}
}

func jobToRow(job *Job) gridtable.Row {
	inputJSON, _ := json.Marshal(job.InputRef)
	outputJSON, _ := json.Marshal(job.OutputRef)

	return gridtable.Row{
		"job_id":        job.ID,
		"tenant_id":     job.TenantID,
		"user_id":       job.UserID,
		"job_type":      string(job.JobType),
		"priority":      job.Priority,
		"status":        string(job.Status),
		"input_ref":     string(inputJSON),
		"output_ref":    string(outputJSON),
		"error_message": job.Error,
		"created_at":    job.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":    job.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func rowString(row gridtable.Row, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return ""
}

func rowToJob(row gridtable.Row) (*Job, error) {
	job := &Job{
		ID:       rowString(row, "job_id"),
		TenantID: rowString(row, "tenant_id"),
		UserID:   rowString(row, "user_id"),
		JobType:  JobType(rowString(row, "job_type")),
		Status:   Status(rowString(row, "status")),
		Error:    rowString(row, "error_message"),
	}
	if job.ID == "" {
		return nil, fmt.Errorf("grid row is missing job_id")
	}

	switch v := row["priority"].(type) {
	case float64:
		job.Priority = int(v)
	case int:
		job.Priority = v
	}

	if raw := rowString(row, "input_ref"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &job.InputRef); err != nil {
			return nil, fmt.Errorf("failed to parse input_ref: %w", err)
		}
	}
	if raw := rowString(row, "output_ref"); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &job.OutputRef); err != nil {
			return nil, fmt.Errorf("failed to parse output_ref: %w", err)
		}
	}

	if ts := rowString(row, "created_at"); ts != "" {
		job.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	if ts := rowString(row, "updated_at"); ts != "" {
		job.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}

	return job, nil
}

func (s *GridStore) Create(ctx context.Context, job *Job) error {
	if _, err := s.client.InsertRow(ctx, s.table, jobToRow(job)); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *GridStore) Get(ctx context.Context, tenantID, jobID string) (*Job, error) {
	rows, err := s.client.ListRows(ctx, s.table, map[string]string{
		"tenant_id": tenantID,
		"job_id":    jobID,
	}, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrJobNotFound
	}
	return rowToJob(rows[0])
}

func (s *GridStore) UpdateStatus(ctx context.Context, tenantID, jobID string, status Status, output Payload, errMsg string) UpdateOutcome {
	patch := gridtable.Row{
		"status":        string(status),
		"error_message": errMsg,
		"updated_at":    time.Now().UTC().Format(time.RFC3339Nano),
	}
	if output != nil {
		outputJSON, _ := json.Marshal(output)
		patch["output_ref"] = string(outputJSON)
	}

	updated, err := s.client.UpdateRows(ctx, s.table, map[string]string{
		"tenant_id": tenantID,
		"job_id":    jobID,
	}, patch)
	if err != nil {
		s.logger.Warn("Job status update failed",
			slog.String("job_id", jobID),
			slog.String("status", string(status)),
			slog.Any("error", err),
		)
		return UpdateOutcome{Updated: false, Err: err}
	}
	if updated == 0 {
		return UpdateOutcome{Updated: false, Err: ErrJobNotFound}
	}
	return UpdateOutcome{Updated: true}
}

func (s *GridStore) Transition(ctx context.Context, tenantID, jobID string, from []Status, to Status) (*Job, error) {
	current, err := s.Get(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if !statusIn(current.Status, from) {
		return nil, ErrInvalidTransition
	}

	patch := gridtable.Row{
		"status":     string(to),
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if to == StatusPending {
		patch["output_ref"] = "null"
		patch["error_message"] = ""
	}

	// Include the observed status in the filter so a concurrent transition
	// causes this update to match nothing instead of clobbering it.
	updated, err := s.client.UpdateRows(ctx, s.table, map[string]string{
		"tenant_id": tenantID,
		"job_id":    jobID,
		"status":    string(current.Status),
	}, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to transition job: %w", err)
	}
	if updated == 0 {
		return nil, ErrInvalidTransition
	}

	current.Status = to
	if to == StatusPending {
		current.OutputRef = nil
		current.Error = ""
	}
	current.UpdatedAt = time.Now().UTC()
	return current, nil
}

func (s *GridStore) List(ctx context.Context, tenantID string, f Filter) ([]*Job, error) {
	filter := map[string]string{"tenant_id": tenantID}
	if f.UserID != "" {
		filter["user_id"] = f.UserID
	}
	if f.JobType != "" {
		filter["job_type"] = string(f.JobType)
	}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = gridScanLimit
	}

	rows, err := s.client.ListRows(ctx, s.table, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*Job, 0, len(rows))
	for _, row := range rows {
		job, err := rowToJob(row)
		if err != nil {
			s.logger.Warn("Skipping malformed grid row", slog.Any("error", err))
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *GridStore) Counts(ctx context.Context, tenantID string) (*Counts, error) {
	rows, err := s.client.ListRows(ctx, s.table, map[string]string{"tenant_id": tenantID}, gridScanLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	c := &Counts{
		ByStatus: make(map[Status]int),
		ByType:   make(map[JobType]int),
	}
	for _, row := range rows {
		c.ByStatus[Status(rowString(row, "status"))]++
		c.ByType[JobType(rowString(row, "job_type"))]++
	}
	return c, nil
}
