package dto

import (
	"time"

	"github.com/meridiankb/pipeline-be/internal/jobstore"
)

type SubmitJobRequest struct {
	JobType string         `json:"job_type" binding:"required"`
	Flow    string         `json:"flow"`
	Input   map[string]any `json:"input"`
}

type JobResponse struct {
	JobID     string         `json:"job_id"`
	TenantID  string         `json:"tenant_id"`
	UserID    string         `json:"user_id"`
	JobType   string         `json:"job_type"`
	Priority  int            `json:"priority"`
	Status    string         `json:"status"`
	Input     map[string]any `json:"input,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

// FromJob converts a stored job into its API representation.
func FromJob(job *jobstore.Job) JobResponse {
	return JobResponse{
		JobID:     job.ID,
		TenantID:  job.TenantID,
		UserID:    job.UserID,
		JobType:   string(job.JobType),
		Priority:  job.Priority,
		Status:    string(job.Status),
		Input:     job.InputRef,
		Output:    job.OutputRef,
		Error:     job.Error,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
	}
}

type DeadLetterEntry struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

type PeekDLQResponse struct {
	Entries []DeadLetterEntry `json:"entries"`
	Scanned int               `json:"scanned"`
	Matched int               `json:"matched"`
}

type PopDLQRequest struct {
	TenantID  string `json:"tenant_id"`
	Count     int    `json:"count"`
	ScanLimit int    `json:"scan_limit"`
}

type PopDLQResponse struct {
	Entries []DeadLetterEntry `json:"entries"`
	Removed int               `json:"removed"`
}
