package jobstore

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Status represents the lifecycle state of a Job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
	StatusDeadLetter Status = "dead_letter"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCanceled, StatusDeadLetter:
		return true
	}
	return false
}

// JobType is the closed enumeration of work kinds the pipeline schedules.
type JobType string

const (
	TypeIngest   JobType = "ingest"
	TypeRAG      JobType = "rag"
	TypeApproval JobType = "approval"
	TypeTrain    JobType = "train"
	TypeExport   JobType = "export"
	TypeBatch    JobType = "batch"
)

// ParseJobType maps a caller-supplied string onto the closed enumeration.
// Unrecognized values coerce to TypeRAG.
func ParseJobType(s string) JobType {
	switch JobType(s) {
	case TypeIngest, TypeRAG, TypeApproval, TypeTrain, TypeExport, TypeBatch:
		return JobType(s)
	}
	return TypeRAG
}

// Payload is an opaque key-value document stored as JSON.
type Payload map[string]any

// Value implements driver.Valuer so a Payload can be written to a JSONB column.
func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner for reading a Payload back from a JSONB column.
func (p *Payload) Scan(src any) error {
	if src == nil {
		*p = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Payload", src)
	}

	if len(data) == 0 {
		*p = nil
		return nil
	}
	return json.Unmarshal(data, p)
}

// Clone returns a shallow copy so stored payloads cannot be mutated by callers.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Job is the unit of scheduled work. TenantID and UserID are set at creation
// and never change; mutation is permitted only for the owning user or an
// administrator, which callers enforce before reaching the store.
type Job struct {
	ID        string    `db:"job_id" json:"job_id"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	JobType   JobType   `db:"job_type" json:"job_type"`
	Priority  int       `db:"priority" json:"priority"`
	Status    Status    `db:"status" json:"status"`
	InputRef  Payload   `db:"input_ref" json:"input_ref"`
	OutputRef Payload   `db:"output_ref" json:"output_ref,omitempty"`
	Error     string    `db:"error_message" json:"error,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
