package jobstore

import (
	"context"
	"errors"
)

var (
	// ErrJobNotFound is returned when a job does not exist within the caller's tenant
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a conditional transition finds the
	// job in a status outside the allowed set; the job is left unmodified
	ErrInvalidTransition = errors.New("job is not in an eligible status for this transition")
)

// UpdateOutcome reports the result of a best-effort status update. Bookkeeping
// writes must never fail the caller's primary operation, so UpdateStatus
// returns this value instead of an error; callers may inspect it for
// diagnostics and otherwise ignore it.
type UpdateOutcome struct {
	Updated bool
	Err     error
}

// Filter narrows List results. Zero values mean "any".
type Filter struct {
	UserID  string
	JobType JobType
	Status  Status
	Limit   int
}

// Counts aggregates a tenant's jobs by status and by job type.
type Counts struct {
	ByStatus map[Status]int  `json:"by_status"`
	ByType   map[JobType]int `json:"by_type"`
}

// Store persists Job records. Three interchangeable backends implement it
// (in-memory, PostgreSQL, remote grid table), selected at construction time
// by configuration. Every operation is scoped by tenant: a read or write for
// one tenant can never observe or mutate another tenant's rows, and a job id
// from the wrong tenant behaves as not found.
type Store interface {
	// Create persists a new job. The caller fills all immutable fields.
	Create(ctx context.Context, job *Job) error

	// Get returns the job, or ErrJobNotFound.
	Get(ctx context.Context, tenantID, jobID string) (*Job, error)

	// UpdateStatus is the best-effort bookkeeping write used by workers.
	// It swallows persistence failures into the returned outcome.
	UpdateStatus(ctx context.Context, tenantID, jobID string, status Status, output Payload, errMsg string) UpdateOutcome

	// Transition atomically moves the job from one of the allowed statuses to
	// the target status and returns the updated job. A transition to
	// StatusPending clears output_ref and error (retry semantics). Returns
	// ErrJobNotFound or ErrInvalidTransition without mutating on failure.
	Transition(ctx context.Context, tenantID, jobID string, from []Status, to Status) (*Job, error)

	// List returns the tenant's jobs matching the filter, newest first.
	List(ctx context.Context, tenantID string, f Filter) ([]*Job, error)

	// Counts aggregates the tenant's jobs for status reporting.
	Counts(ctx context.Context, tenantID string) (*Counts, error)
}

func statusIn(s Status, set []Status) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}
