package jobstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the in-process backend used for tests and single-node
// development. All operations serialize under one mutex.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job // keyed by job_id
}

// NewMemoryStore creates an empty in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*Job),
	}
}

func (s *MemoryStore) Create(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *job
	cp.InputRef = job.InputRef.Clone()
	cp.OutputRef = job.OutputRef.Clone()
	s.jobs[job.ID] = &cp
	return nil
}

// lookup returns the stored job only when it belongs to the tenant.
// Callers must hold the lock.
func (s *MemoryStore) lookup(tenantID, jobID string) *Job {
	j, ok := s.jobs[jobID]
	if !ok || j.TenantID != tenantID {
		return nil
	}
	return j
}

func (s *MemoryStore) Get(_ context.Context, tenantID, jobID string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j := s.lookup(tenantID, jobID)
	if j == nil {
		return nil, ErrJobNotFound
	}
	cp := *j
	cp.InputRef = j.InputRef.Clone()
	cp.OutputRef = j.OutputRef.Clone()
	return &cp, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, tenantID, jobID string, status Status, output Payload, errMsg string) UpdateOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := s.lookup(tenantID, jobID)
	if j == nil {
		// Missing rows are swallowed; bookkeeping must not fail the caller.
		return UpdateOutcome{Updated: false, Err: ErrJobNotFound}
	}

	j.Status = status
	if output != nil {
		j.OutputRef = output.Clone()
	}
	j.Error = errMsg
	j.UpdatedAt = time.Now().UTC()
	return UpdateOutcome{Updated: true}
}

func (s *MemoryStore) Transition(_ context.Context, tenantID, jobID string, from []Status, to Status) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := s.lookup(tenantID, jobID)
	if j == nil {
		return nil, ErrJobNotFound
	}
	if !statusIn(j.Status, from) {
		return nil, ErrInvalidTransition
	}

	j.Status = to
	if to == StatusPending {
		j.OutputRef = nil
		j.Error = ""
	}
	j.UpdatedAt = time.Now().UTC()

	cp := *j
	cp.InputRef = j.InputRef.Clone()
	cp.OutputRef = j.OutputRef.Clone()
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, tenantID string, f Filter) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Job
	for _, j := range s.jobs {
		if j.TenantID != tenantID {
			continue
		}
		if f.UserID != "" && j.UserID != f.UserID {
			continue
		}
		if f.JobType != "" && j.JobType != f.JobType {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		cp := *j
		cp.InputRef = j.InputRef.Clone()
		cp.OutputRef = j.OutputRef.Clone()
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID > out[k].ID
		}
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Counts(_ context.Context, tenantID string) (*Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := &Counts{
		ByStatus: make(map[Status]int),
		ByType:   make(map[JobType]int),
	}
	for _, j := range s.jobs {
		if j.TenantID != tenantID {
			continue
		}
		c.ByStatus[j.Status]++
		c.ByType[j.JobType]++
	}
	return c, nil
}
