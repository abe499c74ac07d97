package quota

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps profiles and usage records in process. The mutex makes
// IncrementIfBelow atomic, so the boundary check cannot over-admit.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[string]*Profile
	records  map[string]*Record // keyed by tenant|user|day
}

// NewMemoryStore creates an empty in-memory quota store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]*Profile),
		records:  make(map[string]*Record),
	}
}

func recordKey(tenantID, userID, day string) string {
	return fmt.Sprintf("%s|%s|%s", tenantID, userID, day)
}

func (s *MemoryStore) EnsureProfile(_ context.Context, seed *Profile) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.profiles[seed.TenantID]; ok {
		cp := *p
		return &cp, nil
	}

	cp := *seed
	s.profiles[seed.TenantID] = &cp
	out := cp
	return &out, nil
}

// record returns the stored record, creating a zero one lazily.
// Callers must hold the lock.
func (s *MemoryStore) record(tenantID, userID, day string) *Record {
	key := recordKey(tenantID, userID, day)
	rec, ok := s.records[key]
	if !ok {
		rec = &Record{TenantID: tenantID, UserID: userID, Day: day}
		s.records[key] = rec
	}
	return rec
}

func (s *MemoryStore) GetRecord(_ context.Context, tenantID, userID, day string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *s.record(tenantID, userID, day)
	return &cp, nil
}

func (s *MemoryStore) IncrementIfBelow(_ context.Context, tenantID, userID, day, dim string, limit int) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(tenantID, userID, day)

	counter, err := counterFor(rec, dim)
	if err != nil {
		return nil, err
	}
	if *counter >= limit {
		return nil, ErrQuotaExceeded
	}
	*counter++

	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Add(_ context.Context, tenantID, userID, day, dim string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(tenantID, userID, day)
	counter, err := counterFor(rec, dim)
	if err != nil {
		return err
	}
	*counter += n
	return nil
}

func counterFor(rec *Record, dim string) (*int, error) {
	switch dim {
	case DimRagQueries:
		return &rec.RagQueries, nil
	case DimLLMTokens:
		return &rec.LLMTokens, nil
	case DimIngestDocs:
		return &rec.IngestDocs, nil
	}
	return nil, fmt.Errorf("unknown quota dimension: %s", dim)
}
