// Package quota implements per-tenant/per-user/per-day admission counters.
// Submission is gated here before any job record is created.
package quota

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/meridiankb/pipeline-be/internal/jobstore"
)

var (
	// ErrQuotaExceeded is the admission rejection callers must surface
	// without retrying; the job is never created.
	ErrQuotaExceeded = errors.New("quota exceeded for today")
)

// Dimension names the metered counters. They double as column names in the
// relational backend, so they are a closed set.
const (
	DimRagQueries = "rag_queries"
	DimLLMTokens  = "llm_tokens"
	DimIngestDocs = "ingest_docs"
)

// Record is one (tenant, user, day) row of usage counters. Counters are never
// decremented; the day rolling over simply starts a fresh record.
type Record struct {
	TenantID   string `db:"tenant_id" json:"tenant_id"`
	UserID     string `db:"user_id" json:"user_id"`
	Day        string `db:"day" json:"day"`
	RagQueries int    `db:"rag_queries" json:"rag_queries"`
	LLMTokens  int    `db:"llm_tokens" json:"llm_tokens"`
	IngestDocs int    `db:"ingest_docs" json:"ingest_docs"`
}

// Profile carries a tenant's identities and daily per-user limits. It is
// created once the first time a tenant is seen and reused afterwards.
type Profile struct {
	TenantID         string    `db:"tenant_id" json:"tenant_id"`
	RetrievalEngine  string    `db:"retrieval_engine" json:"retrieval_engine"`
	Model            string    `db:"model" json:"model"`
	RagQueriesPerDay int       `db:"rag_queries_per_day" json:"rag_queries_per_day"`
	IngestDocsPerDay int       `db:"ingest_docs_per_day" json:"ingest_docs_per_day"`
	LLMTokensPerDay  int       `db:"llm_tokens_per_day" json:"llm_tokens_per_day"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// Defaults seed new tenant profiles.
type Defaults struct {
	RetrievalEngine  string
	Model            string
	RagQueriesPerDay int
	IngestDocsPerDay int
	LLMTokensPerDay  int
}

// ApplyFallbacks fills zero values with the documented defaults.
func (d *Defaults) ApplyFallbacks() {
	if d.RetrievalEngine == "" {
		d.RetrievalEngine = "hybrid"
	}
	if d.Model == "" {
		d.Model = "base-chat"
	}
	if d.RagQueriesPerDay == 0 {
		d.RagQueriesPerDay = 500
	}
	if d.IngestDocsPerDay == 0 {
		d.IngestDocsPerDay = 200
	}
	if d.LLMTokensPerDay == 0 {
		d.LLMTokensPerDay = 200000
	}
}

// Store persists quota records and tenant profiles. IncrementIfBelow must be
// atomic with respect to concurrent callers wherever the backend allows, so
// two submissions at the limit boundary cannot both be admitted.
type Store interface {
	// EnsureProfile creates the tenant profile from seed if absent and
	// returns the stored profile. Idempotent.
	EnsureProfile(ctx context.Context, seed *Profile) (*Profile, error)

	// GetRecord returns the (tenant, user, day) record, creating a zero
	// record lazily on first access.
	GetRecord(ctx context.Context, tenantID, userID, day string) (*Record, error)

	// IncrementIfBelow bumps the named dimension by one only while its
	// current value is below limit, returning the updated record or
	// ErrQuotaExceeded.
	IncrementIfBelow(ctx context.Context, tenantID, userID, day, dim string, limit int) (*Record, error)

	// Add increments the named dimension unconditionally by n (usage
	// tracking for dimensions not gated at submission).
	Add(ctx context.Context, tenantID, userID, day, dim string, n int) error
}

// Today returns the UTC calendar-day key used for quota records.
func Today() string {
	return time.Now().UTC().Format("2006-01-02")
}

// Ledger gates admission against per-tenant profiles.
type Ledger struct {
	store    Store
	defaults Defaults
	logger   *slog.Logger
}

// NewLedger creates a quota ledger over the given store.
func NewLedger(store Store, defaults Defaults, logger *slog.Logger) *Ledger {
	defaults.ApplyFallbacks()
	return &Ledger{
		store:    store,
		defaults: defaults,
		logger:   logger,
	}
}

// Profile returns the tenant profile, bootstrapping it from the configured
// defaults the first time the tenant is seen.
func (l *Ledger) Profile(ctx context.Context, tenantID string) (*Profile, error) {
	return l.store.EnsureProfile(ctx, &Profile{
		TenantID:         tenantID,
		RetrievalEngine:  l.defaults.RetrievalEngine,
		Model:            l.defaults.Model,
		RagQueriesPerDay: l.defaults.RagQueriesPerDay,
		IngestDocsPerDay: l.defaults.IngestDocsPerDay,
		LLMTokensPerDay:  l.defaults.LLMTokensPerDay,
		CreatedAt:        time.Now().UTC(),
	})
}

// CheckAndBump admits or rejects a submission. Only ingest and rag job types
// consume a quota dimension; everything else passes through unmetered and
// returns today's record untouched.
func (l *Ledger) CheckAndBump(ctx context.Context, tenantID, userID string, jobType jobstore.JobType) (*Record, error) {
	profile, err := l.Profile(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	day := Today()

	var dim string
	var limit int
	switch jobType {
	case jobstore.TypeIngest:
		dim, limit = DimIngestDocs, profile.IngestDocsPerDay
	case jobstore.TypeRAG:
		dim, limit = DimRagQueries, profile.RagQueriesPerDay
	default:
		return l.store.GetRecord(ctx, tenantID, userID, day)
	}

	if limit <= 0 {
		return nil, ErrQuotaExceeded
	}

	rec, err := l.store.IncrementIfBelow(ctx, tenantID, userID, day, dim, limit)
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			l.logger.Info("Submission rejected by quota",
				slog.String("tenant_id", tenantID),
				slog.String("user_id", userID),
				slog.String("dimension", dim),
				slog.Int("limit", limit),
			)
		}
		return nil, err
	}
	return rec, nil
}

// Record returns the caller's usage record for today, creating it lazily.
func (l *Ledger) Record(ctx context.Context, tenantID, userID string) (*Record, error) {
	return l.store.GetRecord(ctx, tenantID, userID, Today())
}

// AddTokens tracks LLM token consumption. The dimension is recorded but not
// gated at submission time, so failures only degrade accounting.
func (l *Ledger) AddTokens(ctx context.Context, tenantID, userID string, n int) error {
	if n <= 0 {
		return nil
	}
	return l.store.Add(ctx, tenantID, userID, Today(), DimLLMTokens, n)
}
