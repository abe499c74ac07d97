package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PostgresStore backs the ledger with two tables.
//
// Expected schema:
//
//	CREATE TABLE tenant_profiles (
//	    tenant_id           TEXT PRIMARY KEY,
//	    retrieval_engine    TEXT NOT NULL,
//	    model               TEXT NOT NULL,
//	    rag_queries_per_day INT  NOT NULL,
//	    ingest_docs_per_day INT  NOT NULL,
//	    llm_tokens_per_day  INT  NOT NULL,
//	    created_at          TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE quota_usage (
//	    tenant_id   TEXT NOT NULL,
//	    user_id     TEXT NOT NULL,
//	    day         TEXT NOT NULL,
//	    rag_queries INT NOT NULL DEFAULT 0,
//	    llm_tokens  INT NOT NULL DEFAULT 0,
//	    ingest_docs INT NOT NULL DEFAULT 0,
//	    PRIMARY KEY (tenant_id, user_id, day)
//	);
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a PostgreSQL-backed quota store.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// dimColumns whitelists dimension names before they are spliced into SQL.
var dimColumns = map[string]bool{
	DimRagQueries: true,
	DimLLMTokens:  true,
	DimIngestDocs: true,
}

const recordColumns = `tenant_id, user_id, day, rag_queries, llm_tokens, ingest_docs`

func (s *PostgresStore) EnsureProfile(ctx context.Context, seed *Profile) (*Profile, error) {
	insert := `
		INSERT INTO tenant_profiles (
			tenant_id, retrieval_engine, model,
			rag_queries_per_day, ingest_docs_per_day, llm_tokens_per_day, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, insert,
		seed.TenantID,
		seed.RetrievalEngine,
		seed.Model,
		seed.RagQueriesPerDay,
		seed.IngestDocsPerDay,
		seed.LLMTokensPerDay,
		seed.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure tenant profile: %w", err)
	}

	var profile Profile
	query := `
		SELECT tenant_id, retrieval_engine, model,
		       rag_queries_per_day, ingest_docs_per_day, llm_tokens_per_day, created_at
		FROM tenant_profiles
		WHERE tenant_id = $1
	`
	if err := s.db.GetContext(ctx, &profile, query, seed.TenantID); err != nil {
		return nil, fmt.Errorf("failed to load tenant profile: %w", err)
	}
	return &profile, nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, tenantID, userID, day string) (*Record, error) {
	insert := `
		INSERT INTO quota_usage (tenant_id, user_id, day)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, user_id, day) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, insert, tenantID, userID, day); err != nil {
		return nil, fmt.Errorf("failed to ensure quota record: %w", err)
	}

	var rec Record
	query := `
		SELECT ` + recordColumns + `
		FROM quota_usage
		WHERE tenant_id = $1 AND user_id = $2 AND day = $3
	`
	if err := s.db.GetContext(ctx, &rec, query, tenantID, userID, day); err != nil {
		return nil, fmt.Errorf("failed to load quota record: %w", err)
	}
	return &rec, nil
}

// IncrementIfBelow uses a single conditional upsert so that two concurrent
// submissions at the limit boundary cannot both be admitted.
func (s *PostgresStore) IncrementIfBelow(ctx context.Context, tenantID, userID, day, dim string, limit int) (*Record, error) {
	if !dimColumns[dim] {
		return nil, fmt.Errorf("unknown quota dimension: %s", dim)
	}

	query := fmt.Sprintf(`
		INSERT INTO quota_usage AS q (tenant_id, user_id, day, %[1]s)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (tenant_id, user_id, day) DO UPDATE
		SET %[1]s = q.%[1]s + 1
		WHERE q.%[1]s < $4
		RETURNING `+recordColumns, dim)

	var rec Record
	err := s.db.QueryRowxContext(ctx, query, tenantID, userID, day, limit).StructScan(&rec)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuotaExceeded
		}
		return nil, fmt.Errorf("failed to bump quota counter: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) Add(ctx context.Context, tenantID, userID, day, dim string, n int) error {
	if !dimColumns[dim] {
		return fmt.Errorf("unknown quota dimension: %s", dim)
	}

	query := fmt.Sprintf(`
		INSERT INTO quota_usage AS q (tenant_id, user_id, day, %[1]s)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, user_id, day) DO UPDATE
		SET %[1]s = q.%[1]s + $4
	`, dim)

	if _, err := s.db.ExecContext(ctx, query, tenantID, userID, day, n); err != nil {
		return fmt.Errorf("failed to add quota usage: %w", err)
	}
	return nil
}
