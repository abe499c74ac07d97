package quota

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridiankb/pipeline-be/internal/jobstore"
)

func newTestLedger(d Defaults) *Ledger {
	return NewLedger(NewMemoryStore(), d, slog.Default())
}

func TestDefaults_ApplyFallbacks(t *testing.T) {
	var d Defaults
	d.ApplyFallbacks()

	assert.Equal(t, "hybrid", d.RetrievalEngine)
	assert.Equal(t, "base-chat", d.Model)
	assert.Equal(t, 500, d.RagQueriesPerDay)
	assert.Equal(t, 200, d.IngestDocsPerDay)
	assert.Equal(t, 200000, d.LLMTokensPerDay)
}

func TestLedger_ProfileIsIdempotent(t *testing.T) {
	ledger := newTestLedger(Defaults{RagQueriesPerDay: 7})
	ctx := context.Background()

	first, err := ledger.Profile(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", first.TenantID)
	assert.Equal(t, 7, first.RagQueriesPerDay)
	assert.Equal(t, 200, first.IngestDocsPerDay)

	second, err := ledger.Profile(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestLedger_CheckAndBump(t *testing.T) {
	ctx := context.Background()

	t.Run("rag increments its own dimension", func(t *testing.T) {
		ledger := newTestLedger(Defaults{})

		rec, err := ledger.CheckAndBump(ctx, "tenant-a", "alice", jobstore.TypeRAG)
		require.NoError(t, err)
		assert.Equal(t, 1, rec.RagQueries)
		assert.Equal(t, 0, rec.IngestDocs)

		rec, err = ledger.CheckAndBump(ctx, "tenant-a", "alice", jobstore.TypeIngest)
		require.NoError(t, err)
		assert.Equal(t, 1, rec.RagQueries)
		assert.Equal(t, 1, rec.IngestDocs)
	})

	t.Run("rejects at the limit without incrementing", func(t *testing.T) {
		ledger := newTestLedger(Defaults{RagQueriesPerDay: 2})

		for i := 0; i < 2; i++ {
			_, err := ledger.CheckAndBump(ctx, "tenant-a", "alice", jobstore.TypeRAG)
			require.NoError(t, err)
		}

		_, err := ledger.CheckAndBump(ctx, "tenant-a", "alice", jobstore.TypeRAG)
		assert.ErrorIs(t, err, ErrQuotaExceeded)

		rec, err := ledger.Record(ctx, "tenant-a", "alice")
		require.NoError(t, err)
		assert.Equal(t, 2, rec.RagQueries)
	})

	t.Run("counters are per user", func(t *testing.T) {
		ledger := newTestLedger(Defaults{RagQueriesPerDay: 1})

		_, err := ledger.CheckAndBump(ctx, "tenant-a", "alice", jobstore.TypeRAG)
		require.NoError(t, err)

		_, err = ledger.CheckAndBump(ctx, "tenant-a", "bob", jobstore.TypeRAG)
		assert.NoError(t, err)

		_, err = ledger.CheckAndBump(ctx, "tenant-a", "alice", jobstore.TypeRAG)
		assert.ErrorIs(t, err, ErrQuotaExceeded)
	})

	t.Run("unmetered job types pass through", func(t *testing.T) {
		ledger := newTestLedger(Defaults{RagQueriesPerDay: 1, IngestDocsPerDay: 1})

		for _, jt := range []jobstore.JobType{jobstore.TypeApproval, jobstore.TypeTrain, jobstore.TypeExport, jobstore.TypeBatch} {
			rec, err := ledger.CheckAndBump(ctx, "tenant-a", "alice", jt)
			require.NoError(t, err)
			assert.Equal(t, 0, rec.RagQueries)
			assert.Equal(t, 0, rec.IngestDocs)
		}
	})
}

func TestLedger_AddTokens(t *testing.T) {
	ledger := newTestLedger(Defaults{})
	ctx := context.Background()

	require.NoError(t, ledger.AddTokens(ctx, "tenant-a", "alice", 1500))
	require.NoError(t, ledger.AddTokens(ctx, "tenant-a", "alice", 500))
	// Non-positive amounts are ignored
	require.NoError(t, ledger.AddTokens(ctx, "tenant-a", "alice", 0))
	require.NoError(t, ledger.AddTokens(ctx, "tenant-a", "alice", -10))

	rec, err := ledger.Record(ctx, "tenant-a", "alice")
	require.NoError(t, err)
	assert.Equal(t, 2000, rec.LLMTokens)
}

func TestMemoryStore_IncrementIfBelow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	t.Run("stops exactly at the boundary", func(t *testing.T) {
		for i := 1; i <= 3; i++ {
			rec, err := store.IncrementIfBelow(ctx, "t", "u", "2026-08-31", DimIngestDocs, 3)
			require.NoError(t, err)
			assert.Equal(t, i, rec.IngestDocs)
		}

		_, err := store.IncrementIfBelow(ctx, "t", "u", "2026-08-31", DimIngestDocs, 3)
		assert.ErrorIs(t, err, ErrQuotaExceeded)
	})

	t.Run("days are independent", func(t *testing.T) {
		_, err := store.IncrementIfBelow(ctx, "t", "u", "2026-09-01", DimIngestDocs, 3)
		assert.NoError(t, err)
	})

	t.Run("unknown dimension", func(t *testing.T) {
		_, err := store.IncrementIfBelow(ctx, "t", "u", "2026-08-31", "nonsense", 3)
		assert.Error(t, err)
	})
}

func TestMemoryStore_IncrementIfBelowConcurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const limit = 20
	const callers = 100

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.IncrementIfBelow(ctx, "t", "u", "2026-08-31", DimRagQueries, limit); err == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), admitted.Load())

	rec, err := store.GetRecord(ctx, "t", "u", "2026-08-31")
	require.NoError(t, err)
	assert.Equal(t, limit, rec.RagQueries)
}
