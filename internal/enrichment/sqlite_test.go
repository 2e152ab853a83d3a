package enrichment

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sagepoint-data/identity-cli/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func rec(key string, lt model.LookupType, company string, conf float64, src model.Source) model.EnrichmentRecord {
	return model.EnrichmentRecord{
		LookupKey:  key,
		LookupType: lt,
		CompanyID:  company,
		Confidence: conf,
		Source:     src,
	}
}

func TestUpsert_Insert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	out, err := s.Upsert(ctx, rec("ACME FUND", model.LookupPlanCode, "C001", 0.85, model.SourceEQCAPI))
	require.NoError(t, err)
	assert.Equal(t, model.UpsertInserted, out)

	got, err := s.Inspect(ctx, "ACME FUND", model.LookupPlanCode)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "C001", got.CompanyID)
	assert.Equal(t, int64(1), got.HitCount)
}

func TestUpsert_LowerConfidenceKeepsIncumbent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, rec("K", model.LookupPlanCode, "C001", 0.90, model.SourceManual))
	require.NoError(t, err)

	out, err := s.Upsert(ctx, rec("K", model.LookupPlanCode, "C002", 0.50, model.SourceEQCAPI))
	require.NoError(t, err)
	assert.Equal(t, model.UpsertHitOnly, out)

	got, err := s.Inspect(ctx, "K", model.LookupPlanCode)
	require.NoError(t, err)
	assert.Equal(t, "C001", got.CompanyID)
	assert.Equal(t, model.SourceManual, got.Source)
	assert.InDelta(t, 0.90, got.Confidence, 1e-9)
	assert.Equal(t, int64(2), got.HitCount)
}

func TestUpsert_HigherConfidenceReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, rec("K", model.LookupCustomerName, "C001", 0.50, model.SourceEQCAPI))
	require.NoError(t, err)

	out, err := s.Upsert(ctx, rec("K", model.LookupCustomerName, "C002", 0.95, model.SourceManual))
	require.NoError(t, err)
	assert.Equal(t, model.UpsertHigherConfidence, out)

	got, err := s.Inspect(ctx, "K", model.LookupCustomerName)
	require.NoError(t, err)
	assert.Equal(t, "C002", got.CompanyID)
	assert.Equal(t, model.SourceManual, got.Source)
	assert.InDelta(t, 0.95, got.Confidence, 1e-9)
}

func TestUpsert_TieKeepsIncumbent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, rec("K", model.LookupAccountName, "C001", 0.85, model.SourceEQCAPI))
	require.NoError(t, err)

	out, err := s.Upsert(ctx, rec("K", model.LookupAccountName, "C002", 0.85, model.SourceDomainLearning))
	require.NoError(t, err)
	assert.Equal(t, model.UpsertHitOnly, out)

	got, err := s.Inspect(ctx, "K", model.LookupAccountName)
	require.NoError(t, err)
	assert.Equal(t, "C001", got.CompanyID)
	assert.InDelta(t, 0.85, got.Confidence, 1e-9)
}

func TestUpsert_IdenticalRecordIsHitOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := rec("K", model.LookupPlanCode, "C001", 0.85, model.SourceEQCAPI)

	out, err := s.Upsert(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, model.UpsertInserted, out)

	// Re-upserting the same record ties on confidence: the incumbent is
	// kept, so only the hit count moves.
	out, err = s.Upsert(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, model.UpsertHitOnly, out)

	got, err := s.Inspect(ctx, "K", model.LookupPlanCode)
	require.NoError(t, err)
	assert.Equal(t, "C001", got.CompanyID)
	assert.Equal(t, int64(2), got.HitCount)
}

func TestUpsert_ConfidenceIsMax(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cases := []struct {
		existing, incoming, want float64
	}{
		{0.50, 0.85, 0.85},
		{0.85, 0.50, 0.85},
		{0.85, 0.85, 0.85},
	}
	for _, c := range cases {
		_, err := s.Purge(ctx, PurgeFilter{})
		require.NoError(t, err)

		_, err = s.Upsert(ctx, rec("K", model.LookupPlanCode, "A", c.existing, model.SourceEQCAPI))
		require.NoError(t, err)
		_, err = s.Upsert(ctx, rec("K", model.LookupPlanCode, "B", c.incoming, model.SourceManual))
		require.NoError(t, err)

		got, err := s.Inspect(ctx, "K", model.LookupPlanCode)
		require.NoError(t, err)
		assert.InDelta(t, c.want, got.Confidence, 1e-9)
	}
}

func TestLookup_BumpsHitCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, rec("K", model.LookupPlanCode, "C001", 0.9, model.SourceYAML))
	require.NoError(t, err)

	got, err := s.Lookup(ctx, "K", model.LookupPlanCode)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.HitCount)
	assert.NotNil(t, got.LastHitAt)

	// Inspect does not bump.
	got, err = s.Inspect(ctx, "K", model.LookupPlanCode)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.HitCount)
}

func TestLookup_Miss(t *testing.T) {
	s := newTestStore(t)

	got, err := s.Lookup(context.Background(), "NOPE", model.LookupPlanCode)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInsertWithConflictCheck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, rec("OLD NAME", model.LookupCustomerName, "A", 0.9, model.SourceEQCAPI))
	require.NoError(t, err)

	res, err := s.InsertWithConflictCheck(ctx, []model.EnrichmentRecord{
		rec("OLD NAME", model.LookupCustomerName, "B", 0.8, model.SourceLegacyMigration),
		rec("FRESH NAME", model.LookupCustomerName, "C", 0.8, model.SourceLegacyMigration),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Conflicts)
	assert.Equal(t, int64(1), res.Inserted)

	// Conflicting key is gone, not rebound.
	got, err := s.Inspect(ctx, "OLD NAME", model.LookupCustomerName)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.Inspect(ctx, "FRESH NAME", model.LookupCustomerName)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "C", got.CompanyID)
}

func TestUpsertBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recs := []model.EnrichmentRecord{
		rec("K1", model.LookupPlanCode, "A", 0.95, model.SourceDomainLearning),
		rec("K2", model.LookupAccountNumber, "B", 0.95, model.SourceDomainLearning),
	}
	require.NoError(t, s.UpsertBatch(ctx, recs))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalRecords)
	assert.Equal(t, int64(2), stats.BySource[string(model.SourceDomainLearning)])
}

func TestPurge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertBatch(ctx, []model.EnrichmentRecord{
		rec("K1", model.LookupPlanCode, "A", 0.95, model.SourceDomainLearning),
		rec("K2", model.LookupPlanCode, "B", 0.95, model.SourceEQCAPI),
	}))

	n, err := s.Purge(ctx, PurgeFilter{Source: model.SourceDomainLearning})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Purge(ctx, PurgeFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDedupe_KeepLast(t *testing.T) {
	recs := []model.EnrichmentRecord{
		rec("K", model.LookupPlanCode, "A", 0.9, model.SourceDomainLearning),
		rec("K", model.LookupAccountName, "B", 0.9, model.SourceDomainLearning),
		rec("K", model.LookupPlanCode, "C", 0.8, model.SourceDomainLearning),
	}
	out := Dedupe(recs)
	require.Len(t, out, 2)
	assert.Equal(t, "B", out[0].CompanyID)
	assert.Equal(t, "C", out[1].CompanyID)
}
