// Package enrichment owns persistence of the company identity cache: the
// (lookup_key, lookup_type) → company_id mappings the resolver cascades over.
package enrichment

import (
	"context"
	"errors"

	"github.com/sagepoint-data/identity-cli/internal/model"
)

// ErrStoreUnavailable marks persistence failures. Callers may retry within
// the same process lifetime but must not re-drive a partially committed batch;
// batch operations are single transactions.
var ErrStoreUnavailable = errors.New("enrichment store unavailable")

// ConflictCheckResult reports the outcome of InsertWithConflictCheck.
type ConflictCheckResult struct {
	Inserted  int64
	Conflicts int64
}

// PurgeFilter narrows an administrative purge. Zero values match everything.
type PurgeFilter struct {
	Source     model.Source
	LookupType model.LookupType
}

// Store is the persistent enrichment cache. Implementations must make the
// Upsert conflict arbitration a single atomic statement: a record's
// company_id/source/confidence are replaced only when the incoming confidence
// is strictly higher, confidence after the operation is the max of both, and
// hit_count always increments.
type Store interface {
	// Lookup returns the record for (key, type), bumping hit_count and
	// last_hit_at as a side effect. Returns (nil, nil) on a miss.
	Lookup(ctx context.Context, key string, lt model.LookupType) (*model.EnrichmentRecord, error)

	// Inspect is Lookup without the hit bookkeeping, for admin reads.
	Inspect(ctx context.Context, key string, lt model.LookupType) (*model.EnrichmentRecord, error)

	// Upsert writes one record with conflict arbitration.
	Upsert(ctx context.Context, rec model.EnrichmentRecord) (model.UpsertOutcome, error)

	// UpsertBatch applies Upsert semantics per row in one transaction.
	// Duplicate keys inside the batch must be pre-deduplicated by the
	// caller (keep-last).
	UpsertBatch(ctx context.Context, recs []model.EnrichmentRecord) error

	// InsertWithConflictCheck inserts former-name style records. On key
	// collision the existing entry is deleted and the row reported as a
	// conflict; identity is never silently swapped.
	InsertWithConflictCheck(ctx context.Context, recs []model.EnrichmentRecord) (ConflictCheckResult, error)

	// Stats summarizes the cache without side effects.
	Stats(ctx context.Context) (*model.CacheStats, error)

	// Purge administratively deletes matching records and returns the count.
	// This is the only deletion path in normal operation.
	Purge(ctx context.Context, filter PurgeFilter) (int64, error)

	// Migrate creates the cache table and supporting indexes.
	Migrate(ctx context.Context) error
}

// Dedupe collapses duplicate (key, type) pairs keep-last, preserving the
// order of last occurrence. Callers use it ahead of UpsertBatch.
func Dedupe(recs []model.EnrichmentRecord) []model.EnrichmentRecord {
	type pair struct {
		key string
		lt  model.LookupType
	}
	last := make(map[pair]int, len(recs))
	for i, r := range recs {
		last[pair{r.LookupKey, r.LookupType}] = i
	}
	out := make([]model.EnrichmentRecord, 0, len(last))
	for i, r := range recs {
		if last[pair{r.LookupKey, r.LookupType}] == i {
			out = append(out, r)
		}
	}
	return out
}
