package enrichment

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sagepoint-data/identity-cli/internal/db"
	"github.com/sagepoint-data/identity-cli/internal/model"
)

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const pgMigration = `
CREATE TABLE IF NOT EXISTS enrichment_cache (
	id            BIGSERIAL PRIMARY KEY,
	lookup_key    TEXT NOT NULL,
	lookup_type   TEXT NOT NULL,
	company_id    TEXT NOT NULL,
	confidence    NUMERIC(3,2) NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	source        TEXT NOT NULL,
	source_domain TEXT NOT NULL DEFAULT '',
	source_table  TEXT NOT NULL DEFAULT '',
	hit_count     BIGINT NOT NULL DEFAULT 0,
	last_hit_at   TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (lookup_key, lookup_type)
);

CREATE INDEX IF NOT EXISTS idx_enrichment_cache_type_key ON enrichment_cache(lookup_type, lookup_key);
CREATE INDEX IF NOT EXISTS idx_enrichment_cache_source ON enrichment_cache(source);
`

// Migrate creates the cache table and indexes.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgMigration); err != nil {
		return unavailable(err, "migrate")
	}
	return nil
}

const enrichmentColumns = `id, lookup_key, lookup_type, company_id, confidence, source,
	source_domain, source_table, hit_count, last_hit_at, created_at, updated_at`

func scanRecord(row pgx.Row) (*model.EnrichmentRecord, error) {
	var rec model.EnrichmentRecord
	err := row.Scan(&rec.ID, &rec.LookupKey, &rec.LookupType, &rec.CompanyID,
		&rec.Confidence, &rec.Source, &rec.SourceDomain, &rec.SourceTable,
		&rec.HitCount, &rec.LastHitAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Lookup returns the record for the unique (key, type) pair, incrementing
// hit_count and last_hit_at in the same statement.
func (s *PostgresStore) Lookup(ctx context.Context, key string, lt model.LookupType) (*model.EnrichmentRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, `
		UPDATE enrichment_cache
		SET hit_count = hit_count + 1, last_hit_at = now()
		WHERE lookup_key = $1 AND lookup_type = $2
		RETURNING `+enrichmentColumns,
		key, string(lt)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, unavailable(err, "lookup")
	}
	return rec, nil
}

// Inspect reads a record without touching hit counters.
func (s *PostgresStore) Inspect(ctx context.Context, key string, lt model.LookupType) (*model.EnrichmentRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, `
		SELECT `+enrichmentColumns+`
		FROM enrichment_cache
		WHERE lookup_key = $1 AND lookup_type = $2`,
		key, string(lt)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, unavailable(err, "inspect")
	}
	return rec, nil
}

// upsertSQL performs the conflict arbitration in one statement so concurrent
// batches learning the same key cannot lose updates. The incumbent's identity
// fields survive unless the incoming confidence is strictly higher; the
// stored confidence is always the max of both; hit_count always increments.
// The prior CTE snapshots the incumbent's confidence before the write, since
// the post-upsert row alone cannot show whether an exact tie kept the
// incumbent or the incoming record won.
const upsertSQL = `
WITH prior AS (
	SELECT confidence FROM enrichment_cache WHERE lookup_key = $1 AND lookup_type = $2
), upserted AS (
	INSERT INTO enrichment_cache
		(lookup_key, lookup_type, company_id, confidence, source, source_domain, source_table, hit_count, last_hit_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, 1, now())
	ON CONFLICT (lookup_key, lookup_type) DO UPDATE SET
		company_id    = CASE WHEN EXCLUDED.confidence > enrichment_cache.confidence THEN EXCLUDED.company_id    ELSE enrichment_cache.company_id    END,
		source        = CASE WHEN EXCLUDED.confidence > enrichment_cache.confidence THEN EXCLUDED.source        ELSE enrichment_cache.source        END,
		source_domain = CASE WHEN EXCLUDED.confidence > enrichment_cache.confidence THEN EXCLUDED.source_domain ELSE enrichment_cache.source_domain END,
		source_table  = CASE WHEN EXCLUDED.confidence > enrichment_cache.confidence THEN EXCLUDED.source_table  ELSE enrichment_cache.source_table  END,
		confidence    = GREATEST(enrichment_cache.confidence, EXCLUDED.confidence),
		hit_count     = enrichment_cache.hit_count + 1,
		last_hit_at   = now(),
		updated_at    = now()
	RETURNING hit_count
)
SELECT u.hit_count, COALESCE((SELECT $4 > confidence FROM prior), true) AS won
FROM upserted u`

// Upsert writes one record, arbitrating conflicts by confidence.
func (s *PostgresStore) Upsert(ctx context.Context, rec model.EnrichmentRecord) (model.UpsertOutcome, error) {
	var hitCount int64
	var won bool
	err := s.pool.QueryRow(ctx, upsertSQL,
		rec.LookupKey, string(rec.LookupType), rec.CompanyID, rec.Confidence,
		string(rec.Source), rec.SourceDomain, rec.SourceTable,
	).Scan(&hitCount, &won)
	if err != nil {
		return "", unavailable(err, "upsert")
	}
	return classifyUpsert(hitCount, won), nil
}

// UpsertBatch applies Upsert semantics per row inside one transaction.
func (s *PostgresStore) UpsertBatch(ctx context.Context, recs []model.EnrichmentRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable(err, "upsert batch: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, rec := range recs {
		var hitCount int64
		var won bool
		if err := tx.QueryRow(ctx, upsertSQL,
			rec.LookupKey, string(rec.LookupType), rec.CompanyID, rec.Confidence,
			string(rec.Source), rec.SourceDomain, rec.SourceTable,
		).Scan(&hitCount, &won); err != nil {
			return unavailable(err, "upsert batch")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return unavailable(err, "upsert batch: commit")
	}
	return nil
}

// InsertWithConflictCheck inserts former-name records. A colliding key is
// deleted and counted as a conflict instead of being rebound to the new
// company.
func (s *PostgresStore) InsertWithConflictCheck(ctx context.Context, recs []model.EnrichmentRecord) (ConflictCheckResult, error) {
	var result ConflictCheckResult
	if len(recs) == 0 {
		return result, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return result, unavailable(err, "conflict check: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, rec := range recs {
		tag, err := tx.Exec(ctx, `
			DELETE FROM enrichment_cache
			WHERE lookup_key = $1 AND lookup_type = $2`,
			rec.LookupKey, string(rec.LookupType))
		if err != nil {
			return result, unavailable(err, "conflict check: delete")
		}
		if tag.RowsAffected() > 0 {
			result.Conflicts += tag.RowsAffected()
			continue
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO enrichment_cache
				(lookup_key, lookup_type, company_id, confidence, source, source_domain, source_table, hit_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 0)`,
			rec.LookupKey, string(rec.LookupType), rec.CompanyID, rec.Confidence,
			string(rec.Source), rec.SourceDomain, rec.SourceTable,
		); err != nil {
			return result, unavailable(err, "conflict check: insert")
		}
		result.Inserted++
	}

	if err := tx.Commit(ctx); err != nil {
		return result, unavailable(err, "conflict check: commit")
	}
	return result, nil
}

// Stats summarizes the cache grouped by type and source.
func (s *PostgresStore) Stats(ctx context.Context) (*model.CacheStats, error) {
	stats := &model.CacheStats{
		ByType:   map[string]int64{},
		BySource: map[string]int64{},
	}

	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(hit_count), 0) FROM enrichment_cache`).
		Scan(&stats.TotalRecords, &stats.TotalHits)
	if err != nil {
		return nil, unavailable(err, "stats")
	}

	rows, err := s.pool.Query(ctx, `
		SELECT lookup_type, source, COUNT(*)
		FROM enrichment_cache
		GROUP BY lookup_type, source`)
	if err != nil {
		return nil, unavailable(err, "stats: group")
	}
	defer rows.Close()

	for rows.Next() {
		var lt, src string
		var n int64
		if err := rows.Scan(&lt, &src, &n); err != nil {
			return nil, unavailable(err, "stats: scan")
		}
		stats.ByType[lt] += n
		stats.BySource[src] += n
	}
	return stats, rows.Err()
}

// Purge deletes matching records. Zero-value filter fields match everything.
func (s *PostgresStore) Purge(ctx context.Context, filter PurgeFilter) (int64, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Source != "" {
		args = append(args, string(filter.Source))
		conds = append(conds, "source = $1")
	}
	if filter.LookupType != "" {
		args = append(args, string(filter.LookupType))
		if len(args) == 2 {
			conds = append(conds, "lookup_type = $2")
		} else {
			conds = append(conds, "lookup_type = $1")
		}
	}

	sql := "DELETE FROM enrichment_cache"
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}

	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, unavailable(err, "purge")
	}
	return tag.RowsAffected(), nil
}

// classifyUpsert maps the upsert's result back to an outcome. hit_count of 1
// can only come from a fresh insert; otherwise the incoming record won the
// arbitration iff its confidence was strictly higher than the incumbent's.
// An exact tie, including re-upserting an identical record, keeps the
// incumbent and is a hit-only update.
func classifyUpsert(hitCount int64, won bool) model.UpsertOutcome {
	if hitCount == 1 {
		return model.UpsertInserted
	}
	if won {
		return model.UpsertHigherConfidence
	}
	return model.UpsertHitOnly
}

func unavailable(err error, op string) error {
	return eris.Wrapf(errors.Join(ErrStoreUnavailable, err), "enrichment: %s", op)
}
