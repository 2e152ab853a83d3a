package enrichment

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sagepoint-data/identity-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite, for local runs and
// development environments without a Postgres instance.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, unavailable(err, "sqlite open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, unavailable(err, "sqlite "+pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS enrichment_cache (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	lookup_key    TEXT NOT NULL,
	lookup_type   TEXT NOT NULL,
	company_id    TEXT NOT NULL,
	confidence    REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	source        TEXT NOT NULL,
	source_domain TEXT NOT NULL DEFAULT '',
	source_table  TEXT NOT NULL DEFAULT '',
	hit_count     INTEGER NOT NULL DEFAULT 0,
	last_hit_at   DATETIME,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (lookup_key, lookup_type)
);

CREATE INDEX IF NOT EXISTS idx_enrichment_cache_type_key ON enrichment_cache(lookup_type, lookup_key);
CREATE INDEX IF NOT EXISTS idx_enrichment_cache_source ON enrichment_cache(source);
`

// Migrate creates the cache table and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return unavailable(err, "migrate")
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteColumns = `id, lookup_key, lookup_type, company_id, confidence, source,
	source_domain, source_table, hit_count, last_hit_at, created_at, updated_at`

func scanSQLiteRecord(row *sql.Row) (*model.EnrichmentRecord, error) {
	var rec model.EnrichmentRecord
	err := row.Scan(&rec.ID, &rec.LookupKey, &rec.LookupType, &rec.CompanyID,
		&rec.Confidence, &rec.Source, &rec.SourceDomain, &rec.SourceTable,
		&rec.HitCount, &rec.LastHitAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Lookup returns the record for (key, type), bumping hit counters in the
// same statement.
func (s *SQLiteStore) Lookup(ctx context.Context, key string, lt model.LookupType) (*model.EnrichmentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE enrichment_cache
		SET hit_count = hit_count + 1, last_hit_at = ?
		WHERE lookup_key = ? AND lookup_type = ?
		RETURNING `+sqliteColumns,
		time.Now().UTC(), key, string(lt))
	rec, err := scanSQLiteRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, unavailable(err, "lookup")
	}
	return rec, nil
}

// Inspect reads a record without touching hit counters.
func (s *SQLiteStore) Inspect(ctx context.Context, key string, lt model.LookupType) (*model.EnrichmentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteColumns+`
		FROM enrichment_cache
		WHERE lookup_key = ? AND lookup_type = ?`,
		key, string(lt))
	rec, err := scanSQLiteRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, unavailable(err, "inspect")
	}
	return rec, nil
}

// sqliteUpsertSQL mirrors the Postgres arbitration statement; MAX here is
// SQLite's two-argument scalar max.
const sqliteUpsertSQL = `
INSERT INTO enrichment_cache
	(lookup_key, lookup_type, company_id, confidence, source, source_domain, source_table, hit_count, last_hit_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
ON CONFLICT (lookup_key, lookup_type) DO UPDATE SET
	company_id    = CASE WHEN excluded.confidence > enrichment_cache.confidence THEN excluded.company_id    ELSE enrichment_cache.company_id    END,
	source        = CASE WHEN excluded.confidence > enrichment_cache.confidence THEN excluded.source        ELSE enrichment_cache.source        END,
	source_domain = CASE WHEN excluded.confidence > enrichment_cache.confidence THEN excluded.source_domain ELSE enrichment_cache.source_domain END,
	source_table  = CASE WHEN excluded.confidence > enrichment_cache.confidence THEN excluded.source_table  ELSE enrichment_cache.source_table  END,
	confidence    = MAX(enrichment_cache.confidence, excluded.confidence),
	hit_count     = enrichment_cache.hit_count + 1,
	last_hit_at   = excluded.last_hit_at,
	updated_at    = excluded.updated_at
RETURNING hit_count`

func upsertOne(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, rec model.EnrichmentRecord) (model.UpsertOutcome, error) {
	// SQLite's RETURNING cannot carry subqueries, and the post-upsert row
	// alone cannot show whether an exact tie kept the incumbent, so the
	// incumbent's confidence is read first inside the same transaction.
	var prior sql.NullFloat64
	err := q.QueryRowContext(ctx,
		`SELECT confidence FROM enrichment_cache WHERE lookup_key = ? AND lookup_type = ?`,
		rec.LookupKey, string(rec.LookupType),
	).Scan(&prior.Float64)
	switch {
	case err == nil:
		prior.Valid = true
	case errors.Is(err, sql.ErrNoRows):
	default:
		return "", unavailable(err, "upsert")
	}

	now := time.Now().UTC()
	var hitCount int64
	if err := q.QueryRowContext(ctx, sqliteUpsertSQL,
		rec.LookupKey, string(rec.LookupType), rec.CompanyID, rec.Confidence,
		string(rec.Source), rec.SourceDomain, rec.SourceTable, now, now, now,
	).Scan(&hitCount); err != nil {
		return "", unavailable(err, "upsert")
	}

	won := !prior.Valid || rec.Confidence > prior.Float64
	return classifyUpsert(hitCount, won), nil
}

// Upsert writes one record, arbitrating conflicts by confidence.
func (s *SQLiteStore) Upsert(ctx context.Context, rec model.EnrichmentRecord) (model.UpsertOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", unavailable(err, "upsert: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	out, err := upsertOne(ctx, tx, rec)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", unavailable(err, "upsert: commit")
	}
	return out, nil
}

// UpsertBatch applies Upsert semantics per row inside one transaction.
func (s *SQLiteStore) UpsertBatch(ctx context.Context, recs []model.EnrichmentRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err, "upsert batch: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, rec := range recs {
		if _, err := upsertOne(ctx, tx, rec); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable(err, "upsert batch: commit")
	}
	return nil
}

// InsertWithConflictCheck inserts former-name records, deleting and counting
// colliding keys instead of rebinding identities.
func (s *SQLiteStore) InsertWithConflictCheck(ctx context.Context, recs []model.EnrichmentRecord) (ConflictCheckResult, error) {
	var result ConflictCheckResult
	if len(recs) == 0 {
		return result, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, unavailable(err, "conflict check: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, rec := range recs {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM enrichment_cache
			WHERE lookup_key = ? AND lookup_type = ?`,
			rec.LookupKey, string(rec.LookupType))
		if err != nil {
			return result, unavailable(err, "conflict check: delete")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return result, unavailable(err, "conflict check: rows affected")
		}
		if n > 0 {
			result.Conflicts += n
			continue
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO enrichment_cache
				(lookup_key, lookup_type, company_id, confidence, source, source_domain, source_table, hit_count, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			rec.LookupKey, string(rec.LookupType), rec.CompanyID, rec.Confidence,
			string(rec.Source), rec.SourceDomain, rec.SourceTable, now, now,
		); err != nil {
			return result, unavailable(err, "conflict check: insert")
		}
		result.Inserted++
	}

	if err := tx.Commit(); err != nil {
		return result, unavailable(err, "conflict check: commit")
	}
	return result, nil
}

// Stats summarizes the cache grouped by type and source.
func (s *SQLiteStore) Stats(ctx context.Context) (*model.CacheStats, error) {
	stats := &model.CacheStats{
		ByType:   map[string]int64{},
		BySource: map[string]int64{},
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(hit_count), 0) FROM enrichment_cache`).
		Scan(&stats.TotalRecords, &stats.TotalHits)
	if err != nil {
		return nil, unavailable(err, "stats")
	}

	rows, err := s.db.QueryContext(ctx, `
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
func (s *SQLiteStore) Purge(ctx context.Context, filter PurgeFilter) (int64, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, string(filter.Source))
	}
	if filter.LookupType != "" {
		conds = append(conds, "lookup_type = ?")
		args = append(args, string(filter.LookupType))
	}

	query := "DELETE FROM enrichment_cache"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, unavailable(err, "purge")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err, "purge: rows affected")
	}
	return n, nil
}
