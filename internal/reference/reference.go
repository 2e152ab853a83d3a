// Package reference keeps dimension reference tables consistent with the
// fact batches that point at them: per-FK coverage checks, selective
// idempotent backfill, and an auto-derived data-quality ratio with
// degraded-mode detection. Partial reference data is preferable to none, so
// a failing table never aborts the run.
package reference

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sagepoint-data/identity-cli/internal/db"
	"github.com/sagepoint-data/identity-cli/internal/model"
)

// BackfillMode selects how missing coverage is repaired.
type BackfillMode string

const (
	// InsertMissing inserts keys absent from the reference table; races are
	// a conflict-safe no-op.
	InsertMissing BackfillMode = "insert_missing"
	// FillNullOnly updates only currently-null descriptive columns of
	// existing rows, never overwriting populated data.
	FillNullOnly BackfillMode = "fill_null_only"
)

// DefaultAutoDerivedThreshold is the auto_derived_ratio above which a run
// logs a data-quality warning.
const DefaultAutoDerivedThreshold = 0.10

// ForeignKey declares one fact column → reference table relationship.
type ForeignKey struct {
	// FactColumn holds the key value in the fact batch.
	FactColumn string
	// Table and KeyColumn locate the reference rows.
	Table     string
	KeyColumn string
	// Mode selects the backfill behavior for this table.
	Mode BackfillMode
	// NameColumn, when set, is a descriptive reference column filled from
	// NameFactColumn during backfill.
	NameColumn     string
	NameFactColumn string
}

func (fk ForeignKey) validate() error {
	if fk.FactColumn == "" || fk.Table == "" || fk.KeyColumn == "" {
		return eris.Errorf("reference: FK for table %q needs fact column, table and key column", fk.Table)
	}
	switch fk.Mode {
	case InsertMissing, FillNullOnly:
	default:
		return eris.Errorf("reference: FK for table %q has unknown backfill mode %q", fk.Table, fk.Mode)
	}
	if fk.Mode == FillNullOnly && (fk.NameColumn == "" || fk.NameFactColumn == "") {
		return eris.Errorf("reference: fill_null_only FK for table %q needs a name column mapping", fk.Table)
	}
	return nil
}

// Config tunes the hybrid service.
type Config struct {
	ForeignKeys []ForeignKey
	// AutoDerivedThreshold triggers the data-quality warning; zero means
	// DefaultAutoDerivedThreshold.
	AutoDerivedThreshold float64
	// CoverageConcurrency bounds the per-table coverage fan-out; zero
	// means 4.
	CoverageConcurrency int
}

// Service is the HybridReferenceService. The caller owns the connection and
// commits; the service issues its own statements against pool.
type Service struct {
	pool db.Pool
	cfg  Config
}

// New validates the FK declarations and builds the service.
func New(pool db.Pool, cfg Config) (*Service, error) {
	if pool == nil {
		return nil, eris.New("reference: pool is required")
	}
	if len(cfg.ForeignKeys) == 0 {
		return nil, eris.New("reference: at least one foreign key is required")
	}
	for _, fk := range cfg.ForeignKeys {
		if err := fk.validate(); err != nil {
			return nil, err
		}
	}
	if cfg.AutoDerivedThreshold <= 0 {
		cfg.AutoDerivedThreshold = DefaultAutoDerivedThreshold
	}
	if cfg.CoverageConcurrency <= 0 {
		cfg.CoverageConcurrency = 4
	}
	return &Service{pool: pool, cfg: cfg}, nil
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// quoteTable handles schema-qualified names like "reference.plan_sponsors".
func quoteTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// factValues collects the distinct non-null values of one fact column,
// sorted for deterministic queries.
func factValues(records []model.BusinessRecord, column string) []string {
	seen := make(map[string]struct{})
	for _, rec := range records {
		if v := rec.Get(column); v != "" {
			seen[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// CheckCoverage compares the distinct non-null fact values of one FK against
// the reference table. A batch with zero values is fully covered by
// definition (rate 1.0).
func (s *Service) CheckCoverage(ctx context.Context, fk ForeignKey, records []model.BusinessRecord) (*model.CoverageMetrics, error) {
	values := factValues(records, fk.FactColumn)
	metrics := &model.CoverageMetrics{
		Table:        fk.Table,
		TotalValues:  len(values),
		CoverageRate: 1.0,
	}
	if len(values) == 0 {
		return metrics, nil
	}

	query := fmt.Sprintf(
		"SELECT COUNT(DISTINCT %s) FROM %s WHERE %s = ANY($1)",
		quoteIdent(fk.KeyColumn), quoteTable(fk.Table), quoteIdent(fk.KeyColumn),
	)
	var covered int
	if err := s.pool.QueryRow(ctx, query, values).Scan(&covered); err != nil {
		return nil, eris.Wrapf(err, "reference: coverage query for %s", fk.Table)
	}

	metrics.CoveredValues = covered
	metrics.MissingValues = len(values) - covered
	metrics.CoverageRate = float64(covered) / float64(len(values))
	return metrics, nil
}

// Backfill repairs incomplete coverage for one FK according to its mode.
// Idempotent: rerunning with the same batch inserts or updates nothing new.
func (s *Service) Backfill(ctx context.Context, fk ForeignKey, records []model.BusinessRecord) (*model.BackfillResult, error) {
	switch fk.Mode {
	case InsertMissing:
		return s.insertMissing(ctx, fk, records)
	case FillNullOnly:
		return s.fillNullOnly(ctx, fk, records)
	}
	return nil, eris.Errorf("reference: unknown backfill mode %q", fk.Mode)
}

// insertMissing inserts one auto-derived row per fact key not yet present.
// Concurrent inserts of the same key are conflict-safe no-ops.
func (s *Service) insertMissing(ctx context.Context, fk ForeignKey, records []model.BusinessRecord) (*model.BackfillResult, error) {
	values := factValues(records, fk.FactColumn)
	result := &model.BackfillResult{Table: fk.Table}
	if len(values) == 0 {
		return result, nil
	}

	// Carry the first non-empty descriptive value seen per key, if mapped.
	names := make(map[string]string, len(values))
	if fk.NameFactColumn != "" {
		for _, rec := range records {
			key := rec.Get(fk.FactColumn)
			if key == "" || names[key] != "" {
				continue
			}
			names[key] = rec.Get(fk.NameFactColumn)
		}
	}

	columns := []string{fk.KeyColumn, "is_auto_derived"}
	if fk.NameColumn != "" {
		columns = append(columns, fk.NameColumn)
	}
	rows := make([][]any, 0, len(values))
	for _, v := range values {
		row := []any{v, true}
		if fk.NameColumn != "" {
			row = append(row, nullable(names[v]))
		}
		rows = append(rows, row)
	}

	inserted, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        fk.Table,
		Columns:      columns,
		ConflictKeys: []string{fk.KeyColumn},
		DoNothing:    true,
	}, rows)
	if err != nil {
		return nil, eris.Wrapf(err, "reference: insert-missing backfill for %s", fk.Table)
	}

	result.Inserted = inserted
	result.Skipped = int64(len(rows)) - inserted
	return result, nil
}

// fillNullOnly fills the descriptive column of existing rows only where it
// is currently null. Populated data is never overwritten.
func (s *Service) fillNullOnly(ctx context.Context, fk ForeignKey, records []model.BusinessRecord) (*model.BackfillResult, error) {
	result := &model.BackfillResult{Table: fk.Table}

	// Last non-empty descriptive value per key wins, like a keep-last dedupe.
	names := make(map[string]string)
	for _, rec := range records {
		key := rec.Get(fk.FactColumn)
		if key == "" {
			continue
		}
		if v := rec.Get(fk.NameFactColumn); v != "" {
			names[key] = v
		}
	}
	if len(names) == 0 {
		return result, nil
	}

	keys := make([]string, 0, len(names))
	for k := range names {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	query := fmt.Sprintf(
		"UPDATE %s SET %s = COALESCE(%s, $1) WHERE %s = $2 AND %s IS NULL",
		quoteTable(fk.Table), quoteIdent(fk.NameColumn), quoteIdent(fk.NameColumn),
		quoteIdent(fk.KeyColumn), quoteIdent(fk.NameColumn),
	)
	for _, key := range keys {
		tag, err := s.pool.Exec(ctx, query, names[key], key)
		if err != nil {
			return nil, eris.Wrapf(err, "reference: fill-null backfill for %s", fk.Table)
		}
		n := tag.RowsAffected()
		result.Updated += n
		if n == 0 {
			result.Skipped++
		}
	}
	return result, nil
}

// autoDerivedRatio computes auto/(auto+authoritative) across the given
// tables. Empty tables contribute nothing.
func (s *Service) autoDerivedRatio(ctx context.Context, tables []string) (float64, error) {
	var auto, total int64
	for _, table := range tables {
		query := fmt.Sprintf(
			"SELECT COUNT(*) FILTER (WHERE is_auto_derived), COUNT(*) FROM %s",
			quoteTable(table),
		)
		var a, n int64
		if err := s.pool.QueryRow(ctx, query).Scan(&a, &n); err != nil {
			return 0, eris.Wrapf(err, "reference: auto-derived count for %s", table)
		}
		auto += a
		total += n
	}
	if total == 0 {
		return 0, nil
	}
	return float64(auto) / float64(total), nil
}

// Sync runs the full pass: coverage for every FK (bounded fan-out), backfill
// where incomplete, then the auto-derived ratio. A single table's failure is
// recorded as the degradation reason and the remaining tables still run.
func (s *Service) Sync(ctx context.Context, records []model.BusinessRecord) (*model.HybridResult, error) {
	result := &model.HybridResult{}

	var mu sync.Mutex
	degrade := func(reason string) {
		mu.Lock()
		defer mu.Unlock()
		result.DegradedMode = true
		if result.DegradationReason == "" {
			result.DegradationReason = reason
		}
	}

	coverage := make([]*model.CoverageMetrics, len(s.cfg.ForeignKeys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.CoverageConcurrency)
	for i, fk := range s.cfg.ForeignKeys {
		i, fk := i, fk
		g.Go(func() error {
			m, err := s.CheckCoverage(gctx, fk, records)
			if err != nil {
				zap.L().Warn("coverage check failed, continuing",
					zap.String("table", fk.Table),
					zap.Error(err),
				)
				degrade(fmt.Sprintf("coverage check failed for %s: %v", fk.Table, err))
				return nil
			}
			coverage[i] = m
			return nil
		})
	}
	_ = g.Wait()

	for i, fk := range s.cfg.ForeignKeys {
		m := coverage[i]
		if m == nil {
			continue
		}
		result.Coverage = append(result.Coverage, *m)
		if m.CoverageRate >= 1.0 {
			continue
		}

		bf, err := s.Backfill(ctx, fk, records)
		if err != nil {
			zap.L().Warn("backfill failed, continuing",
				zap.String("table", fk.Table),
				zap.Error(err),
			)
			degrade(fmt.Sprintf("backfill failed for %s: %v", fk.Table, err))
			continue
		}
		result.Backfills = append(result.Backfills, *bf)
		zap.L().Info("reference backfill",
			zap.String("table", fk.Table),
			zap.String("mode", string(fk.Mode)),
			zap.Int64("inserted", bf.Inserted),
			zap.Int64("updated", bf.Updated),
			zap.Int64("skipped", bf.Skipped),
		)
	}

	tables := make([]string, 0, len(s.cfg.ForeignKeys))
	seen := make(map[string]struct{})
	for _, fk := range s.cfg.ForeignKeys {
		if _, ok := seen[fk.Table]; ok {
			continue
		}
		seen[fk.Table] = struct{}{}
		tables = append(tables, fk.Table)
	}
	ratio, err := s.autoDerivedRatio(ctx, tables)
	if err != nil {
		zap.L().Warn("auto-derived ratio unavailable", zap.Error(err))
		degrade(fmt.Sprintf("auto-derived ratio unavailable: %v", err))
	} else {
		result.AutoDerivedRatio = ratio
		if ratio > s.cfg.AutoDerivedThreshold {
			// Data-quality signal only; the run still succeeds.
			zap.L().Warn("auto-derived reference data exceeds threshold",
				zap.Float64("ratio", ratio),
				zap.Float64("threshold", s.cfg.AutoDerivedThreshold),
			)
		}
	}

	return result, nil
}
