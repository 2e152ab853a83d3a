// Package learning mines resolved batches for new cache mappings. Every key
// a resolved row carries (plan code, account name, account number, customer
// name, plan+customer) becomes a candidate enrichment record, written back
// with a per-type confidence so future runs resolve from cache instead of
// the external provider.
package learning

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sagepoint-data/identity-cli/internal/enrichment"
	"github.com/sagepoint-data/identity-cli/internal/model"
	"github.com/sagepoint-data/identity-cli/internal/normalize"
	"github.com/sagepoint-data/identity-cli/internal/resolver"
)

// DefaultMinRecords is the minimum number of valid resolved rows a batch
// needs before any learning happens. Smaller batches are statistically
// unreliable and are skipped entirely.
const DefaultMinRecords = 10

// typeConfidence fixes how much a learned mapping of each type is trusted.
// Structured keys outrank free-text names.
var typeConfidence = map[model.LookupType]float64{
	model.LookupPlanCode:      0.95,
	model.LookupAccountNumber: 0.95,
	model.LookupAccountName:   0.90,
	model.LookupPlanCustomer:  0.90,
	model.LookupCustomerName:  0.85,
}

// learnOrder makes candidate extraction deterministic across runs.
var learnOrder = []model.LookupType{
	model.LookupPlanCode,
	model.LookupAccountName,
	model.LookupAccountNumber,
	model.LookupCustomerName,
	model.LookupPlanCustomer,
}

// Config maps the domain's columns to lookup types and tunes the write
// gates.
type Config struct {
	// Columns names the source column per lookup type. Types without a
	// column are not learned. plan_customer may be omitted here; when both
	// plan_code and customer_name columns exist it is composed from them.
	Columns map[model.LookupType]string

	// CompanyIDColumn is the resolved output column.
	CompanyIDColumn string

	// MinRecords gates the whole batch; zero means DefaultMinRecords.
	MinRecords int

	// MinConfidence is the cache floor. Types whose fixed confidence falls
	// below it are never written.
	MinConfidence float64

	// Disabled turns individual lookup types off.
	Disabled map[model.LookupType]bool

	// SourceDomain and SourceTable label the provenance of learned rows.
	SourceDomain string
	SourceTable  string
}

// Summary reports what one learning pass did.
type Summary struct {
	TotalRows  int  `json:"total_rows"`
	ValidRows  int  `json:"valid_rows"`
	Candidates int  `json:"candidates"`
	Written    int  `json:"written"`
	Skipped    bool `json:"skipped"`
}

// Service extracts mappings from resolved batches and writes them to the
// enrichment cache with source=domain_learning.
type Service struct {
	store enrichment.Store
	cfg   Config
}

// New validates cfg and builds a learning service.
func New(store enrichment.Store, cfg Config) (*Service, error) {
	if store == nil {
		return nil, eris.New("learning: store is required")
	}
	if cfg.CompanyIDColumn == "" {
		return nil, eris.New("learning: company id column is required")
	}
	if len(cfg.Columns) == 0 {
		return nil, eris.New("learning: at least one column mapping is required")
	}
	for lt := range cfg.Columns {
		if !model.ValidLookupType(lt) {
			return nil, eris.Errorf("learning: unknown lookup type %q", lt)
		}
	}
	if cfg.MinRecords <= 0 {
		cfg.MinRecords = DefaultMinRecords
	}
	return &Service{store: store, cfg: cfg}, nil
}

// Learn extracts candidate mappings from a resolved batch and upserts them
// in one transaction. Rows without an authoritative company_id (null or temp
// ID) are skipped; a batch with fewer than MinRecords valid rows performs
// zero writes.
func (s *Service) Learn(ctx context.Context, records []model.BusinessRecord) (*Summary, error) {
	sum := &Summary{TotalRows: len(records)}

	for _, rec := range records {
		if s.validCompanyID(rec) != "" {
			sum.ValidRows++
		}
	}
	if sum.ValidRows < s.cfg.MinRecords {
		sum.Skipped = true
		zap.L().Info("learning skipped, batch below minimum",
			zap.Int("valid_rows", sum.ValidRows),
			zap.Int("min_records", s.cfg.MinRecords),
		)
		return sum, nil
	}

	var candidates []model.EnrichmentRecord
	for _, rec := range records {
		companyID := s.validCompanyID(rec)
		if companyID == "" {
			continue
		}
		candidates = append(candidates, s.extract(rec, companyID)...)
	}
	sum.Candidates = len(candidates)

	deduped := enrichment.Dedupe(candidates)
	if len(deduped) == 0 {
		return sum, nil
	}
	if err := s.store.UpsertBatch(ctx, deduped); err != nil {
		return sum, eris.Wrap(err, "learning: write batch")
	}
	sum.Written = len(deduped)

	zap.L().Info("learning pass complete",
		zap.Int("valid_rows", sum.ValidRows),
		zap.Int("candidates", sum.Candidates),
		zap.Int("written", sum.Written),
	)
	return sum, nil
}

// validCompanyID returns the row's company_id when it is authoritative,
// else "". Temp IDs must never enter the cache as if authoritative.
func (s *Service) validCompanyID(rec model.BusinessRecord) string {
	id := rec.Get(s.cfg.CompanyIDColumn)
	if id == "" || resolver.IsTempID(id) {
		return ""
	}
	return id
}

// extract builds up to one candidate per lookup type for a single row.
func (s *Service) extract(rec model.BusinessRecord, companyID string) []model.EnrichmentRecord {
	out := make([]model.EnrichmentRecord, 0, len(learnOrder))
	for _, lt := range learnOrder {
		if s.cfg.Disabled[lt] {
			continue
		}
		conf := typeConfidence[lt]
		if conf < s.cfg.MinConfidence {
			continue
		}
		key := s.keyFor(rec, lt)
		if key == "" {
			continue
		}
		out = append(out, model.EnrichmentRecord{
			LookupKey:    key,
			LookupType:   lt,
			CompanyID:    companyID,
			Confidence:   conf,
			Source:       model.SourceDomainLearning,
			SourceDomain: s.cfg.SourceDomain,
			SourceTable:  s.cfg.SourceTable,
		})
	}
	return out
}

// keyFor derives the normalized lookup key of one type from a row. The
// combined plan_customer key is composed from the plan and customer columns
// when no dedicated column is mapped.
func (s *Service) keyFor(rec model.BusinessRecord, lt model.LookupType) string {
	if col, ok := s.cfg.Columns[lt]; ok {
		return normalize.Key(rec.Get(col))
	}
	if lt == model.LookupPlanCustomer {
		plan := normalize.Key(rec.Get(s.cfg.Columns[model.LookupPlanCode]))
		cust := normalize.Key(rec.Get(s.cfg.Columns[model.LookupCustomerName]))
		if plan != "" && cust != "" {
			return plan + " " + cust
		}
	}
	return ""
}
