package model

import "time"

// LookupType is the semantic category of a resolution key.
type LookupType string

const (
	LookupPlanCode      LookupType = "plan_code"
	LookupAccountName   LookupType = "account_name"
	LookupAccountNumber LookupType = "account_number"
	LookupCustomerName  LookupType = "customer_name"
	LookupPlanCustomer  LookupType = "plan_customer"
)

// ValidLookupType reports whether lt is one of the known lookup types.
func ValidLookupType(lt LookupType) bool {
	switch lt {
	case LookupPlanCode, LookupAccountName, LookupAccountNumber,
		LookupCustomerName, LookupPlanCustomer:
		return true
	}
	return false
}

// Source identifies where a cached mapping came from.
type Source string

const (
	SourceYAML            Source = "yaml"
	SourceEQCAPI          Source = "eqc_api"
	SourceManual          Source = "manual"
	SourceBackflow        Source = "backflow"
	SourceDomainLearning  Source = "domain_learning"
	SourceLegacyMigration Source = "legacy_migration"
)

// EnrichmentRecord is a single cached key → company_id mapping.
// Unique on (LookupKey, LookupType); exactly one winning CompanyID per key,
// arbitrated by highest confidence (ties keep the incumbent).
type EnrichmentRecord struct {
	ID           int64      `json:"id,omitempty"`
	LookupKey    string     `json:"lookup_key"`
	LookupType   LookupType `json:"lookup_type"`
	CompanyID    string     `json:"company_id"`
	Confidence   float64    `json:"confidence"`
	Source       Source     `json:"source"`
	SourceDomain string     `json:"source_domain,omitempty"`
	SourceTable  string     `json:"source_table,omitempty"`
	HitCount     int64      `json:"hit_count"`
	LastHitAt    *time.Time `json:"last_hit_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// UpsertOutcome describes what an EnrichmentStore upsert did.
type UpsertOutcome string

const (
	UpsertInserted          UpsertOutcome = "inserted"
	UpsertHigherConfidence  UpsertOutcome = "updated_higher_confidence"
	UpsertHitOnly           UpsertOutcome = "updated_hit_only"
)

// CacheStats summarizes the enrichment cache for inspection.
type CacheStats struct {
	TotalRecords int64            `json:"total_records"`
	ByType       map[string]int64 `json:"by_type"`
	BySource     map[string]int64 `json:"by_source"`
	TotalHits    int64            `json:"total_hits"`
}
