package model

// BusinessRecord is one ingested row of pension/annuity business data.
// Values are keyed by cleansed column name; Columns preserves source order.
type BusinessRecord struct {
	Columns []string          `json:"columns,omitempty"`
	Values  map[string]string `json:"values"`
}

// Get returns the value of a column, or "" when absent.
func (r BusinessRecord) Get(column string) string {
	if r.Values == nil {
		return ""
	}
	return r.Values[column]
}

// Set assigns a column value, initializing the map on first use.
func (r *BusinessRecord) Set(column, value string) {
	if r.Values == nil {
		r.Values = make(map[string]string)
	}
	r.Values[column] = value
}

// ResolutionOutcome is the terminal state of one record's cascade.
type ResolutionOutcome string

const (
	OutcomeOverride   ResolutionOutcome = "override"
	OutcomeCache      ResolutionOutcome = "cache"
	OutcomeExternal   ResolutionOutcome = "external"
	OutcomeTempID     ResolutionOutcome = "temp_id"
	OutcomeUnresolved ResolutionOutcome = "unresolved"
)

// Statistics counts cascade outcomes for one batch. Each record increments
// exactly one counter.
type Statistics struct {
	Override   int `json:"override"`
	Cache      int `json:"cache"`
	External   int `json:"external"`
	TempID     int `json:"temp_id"`
	Unresolved int `json:"unresolved"`
}

// Total returns the number of records accounted for.
func (s Statistics) Total() int {
	return s.Override + s.Cache + s.External + s.TempID + s.Unresolved
}

// ResolutionResult is the per-batch output: input rows enriched 1:1 in order,
// plus outcome counts and run degradation state.
type ResolutionResult struct {
	Records        []BusinessRecord `json:"records"`
	Stats          Statistics       `json:"stats"`
	Degraded       bool             `json:"degraded"`
	DegradedReason string           `json:"degraded_reason,omitempty"`
}

// CoverageMetrics reports FK coverage of a fact batch against one reference
// table. Computed fresh per run, never persisted.
type CoverageMetrics struct {
	Table         string  `json:"table"`
	TotalValues   int     `json:"total_fk_values"`
	CoveredValues int     `json:"covered_values"`
	MissingValues int     `json:"missing_values"`
	CoverageRate  float64 `json:"coverage_rate"`
}

// BackfillResult summarizes one table's backfill attempt.
type BackfillResult struct {
	Table    string `json:"table"`
	Inserted int64  `json:"inserted"`
	Updated  int64  `json:"updated"`
	Skipped  int64  `json:"skipped"`
}

// HybridResult is the ephemeral summary of a full reference sync pass.
type HybridResult struct {
	Coverage          []CoverageMetrics `json:"coverage"`
	Backfills         []BackfillResult  `json:"backfills"`
	AutoDerivedRatio  float64           `json:"auto_derived_ratio"`
	DegradedMode      bool              `json:"degraded_mode"`
	DegradationReason string            `json:"degradation_reason,omitempty"`
}
