package resolver

import (
	"github.com/rotisserie/eris"

	"github.com/sagepoint-data/identity-cli/internal/model"
)

// Mapping pairs a source column with the lookup type its values represent.
type Mapping struct {
	Column     string           `yaml:"column"`
	LookupType model.LookupType `yaml:"lookup_type"`
}

// Strategy configures one batch resolution: which columns feed which lookup
// types (in priority order), whether the external provider and temp IDs may
// be used, the external call budget for the run, and the output column.
// Immutable for the duration of a batch.
type Strategy struct {
	Mappings      []Mapping `yaml:"mappings"`
	TargetColumn  string    `yaml:"target_column"`
	AllowExternal bool      `yaml:"allow_external"`
	Budget        int       `yaml:"budget"`
	AllowTempID   bool      `yaml:"allow_temp_id"`
}

// NewStrategy validates s and returns an immutable copy. Unknown lookup-type
// names are a construction-time error, not a silent runtime skip.
func NewStrategy(s Strategy) (*Strategy, error) {
	if len(s.Mappings) == 0 {
		return nil, eris.New("resolver: strategy needs at least one column mapping")
	}
	if s.TargetColumn == "" {
		return nil, eris.New("resolver: strategy target column is required")
	}
	if s.Budget < 0 {
		return nil, eris.Errorf("resolver: negative budget %d", s.Budget)
	}
	for i, m := range s.Mappings {
		if m.Column == "" {
			return nil, eris.Errorf("resolver: mapping %d has an empty column", i)
		}
		if !model.ValidLookupType(m.LookupType) {
			return nil, eris.Errorf("resolver: mapping %d has unknown lookup type %q", i, m.LookupType)
		}
	}
	cp := s
	cp.Mappings = make([]Mapping, len(s.Mappings))
	copy(cp.Mappings, s.Mappings)
	return &cp, nil
}

// customerNameColumn returns the column that carries the customer name, used
// for external search keywords and temp-ID derivation. Falls back to the
// first mapped column when no customer_name mapping is declared.
func (s *Strategy) customerNameColumn() string {
	for _, m := range s.Mappings {
		if m.LookupType == model.LookupCustomerName {
			return m.Column
		}
	}
	return s.Mappings[0].Column
}

// customerNameType returns the lookup type written back for external hits.
func (s *Strategy) customerNameType() model.LookupType {
	for _, m := range s.Mappings {
		if m.LookupType == model.LookupCustomerName {
			return m.LookupType
		}
	}
	return s.Mappings[0].LookupType
}
