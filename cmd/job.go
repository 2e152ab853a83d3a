package main

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sagepoint-data/identity-cli/internal/cleanse"
	"github.com/sagepoint-data/identity-cli/internal/enrichment"
	"github.com/sagepoint-data/identity-cli/internal/fetcher"
	"github.com/sagepoint-data/identity-cli/internal/learning"
	"github.com/sagepoint-data/identity-cli/internal/model"
	"github.com/sagepoint-data/identity-cli/internal/reference"
	"github.com/sagepoint-data/identity-cli/internal/resolver"
)

// jobSpec is the per-batch job file. It describes how to read the source
// file, which columns feed resolution, pre-cleansing steps, learning columns,
// and reference foreign keys. Omitted strategy fields fall back to the
// resolver section of the application config.
type jobSpec struct {
	Source    jobSource       `yaml:"source"`
	Strategy  jobStrategy     `yaml:"strategy"`
	Cleanse   []cleanse.Step  `yaml:"cleanse"`
	Learning  jobLearning     `yaml:"learning"`
	Reference []jobForeignKey `yaml:"reference"`
}

type jobSource struct {
	Sheet     string `yaml:"sheet"`
	SkipRows  int    `yaml:"skip_rows"`
	Delimiter string `yaml:"delimiter"`
}

// jobStrategy mirrors resolver.Strategy with optional fields so the job file
// only has to state what differs from config defaults.
type jobStrategy struct {
	Mappings      []resolver.Mapping `yaml:"mappings"`
	TargetColumn  string             `yaml:"target_column"`
	AllowExternal *bool              `yaml:"allow_external"`
	Budget        *int               `yaml:"budget"`
	AllowTempID   *bool              `yaml:"allow_temp_id"`
}

type jobLearning struct {
	Columns     map[string]string `yaml:"columns"`
	SourceTable string            `yaml:"source_table"`
}

type jobForeignKey struct {
	FactColumn     string `yaml:"fact_column"`
	Table          string `yaml:"table"`
	KeyColumn      string `yaml:"key_column"`
	Mode           string `yaml:"mode"`
	NameColumn     string `yaml:"name_column"`
	NameFactColumn string `yaml:"name_fact_column"`
}

func loadJob(path string) (*jobSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read job file %s", path)
	}
	var job jobSpec
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, eris.Wrapf(err, "parse job file %s", path)
	}
	return &job, nil
}

func (j *jobSpec) recordOptions() fetcher.RecordOptions {
	opts := fetcher.RecordOptions{
		SheetName: j.Source.Sheet,
		SkipRows:  j.Source.SkipRows,
	}
	if j.Source.Delimiter != "" {
		opts.Delimiter = rune(j.Source.Delimiter[0])
	}
	return opts
}

// strategy merges the job strategy with config defaults and validates it.
func (j *jobSpec) strategy() (*resolver.Strategy, error) {
	s := resolver.Strategy{
		Mappings:      j.Strategy.Mappings,
		TargetColumn:  j.Strategy.TargetColumn,
		AllowExternal: cfg.Resolver.AllowExternal,
		Budget:        cfg.Resolver.Budget,
		AllowTempID:   cfg.Resolver.AllowTempID,
	}
	if s.TargetColumn == "" {
		s.TargetColumn = cfg.Resolver.TargetColumn
	}
	if j.Strategy.AllowExternal != nil {
		s.AllowExternal = *j.Strategy.AllowExternal && cfg.Resolver.AllowExternal
	}
	if j.Strategy.Budget != nil {
		s.Budget = *j.Strategy.Budget
	}
	if j.Strategy.AllowTempID != nil {
		s.AllowTempID = *j.Strategy.AllowTempID
	}
	return resolver.NewStrategy(s)
}

// pipeline compiles the job's cleansing steps; nil when the job has none.
func (j *jobSpec) pipeline() (*cleanse.Pipeline, error) {
	if len(j.Cleanse) == 0 {
		return nil, nil
	}
	return cleanse.Compile(cleanse.DefaultRegistry(), j.Cleanse)
}

// learningService builds the domain learning service for this job, or nil
// when learning is off or the job names no learnable columns.
func (j *jobSpec) learningService(store enrichment.Store, targetColumn string) (*learning.Service, error) {
	if !cfg.Learning.Enabled || len(j.Learning.Columns) == 0 {
		return nil, nil
	}

	columns := make(map[model.LookupType]string, len(j.Learning.Columns))
	for name, col := range j.Learning.Columns {
		lt := model.LookupType(name)
		if !model.ValidLookupType(lt) {
			return nil, eris.Errorf("job: unknown learning lookup type %q", name)
		}
		columns[lt] = col
	}

	disabled := make(map[model.LookupType]bool, len(cfg.Learning.DisabledTypes))
	for _, name := range cfg.Learning.DisabledTypes {
		disabled[model.LookupType(name)] = true
	}

	return learning.New(store, learning.Config{
		Columns:         columns,
		CompanyIDColumn: targetColumn,
		MinRecords:      cfg.Learning.MinRecords,
		MinConfidence:   cfg.Learning.MinConfidence,
		Disabled:        disabled,
		SourceDomain:    cfg.Learning.SourceDomain,
		SourceTable:     j.Learning.SourceTable,
	})
}

func (j *jobSpec) foreignKeys() []reference.ForeignKey {
	fks := make([]reference.ForeignKey, 0, len(j.Reference))
	for _, fk := range j.Reference {
		fks = append(fks, reference.ForeignKey{
			FactColumn:     fk.FactColumn,
			Table:          fk.Table,
			KeyColumn:      fk.KeyColumn,
			Mode:           reference.BackfillMode(fk.Mode),
			NameColumn:     fk.NameColumn,
			NameFactColumn: fk.NameFactColumn,
		})
	}
	return fks
}
