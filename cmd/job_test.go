package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagepoint-data/identity-cli/internal/config"
	"github.com/sagepoint-data/identity-cli/internal/model"
	"github.com/sagepoint-data/identity-cli/internal/reference"
)

func writeJobFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func withTestConfig(t *testing.T) {
	t.Helper()
	prev := cfg
	cfg = &config.Config{
		Resolver: config.ResolverConfig{
			TargetColumn:  "company_id",
			AllowExternal: true,
			Budget:        100,
			AllowTempID:   true,
		},
		Learning: config.LearningConfig{
			Enabled:      true,
			MinRecords:   10,
			SourceDomain: "pension",
		},
	}
	t.Cleanup(func() { cfg = prev })
}

const sampleJob = `
source:
  sheet: Records
  skip_rows: 1
  delimiter: ";"
strategy:
  mappings:
    - column: plan
      lookup_type: plan_code
    - column: customer
      lookup_type: customer_name
  budget: 5
  allow_temp_id: false
cleanse:
  - column: plan
    rule: trim
learning:
  columns:
    plan_code: plan
    customer_name: customer
  source_table: annuity_batch
reference:
  - fact_column: plan
    table: ref_plans
    key_column: plan_code
    mode: insert_missing
`

func TestLoadJob_ParsesAllSections(t *testing.T) {
	withTestConfig(t)

	job, err := loadJob(writeJobFile(t, sampleJob))
	require.NoError(t, err)

	opts := job.recordOptions()
	assert.Equal(t, "Records", opts.SheetName)
	assert.Equal(t, 1, opts.SkipRows)
	assert.Equal(t, ';', opts.Delimiter)

	strat, err := job.strategy()
	require.NoError(t, err)
	require.Len(t, strat.Mappings, 2)
	assert.Equal(t, model.LookupPlanCode, strat.Mappings[0].LookupType)
	assert.Equal(t, "company_id", strat.TargetColumn, "target column from config")
	assert.True(t, strat.AllowExternal, "external allowed by config default")
	assert.Equal(t, 5, strat.Budget, "job overrides config budget")
	assert.False(t, strat.AllowTempID, "job overrides config temp id default")

	pipe, err := job.pipeline()
	require.NoError(t, err)
	require.NotNil(t, pipe)

	fks := job.foreignKeys()
	require.Len(t, fks, 1)
	assert.Equal(t, reference.InsertMissing, fks[0].Mode)
	assert.Equal(t, "ref_plans", fks[0].Table)
}

func TestJobStrategy_ConfigDefaults(t *testing.T) {
	withTestConfig(t)

	job, err := loadJob(writeJobFile(t, `
strategy:
  mappings:
    - column: customer
      lookup_type: customer_name
`))
	require.NoError(t, err)

	strat, err := job.strategy()
	require.NoError(t, err)
	assert.True(t, strat.AllowExternal)
	assert.Equal(t, 100, strat.Budget)
	assert.True(t, strat.AllowTempID)
}

func TestJobStrategy_ConfigDisablesExternal(t *testing.T) {
	withTestConfig(t)
	cfg.Resolver.AllowExternal = false

	job, err := loadJob(writeJobFile(t, `
strategy:
  mappings:
    - column: customer
      lookup_type: customer_name
  allow_external: true
`))
	require.NoError(t, err)

	strat, err := job.strategy()
	require.NoError(t, err)
	assert.False(t, strat.AllowExternal, "config must be able to veto external lookups")
}

func TestJobStrategy_UnknownLookupType(t *testing.T) {
	withTestConfig(t)

	job, err := loadJob(writeJobFile(t, `
strategy:
  mappings:
    - column: customer
      lookup_type: shoe_size
`))
	require.NoError(t, err)

	_, err = job.strategy()
	require.Error(t, err)
}

func TestJobLearning_UnknownLookupType(t *testing.T) {
	withTestConfig(t)

	job, err := loadJob(writeJobFile(t, `
learning:
  columns:
    shoe_size: foot
`))
	require.NoError(t, err)

	_, err = job.learningService(nil, "company_id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shoe_size")
}

func TestJobLearning_NilWhenDisabledOrEmpty(t *testing.T) {
	withTestConfig(t)

	job, err := loadJob(writeJobFile(t, sampleJob))
	require.NoError(t, err)

	cfg.Learning.Enabled = false
	svc, err := job.learningService(nil, "company_id")
	require.NoError(t, err)
	assert.Nil(t, svc)

	cfg.Learning.Enabled = true
	empty, err := loadJob(writeJobFile(t, `strategy: {mappings: [{column: c, lookup_type: customer_name}]}`))
	require.NoError(t, err)
	svc, err = empty.learningService(nil, "company_id")
	require.NoError(t, err)
	assert.Nil(t, svc)
}

func TestJobPipeline_NilWhenNoSteps(t *testing.T) {
	job := &jobSpec{}
	pipe, err := job.pipeline()
	require.NoError(t, err)
	assert.Nil(t, pipe)
}

func TestLoadJob_MissingFile(t *testing.T) {
	_, err := loadJob(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
