package main

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagepoint-data/identity-cli/internal/fetcher"
	"github.com/sagepoint-data/identity-cli/internal/model"
)

func TestWriteBatchCSV_AppendsTargetColumn(t *testing.T) {
	records := []model.BusinessRecord{
		{Columns: []string{"plan", "customer"}, Values: map[string]string{
			"plan": "FP0001", "customer": "Acme", "company_id": "C100",
		}},
		{Columns: []string{"plan", "customer"}, Values: map[string]string{
			"plan": "FP0002", "customer": "Globex",
		}},
	}

	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, writeBatchCSV(path, records, "company_id"))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"plan", "customer", "company_id"}, rows[0])
	assert.Equal(t, []string{"FP0001", "Acme", "C100"}, rows[1])
	assert.Equal(t, []string{"FP0002", "Globex", ""}, rows[2], "unresolved rows write an empty id")
}

func TestWriteBatchCSV_KeepsExistingTargetColumn(t *testing.T) {
	records := []model.BusinessRecord{
		{Columns: []string{"plan", "company_id"}, Values: map[string]string{
			"plan": "FP0001", "company_id": "C100",
		}},
	}

	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, writeBatchCSV(path, records, "company_id"))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"plan", "company_id"}, rows[0])
}

func TestWriteBatchCSV_EmptyBatch(t *testing.T) {
	err := writeBatchCSV(filepath.Join(t.TempDir(), "out.csv"), nil, "company_id")
	require.Error(t, err)
}

func TestLoadBatch_LocalCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.csv")
	require.NoError(t, os.WriteFile(path, []byte("plan,customer\nFP0001,Acme\n"), 0o644))

	records, err := loadBatch(context.Background(), path, fetcher.RecordOptions{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Acme", records[0].Get("customer"))
}
