package fetcher

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func writeTestXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("batch")
	require.NoError(t, err)
	for _, cells := range rows {
		row := sheet.AddRow()
		for _, c := range cells {
			row.AddCell().Value = c
		}
	}
	path := filepath.Join(t.TempDir(), "batch.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestLoadXLSXRecords(t *testing.T) {
	path := writeTestXLSX(t, [][]string{
		{"plan_code", "customer_name", "account_number"},
		{"FP0001", "Acme Trust", "900-1"},
		{"FP0002", "Beta Trust"}, // short row, padded
		{"", "", ""},             // blank row, dropped
	})

	records, err := LoadRecords(path, RecordOptions{})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, []string{"plan_code", "customer_name", "account_number"}, records[0].Columns)
	assert.Equal(t, "FP0001", records[0].Get("plan_code"))
	assert.Equal(t, "900-1", records[0].Get("account_number"))
	assert.Empty(t, records[1].Get("account_number"))
}

func TestLoadXLSXRecords_SheetSelection(t *testing.T) {
	path := writeTestXLSX(t, [][]string{
		{"plan_code"},
		{"FP0001"},
	})

	_, err := LoadXLSXRecords(path, RecordOptions{SheetName: "missing"})
	assert.Error(t, err)

	records, err := LoadXLSXRecords(path, RecordOptions{SheetName: "batch"})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestReadCSVRecords(t *testing.T) {
	in := strings.NewReader(
		"plan_code, customer_name\n" +
			"FP0001, Acme Trust \n" +
			"FP0002,Beta Trust\n",
	)
	records, err := ReadCSVRecords(in, RecordOptions{})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "Acme Trust", records[0].Get("customer_name"))
	assert.Equal(t, "FP0002", records[1].Get("plan_code"))
}

func TestReadCSVRecords_SkipRowsAndDelimiter(t *testing.T) {
	in := strings.NewReader(
		"plan_code;customer_name\n" +
			"ignored;row\n" +
			"FP0001;Acme\n",
	)
	records, err := ReadCSVRecords(in, RecordOptions{SkipRows: 1, Delimiter: ';'})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "FP0001", records[0].Get("plan_code"))
}

func TestReadCSVRecords_EmptyInput(t *testing.T) {
	_, err := ReadCSVRecords(strings.NewReader(""), RecordOptions{})
	assert.Error(t, err)
}

func TestLoadRecords_UnsupportedExtension(t *testing.T) {
	_, err := LoadRecords("batch.parquet", RecordOptions{})
	assert.Error(t, err)
}
