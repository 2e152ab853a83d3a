package fetcher

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sagepoint-data/identity-cli/internal/model"
)

// RecordOptions configures batch file parsing.
type RecordOptions struct {
	// SheetName selects an XLSX sheet by name; empty means the first sheet.
	SheetName string
	// SkipRows skips extra rows between the header and the data.
	SkipRows int
	// Delimiter overrides the CSV field separator; zero means ','.
	Delimiter rune
}

// LoadRecords parses a batch file into business records, dispatching on the
// file extension (.xlsx or .csv). The first row is the header and becomes
// the records' column names.
func LoadRecords(path string, opts RecordOptions) ([]model.BusinessRecord, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return LoadXLSXRecords(path, opts)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return ReadCSVRecords(f, opts)
	}
	return nil, eris.Errorf("fetcher: unsupported batch file type %q", filepath.Ext(path))
}

// LoadXLSXRecords reads an XLSX batch file. Trailing blank cells are common
// in exported workbooks, so short rows are padded against the header.
func LoadXLSXRecords(path string, opts RecordOptions) ([]model.BusinessRecord, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open xlsx %s", path)
	}

	sheet, err := pickSheet(f, opts.SheetName)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, eris.Errorf("fetcher: xlsx %s has no header row", path)
	}

	header := rowStrings(sheet.Rows[0])
	start := 1 + opts.SkipRows
	if start > len(sheet.Rows) {
		return nil, nil
	}
	var records []model.BusinessRecord
	for _, row := range sheet.Rows[start:] {
		cells := rowStrings(row)
		if rec, ok := buildRecord(header, cells); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// ReadCSVRecords reads a CSV batch from r. The first row is the header.
func ReadCSVRecords(r io.Reader, opts RecordOptions) ([]model.BusinessRecord, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("fetcher: csv has no header row")
	}
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: read csv header")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	for i := 0; i < opts.SkipRows; i++ {
		if _, err := reader.Read(); err == io.EOF {
			return nil, nil
		} else if err != nil {
			return nil, eris.Wrap(err, "fetcher: skip csv rows")
		}
	}

	var records []model.BusinessRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: read csv row")
		}
		if rec, ok := buildRecord(header, row); ok {
			records = append(records, rec)
		}
	}
}

func pickSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := f.Sheet[name]
		if !ok {
			return nil, eris.Errorf("fetcher: sheet %q not found", name)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("fetcher: workbook has no sheets")
	}
	return f.Sheets[0], nil
}

func rowStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		cells[i] = cell.String()
	}
	return cells
}

// buildRecord zips a data row with the header, skipping fully blank rows.
func buildRecord(header, cells []string) (model.BusinessRecord, bool) {
	rec := model.BusinessRecord{
		Columns: header,
		Values:  make(map[string]string, len(header)),
	}
	blank := true
	for i, col := range header {
		if col == "" {
			continue
		}
		var v string
		if i < len(cells) {
			v = strings.TrimSpace(cells[i])
		}
		rec.Values[col] = v
		if v != "" {
			blank = false
		}
	}
	if blank {
		return model.BusinessRecord{}, false
	}
	return rec, true
}
