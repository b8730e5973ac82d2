// Package excel reads daily records and calibration samples from workbooks
// or CSV files, and writes interval views back out as workbooks.
package excel

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/USGS-R/EGRETci/internal/log"
)

type fileFormat int

const (
	formatXLSX fileFormat = iota
	formatCSV
)

func (f fileFormat) String() string {
	if f == formatCSV {
		return "csv"
	}
	return "xlsx"
}

// DataReader reads sheets from a workbook, or a CSV file standing in for a
// single sheet
type DataReader struct {
	path   string
	format fileFormat
}

// NewDataReader picks the format from the file extension; anything other
// than .csv is opened as a workbook
func NewDataReader(path string) *DataReader {
	format := formatXLSX
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		format = formatCSV
	}
	return &DataReader{path: path, format: format}
}

// ReadSheet reads one named sheet. For a CSV file the whole file is the sheet
// and the name is ignored. Blank rows are skipped.
func (r *DataReader) ReadSheet(sheet string) (*SheetData, error) {
	start := time.Now()

	var (
		cells [][]string
		err   error
	)
	switch r.format {
	case formatCSV:
		cells, err = r.csvCells()
	default:
		cells, err = r.workbookCells(sheet)
	}
	if err != nil {
		return nil, err
	}
	if len(cells) < 2 {
		return nil, fmt.Errorf("%s: sheet %s needs a header row and at least one data row", r.path, sheet)
	}

	data := tabulate(cells)
	log.Infow("sheet read", "file", r.path, "format", r.format, "sheet", sheet,
		"rows", len(data.Rows), "duration", time.Since(start))
	return data, nil
}

func (r *DataReader) workbookCells(sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", r.path, err)
	}
	defer f.Close()

	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("workbook %s has no %s sheet (sheets: %s)", r.path, sheet, strings.Join(f.GetSheetList(), ", "))
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s of %s: %w", sheet, r.path, err)
	}
	return rows, nil
}

func (r *DataReader) csvCells() ([][]string, error) {
	file, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", r.path, err)
	}
	defer file.Close()

	cr := csv.NewReader(file)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", r.path, err)
	}
	return rows, nil
}

// tabulate keys every data row by the trimmed header of its column
func tabulate(cells [][]string) *SheetData {
	data := &SheetData{Headers: make([]string, len(cells[0]))}
	for i, h := range cells[0] {
		data.Headers[i] = strings.TrimSpace(h)
	}

	for _, cellRow := range cells[1:] {
		row := make(RawRowData, len(data.Headers))
		blank := true
		for col, cell := range cellRow {
			if col >= len(data.Headers) {
				break
			}
			value := strings.TrimSpace(cell)
			row[data.Headers[col]] = value
			blank = blank && value == ""
		}
		if !blank {
			data.Rows = append(data.Rows, row)
		}
	}
	return data
}
