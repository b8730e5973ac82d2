package excel

// RawRowData represents a row of raw sheet data as string key-value pairs
type RawRowData map[string]string

// SheetData represents one sheet (or CSV file)
type SheetData struct {
	Headers []string     // Column headers
	Rows    []RawRowData // Data rows
}

// Sheet names in an input workbook
const (
	SheetDaily  = "Daily"
	SheetSample = "Sample"
)
