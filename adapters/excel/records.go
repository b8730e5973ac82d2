package excel

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/USGS-R/EGRETci/domain/core"
	"github.com/USGS-R/EGRETci/domain/record"
	"github.com/USGS-R/EGRETci/internal/errors"
	"github.com/USGS-R/EGRETci/internal/log"
)

// Input is a daily discharge record plus its calibration samples
type Input struct {
	Daily   *record.Table
	Samples []record.Sample

	// HasBaseline is true when the daily sheet already carries the
	// estimator output (YHat and SE columns)
	HasBaseline bool
}

// Column aliases accepted in input sheets, matched case-insensitively
var (
	dateColumns     = []string{"Date"}
	dischargeColumn = []string{"Q", "Discharge"}
	yHatColumns     = []string{"yHat", "YHat"}
	seColumns       = []string{"SE"}
	concDayColumns  = []string{"ConcDay"}
	valueColumns    = []string{"Value", "Conc", "ConcHigh"}
	remarkColumns   = []string{"Remark", "Censored", "Uncen"}
)

var dateLayouts = []string{"2006-01-02", "1/2/2006", "01/02/2006", "2006/01/02", "01-02-06"}

// LoadInput reads the daily record and the samples. With an empty samplePath
// the daily file must be a workbook holding both a Daily and a Sample sheet.
func LoadInput(dailyPath, samplePath string) (*Input, error) {
	dailyReader := NewDataReader(dailyPath)
	dailySheet, err := dailyReader.ReadSheet(SheetDaily)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}

	sampleReader := dailyReader
	if samplePath != "" {
		sampleReader = NewDataReader(samplePath)
	} else if dailyReader.format == formatCSV {
		return nil, errors.InvalidInput("a CSV daily record needs a separate sample file")
	}
	sampleSheet, err := sampleReader.ReadSheet(SheetSample)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}

	daily, hasBaseline, err := ParseDaily(dailySheet)
	if err != nil {
		return nil, err
	}
	samples, err := ParseSamples(sampleSheet)
	if err != nil {
		return nil, err
	}

	log.Infow("input loaded", "days", daily.Len(), "span", daily.Span(), "samples", len(samples), "baseline", hasBaseline)
	return &Input{Daily: daily, Samples: samples, HasBaseline: hasBaseline}, nil
}

// ParseDaily converts a daily sheet into a validated table. YHat, SE and
// ConcDay are optional; when YHat and SE are present ConcDay defaults to the
// bias-corrected back-transform and FluxDay is derived from it.
func ParseDaily(data *SheetData) (*record.Table, bool, error) {
	dateCol, ok := findColumn(data.Headers, dateColumns)
	if !ok {
		return nil, false, errors.InvalidInput("daily sheet has no Date column")
	}
	qCol, ok := findColumn(data.Headers, dischargeColumn)
	if !ok {
		return nil, false, errors.InvalidInput("daily sheet has no Q column")
	}
	yHatCol, hasYHat := findColumn(data.Headers, yHatColumns)
	seCol, hasSE := findColumn(data.Headers, seColumns)
	concCol, hasConc := findColumn(data.Headers, concDayColumns)
	hasBaseline := hasYHat && hasSE

	days := make([]record.Daily, 0, len(data.Rows))
	for i, row := range data.Rows {
		date, err := parseDate(row[dateCol])
		if err != nil {
			return nil, false, errors.InvalidInput(fmt.Sprintf("daily row %d: %v", i+2, err))
		}
		q, err := parseFloat(row[qCol])
		if err != nil {
			return nil, false, errors.InvalidInput(fmt.Sprintf("daily row %d: discharge: %v", i+2, err))
		}

		d := record.Daily{Date: date, DecYear: core.DecimalYear(date), Discharge: q}
		if hasBaseline {
			if d.YHat, err = parseFloat(row[yHatCol]); err != nil {
				return nil, false, errors.InvalidInput(fmt.Sprintf("daily row %d: yHat: %v", i+2, err))
			}
			if d.SE, err = parseFloat(row[seCol]); err != nil {
				return nil, false, errors.InvalidInput(fmt.Sprintf("daily row %d: SE: %v", i+2, err))
			}
			d.ConcDay = math.Exp(d.YHat + d.SE*d.SE/2)
			if hasConc && row[concCol] != "" {
				if d.ConcDay, err = parseFloat(row[concCol]); err != nil {
					return nil, false, errors.InvalidInput(fmt.Sprintf("daily row %d: ConcDay: %v", i+2, err))
				}
			}
			d.FluxDay = record.Flux(d.ConcDay, d.Discharge)
		}
		days = append(days, d)
	}

	table, err := record.NewTable(days)
	if err != nil {
		return nil, false, errors.WithCode(errors.CodeInvalidInput, err)
	}
	return table, hasBaseline, nil
}

// ParseSamples converts a sample sheet into date-ordered samples. A row is
// censored when its remark is "<", its Censored flag is true, or its Uncen
// flag is 0.
func ParseSamples(data *SheetData) ([]record.Sample, error) {
	dateCol, ok := findColumn(data.Headers, dateColumns)
	if !ok {
		return nil, errors.InvalidInput("sample sheet has no Date column")
	}
	valueCol, ok := findColumn(data.Headers, valueColumns)
	if !ok {
		return nil, errors.InvalidInput("sample sheet has no Value column")
	}
	remarkCol, hasRemark := findColumn(data.Headers, remarkColumns)

	samples := make([]record.Sample, 0, len(data.Rows))
	for i, row := range data.Rows {
		date, err := parseDate(row[dateCol])
		if err != nil {
			return nil, errors.InvalidInput(fmt.Sprintf("sample row %d: %v", i+2, err))
		}
		value, err := parseFloat(row[valueCol])
		if err != nil {
			return nil, errors.InvalidInput(fmt.Sprintf("sample row %d: value: %v", i+2, err))
		}
		if value <= 0 {
			return nil, errors.InvalidInput(fmt.Sprintf("sample row %d: value must be positive, got %v", i+2, value))
		}

		censored := false
		if hasRemark {
			censored, err = parseCensored(remarkCol, row[remarkCol])
			if err != nil {
				return nil, errors.InvalidInput(fmt.Sprintf("sample row %d: %v", i+2, err))
			}
		}
		samples = append(samples, record.Sample{
			Date:     date,
			DecYear:  core.DecimalYear(date),
			Value:    value,
			Censored: censored,
		})
	}
	record.SortSamples(samples)
	return samples, nil
}

// findColumn returns the header matching one of the aliases
func findColumn(headers []string, aliases []string) (string, bool) {
	for _, alias := range aliases {
		for _, h := range headers {
			if strings.EqualFold(h, alias) {
				return h, true
			}
		}
	}
	return "", false
}

// parseDate accepts ISO and US layouts and Excel serial day numbers
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("missing date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return core.Day(t), nil
		}
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date serial %q: %w", raw, err)
		}
		return core.Day(t), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

func parseFloat(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", raw)
	}
	return v, nil
}

func parseCensored(column, raw string) (bool, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.EqualFold(column, "Remark"):
		return raw == "<", nil
	case strings.EqualFold(column, "Uncen"):
		if raw == "" {
			return false, nil
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return false, fmt.Errorf("invalid Uncen flag %q", raw)
		}
		return v == 0, nil
	default:
		if raw == "" {
			return false, nil
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return false, fmt.Errorf("invalid Censored flag %q", raw)
		}
		return v, nil
	}
}
