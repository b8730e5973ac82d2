package excel

import (
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/USGS-R/EGRETci/domain/interval"
	"github.com/USGS-R/EGRETci/internal/log"
)

// ViewSheetName names the sheet a view is written to, e.g. "flux_monthly"
func ViewSheetName(v *interval.View) string {
	return fmt.Sprintf("%s_%s", v.Variable, v.Resolution)
}

// WriteViews writes each view to its own sheet of a new workbook at path.
// Columns are Key, DecYear, Model, then one column per probability.
func WriteViews(path string, views []*interval.View) error {
	if len(views) == 0 {
		return fmt.Errorf("no views to write")
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, v := range views {
		name := ViewSheetName(v)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return fmt.Errorf("failed to rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
		if err := writeView(f, name, v); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	log.Infow("views written", "file", path, "sheets", len(views))
	return nil
}

func writeView(f *excelize.File, sheet string, v *interval.View) error {
	header := []interface{}{"Key", "DecYear", "Model"}
	for _, p := range v.Probabilities {
		header = append(header, "p"+strconv.FormatFloat(p, 'f', -1, 64))
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header of %s: %w", sheet, err)
	}

	for i, r := range v.Results {
		row := make([]interface{}, 0, 3+len(r.Quantiles))
		row = append(row, r.Key, r.DecYear, v.Deterministic[i].Value)
		for _, q := range r.Quantiles {
			row = append(row, q)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d of %s: %w", i+2, sheet, err)
		}
	}
	return nil
}
