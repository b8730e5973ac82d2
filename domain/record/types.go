// Package record holds the daily spine the ensemble is indexed against and the
// discrete calibration samples the estimator is fitted on.
package record

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/USGS-R/EGRETci/domain/core"
)

// FluxFactor converts mg/L × m³/s into kg/day
const FluxFactor = 86.4

// Daily is one day of the estimator's output
type Daily struct {
	Date      time.Time `json:"date"`
	DecYear   float64   `json:"dec_year"`
	Discharge float64   `json:"discharge"` // m³/s

	// Estimator output in log space plus the bias-corrected back-transform
	YHat    float64 `json:"y_hat"`
	SE      float64 `json:"se"`
	ConcDay float64 `json:"conc_day"` // mg/L
	FluxDay float64 `json:"flux_day"` // kg/day

	// Field observation attached to this day, if any
	Observed       bool    `json:"observed"`
	ObservedValue  float64 `json:"observed_value,omitempty"`
	Censored       bool    `json:"censored,omitempty"`
	DetectionLimit float64 `json:"detection_limit,omitempty"`
}

// Sample is one calibration event used to fit the estimator
type Sample struct {
	Date      time.Time `json:"date"`
	DecYear   float64   `json:"dec_year"`
	Value     float64   `json:"value"` // reported value, or the reporting limit when censored
	Censored  bool      `json:"censored"`
	Discharge float64   `json:"discharge"`
}

// Table is a gap-free, date-ordered run of Daily records
type Table struct {
	Days []Daily
}

// NewTable copies days into a Table and validates it
func NewTable(days []Daily) (*Table, error) {
	t := &Table{Days: append([]Daily(nil), days...)}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Len returns the number of days
func (t *Table) Len() int {
	return len(t.Days)
}

// Start returns the first day
func (t *Table) Start() time.Time {
	return t.Days[0].Date
}

// End returns the last day
func (t *Table) End() time.Time {
	return t.Days[len(t.Days)-1].Date
}

// Span renders the date range for messages
func (t *Table) Span() string {
	if t.Len() == 0 {
		return "empty"
	}
	return fmt.Sprintf("%s..%s (%d days)", core.DayKey(t.Start()), core.DayKey(t.End()), t.Len())
}

// Validate checks the spine invariants: non-empty, contiguous, finite inputs
func (t *Table) Validate() error {
	if len(t.Days) == 0 {
		return fmt.Errorf("%w: no days", core.ErrGap)
	}
	for i, d := range t.Days {
		if d.Discharge < 0 || math.IsNaN(d.Discharge) {
			return fmt.Errorf("day %s: invalid discharge %v", core.DayKey(d.Date), d.Discharge)
		}
		if d.SE < 0 || math.IsNaN(d.SE) {
			return fmt.Errorf("day %s: invalid SE %v", core.DayKey(d.Date), d.SE)
		}
		if i == 0 {
			continue
		}
		if core.DaysBetween(t.Days[i-1].Date, d.Date) != 1 {
			return fmt.Errorf("%w: %s follows %s", core.ErrGap, core.DayKey(d.Date), core.DayKey(t.Days[i-1].Date))
		}
	}
	return nil
}

// AlignedWith reports whether other covers exactly the same days as t
func (t *Table) AlignedWith(other *Table) error {
	if other == nil || other.Len() != t.Len() {
		got := "empty"
		if other != nil {
			got = other.Span()
		}
		return core.NewMisalignedError(t.Span(), got)
	}
	if !t.Start().Equal(other.Start()) || !t.End().Equal(other.End()) {
		return core.NewMisalignedError(t.Span(), other.Span())
	}
	return nil
}

// Discharges returns the discharge column
func (t *Table) Discharges() []float64 {
	out := make([]float64, len(t.Days))
	for i, d := range t.Days {
		out[i] = d.Discharge
	}
	return out
}

// Column extracts the deterministic concentration or flux series
func (t *Table) Column(flux bool) []float64 {
	out := make([]float64, len(t.Days))
	for i, d := range t.Days {
		if flux {
			out[i] = d.FluxDay
		} else {
			out[i] = d.ConcDay
		}
	}
	return out
}

// Index returns the row of a calendar day, or -1 when outside the table
func (t *Table) Index(day time.Time) int {
	if t.Len() == 0 {
		return -1
	}
	i := core.DaysBetween(t.Start(), day)
	if i < 0 || i >= t.Len() {
		return -1
	}
	return i
}

// Observations returns the rows carrying a field observation, in date order
func (t *Table) Observations() []int {
	var rows []int
	for i, d := range t.Days {
		if d.Observed {
			rows = append(rows, i)
		}
	}
	return rows
}

// AttachSamples copies the table and marks each sampled day with its
// observation. Several samples on one day collapse to the mean of the
// uncensored values, or to the largest reporting limit when all are censored.
// Samples outside the table are returned as dropped.
func (t *Table) AttachSamples(samples []Sample) (*Table, []Sample) {
	out := &Table{Days: append([]Daily(nil), t.Days...)}

	type dayAgg struct {
		sum      float64
		n        int
		maxLimit float64
		censored int
	}
	byRow := make(map[int]*dayAgg)
	var dropped []Sample
	for _, s := range samples {
		row := out.Index(s.Date)
		if row < 0 {
			dropped = append(dropped, s)
			continue
		}
		agg, ok := byRow[row]
		if !ok {
			agg = &dayAgg{}
			byRow[row] = agg
		}
		if s.Censored {
			agg.censored++
			agg.maxLimit = math.Max(agg.maxLimit, s.Value)
			continue
		}
		agg.sum += s.Value
		agg.n++
	}

	for row, agg := range byRow {
		d := &out.Days[row]
		d.Observed = true
		if agg.n > 0 {
			d.ObservedValue = agg.sum / float64(agg.n)
			d.Censored = false
			d.DetectionLimit = 0
			continue
		}
		d.ObservedValue = agg.maxLimit
		d.Censored = true
		d.DetectionLimit = agg.maxLimit
	}
	return out, dropped
}

// SortSamples orders samples by date in place
func SortSamples(samples []Sample) {
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Date.Before(samples[j].Date)
	})
}

// Flux converts a concentration on a given discharge into kg/day
func Flux(conc, discharge float64) float64 {
	return conc * discharge * FluxFactor
}
