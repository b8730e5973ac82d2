// Package temporal groups the days of a daily record into reporting buckets
// and reduces replicate matrices onto them.
package temporal

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/USGS-R/EGRETci/domain/core"
	"github.com/USGS-R/EGRETci/domain/record"
	"github.com/USGS-R/EGRETci/internal/errors"
)

// Bucket is one reporting period. First and Last are inclusive row indices
// into the daily record; partial periods at either end keep only the days
// present.
type Bucket struct {
	Key     string    `json:"key"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	First   int       `json:"first"`
	Last    int       `json:"last"`
	Days    int       `json:"days"`
	DecYear float64   `json:"dec_year"` // mean decimal year of the days present
}

// Aggregator maps daily data onto buckets of one resolution
type Aggregator struct {
	annualStartMonth time.Month
}

// NewAggregator creates an aggregator whose annual buckets start in
// annualStartMonth (1 = calendar year, 10 = water year)
func NewAggregator(annualStartMonth int) (*Aggregator, error) {
	if annualStartMonth < 1 || annualStartMonth > 12 {
		return nil, errors.ConfigInvalidf("annual start month must be 1..12, got %d", annualStartMonth)
	}
	return &Aggregator{annualStartMonth: time.Month(annualStartMonth)}, nil
}

// AnnualStartMonth returns the first month of the annual period
func (a *Aggregator) AnnualStartMonth() time.Month {
	return a.annualStartMonth
}

// ============================================================================
// BUCKETS
// ============================================================================

// Buckets returns the ordered buckets of spine at resolution res
func (a *Aggregator) Buckets(spine *record.Table, res Resolution) ([]Bucket, error) {
	if spine == nil || spine.Len() == 0 {
		return nil, errors.InvalidInput("daily record is empty")
	}
	switch res {
	case ResolutionDaily, ResolutionCumulative:
		return a.group(spine, func(d time.Time) string { return core.DayKey(d) }), nil
	case ResolutionMonthly:
		return a.group(spine, func(d time.Time) string { return d.Format("2006-01") }), nil
	case ResolutionAnnual:
		return a.group(spine, a.annualKey), nil
	default:
		return nil, errors.InvalidInput(fmt.Sprintf("unknown resolution %q", res))
	}
}

// PeriodYear returns the year an annual bucket containing day is labelled
// with: the calendar year in which the period ends.
func (a *Aggregator) PeriodYear(day time.Time) int {
	if a.annualStartMonth == time.January || day.Month() < a.annualStartMonth {
		return day.Year()
	}
	return day.Year() + 1
}

func (a *Aggregator) annualKey(day time.Time) string {
	if a.annualStartMonth == time.January {
		return fmt.Sprintf("%d", day.Year())
	}
	return fmt.Sprintf("WY%d", a.PeriodYear(day))
}

// group splits the record into runs of consecutive days sharing a key
func (a *Aggregator) group(spine *record.Table, key func(time.Time) string) []Bucket {
	var buckets []Bucket
	var cur *Bucket
	decSum := 0.0
	for i, d := range spine.Days {
		k := key(d.Date)
		if cur == nil || cur.Key != k {
			if cur != nil {
				cur.DecYear = decSum / float64(cur.Days)
			}
			buckets = append(buckets, Bucket{Key: k, Start: d.Date, First: i})
			cur = &buckets[len(buckets)-1]
			decSum = 0
		}
		cur.End = d.Date
		cur.Last = i
		cur.Days++
		decSum += decimalYear(d)
	}
	cur.DecYear = decSum / float64(cur.Days)
	return buckets
}

func decimalYear(d record.Daily) float64 {
	if d.DecYear != 0 {
		return d.DecYear
	}
	return core.DecimalYear(d.Date)
}

// ============================================================================
// REDUCTION
// ============================================================================

// Reduce maps a days × replicates matrix onto buckets, giving a
// buckets × replicates matrix. Monthly and annual buckets hold the mean daily
// value; cumulative buckets hold the running sum of each column.
func (a *Aggregator) Reduce(m mat.Matrix, buckets []Bucket, res Resolution) (*mat.Dense, error) {
	rows, cols := m.Dims()
	if err := checkRows(rows, buckets); err != nil {
		return nil, err
	}

	switch res.Aggregation() {
	case AggIdentity:
		return mat.DenseCopyOf(m), nil
	case AggRunningSum:
		out := mat.DenseCopyOf(m)
		for r := 1; r < rows; r++ {
			floats.Add(out.RawRowView(r), out.RawRowView(r-1))
		}
		return out, nil
	default:
		out := mat.NewDense(len(buckets), cols, nil)
		buf := make([]float64, cols)
		for b, bucket := range buckets {
			dst := out.RawRowView(b)
			for r := bucket.First; r <= bucket.Last; r++ {
				floats.Add(dst, mat.Row(buf, r, m))
			}
			floats.Scale(1/float64(bucket.Days), dst)
		}
		return out, nil
	}
}

// ReduceSeries applies the same reduction to a single daily series
func (a *Aggregator) ReduceSeries(series []float64, buckets []Bucket, res Resolution) ([]float64, error) {
	if err := checkRows(len(series), buckets); err != nil {
		return nil, err
	}

	switch res.Aggregation() {
	case AggIdentity:
		return append([]float64(nil), series...), nil
	case AggRunningSum:
		out := make([]float64, len(series))
		floats.CumSum(out, series)
		return out, nil
	default:
		out := make([]float64, len(buckets))
		for b, bucket := range buckets {
			out[b] = floats.Sum(series[bucket.First:bucket.Last+1]) / float64(bucket.Days)
		}
		return out, nil
	}
}

func checkRows(rows int, buckets []Bucket) error {
	if len(buckets) == 0 {
		return errors.InvalidInput("no buckets")
	}
	if want := buckets[len(buckets)-1].Last + 1; rows != want {
		return errors.Assembly("aggregation input does not cover the daily record",
			core.NewShapeError("aggregate", want, 0, rows, 0))
	}
	return nil
}
