// Package quantile turns bucket × replicate matrices into interval results.
package quantile

import (
	"context"
	"math"
	"runtime"
	"sort"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/USGS-R/EGRETci/domain/core"
	"github.com/USGS-R/EGRETci/domain/interval"
	"github.com/USGS-R/EGRETci/internal/config"
	"github.com/USGS-R/EGRETci/internal/errors"
	"github.com/USGS-R/EGRETci/internal/temporal"
)

// rowsPerTask bounds the work handed to one goroutine
const rowsPerTask = 256

// Summarizer computes per-row quantiles of a replicate matrix
type Summarizer struct {
	workers int
}

// NewSummarizer creates a summarizer running up to workers row chunks at once
func NewSummarizer(workers int) *Summarizer {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Summarizer{workers: workers}
}

// Type6 returns the p-quantile of an ascending sample using the Weibull
// plotting position h = p·(n+1). Positions below the first or above the last
// order statistic clamp to the extremes; in between it interpolates linearly.
func Type6(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	h := p * float64(n+1)
	if h < 1 {
		return sorted[0]
	}
	if h >= float64(n) {
		return sorted[n-1]
	}
	lo := math.Floor(h)
	i := int(lo) - 1 // 0-indexed order statistic x(⌊h⌋)
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i])
}

// Summarize computes the configured quantiles of every row of m. Row b of m
// corresponds to buckets[b]. A row with no spread yields equal quantiles.
func (s *Summarizer) Summarize(ctx context.Context, m mat.Matrix, buckets []temporal.Bucket, probs []float64) ([]interval.Result, error) {
	if err := config.ValidateProbabilities(probs); err != nil {
		return nil, err
	}
	rows, cols := m.Dims()
	if rows != len(buckets) {
		return nil, errors.Assembly("quantile input does not match buckets",
			core.NewShapeError("summarize", len(buckets), cols, rows, cols))
	}
	if cols == 0 {
		return nil, errors.Assembly("no replicates to summarize", core.ErrNoReplicates)
	}

	mid := interval.MidIndex(probs)
	results := make([]interval.Result, rows)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for start := 0; start < rows; start += rowsPerTask {
		end := min(start+rowsPerTask, rows)
		g.Go(func() error {
			buf := make([]float64, cols)
			for r := start; r < end; r++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				mat.Row(buf, r, m)
				sort.Float64s(buf)
				q := make([]float64, len(probs))
				for i, p := range probs {
					q[i] = Type6(buf, p)
				}
				results[r] = interval.NewResult(buckets[r].Key, buckets[r].DecYear, q, mid)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Spread describes the ensemble distribution of one row
type Spread struct {
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Median float64 `json:"median"`
	Max    float64 `json:"max"`
}

// Spread summarizes one row of replicate values
func (s *Summarizer) Spread(row []float64) (Spread, error) {
	data := stats.Float64Data(row)
	mean, err := stats.Mean(data)
	if err != nil {
		return Spread{}, errors.InvalidInput("cannot summarize an empty row")
	}
	stdDev, err := stats.StandardDeviationSample(data)
	if err != nil || math.IsNaN(stdDev) {
		stdDev = 0
	}
	minV, _ := stats.Min(data)
	median, _ := stats.Median(data)
	maxV, _ := stats.Max(data)
	return Spread{
		N:      len(row),
		Mean:   mean,
		StdDev: stdDev,
		Min:    minV,
		Median: median,
		Max:    maxV,
	}, nil
}
