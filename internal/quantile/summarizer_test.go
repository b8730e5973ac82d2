package quantile

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/USGS-R/EGRETci/internal/errors"
	"github.com/USGS-R/EGRETci/internal/temporal"
)

func TestType6(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	tests := []struct {
		p    float64
		want float64
	}{
		{0.05, 1},    // h = 0.55 < 1
		{0.5, 5.5},   // h = 5.5
		{0.25, 2.75}, // h = 2.75
		{0.9, 9.9},   // h = 9.9
		{0.95, 10},   // h = 10.45 >= n
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Type6(x, tt.p), 1e-12, "p=%v", tt.p)
	}
	assert.True(t, math.IsNaN(Type6(nil, 0.5)))
	assert.Equal(t, 3.0, Type6([]float64{3}, 0.5))
}

func buckets(n int) []temporal.Bucket {
	out := make([]temporal.Bucket, n)
	for i := range out {
		out[i] = temporal.Bucket{Key: string(rune('a' + i)), First: i, Last: i, Days: 1, DecYear: 2000 + float64(i)}
	}
	return out
}

func TestSummarize(t *testing.T) {
	m := mat.NewDense(3, 5, []float64{
		5, 4, 3, 2, 1,
		7, 7, 7, 7, 7,
		10, 50, 30, 20, 40,
	})
	res, err := NewSummarizer(2).Summarize(context.Background(), m, buckets(3), []float64{0.1, 0.5, 0.9})
	require.NoError(t, err)
	require.Len(t, res, 3)

	assert.Equal(t, "a", res[0].Key)
	assert.Equal(t, 2000.0, res[0].DecYear)
	assert.Equal(t, []float64{1, 3, 5}, res[0].Quantiles)
	assert.Equal(t, 3.0, res[0].Mid())

	// No spread is a zero-width interval, not an error
	assert.Equal(t, []float64{7, 7, 7}, res[1].Quantiles)
	assert.Equal(t, 0.0, res[1].Width())

	assert.InDelta(t, 30, res[2].Mid(), 1e-12)

	// Input rows are left untouched
	assert.Equal(t, 5.0, m.At(0, 0))
}

func TestSummarize_MonotoneAcrossManyRows(t *testing.T) {
	rows, cols := 1000, 37
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = math.Sin(float64(i)*1.7) * float64(i%13)
	}
	probs := []float64{0.025, 0.05, 0.25, 0.5, 0.75, 0.95, 0.975}
	res, err := NewSummarizer(4).Summarize(context.Background(), mat.NewDense(rows, cols, data), buckets(rows), probs)
	require.NoError(t, err)
	for r, result := range res {
		for i := 1; i < len(probs); i++ {
			assert.LessOrEqual(t, result.Quantiles[i-1], result.Quantiles[i], "row %d", r)
		}
	}
}

func TestSummarize_Errors(t *testing.T) {
	s := NewSummarizer(1)
	m := mat.NewDense(2, 2, []float64{1, 2, 3, 4})

	_, err := s.Summarize(context.Background(), m, buckets(3), []float64{0.5})
	assert.True(t, errors.HasCode(err, errors.CodeAssembly))

	_, err = s.Summarize(context.Background(), m, buckets(2), []float64{0.9, 0.1})
	assert.True(t, errors.HasCode(err, errors.CodeConfigInvalid))

	_, err = s.Summarize(context.Background(), m, buckets(2), []float64{0, 0.5})
	assert.True(t, errors.HasCode(err, errors.CodeConfigInvalid))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Summarize(ctx, m, buckets(2), []float64{0.5})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSpread(t *testing.T) {
	sp, err := NewSummarizer(1).Spread([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	require.NoError(t, err)
	assert.Equal(t, 8, sp.N)
	assert.InDelta(t, 5, sp.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(32.0/7), sp.StdDev, 1e-12)
	assert.Equal(t, 2.0, sp.Min)
	assert.Equal(t, 4.5, sp.Median)
	assert.Equal(t, 9.0, sp.Max)

	one, err := NewSummarizer(1).Spread([]float64{3})
	require.NoError(t, err)
	assert.Equal(t, 0.0, one.StdDev)

	_, err = NewSummarizer(1).Spread(nil)
	assert.Error(t, err)
}
