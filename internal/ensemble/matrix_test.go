package ensemble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/USGS-R/EGRETci/domain/core"
	"github.com/USGS-R/EGRETci/domain/interval"
)

func fill(m *ReplicateMatrix) {
	rows, cols := m.Dims()
	conc := make([]float64, rows)
	flux := make([]float64, rows)
	for c := 0; c < cols; c++ {
		for r := range conc {
			conc[r] = float64(c*100 + r)
			flux[r] = -conc[r]
		}
		m.writeTrace(c, conc, flux)
	}
}

func TestReplicateMatrix_BlockLayout(t *testing.T) {
	m := newReplicateMatrix(4, 3, 2)
	rows, cols := m.Dims()
	assert.Equal(t, 4, rows)
	assert.Equal(t, 6, cols)
	assert.Equal(t, 2, m.NKalman())
	assert.Equal(t, []int{0, 0, 1, 1, 2, 2}, m.Sources())
}

func TestReplicateMatrix_CompactKeepsOrder(t *testing.T) {
	m := newReplicateMatrix(3, 4, 2)
	fill(m)

	m.compact([]int{1, 3})
	require.NoError(t, m.checkShape("test", 3, 4))
	assert.Equal(t, []int{1, 1, 3, 3}, m.Sources())
	assert.Equal(t, 3, m.Source(2))

	// Column 2 of the compacted matrix is old column 6 (attempt 3, trace 0)
	assert.Equal(t, []float64{600, 601, 602}, m.Column(interval.VariableConc, 2))
	assert.Equal(t, []float64{-200, -201, -202}, m.Column(interval.VariableFlux, 0))
	assert.Equal(t, []float64{200, 300, 600, 700}, m.Row(interval.VariableConc, 0))
}

func TestReplicateMatrix_CompactNoop(t *testing.T) {
	m := newReplicateMatrix(2, 2, 2)
	fill(m)
	m.compact([]int{0, 1})
	assert.Equal(t, []float64{0, 100, 200, 300}, m.Row(interval.VariableConc, 0))
}

func TestReplicateMatrix_CheckShape(t *testing.T) {
	m := newReplicateMatrix(5, 2, 3)
	assert.NoError(t, m.checkShape("test", 5, 6))
	err := m.checkShape("test", 5, 7)
	assert.ErrorIs(t, err, core.ErrShapeMismatch)
}

func TestNewReplicateMatrixFromColumns(t *testing.T) {
	conc := [][]float64{{1, 2}, {3, 4}}
	flux := [][]float64{{10, 20}, {30, 40}}

	m, err := NewReplicateMatrixFromColumns(conc, flux, []int{0, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Days())
	assert.Equal(t, 2, m.Replicates())
	assert.Equal(t, conc, m.Columns(interval.VariableConc))
	assert.Equal(t, flux, m.Columns(interval.VariableFlux))

	_, err = NewReplicateMatrixFromColumns(conc, flux[:1], []int{0, 0}, 2)
	assert.ErrorIs(t, err, core.ErrShapeMismatch)

	_, err = NewReplicateMatrixFromColumns(conc, flux, []int{0, 0}, 3)
	assert.ErrorIs(t, err, core.ErrShapeMismatch)

	_, err = NewReplicateMatrixFromColumns([][]float64{{1, 2}, {3}}, flux, []int{0, 0}, 1)
	assert.ErrorIs(t, err, core.ErrShapeMismatch)
}

func TestReplicateMatrix_Release(t *testing.T) {
	m := newReplicateMatrix(2, 1, 1)
	assert.False(t, m.Released())
	m.Release()
	assert.True(t, m.Released())
}
