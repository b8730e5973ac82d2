package ensemble

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/USGS-R/EGRETci/domain/core"
	"github.com/USGS-R/EGRETci/domain/interval"
)

// ReplicateMatrix holds the concentration and flux ensembles: one row per
// day of the daily record, one column per replicate trace. Columns produced by
// the same bootstrap attempt are contiguous, nKalman wide.
type ReplicateMatrix struct {
	conc    *mat.Dense
	flux    *mat.Dense
	sources []int // bootstrap attempt per column
	nKalman int
}

// newReplicateMatrix allocates the arena for nBoot attempts of nKalman traces
func newReplicateMatrix(nDays, nBoot, nKalman int) *ReplicateMatrix {
	cols := nBoot * nKalman
	sources := make([]int, cols)
	for c := range sources {
		sources[c] = c / nKalman
	}
	return &ReplicateMatrix{
		conc:    mat.NewDense(nDays, cols, nil),
		flux:    mat.NewDense(nDays, cols, nil),
		sources: sources,
		nKalman: nKalman,
	}
}

// NewReplicateMatrixFromColumns rebuilds a matrix from stored column series
func NewReplicateMatrixFromColumns(conc, flux [][]float64, sources []int, nKalman int) (*ReplicateMatrix, error) {
	if len(conc) == 0 || len(conc) != len(flux) || len(conc) != len(sources) {
		return nil, fmt.Errorf("%w: %d conc, %d flux, %d source columns", core.ErrShapeMismatch, len(conc), len(flux), len(sources))
	}
	if nKalman <= 0 || len(conc)%nKalman != 0 {
		return nil, fmt.Errorf("%w: %d columns is not a multiple of nKalman=%d", core.ErrShapeMismatch, len(conc), nKalman)
	}
	rows := len(conc[0])
	m := &ReplicateMatrix{
		conc:    mat.NewDense(rows, len(conc), nil),
		flux:    mat.NewDense(rows, len(conc), nil),
		sources: append([]int(nil), sources...),
		nKalman: nKalman,
	}
	for c := range conc {
		if len(conc[c]) != rows || len(flux[c]) != rows {
			return nil, fmt.Errorf("%w: column %d has %d/%d rows, want %d", core.ErrShapeMismatch, c, len(conc[c]), len(flux[c]), rows)
		}
		m.conc.SetCol(c, conc[c])
		m.flux.SetCol(c, flux[c])
	}
	return m, nil
}

// Dims returns (days, replicate columns)
func (m *ReplicateMatrix) Dims() (int, int) {
	return m.conc.Dims()
}

// Days returns the number of rows
func (m *ReplicateMatrix) Days() int {
	r, _ := m.conc.Dims()
	return r
}

// Replicates returns the number of columns
func (m *ReplicateMatrix) Replicates() int {
	_, c := m.conc.Dims()
	return c
}

// NKalman returns the number of traces per bootstrap attempt
func (m *ReplicateMatrix) NKalman() int {
	return m.nKalman
}

// Source reports the bootstrap attempt that produced column col
func (m *ReplicateMatrix) Source(col int) int {
	return m.sources[col]
}

// Sources returns a copy of the per-column attempt indices
func (m *ReplicateMatrix) Sources() []int {
	return append([]int(nil), m.sources...)
}

// Values returns the matrix for one variable. Callers must not modify it.
func (m *ReplicateMatrix) Values(v interval.Variable) mat.Matrix {
	if v == interval.VariableFlux {
		return m.flux
	}
	return m.conc
}

// Column copies one replicate series
func (m *ReplicateMatrix) Column(v interval.Variable, col int) []float64 {
	return mat.Col(nil, col, m.Values(v))
}

// Columns copies every replicate series of one variable
func (m *ReplicateMatrix) Columns(v interval.Variable) [][]float64 {
	out := make([][]float64, m.Replicates())
	for c := range out {
		out[c] = m.Column(v, c)
	}
	return out
}

// Row returns a view of one day across all replicates
func (m *ReplicateMatrix) Row(v interval.Variable, row int) []float64 {
	if v == interval.VariableFlux {
		return m.flux.RawRowView(row)
	}
	return m.conc.RawRowView(row)
}

// writeTrace stores one trace in column col. Distinct columns may be written
// concurrently: each call touches only its own elements.
func (m *ReplicateMatrix) writeTrace(col int, conc, flux []float64) {
	m.conc.SetCol(col, conc)
	m.flux.SetCol(col, flux)
}

// compact drops the column blocks of discarded attempts, keeping the
// surviving blocks in attempt order starting at column 0.
func (m *ReplicateMatrix) compact(kept []int) {
	rows, cols := m.conc.Dims()
	want := len(kept) * m.nKalman
	if want == cols {
		return
	}
	conc := mat.NewDense(rows, want, nil)
	flux := mat.NewDense(rows, want, nil)
	sources := make([]int, 0, want)
	for j, attempt := range kept {
		dst := j * m.nKalman
		src := attempt * m.nKalman
		conc.Slice(0, rows, dst, dst+m.nKalman).(*mat.Dense).
			Copy(m.conc.Slice(0, rows, src, src+m.nKalman))
		flux.Slice(0, rows, dst, dst+m.nKalman).(*mat.Dense).
			Copy(m.flux.Slice(0, rows, src, src+m.nKalman))
		for k := 0; k < m.nKalman; k++ {
			sources = append(sources, attempt)
		}
	}
	m.conc, m.flux, m.sources = conc, flux, sources
}

// checkShape verifies the matrix has the expected dimensions
func (m *ReplicateMatrix) checkShape(stage string, days, cols int) error {
	r, c := m.conc.Dims()
	if r != days || c != cols {
		return core.NewShapeError(stage, days, cols, r, c)
	}
	r, c = m.flux.Dims()
	if r != days || c != cols {
		return core.NewShapeError(stage, days, cols, r, c)
	}
	return nil
}

// Release drops the buffers. The matrix is unusable afterwards.
func (m *ReplicateMatrix) Release() {
	m.conc = nil
	m.flux = nil
	m.sources = nil
}

// Released reports whether Release has been called
func (m *ReplicateMatrix) Released() bool {
	return m.conc == nil
}
