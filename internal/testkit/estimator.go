package testkit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/stretchr/testify/mock"

	"github.com/USGS-R/EGRETci/domain/core"
	"github.com/USGS-R/EGRETci/domain/record"
)

// FakeEstimator returns a fixed fitted table for every resample. It can fail
// a number of leading calls, or every call for which FailWhen returns true.
type FakeEstimator struct {
	Table     *record.Table
	FailFirst int64
	FailWhen  func(samples []record.Sample) bool
	Reshape   func(t *record.Table) *record.Table // e.g. drop a day to force misalignment

	calls atomic.Int64
	mu    sync.Mutex
	seen  [][]record.Sample
}

// NewFakeEstimator creates a fake estimator that always returns table
func NewFakeEstimator(table *record.Table) *FakeEstimator {
	return &FakeEstimator{Table: table}
}

// Fit implements ports.EstimatorPort
func (f *FakeEstimator) Fit(ctx context.Context, samples []record.Sample) (*record.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := f.calls.Add(1)

	f.mu.Lock()
	f.seen = append(f.seen, append([]record.Sample(nil), samples...))
	f.mu.Unlock()

	if n <= f.FailFirst {
		return nil, core.NewDegenerateError(fmt.Sprintf("injected failure on call %d", n))
	}
	if f.FailWhen != nil && f.FailWhen(samples) {
		return nil, core.NewDegenerateError("injected failure")
	}
	out := &record.Table{Days: append([]record.Daily(nil), f.Table.Days...)}
	if f.Reshape != nil {
		out = f.Reshape(out)
	}
	return out, nil
}

// Baseline implements ports.EstimatorPort
func (f *FakeEstimator) Baseline(ctx context.Context) (*record.Table, error) {
	return &record.Table{Days: append([]record.Daily(nil), f.Table.Days...)}, nil
}

// Calls returns the number of Fit calls
func (f *FakeEstimator) Calls() int {
	return int(f.calls.Load())
}

// Resamples returns every sample set Fit was called with
func (f *FakeEstimator) Resamples() [][]record.Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]record.Sample(nil), f.seen...)
}

// MockEstimator is a testify mock of ports.EstimatorPort
type MockEstimator struct {
	mock.Mock
}

// Fit implements ports.EstimatorPort
func (m *MockEstimator) Fit(ctx context.Context, samples []record.Sample) (*record.Table, error) {
	args := m.Called(ctx, samples)
	table, _ := args.Get(0).(*record.Table)
	return table, args.Error(1)
}

// Baseline implements ports.EstimatorPort
func (m *MockEstimator) Baseline(ctx context.Context) (*record.Table, error) {
	args := m.Called(ctx)
	table, _ := args.Get(0).(*record.Table)
	return table, args.Error(1)
}
