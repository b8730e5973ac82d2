package ports

import (
	"context"

	"github.com/USGS-R/EGRETci/domain/record"
)

// EstimatorPort fits the concentration model to a set of calibration samples
// and evaluates it on every day of the daily record.
//
// Fit must return a table covering the same days as the daily record it was
// built for, with YHat, SE, ConcDay and FluxDay filled in. An error wrapping
// core.ErrDegenerateSample marks a resample the model cannot be fitted to.
// Implementations that are not safe for concurrent use are serialized by the
// caller's FitConcurrency setting.
type EstimatorPort interface {
	Fit(ctx context.Context, samples []record.Sample) (*record.Table, error)

	// Baseline fits the original, non-resampled calibration set
	Baseline(ctx context.Context) (*record.Table, error)
}
