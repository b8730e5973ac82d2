package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Estimation errors
	ErrDegenerateSample = errors.New("degenerate calibration sample")
	ErrSingularDesign   = fmt.Errorf("%w: singular design matrix", ErrDegenerateSample)
	ErrEstimationFailed = errors.New("estimation failed")

	// Alignment and shape errors
	ErrMisaligned    = errors.New("date range does not match daily record")
	ErrGap           = errors.New("daily record is not contiguous")
	ErrShapeMismatch = errors.New("matrix shape mismatch")
	ErrNoReplicates  = errors.New("no usable replicates")

	// Lookup errors
	ErrNotFound        = errors.New("resource not found")
	ErrSessionNotFound = fmt.Errorf("%w: session", ErrNotFound)
)

// Error constructors with context
func NewMisalignedError(want, got string) error {
	return fmt.Errorf("%w: want %s, got %s", ErrMisaligned, want, got)
}

func NewShapeError(stage string, wantRows, wantCols, gotRows, gotCols int) error {
	return fmt.Errorf("%w at %s: want %dx%d, got %dx%d", ErrShapeMismatch, stage, wantRows, wantCols, gotRows, gotCols)
}

func NewDegenerateError(reason string) error {
	return fmt.Errorf("%w: %s", ErrDegenerateSample, reason)
}

// Error checking helpers

// IsDiscardable reports whether err is a known per-attempt failure: a sample
// the model cannot fit, a failed fit, or a fit that does not cover the record
func IsDiscardable(err error) bool {
	return errors.Is(err, ErrDegenerateSample) ||
		errors.Is(err, ErrEstimationFailed) ||
		IsAlignmentError(err)
}

func IsAlignmentError(err error) bool {
	return errors.Is(err, ErrMisaligned) || errors.Is(err, ErrGap)
}
