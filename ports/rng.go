package ports

import (
	"context"
	"math/rand/v2"
)

// RNGPort provides seeded random number generation for deterministic operations
type RNGPort interface {
	// Stream returns a deterministic generator for one named operation and
	// index, e.g. ("resample", 3). Equal arguments under the same base seed
	// always yield identical sequences, independent of goroutine scheduling.
	Stream(ctx context.Context, name string, index int) (*rand.Rand, error)

	// BaseSeed reports the seed every stream is derived from
	BaseSeed() int64
}
