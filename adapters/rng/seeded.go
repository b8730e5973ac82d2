package rng

import (
	"context"
	"math/rand/v2"
	"strconv"

	"github.com/USGS-R/EGRETci/domain/core"
	"github.com/USGS-R/EGRETci/ports"
)

// SeededAdapter implements ports.RNGPort with PCG streams derived from a base
// seed. Streams for different (name, index) pairs are independent, so attempts
// can run in any order and still reproduce.
type SeededAdapter struct {
	seed int64
}

// NewSeededAdapter creates an RNG adapter for seed
func NewSeededAdapter(seed int64) ports.RNGPort {
	return &SeededAdapter{seed: seed}
}

// Stream creates a deterministic RNG stream for a named operation and index
func (r *SeededAdapter) Stream(ctx context.Context, name string, index int) (*rand.Rand, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s1, s2 := core.DeriveSeed(r.seed, name, strconv.Itoa(index))
	return rand.New(rand.NewPCG(s1, s2)), nil
}

// BaseSeed returns the seed all streams derive from
func (r *SeededAdapter) BaseSeed() int64 {
	return r.seed
}
