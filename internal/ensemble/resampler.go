package ensemble

import (
	"math/rand/v2"
	"sort"
	"time"

	"github.com/USGS-R/EGRETci/domain/core"
	"github.com/USGS-R/EGRETci/domain/record"
)

// Resampler draws bootstrap replicates of the calibration set
type Resampler struct {
	blockLength int // days; 0 draws samples independently
}

// NewResampler creates a resampler. blockLength > 0 selects the block
// bootstrap, which keeps runs of nearby samples together so serial
// dependence in the record survives resampling.
func NewResampler(blockLength int) *Resampler {
	if blockLength < 0 {
		blockLength = 0
	}
	return &Resampler{blockLength: blockLength}
}

// BlockLength returns the configured block length in days
func (r *Resampler) BlockLength() int {
	return r.blockLength
}

// Resample returns len(samples) events drawn with replacement, in date order.
// samples must already be sorted by date.
func (r *Resampler) Resample(rng *rand.Rand, samples []record.Sample) []record.Sample {
	if len(samples) == 0 {
		return nil
	}
	var out []record.Sample
	if r.blockLength == 0 {
		out = r.simple(rng, samples)
	} else {
		out = r.blocks(rng, samples)
	}
	record.SortSamples(out)
	return out
}

// simple draws indices uniformly with replacement
func (r *Resampler) simple(rng *rand.Rand, samples []record.Sample) []record.Sample {
	n := len(samples)
	out := make([]record.Sample, n)
	for i := range out {
		out[i] = samples[rng.IntN(n)]
	}
	return out
}

// blocks picks random windows of blockLength days, uniformly over every window
// that overlaps the sampled period, and keeps whole windows until n events are
// collected. The surplus from the last window is cut.
func (r *Resampler) blocks(rng *rand.Rand, samples []record.Sample) []record.Sample {
	n := len(samples)
	first := samples[0].Date
	span := core.DaysBetween(first, samples[n-1].Date)

	out := make([]record.Sample, 0, n+r.blockLength)
	for len(out) < n {
		offset := rng.IntN(span+r.blockLength) - r.blockLength + 1
		start := first.AddDate(0, 0, offset)
		end := start.AddDate(0, 0, r.blockLength)
		out = append(out, window(samples, start, end)...)
	}
	return out[:n]
}

// window returns the samples dated in [start, end)
func window(samples []record.Sample, start, end time.Time) []record.Sample {
	lo := sort.Search(len(samples), func(i int) bool {
		return !samples[i].Date.Before(start)
	})
	hi := sort.Search(len(samples), func(i int) bool {
		return !samples[i].Date.Before(end)
	})
	return samples[lo:hi]
}
