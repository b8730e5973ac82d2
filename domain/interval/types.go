// Package interval holds the prediction-interval views returned to callers.
package interval

import (
	"fmt"
	"math"
)

// Variable selects which replicate matrix a view is computed from
type Variable string

const (
	VariableConc Variable = "conc"
	VariableFlux Variable = "flux"
)

// ParseVariable parses "conc" or "flux"
func ParseVariable(s string) (Variable, error) {
	switch Variable(s) {
	case VariableConc, VariableFlux:
		return Variable(s), nil
	default:
		return "", fmt.Errorf("unknown variable %q (want conc or flux)", s)
	}
}

// Result is the interval for one time bucket. Quantiles are aligned with the
// probabilities of the View that holds the result.
type Result struct {
	Key       string    `json:"key"`
	DecYear   float64   `json:"dec_year"`
	Quantiles []float64 `json:"quantiles"`

	mid int
}

// NewResult builds a Result; mid is the index of p = 0.5, or -1
func NewResult(key string, decYear float64, quantiles []float64, mid int) Result {
	return Result{Key: key, DecYear: decYear, Quantiles: quantiles, mid: mid}
}

// Low returns the lowest configured quantile
func (r Result) Low() float64 { return r.Quantiles[0] }

// High returns the highest configured quantile
func (r Result) High() float64 { return r.Quantiles[len(r.Quantiles)-1] }

// Mid returns the median when 0.5 is configured, NaN otherwise
func (r Result) Mid() float64 {
	if r.mid < 0 || r.mid >= len(r.Quantiles) {
		return math.NaN()
	}
	return r.Quantiles[r.mid]
}

// Width is High - Low
func (r Result) Width() float64 { return r.High() - r.Low() }

// Point is one value of the deterministic best-estimate series
type Point struct {
	Key     string  `json:"key"`
	DecYear float64 `json:"dec_year"`
	Value   float64 `json:"value"`
}

// View is one temporal view of the ensemble together with the deterministic
// series aligned to the same buckets.
type View struct {
	Resolution    string    `json:"resolution"`
	Variable      Variable  `json:"variable"`
	Probabilities []float64 `json:"probabilities"`
	Results       []Result  `json:"results"`
	Deterministic []Point   `json:"deterministic"`
}

// Len returns the number of buckets
func (v *View) Len() int { return len(v.Results) }

// MidIndex finds p = 0.5 in probs
func MidIndex(probs []float64) int {
	for i, p := range probs {
		if math.Abs(p-0.5) < 1e-12 {
			return i
		}
	}
	return -1
}
