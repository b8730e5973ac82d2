package temporal

import (
	"fmt"
	"strings"
)

// Resolution defines the time step a view is reported at. The set is closed:
// every consumer switches over exactly these four values.
type Resolution string

const (
	ResolutionDaily      Resolution = "daily"
	ResolutionMonthly    Resolution = "monthly"
	ResolutionAnnual     Resolution = "annual"
	ResolutionCumulative Resolution = "cumulative"
)

// Resolutions lists every resolution in reporting order
func Resolutions() []Resolution {
	return []Resolution{ResolutionDaily, ResolutionMonthly, ResolutionAnnual, ResolutionCumulative}
}

// ParseResolution parses a resolution name, case-insensitively
func ParseResolution(s string) (Resolution, error) {
	r := Resolution(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case ResolutionDaily, ResolutionMonthly, ResolutionAnnual, ResolutionCumulative:
		return r, nil
	case "month":
		return ResolutionMonthly, nil
	case "year", "water_year":
		return ResolutionAnnual, nil
	case "cumulative_run", "running":
		return ResolutionCumulative, nil
	default:
		return "", fmt.Errorf("unknown resolution %q", s)
	}
}

// AggregationFunc defines how the days of a bucket are combined
type AggregationFunc string

const (
	AggIdentity   AggregationFunc = "identity"    // one day per bucket, values unchanged
	AggMean       AggregationFunc = "mean"        // mean daily rate over the days present
	AggRunningSum AggregationFunc = "running_sum" // sum of every day up to the bucket
)

// Aggregation returns how r combines days
func (r Resolution) Aggregation() AggregationFunc {
	switch r {
	case ResolutionMonthly, ResolutionAnnual:
		return AggMean
	case ResolutionCumulative:
		return AggRunningSum
	default:
		return AggIdentity
	}
}
