// Package stats computes aggregate statistics over participant ratings.
package stats

import (
	"math"
	"slices"
	"sort"
)

// Neutral is reported for mean and median when nobody has rated yet.
const Neutral = 50.0

// Aggregates are the summary statistics of a set of values.
type Aggregates struct {
	Mean   float64
	Median float64
	StdDev float64 // population standard deviation
}

// Compute returns mean, median and population standard deviation of values.
// An empty input yields Neutral/Neutral/0. Sums run left to right over values;
// only the median looks at a sorted copy. values is not modified.
func Compute(values []float64) Aggregates {
	n := len(values)
	if n == 0 {
		return Aggregates{Mean: Neutral, Median: Neutral}
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	sorted := slices.Clone(values)
	sort.Float64s(sorted)

	var median float64
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}

	return Aggregates{
		Mean:   mean,
		Median: median,
		StdDev: math.Sqrt(sq / float64(n)),
	}
}

// FromParticipants computes aggregates over a participant -> latest value map.
// Values are summed in sorted key order.
func FromParticipants(latest map[string]float64) Aggregates {
	if len(latest) == 0 {
		return Compute(nil)
	}
	keys := make([]string, 0, len(latest))
	for k := range latest {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]float64, len(keys))
	for i, k := range keys {
		values[i] = latest[k]
	}
	return Compute(values)
}
