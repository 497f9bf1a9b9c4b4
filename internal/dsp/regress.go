package dsp

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// LinearFit fits y = intercept + slope*x by ordinary least squares and
// reports R². Backs the PAL test, the linear-drift test and the
// per-segment internal drift pass.
func LinearFit(x, y []float64) (slope, intercept, r2 float64) {
	if len(x) < 2 || len(x) != len(y) {
		return 0, 0, 0
	}
	intercept, slope = stat.LinearRegression(x, y, nil, false)
	r2 = stat.RSquared(x, y, nil, intercept, slope)
	if math.IsNaN(r2) {
		r2 = 0
	}
	return slope, intercept, r2
}

// Median returns the median of xs without mutating it.
func Median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

// StdDev returns the population standard deviation of xs.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := stat.Mean(xs, nil)
	var variance float64
	for _, v := range xs {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(xs)))
}

// Mean returns the arithmetic mean of xs, 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

// RejectOutliers drops values with |v - median| > k*sigma, returning the
// survivors and their original indices. Used by the internal drift pass
// before fitting a slope so one bad scan cannot fake a drift.
func RejectOutliers(xs []float64, k float64) (kept []float64, idx []int) {
	if len(xs) == 0 {
		return nil, nil
	}
	med := Median(xs)
	sigma := StdDev(xs)
	if sigma == 0 {
		idx = make([]int, len(xs))
		for i := range xs {
			idx[i] = i
		}
		return append([]float64(nil), xs...), idx
	}
	for i, v := range xs {
		if math.Abs(v-med) <= k*sigma {
			kept = append(kept, v)
			idx = append(idx, i)
		}
	}
	return kept, idx
}
