package features

import (
	"math"
	"sort"
)

// Median returns the middle value of xs (mean of the two middle values for an
// even count). Returns 0 for an empty slice.
func Median(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, xs)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// MAD returns the median absolute deviation of xs around its median.
func MAD(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	med := Median(xs)
	devs := make([]float64, len(xs))
	for i, x := range xs {
		devs[i] = math.Abs(x - med)
	}
	return Median(devs)
}

// StdDev returns the population standard deviation of xs.
func StdDev(xs []float64) float64 {
	n := float64(len(xs))
	if n == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / n
	var m2 float64
	for _, x := range xs {
		d := x - mean
		m2 += d * d
	}
	return math.Sqrt(m2 / n)
}
