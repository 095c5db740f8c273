package model

import "math"

// RunningStats holds incremental mean/variance using Welford's online
// algorithm, in O(1) time and space per update.
// Reference: https://en.wikipedia.org/wiki/Algorithms_for_calculating_variance#Welford's_online_algorithm
type RunningStats struct {
	Count int
	Mean  float64
	M2    float64
}

// Update adds a new observation.
func (s *RunningStats) Update(x float64) {
	s.Count++
	delta := x - s.Mean
	s.Mean += delta / float64(s.Count)
	delta2 := x - s.Mean
	s.M2 += delta * delta2
}

// StdDev returns the population standard deviation, 0 with fewer than two
// observations.
func (s *RunningStats) StdDev() float64 {
	if s.Count < 2 {
		return 0
	}
	return math.Sqrt(s.M2 / float64(s.Count))
}

// Standardize maps x to (x-mean)/stddev under the current statistics.
// With zero spread the centered value is returned unscaled.
func (s *RunningStats) Standardize(x float64) float64 {
	sd := s.StdDev()
	if sd == 0 {
		return x - s.Mean
	}
	return (x - s.Mean) / sd
}
