package model

import "math"

// PARegressor is an online passive-aggressive regressor over a single
// standardized hour-of-day feature (plus intercept). It predicts the expected
// headway in seconds and adjusts its weights only when the prediction error
// exceeds the epsilon-insensitive band (PA-I update).
type PARegressor struct {
	C       float64 // aggressiveness cap on the update step
	Epsilon float64 // insensitive band around the target

	Weight    float64
	Intercept float64
	HourStats RunningStats // standardizer for the hour feature
}

// NewPARegressor creates a regressor with the usual C=1, epsilon=0.1 defaults.
func NewPARegressor() *PARegressor {
	return &PARegressor{C: 1.0, Epsilon: 0.1}
}

// Predict returns the expected headway for the given UTC hour under the
// current weights. Never updates state.
func (r *PARegressor) Predict(hour int) float64 {
	x := r.HourStats.Standardize(float64(hour))
	return r.Weight*x + r.Intercept
}

// Learn updates the standardizer and weights with one (hour, headway) sample.
func (r *PARegressor) Learn(hour int, y float64) {
	r.HourStats.Update(float64(hour))
	x := r.HourStats.Standardize(float64(hour))

	pred := r.Weight*x + r.Intercept
	loss := math.Abs(y-pred) - r.Epsilon
	if loss <= 0 {
		return
	}

	// Intercept acts as a constant feature, so the squared norm is x^2 + 1.
	tau := loss / (x*x + 1)
	if tau > r.C {
		tau = r.C
	}
	sign := 1.0
	if y < pred {
		sign = -1.0
	}
	r.Weight += sign * tau * x
	r.Intercept += sign * tau
}
