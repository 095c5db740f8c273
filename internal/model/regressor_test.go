package model

import (
	"math"
	"testing"
)

func TestPARegressorConvergesOnConstantTarget(t *testing.T) {
	reg := NewPARegressor()
	for i := 0; i < 50; i++ {
		reg.Predict(8)
		reg.Learn(8, 5.0)
	}
	got := reg.Predict(8)
	if math.Abs(got-5.0) > 0.5 {
		t.Errorf("Predict(8) = %v after training on constant 5.0", got)
	}
}

func TestPARegressorPredictDoesNotMutate(t *testing.T) {
	reg := NewPARegressor()
	reg.Learn(8, 300)
	reg.Learn(9, 400)

	before := reg.Predict(10)
	for i := 0; i < 100; i++ {
		reg.Predict(10)
	}
	if reg.Predict(10) != before {
		t.Error("Predict changed the regressor's state")
	}
}

func TestPARegressorDeterminism(t *testing.T) {
	a, b := NewPARegressor(), NewPARegressor()
	samples := []struct {
		hour int
		y    float64
	}{{7, 240}, {8, 180}, {8, 200}, {9, 600}, {22, 900}, {23, 1200}}

	for _, s := range samples {
		a.Predict(s.hour)
		a.Learn(s.hour, s.y)
		b.Predict(s.hour)
		b.Learn(s.hour, s.y)
	}
	for hour := 0; hour < 24; hour++ {
		if a.Predict(hour) != b.Predict(hour) {
			t.Fatalf("hour %d: predictions diverge: %v vs %v", hour, a.Predict(hour), b.Predict(hour))
		}
	}
}

func TestPARegressorInsensitiveBand(t *testing.T) {
	reg := NewPARegressor()
	reg.Learn(8, 0.05) // inside the epsilon band around the 0 prediction
	if reg.Weight != 0 || reg.Intercept != 0 {
		t.Errorf("weights moved for an in-band sample: w=%v b=%v", reg.Weight, reg.Intercept)
	}
}
