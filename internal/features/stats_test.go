package features

import (
	"math"
	"testing"
)

func TestMedian(t *testing.T) {
	tests := []struct {
		name     string
		in       []float64
		expected float64
	}{
		{"empty", nil, 0},
		{"single", []float64{42}, 42},
		{"odd", []float64{3, 1, 2}, 2},
		{"even", []float64{4, 1, 3, 2}, 2.5},
		{"duplicates", []float64{5, 5, 5, 5}, 5},
		{"negative", []float64{-3, -1, -2}, -2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Median(tc.in); got != tc.expected {
				t.Errorf("Median(%v) = %v, expected %v", tc.in, got, tc.expected)
			}
		})
	}
}

func TestMedianDoesNotMutateInput(t *testing.T) {
	in := []float64{3, 1, 2}
	Median(in)
	if in[0] != 3 || in[1] != 1 || in[2] != 2 {
		t.Errorf("Median mutated its input: %v", in)
	}
}

func TestMAD(t *testing.T) {
	tests := []struct {
		name     string
		in       []float64
		expected float64
	}{
		{"empty", nil, 0},
		{"constant", []float64{7, 7, 7}, 0},
		{"spread", []float64{1, 2, 3, 4, 5}, 1},
		{"outlier resistant", []float64{1, 2, 3, 4, 1000}, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := MAD(tc.in); got != tc.expected {
				t.Errorf("MAD(%v) = %v, expected %v", tc.in, got, tc.expected)
			}
		})
	}
}

func TestStdDev(t *testing.T) {
	got := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if math.Abs(got-2) > 1e-9 {
		t.Errorf("StdDev = %v, expected 2", got)
	}
	if StdDev(nil) != 0 {
		t.Error("StdDev of empty slice should be 0")
	}
	if StdDev([]float64{3, 3, 3}) != 0 {
		t.Error("StdDev of constant slice should be 0")
	}
}
