// Package model holds the online-learning state for headway scoring: a
// passive-aggressive regressor for expected headway, a half-space-trees
// outlier scorer over residuals, and an ADWIN drift detector, plus the
// snapshot persistence for all three.
package model

// Predictor predicts a headway from the hour-of-day feature and learns from
// labeled samples. Learn must only be called after the matching Predict; the
// scorer relies on this ordering to avoid lookahead.
type Predictor interface {
	Predict(hour int) float64
	Learn(hour int, y float64)
}

// OutlierScorer scores a single value in [0, 1] and learns online.
type OutlierScorer interface {
	Score(v float64) float64
	Learn(v float64)
}

// DriftDetector consumes a stream of values and reports distribution change.
type DriftDetector interface {
	Update(v float64) bool
	Reset()
	WindowWidth() int
	Estimation() float64
}

// hstSeed keeps the tree ensemble reproducible across fresh bundles, so a
// fresh process scores the same stream identically.
const hstSeed = 42

// Residuals beyond ±30 minutes saturate the outlier detector's value range.
const (
	residualLo = -1800.0
	residualHi = 1800.0
)

// Bundle owns one instance of each model. It is mutated once per scored row
// (learn step) and once more by the drift stream, and is replaced wholesale
// on reset or snapshot load.
type Bundle struct {
	Regressor *PARegressor
	Outlier   *HalfSpaceTrees
	Drift     *ADWIN
}

// NewBundle returns a freshly initialized bundle.
func NewBundle() *Bundle {
	return &Bundle{
		Regressor: NewPARegressor(),
		Outlier:   NewHalfSpaceTrees(hstSeed, residualLo, residualHi),
		Drift:     NewADWIN(),
	}
}
