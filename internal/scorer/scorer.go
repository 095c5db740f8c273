// Package scorer runs the online anomaly scoring loop: fetch the newest batch
// of observations, predict expected headways, fuse residual and outlier
// signals into one anomaly score, write the scores back, and learn — in that
// order. The predict-before-learn ordering is the correctness invariant here:
// a model must never see a sample's label before that sample is scored.
package scorer

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/headway-anomaly/worker/internal/config"
	"github.com/headway-anomaly/worker/internal/db"
	"github.com/headway-anomaly/worker/internal/features"
	"github.com/headway-anomaly/worker/internal/model"
)

// Score fusion weights: the robust residual signal dominates, the outlier
// detector contributes the rest.
const (
	residualWeight = 0.6
	outlierWeight  = 0.4
)

// residual normalization saturates at 10 MADs.
const madClip = 10.0

// Scorer scores recent observations with an online model bundle.
type Scorer struct {
	db  *db.DB
	cfg *config.Config

	regressor model.Predictor
	outlier   model.OutlierScorer
	drift     model.DriftDetector

	// bundle is the concrete state behind the interfaces above; nil when the
	// models were substituted (tests), in which case persistence is skipped.
	bundle *model.Bundle

	// floor bounds how far back a scoring update may target a row.
	floor time.Time
}

// New creates a scorer, restoring the most recent model snapshot when one
// exists and starting fresh otherwise.
func New(database *db.DB, cfg *config.Config) *Scorer {
	bundle, ok := model.LoadLatest(cfg.ModelsDir)
	if ok {
		log.Printf("Scorer: restored model snapshot from %s", cfg.ModelsDir)
	} else {
		bundle = model.NewBundle()
		log.Println("Scorer: starting with a fresh model bundle")
	}
	s := NewWithModels(database, cfg, bundle.Regressor, bundle.Outlier, bundle.Drift)
	s.bundle = bundle
	return s
}

// NewWithModels creates a scorer over explicit model instances. Snapshot
// persistence is disabled; used by tests to substitute stubs.
func NewWithModels(database *db.DB, cfg *config.Config, reg model.Predictor, out model.OutlierScorer, drift model.DriftDetector) *Scorer {
	return &Scorer{
		db:        database,
		cfg:       cfg,
		regressor: reg,
		outlier:   out,
		drift:     drift,
	}
}

// Run scores batches on the configured cadence until ctx is cancelled.
func (s *Scorer) Run(ctx context.Context) {
	log.Printf("Scorer: starting (batch %d, every %v)", s.cfg.BatchSize, s.cfg.ScorerInterval)
	for {
		n, err := s.ProcessOnce(ctx, s.cfg.BatchSize)
		if err != nil {
			log.Printf("Scorer: cycle error: %v", err)
		} else {
			log.Printf("Scorer: updated %d rows", n)
		}

		select {
		case <-time.After(s.cfg.ScorerInterval):
		case <-ctx.Done():
			log.Println("Scorer: stopped")
			return
		}
	}
}

// ProcessOnce scores the newest batchSize observations and writes the results
// back in one transaction. Returns the number of rows updated; an empty store
// returns 0 without error.
func (s *Scorer) ProcessOnce(ctx context.Context, batchSize int) (int, error) {
	batch, err := features.LatestBatch(ctx, s.db, batchSize)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	// Batch-level robust normalizer, with degenerate fallbacks so the
	// division below can never blow up.
	ys := make([]float64, len(batch))
	for i, b := range batch {
		ys[i] = b.HeadwaySec
	}
	mad := features.MAD(ys)
	if mad <= 0 {
		mad = features.StdDev(ys)
	}
	if mad <= 0 {
		mad = 1.0
	}

	updates := make([]db.ScoreUpdate, 0, len(batch))
	for _, row := range batch {
		// Predict with the model's current state; the sample's label enters
		// the models only after the score is fixed.
		predicted := s.regressor.Predict(row.Hour)
		residual := row.HeadwaySec - predicted

		normalized := math.Min(math.Abs(residual)/mad, madClip) / madClip
		outlierScore := clamp01(s.outlier.Score(residual))
		anomalyScore := residualWeight*normalized + outlierWeight*outlierScore

		s.outlier.Learn(residual)
		s.regressor.Learn(row.Hour, row.HeadwaySec)

		if s.drift.Update(math.Abs(residual)) {
			log.Printf("Scorer: drift detected (width=%d estimation=%.2f); resetting drift window",
				s.drift.WindowWidth(), s.drift.Estimation())
			s.drift.Reset()
		}

		updates = append(updates, db.ScoreUpdate{
			RouteID:      row.RouteID,
			StopID:       row.StopID,
			Residual:     residual,
			AnomalyScore: anomalyScore,
		})
	}

	updated, err := s.db.ApplyScores(ctx, updates, s.floor, s.cfg.WindowSec)
	if err != nil {
		return 0, err
	}

	s.persist()
	return updated, nil
}

// persist saves the model bundle best-effort; failures never affect scoring.
func (s *Scorer) persist() {
	if s.bundle == nil || s.cfg.ModelsDir == "" {
		return
	}
	if _, err := model.Save(s.cfg.ModelsDir, s.bundle); err != nil {
		log.Printf("Scorer: snapshot save failed (continuing): %v", err)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
