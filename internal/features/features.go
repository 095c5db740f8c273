// Package features derives robust per-group statistics from recent headway
// observations: median and MAD per (route, stop, hour-of-day), joined back
// onto each row for model input.
package features

import (
	"context"
	"sort"
	"time"

	"github.com/headway-anomaly/worker/internal/db"
)

// FeatureRow is one observation joined with its group statistics.
type FeatureRow struct {
	RouteID    string
	StopID     string
	Hour       int // UTC calendar hour of observed_ts, 0-23
	HeadwaySec float64
	Median     float64
	MAD        float64
}

// TrainingRow is one row of the scorer's training batch.
type TrainingRow struct {
	RouteID    string
	StopID     string
	Hour       int
	HeadwaySec float64
}

type groupKey struct {
	routeID string
	stopID  string
	hour    int
}

// Batch reads unscored observations within the trailing window and returns
// feature rows with per-(route, stop, hour) median and MAD. Rows with a
// non-positive headway are dropped. An empty result is not an error.
func Batch(ctx context.Context, database *db.DB, window time.Duration) ([]FeatureRow, error) {
	cutoff := time.Now().UTC().Add(-window)
	obs, err := database.UnscoredSince(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	type rawRow struct {
		key     groupKey
		headway float64
	}
	var raw []rawRow
	groups := make(map[groupKey][]float64)
	for _, o := range obs {
		if o.Residual == nil || *o.Residual <= 0 {
			continue
		}
		k := groupKey{routeID: o.RouteID, stopID: o.StopID, hour: o.ObservedTS.UTC().Hour()}
		raw = append(raw, rawRow{key: k, headway: *o.Residual})
		groups[k] = append(groups[k], *o.Residual)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	type groupStats struct {
		median float64
		mad    float64
	}
	stats := make(map[groupKey]groupStats, len(groups))
	for k, xs := range groups {
		stats[k] = groupStats{median: Median(xs), mad: MAD(xs)}
	}

	out := make([]FeatureRow, 0, len(raw))
	for _, r := range raw {
		s := stats[r.key]
		out = append(out, FeatureRow{
			RouteID:    r.key.routeID,
			StopID:     r.key.stopID,
			Hour:       r.key.hour,
			HeadwaySec: r.headway,
			Median:     s.median,
			MAD:        s.mad,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RouteID != out[j].RouteID {
			return out[i].RouteID < out[j].RouteID
		}
		if out[i].StopID != out[j].StopID {
			return out[i].StopID < out[j].StopID
		}
		return out[i].Hour < out[j].Hour
	})
	return out, nil
}

// LatestBatch returns the newest limit observations as training rows for the
// scorer, newest first. A null residual becomes a 0.0 headway.
func LatestBatch(ctx context.Context, database *db.DB, limit int) ([]TrainingRow, error) {
	obs, err := database.LatestBatch(ctx, limit)
	if err != nil {
		return nil, err
	}

	rows := make([]TrainingRow, 0, len(obs))
	for _, o := range obs {
		headway := 0.0
		if o.Residual != nil {
			headway = *o.Residual
		}
		rows = append(rows, TrainingRow{
			RouteID:    o.RouteID,
			StopID:     o.StopID,
			Hour:       o.ObservedTS.UTC().Hour(),
			HeadwaySec: headway,
		})
	}
	return rows, nil
}
