package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Observation is one headway observation row.
// Residual initially carries the raw headway in seconds (0.0 when the headway
// is undefined); once scored it holds actual minus predicted headway.
type Observation struct {
	ID           int64
	ObservedTS   time.Time
	EventTS      *time.Time
	RouteID      string
	StopID       string
	AnomalyScore float64
	Residual     *float64
	WindowSec    *int
}

// ScoreUpdate targets the most recent observation for a (route, stop) key.
type ScoreUpdate struct {
	RouteID      string
	StopID       string
	Residual     float64
	AnomalyScore float64
}

func formatTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// InsertCycle writes one ingest-cycle row plus all observations produced by a
// single feed in one transaction. Either everything commits or nothing does.
func (db *DB) InsertCycle(ctx context.Context, feedLabel string, polledAt time.Time, obs []Observation) (string, error) {
	db.LockWrite()
	defer db.UnlockWrite()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cycleID := uuid.New().String()
	_, err = tx.ExecContext(ctx,
		"INSERT INTO ingest_cycles (cycle_id, polled_at_utc, feed_label, row_count) VALUES (?, ?, ?, ?)",
		cycleID, formatTS(polledAt), feedLabel, len(obs),
	)
	if err != nil {
		return "", fmt.Errorf("failed to record ingest cycle: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO observations (observed_ts, event_ts, route_id, stop_id, anomaly_score, residual, window_sec)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	for _, o := range obs {
		var eventTS *string
		if o.EventTS != nil {
			s := formatTS(*o.EventTS)
			eventTS = &s
		}
		_, err := stmt.ExecContext(ctx,
			formatTS(o.ObservedTS), eventTS, o.RouteID, o.StopID,
			o.AnomalyScore, o.Residual, o.WindowSec,
		)
		if err != nil {
			return "", fmt.Errorf("failed to insert observation %s/%s: %w", o.RouteID, o.StopID, err)
		}
	}

	return cycleID, tx.Commit()
}

// LatestBatch returns the newest limit observations ordered by observed_ts
// descending, regardless of scored state.
func (db *DB) LatestBatch(ctx context.Context, limit int) ([]Observation, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, observed_ts, event_ts, route_id, stop_id, anomaly_score, residual, window_sec
		FROM observations
		ORDER BY observed_ts DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest batch: %w", err)
	}
	defer rows.Close()
	return scanObservations(rows)
}

// UnscoredSince returns observations observed at or after cutoff that have not
// been scored yet (anomaly_score still 0).
func (db *DB) UnscoredSince(ctx context.Context, cutoff time.Time) ([]Observation, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, observed_ts, event_ts, route_id, stop_id, anomaly_score, residual, window_sec
		FROM observations
		WHERE anomaly_score = 0 AND observed_ts >= ?
		ORDER BY observed_ts ASC, id ASC
	`, formatTS(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to query unscored observations: %w", err)
	}
	defer rows.Close()
	return scanObservations(rows)
}

func scanObservations(rows *sql.Rows) ([]Observation, error) {
	var out []Observation
	for rows.Next() {
		var (
			o          Observation
			observedTS string
			eventTS    *string
		)
		if err := rows.Scan(&o.ID, &observedTS, &eventTS, &o.RouteID, &o.StopID,
			&o.AnomalyScore, &o.Residual, &o.WindowSec); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		ts, err := parseTS(observedTS)
		if err != nil {
			return nil, fmt.Errorf("bad observed_ts %q: %w", observedTS, err)
		}
		o.ObservedTS = ts
		if eventTS != nil {
			if et, err := parseTS(*eventTS); err == nil {
				o.EventTS = &et
			}
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ApplyScores commits a batch of scoring updates in one transaction. Each
// update rewrites only the single most recent observation for its key at or
// after floor; a key with no matching row is skipped silently. window_sec is
// defaulted to windowSec when unset. Returns the number of rows updated.
func (db *DB) ApplyScores(ctx context.Context, updates []ScoreUpdate, floor time.Time, windowSec int) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	db.LockWrite()
	defer db.UnlockWrite()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	floorStr := formatTS(floor)
	updated := 0
	for _, u := range updates {
		var id int64
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM observations
			WHERE route_id = ? AND stop_id = ? AND observed_ts >= ?
			ORDER BY observed_ts DESC, id DESC
			LIMIT 1
		`, u.RouteID, u.StopID, floorStr).Scan(&id)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to locate row for %s/%s: %w", u.RouteID, u.StopID, err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE observations
			SET residual = ?, anomaly_score = ?, window_sec = COALESCE(window_sec, ?)
			WHERE id = ?
		`, u.Residual, u.AnomalyScore, windowSec, id)
		if err != nil {
			return 0, fmt.Errorf("failed to update row %d: %w", id, err)
		}
		updated++
	}

	return updated, tx.Commit()
}

// Cleanup deletes observations and ingest cycles older than retention
func (db *DB) Cleanup(ctx context.Context, retention time.Duration) error {
	db.LockWrite()
	defer db.UnlockWrite()

	cutoff := formatTS(time.Now().Add(-retention))

	queries := []struct {
		name  string
		query string
	}{
		{"observations", "DELETE FROM observations WHERE observed_ts < ?"},
		{"ingest_cycles", "DELETE FROM ingest_cycles WHERE polled_at_utc < ?"},
	}
	for _, q := range queries {
		if _, err := db.conn.ExecContext(ctx, q.query, cutoff); err != nil {
			return fmt.Errorf("failed to cleanup %s: %w", q.name, err)
		}
	}
	return nil
}
