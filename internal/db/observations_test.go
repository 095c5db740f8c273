package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Connect(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.EnsureSchema(context.Background()))
	return database
}

func headwayObs(ts time.Time, route, stop string, headway float64) Observation {
	ws := 300
	eventTS := ts.Add(time.Minute)
	return Observation{
		ObservedTS: ts,
		EventTS:    &eventTS,
		RouteID:    route,
		StopID:     stop,
		Residual:   &headway,
		WindowSec:  &ws,
	}
}

func TestInsertCycleRoundTrip(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	cycleID, err := database.InsertCycle(ctx, "ACE", now, []Observation{
		headwayObs(now, "A", "S1", 240),
		headwayObs(now, "C", "S2", 0),
	})
	require.NoError(t, err)
	require.NotEmpty(t, cycleID)

	rows, err := database.LatestBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	for _, o := range rows {
		require.Equal(t, 0.0, o.AnomalyScore)
		require.NotNil(t, o.Residual)
		require.NotNil(t, o.EventTS)
		require.True(t, o.ObservedTS.Equal(now))
	}
}

func TestInsertCycleEmptyIsStillRecorded(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	cycleID, err := database.InsertCycle(ctx, "G", time.Now().UTC(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, cycleID)

	rows, err := database.LatestBatch(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestUnscoredSince(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	old := headwayObs(now.Add(-time.Hour), "A", "S1", 120)
	fresh := headwayObs(now, "A", "S1", 240)
	scored := headwayObs(now, "A", "S2", 180)
	scored.AnomalyScore = 0.4

	_, err := database.InsertCycle(ctx, "ACE", now, []Observation{old, fresh, scored})
	require.NoError(t, err)

	rows, err := database.UnscoredSince(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "S1", rows[0].StopID)
	require.NotNil(t, rows[0].Residual)
	require.Equal(t, 240.0, *rows[0].Residual)
}

func TestApplyScoresTargetsOnlyLatestRow(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)

	var obs []Observation
	for i := 0; i < 3; i++ {
		obs = append(obs, headwayObs(base.Add(time.Duration(i)*time.Minute), "A", "S1", float64(100+i)))
	}
	_, err := database.InsertCycle(ctx, "ACE", base, obs)
	require.NoError(t, err)

	n, err := database.ApplyScores(ctx, []ScoreUpdate{
		{RouteID: "A", StopID: "S1", Residual: -33.5, AnomalyScore: 0.8},
	}, time.Time{}, 300)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rows, err := database.LatestBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Newest row carries the update, older rows are untouched.
	require.Equal(t, 0.8, rows[0].AnomalyScore)
	require.Equal(t, -33.5, *rows[0].Residual)
	require.Equal(t, 0.0, rows[1].AnomalyScore)
	require.Equal(t, 0.0, rows[2].AnomalyScore)
	require.Equal(t, 101.0, *rows[1].Residual)
	require.Equal(t, 100.0, *rows[2].Residual)
}

func TestApplyScoresMissingKeyIsSkipped(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	n, err := database.ApplyScores(ctx, []ScoreUpdate{
		{RouteID: "Z", StopID: "NOPE", Residual: 1, AnomalyScore: 0.5},
	}, time.Time{}, 300)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestApplyScoresRespectsFloor(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Second)

	_, err := database.InsertCycle(ctx, "ACE", old, []Observation{headwayObs(old, "A", "S1", 120)})
	require.NoError(t, err)

	n, err := database.ApplyScores(ctx, []ScoreUpdate{
		{RouteID: "A", StopID: "S1", Residual: 5, AnomalyScore: 0.9},
	}, time.Now().UTC().Add(-time.Hour), 300)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestApplyScoresDefaultsWindowSec(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	headway := 120.0
	_, err := database.InsertCycle(ctx, "ACE", now, []Observation{
		{ObservedTS: now, RouteID: "A", StopID: "S1", Residual: &headway},
	})
	require.NoError(t, err)

	_, err = database.ApplyScores(ctx, []ScoreUpdate{
		{RouteID: "A", StopID: "S1", Residual: 1, AnomalyScore: 0.2},
	}, time.Time{}, 300)
	require.NoError(t, err)

	rows, err := database.LatestBatch(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, rows[0].WindowSec)
	require.Equal(t, 300, *rows[0].WindowSec)
}

func TestCleanup(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	_, err := database.InsertCycle(ctx, "ACE", now.Add(-48*time.Hour), []Observation{
		headwayObs(now.Add(-48*time.Hour), "A", "S1", 120),
	})
	require.NoError(t, err)
	_, err = database.InsertCycle(ctx, "ACE", now, []Observation{
		headwayObs(now, "A", "S1", 240),
	})
	require.NoError(t, err)

	require.NoError(t, database.Cleanup(ctx, 24*time.Hour))

	rows, err := database.LatestBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 240.0, *rows[0].Residual)
}
