package features

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/headway-anomaly/worker/internal/db"
)

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Connect(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.EnsureSchema(context.Background()))
	return database
}

func obsRow(ts time.Time, route, stop string, headway float64) db.Observation {
	ws := 300
	return db.Observation{
		ObservedTS: ts,
		RouteID:    route,
		StopID:     stop,
		Residual:   &headway,
		WindowSec:  &ws,
	}
}

func TestBatchEmptyStore(t *testing.T) {
	database := newTestDB(t)

	rows, err := Batch(context.Background(), database, 5*time.Minute)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestBatchGroupStats(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Three observations in one group plus one in another route.
	_, err := database.InsertCycle(ctx, "test", now, []db.Observation{
		obsRow(now, "A", "S1", 100),
		obsRow(now, "A", "S1", 200),
		obsRow(now, "A", "S1", 600),
		obsRow(now, "B", "S1", 300),
	})
	require.NoError(t, err)

	rows, err := Batch(ctx, database, time.Hour)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	var groupA []FeatureRow
	for _, r := range rows {
		require.Equal(t, now.Hour(), r.Hour)
		if r.RouteID == "A" {
			groupA = append(groupA, r)
		}
	}
	require.Len(t, groupA, 3)
	for _, r := range groupA {
		require.Equal(t, 200.0, r.Median)
		require.Equal(t, 100.0, r.MAD)
	}
}

func TestBatchDropsInvalidAndScoredRows(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	zero := 0.0
	negative := -60.0
	scored := db.Observation{ObservedTS: now, RouteID: "A", StopID: "S1", AnomalyScore: 0.5, Residual: &zero}
	_, err := database.InsertCycle(ctx, "test", now, []db.Observation{
		obsRow(now, "A", "S1", 120),
		{ObservedTS: now, RouteID: "A", StopID: "S1", Residual: &zero},
		{ObservedTS: now, RouteID: "A", StopID: "S1", Residual: &negative},
		{ObservedTS: now, RouteID: "A", StopID: "S1"},
		scored,
	})
	require.NoError(t, err)

	rows, err := Batch(ctx, database, time.Hour)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 120.0, rows[0].HeadwaySec)
}

func TestBatchWindowCutoff(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := database.InsertCycle(ctx, "test", now.Add(-2*time.Hour), []db.Observation{
		obsRow(now.Add(-2*time.Hour), "A", "S1", 120),
	})
	require.NoError(t, err)

	rows, err := Batch(ctx, database, 5*time.Minute)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestLatestBatchOrderAndLimit(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		_, err := database.InsertCycle(ctx, "test", ts, []db.Observation{
			obsRow(ts, "A", "S1", float64(100+i)),
		})
		require.NoError(t, err)
	}

	rows, err := LatestBatch(ctx, database, 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	// Newest first.
	require.Equal(t, 104.0, rows[0].HeadwaySec)
	require.Equal(t, 103.0, rows[1].HeadwaySec)
	require.Equal(t, 102.0, rows[2].HeadwaySec)
}

func TestLatestBatchNullResidual(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := database.InsertCycle(ctx, "test", now, []db.Observation{
		{ObservedTS: now, RouteID: "A", StopID: "S1"},
	})
	require.NoError(t, err)

	rows, err := LatestBatch(ctx, database, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 0.0, rows[0].HeadwaySec)
}
