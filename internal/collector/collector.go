// Package collector runs the feed ingestion loop: it polls every configured
// GTFS-RT endpoint, derives one headway observation per (route, stop) per
// cycle, and writes them to the observation store. Failures are isolated per
// feed; only shutdown stops the loop.
package collector

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/headway-anomaly/worker/internal/config"
	"github.com/headway-anomaly/worker/internal/db"
	"github.com/headway-anomaly/worker/internal/feed"
)

// Events with epochs outside [now-staleHorizon, now+aheadHorizon] are bogus
// or stale and never produce observations.
const (
	staleHorizon = time.Hour
	aheadHorizon = 4 * time.Hour
)

type stopKey struct {
	routeID string
	stopID  string
}

// Collector polls live feeds and writes headway observations.
//
// lastSeen maps each (route, stop) to the most recently observed arrival
// epoch. It lives for the process lifetime only: after a restart every key is
// a first sighting and records one undefined (0.0) headway.
type Collector struct {
	db       *db.DB
	cfg      *config.Config
	client   *feed.Client
	lastSeen map[stopKey]int64

	now func() time.Time // stubbed in tests
}

// New creates a collector with fresh last-seen state.
func New(database *db.DB, cfg *config.Config) *Collector {
	return &Collector{
		db:       database,
		cfg:      cfg,
		client:   feed.NewClient(cfg.RequestTimeout, cfg.MaxAttempts, cfg.RetryBaseDelay),
		lastSeen: make(map[stopKey]int64),
		now:      time.Now,
	}
}

// Run polls all feeds on the configured cadence until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	log.Printf("Collector: starting (%d feeds, poll every %v)", len(c.cfg.Feeds), c.cfg.PollInterval)
	for {
		rows := c.CollectOnce(ctx)

		if err := c.db.Cleanup(ctx, c.cfg.RetentionDuration); err != nil {
			log.Printf("Collector: cleanup error: %v", err)
		}

		sleep := jittered(c.cfg.PollInterval)
		log.Printf("Collector: cycle complete (%d rows); sleeping %v", rows, sleep.Round(100*time.Millisecond))
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			log.Println("Collector: stopped")
			return
		}
	}
}

// CollectOnce runs a single cycle over all configured feeds and returns the
// number of observations written. A failing feed never blocks the others.
func (c *Collector) CollectOnce(ctx context.Context) int {
	total := 0
	for _, f := range c.cfg.Feeds {
		if ctx.Err() != nil {
			return total
		}
		rows, err := c.collectFeed(ctx, f)
		if err != nil {
			log.Printf("Collector: %v", err)
			continue
		}
		total += rows
	}
	return total
}

func (c *Collector) collectFeed(ctx context.Context, f config.Feed) (int, error) {
	events, err := c.client.Fetch(ctx, f.Label, f.URL)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	now := c.now().UTC()
	obs := c.deriveObservations(now, events)
	if len(obs) == 0 {
		return 0, nil
	}

	if _, err := c.db.InsertCycle(ctx, f.Label, now, obs); err != nil {
		return 0, err
	}
	return len(obs), nil
}

// deriveObservations filters stale/bogus events, keeps the earliest upcoming
// arrival per (route, stop) for this cycle, and computes the headway against
// the previous sighting of the same key.
func (c *Collector) deriveObservations(now time.Time, events []feed.ArrivalEvent) []db.Observation {
	minEpoch := now.Add(-staleHorizon).Unix()
	maxEpoch := now.Add(aheadHorizon).Unix()

	earliest := make(map[stopKey]int64)
	for _, ev := range events {
		if ev.RouteID == "" || ev.StopID == "" {
			continue
		}
		if ev.Epoch < minEpoch || ev.Epoch > maxEpoch {
			continue
		}
		k := stopKey{routeID: ev.RouteID, stopID: ev.StopID}
		if cur, ok := earliest[k]; !ok || ev.Epoch < cur {
			earliest[k] = ev.Epoch
		}
	}

	obs := make([]db.Observation, 0, len(earliest))
	windowSec := c.cfg.WindowSec
	for k, arr := range earliest {
		// Headway is defined only when the new arrival is strictly later
		// than the previous one for the same key.
		headway := 0.0
		if prev, ok := c.lastSeen[k]; ok && arr > prev {
			headway = float64(arr - prev)
		}
		c.lastSeen[k] = arr

		eventTS := time.Unix(arr, 0).UTC()
		residual := headway
		ws := windowSec
		obs = append(obs, db.Observation{
			ObservedTS:   now,
			EventTS:      &eventTS,
			RouteID:      k.routeID,
			StopID:       k.stopID,
			AnomalyScore: 0.0,
			Residual:     &residual,
			WindowSec:    &ws,
		})
	}
	return obs
}

// jittered returns d plus symmetric jitter of up to 10%.
func jittered(d time.Duration) time.Duration {
	spread := float64(d) * 0.1
	return d + time.Duration((rand.Float64()*2-1)*spread)
}
