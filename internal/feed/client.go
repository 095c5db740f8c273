package feed

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"time"

	"google.golang.org/protobuf/proto"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
)

const userAgent = "headway-anomaly-worker/0.1"

// Client fetches and decodes GTFS-RT feeds with bounded retries.
type Client struct {
	http        *http.Client
	maxAttempts int
	baseDelay   time.Duration
}

// NewClient creates a feed client. timeout bounds each request, maxAttempts
// bounds retries per fetch, and baseDelay scales the exponential backoff
// (shrink it in tests).
func NewClient(timeout time.Duration, maxAttempts int, baseDelay time.Duration) *Client {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &Client{
		http:        &http.Client{Timeout: timeout},
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
	}
}

// Fetch downloads and decodes one feed, returning its arrival events.
// Non-2xx responses and transport errors are retried with exponential backoff
// and jitter up to the attempt ceiling; decode failures are never retried.
func (c *Client) Fetch(ctx context.Context, label, url string) ([]ArrivalEvent, error) {
	body, attempts, err := c.getWithRetry(ctx, label, url)
	if err != nil {
		return nil, &Error{Kind: ErrNetwork, Label: label, Attempts: attempts, Err: err}
	}

	msg := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(body, msg); err != nil {
		return nil, &Error{Kind: ErrDecode, Label: label, Attempts: attempts, Err: err}
	}

	return decodeEvents(msg), nil
}

func (c *Client) getWithRetry(ctx context.Context, label, url string) ([]byte, int, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		body, err := c.get(ctx, url)
		if err == nil {
			return body, attempt, nil
		}
		lastErr = err
		log.Printf("Feed %s: attempt %d/%d failed: %v", label, attempt, c.maxAttempts, err)

		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-time.After(c.backoff(attempt)):
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		}
	}
	return nil, c.maxAttempts, lastErr
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// backoff returns min(base*2^attempt, 30*base) scaled by a jitter factor in
// [0.3, 1.5), so concurrent deployments don't hammer an endpoint in lockstep.
func (c *Client) backoff(attempt int) time.Duration {
	units := math.Min(math.Pow(2, float64(attempt)), 30)
	jitter := 0.3 + rand.Float64()*1.2
	return time.Duration(units * jitter * float64(c.baseDelay))
}

// decodeEvents walks the feed entities. Trip updates are preferred: each stop
// time update yields the arrival epoch, falling back to the departure epoch.
// Entities without a trip update fall back to the vehicle position's
// (route, stop, timestamp) when all three are present.
func decodeEvents(msg *gtfs.FeedMessage) []ArrivalEvent {
	var events []ArrivalEvent
	for _, entity := range msg.Entity {
		if tu := entity.TripUpdate; tu != nil && tu.Trip != nil {
			routeID := tu.Trip.GetRouteId()
			if routeID == "" {
				continue
			}
			for _, stu := range tu.StopTimeUpdate {
				stopID := stu.GetStopId()
				if stopID == "" {
					continue
				}
				var t int64
				if stu.Arrival != nil {
					t = stu.Arrival.GetTime()
				}
				if t == 0 && stu.Departure != nil {
					t = stu.Departure.GetTime()
				}
				if t == 0 {
					continue
				}
				events = append(events, ArrivalEvent{RouteID: routeID, StopID: stopID, Epoch: t})
			}
			continue
		}

		if v := entity.Vehicle; v != nil && v.Trip != nil {
			routeID := v.Trip.GetRouteId()
			stopID := v.GetStopId()
			t := int64(v.GetTimestamp())
			if routeID == "" || stopID == "" || t == 0 {
				continue
			}
			events = append(events, ArrivalEvent{RouteID: routeID, StopID: stopID, Epoch: t})
		}
	}
	return events
}
