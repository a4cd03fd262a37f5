package availability

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/seidata/curator/pkg/log"
	"github.com/seidata/curator/pkg/metrics"
	"github.com/seidata/curator/pkg/stationxml"
	"github.com/seidata/curator/pkg/storage"
	"github.com/seidata/curator/pkg/types"
)

// Checker confirms accepted artifacts are visible on the public query
// webservice and promotes them to COMPLETED. A circuit breaker around
// the webservice keeps a downstream outage from burning a full sweep
// every cycle.
type Checker struct {
	store    storage.Store
	queryURL string
	interval time.Duration
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	logger   zerolog.Logger
}

// NewChecker creates an availability checker polling the given FDSN
// station query webservice.
func NewChecker(store storage.Store, queryURL string, interval time.Duration) *Checker {
	logger := log.WithComponent("availability")
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "query-webservice",
		Timeout: interval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("query webservice breaker state change")
		},
	})

	return &Checker{
		store:    store,
		queryURL: queryURL,
		interval: interval,
		client:   &http.Client{Timeout: 30 * time.Second},
		breaker:  breaker,
		logger:   logger,
	}
}

// Run sweeps accepted records on the checker's cadence until the
// context is cancelled.
func (c *Checker) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info().Dur("interval", c.interval).Msg("availability checker started")

	for {
		select {
		case <-ticker.C:
			c.sweep(ctx)
		case <-ctx.Done():
			c.logger.Info().Msg("availability checker stopped")
			return nil
		}
	}
}

// sweep checks every ACCEPTED record once.
func (c *Checker) sweep(ctx context.Context) {
	set, err := c.store.AcceptedSet()
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to list accepted records")
		return
	}

	for _, rec := range set {
		if rec.Status != types.StatusAccepted {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		c.check(ctx, rec)
	}
}

// check fetches the station from the query webservice, canonicalizes
// and hashes the returned Network element, and promotes the record when
// the hash matches. A mismatch leaves the record unchanged: the
// webservice has not picked up the new inventory yet.
func (c *Checker) check(ctx context.Context, rec *types.FileRecord) {
	served, err := c.fetchHash(ctx, rec.Network.Code, rec.Station)
	if err != nil {
		metrics.AvailabilityChecks.WithLabelValues("error").Inc()
		c.logger.Debug().Err(err).
			Str("record_id", rec.ID).
			Str("station", rec.Station).
			Msg("availability check failed, will retry")
		return
	}

	if served != rec.Hash {
		metrics.AvailabilityChecks.WithLabelValues("mismatch").Inc()
		return
	}

	now := time.Now().UTC()
	err = c.store.Transition(rec.ID, types.StatusAccepted, types.StatusCompleted, storage.TransitionOpts{
		Available: &now,
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("record_id", rec.ID).Msg("failed to complete record")
		return
	}

	metrics.AvailabilityChecks.WithLabelValues("completed").Inc()
	c.logger.Info().
		Str("record_id", rec.ID).
		Str("network", rec.Network.Code).
		Str("station", rec.Station).
		Msg("record completed")
}

// fetchHash requests the station at response level and hashes the
// served Network element.
func (c *Checker) fetchHash(ctx context.Context, network, station string) (string, error) {
	query := url.Values{}
	query.Set("network", network)
	query.Set("station", station)
	query.Set("level", "response")
	target := c.queryURL + "?" + query.Encode()

	body, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("query webservice returned %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return "", err
	}

	root, err := stationxml.Parse(body.([]byte))
	if err != nil {
		return "", err
	}
	networks := root.All("Network")
	if len(networks) == 0 {
		return "", fmt.Errorf("no network element in webservice response")
	}
	return stationxml.HashNetwork(networks[0])
}
