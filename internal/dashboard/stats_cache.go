package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chiampee/SmarTrack-sub004/internal/smartrack"
)

// StatsFetcher fetches the live stats document.
type StatsFetcher func(ctx context.Context) (smartrack.Stats, error)

type statsFlight struct {
	done  chan struct{}
	stats smartrack.Stats
	err   error
}

// StatsCache serves stats stale-while-revalidate: a stale value is returned
// immediately while one background fetch refreshes it, and concurrent
// invalidations collapse into that single fetch.
type StatsCache struct {
	fetch StatsFetcher
	log   zerolog.Logger

	mu      sync.Mutex
	stats   smartrack.Stats
	have    bool
	valid   bool
	flight  *statsFlight
	timeout time.Duration
}

func NewStatsCache(fetch StatsFetcher, log zerolog.Logger) *StatsCache {
	return &StatsCache{fetch: fetch, log: log, timeout: 10 * time.Second}
}

// Get returns the cached stats, kicking off a revalidation if the value is
// stale. When nothing has ever been fetched it blocks on the first fetch.
func (s *StatsCache) Get(ctx context.Context) (smartrack.Stats, error) {
	s.mu.Lock()
	if s.valid {
		stats := s.stats
		s.mu.Unlock()
		return stats, nil
	}
	flight := s.startFlightLocked()
	if s.have {
		stats := s.stats
		s.mu.Unlock()
		return stats, nil
	}
	s.mu.Unlock()

	select {
	case <-flight.done:
		return flight.stats, flight.err
	case <-ctx.Done():
		return smartrack.Stats{}, ctx.Err()
	}
}

// Invalidate marks the cached value stale and starts one revalidation.
// Callers keep seeing the stale value until the fetch lands.
func (s *StatsCache) Invalidate() {
	s.mu.Lock()
	s.valid = false
	s.startFlightLocked()
	s.mu.Unlock()
}

// Reconnect handles network-restored events: identical to Invalidate, kept
// separate so call sites read as what they are. Focus changes deliberately
// trigger nothing; stats move too slowly to refetch on every refocus.
func (s *StatsCache) Reconnect() {
	s.Invalidate()
}

func (s *StatsCache) startFlightLocked() *statsFlight {
	if s.flight != nil {
		return s.flight
	}
	flight := &statsFlight{done: make(chan struct{})}
	s.flight = flight
	go s.run(flight)
	return flight
}

func (s *StatsCache) run(flight *statsFlight) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	stats, err := s.fetch(ctx)

	s.mu.Lock()
	s.flight = nil
	if err == nil {
		s.stats = stats
		s.have = true
		s.valid = true
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn().Err(err).Msg("stats revalidation failed")
	}
	flight.stats = stats
	flight.err = err
	close(flight.done)
}
