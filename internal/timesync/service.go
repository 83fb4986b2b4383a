// Package timesync decides when the node's clock needs an external time source
// and produces the timestamp for each reading.
package timesync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"cloudpico-station/internal/cache"
	"cloudpico-station/internal/types"
)

const (
	DefaultThreshold = 6 * time.Hour
	DefaultMaxWait   = 10 * time.Second
)

type State int

const (
	Stale State = iota
	SyncedRecent
)

func (s State) String() string {
	if s == SyncedRecent {
		return "synced"
	}
	return "stale"
}

var errClockUnset = errors.New("clock unset")

// Source fetches the current UTC time from an authority.
type Source interface {
	Name() string
	// Requires is the capability the source needs, e.g. types.Network for NTP.
	Requires() types.Status
	Fetch(ctx context.Context) (time.Time, error)
}

// Store is the part of the reference cache the service uses.
type Store interface {
	Get(key string) cache.Entry
	Put(key string, value float64, timestamp string) error
	PutTimestamp(key, timestamp string) error
}

type Service struct {
	store     Store
	source    Source
	clock     Clock
	status    types.Status
	threshold time.Duration
	logger    *slog.Logger

	pollInitial time.Duration
	pollMax     time.Duration
}

// New builds the service. source may be nil when the node has no time authority.
// An OffsetClock gets back the correction recorded by the last sync.
func New(store Store, source Source, clock Clock, status types.Status, logger *slog.Logger) *Service {
	if clock == nil {
		clock = NewSystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if oc, ok := clock.(OffsetClock); ok {
		restoreOffset(store, oc, logger)
	}
	return &Service{
		store:       store,
		source:      source,
		clock:       clock,
		status:      status,
		threshold:   DefaultThreshold,
		logger:      logger,
		pollInitial: 150 * time.Millisecond,
		pollMax:     550 * time.Millisecond,
	}
}

// State reports whether the last sync is recent enough at now.
func (s *Service) State(now string) State {
	if cache.Stale(s.store.Get(cache.KeyNTP), now, s.threshold) {
		return Stale
	}
	return SyncedRecent
}

// Now returns the current timestamp, synchronizing first when the cached sync
// is stale and the source's capability is present. It returns
// types.TimestampNone when the clock is still unset.
func (s *Service) Now(ctx context.Context, maxWait time.Duration) string {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}

	local := s.waitForClock(ctx, maxWait)
	if s.State(local) == SyncedRecent {
		return local
	}

	if s.source == nil {
		s.logger.Debug("timesync: no time source, using local clock", "now", local)
		return local
	}
	if !s.status.Has(s.source.Requires()) {
		s.logger.Info("timesync: stale but source unavailable", "source", s.source.Name(), "now", local)
		return local
	}

	fetchCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()
	t, err := s.source.Fetch(fetchCtx)
	if err != nil {
		s.logger.Warn("timesync: fetch failed", "source", s.source.Name(), "error", err)
		return local
	}
	if types.ClockUnset(t) {
		s.logger.Warn("timesync: source returned unset time", "source", s.source.Name(), "time", t)
		return local
	}
	if err := s.clock.Set(t); err != nil {
		s.logger.Warn("timesync: set clock failed", "error", err)
		return local
	}

	now := types.FormatTimestamp(s.clock.Now())
	if err := s.recordSync(now); err != nil {
		s.logger.Warn("timesync: recording sync failed", "error", err)
	}
	s.logger.Info("timesync: clock synchronized", "source", s.source.Name(), "now", now)
	return now
}

// recordSync writes the NTP entry. For an OffsetClock the entry carries the
// correction in seconds, since the host clock itself was not changed.
func (s *Service) recordSync(now string) error {
	oc, ok := s.clock.(OffsetClock)
	if !ok {
		return s.store.PutTimestamp(cache.KeyNTP, now)
	}
	return s.store.Put(cache.KeyNTP, oc.Offset().Seconds(), now)
}

func restoreOffset(store Store, clock OffsetClock, logger *slog.Logger) {
	e := store.Get(cache.KeyNTP)
	if e.Absent() || e.Value == nil {
		return
	}
	d := time.Duration(*e.Value * float64(time.Second))
	clock.SetOffset(d)
	logger.Debug("timesync: clock correction restored", "offset", d, "synced", e.Timestamp)
}

// waitForClock polls the local clock with jittered backoff until it reports a
// set time or maxWait elapses.
func (s *Service) waitForClock(ctx context.Context, maxWait time.Duration) string {
	var now string
	read := func() error {
		now = types.FormatTimestamp(s.clock.Now())
		if now == types.TimestampNone {
			return errClockUnset
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.pollInitial
	b.RandomizationFactor = 0.5
	b.MaxInterval = s.pollMax
	b.MaxElapsedTime = maxWait

	if err := backoff.Retry(read, backoff.WithContext(b, ctx)); err != nil {
		s.logger.Warn("timesync: clock still unset", "waited", maxWait, "error", err)
		return types.TimestampNone
	}
	return now
}
