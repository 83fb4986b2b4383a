// Package qnh maintains the sea-level pressure reference used to turn station
// pressure into altitude.
package qnh

import (
	"context"
	"log/slog"
	"math"
	"time"

	"cloudpico-station/internal/cache"
	"cloudpico-station/internal/types"
)

const (
	DefaultThreshold = 2 * time.Hour
	DefaultTimeout   = 10 * time.Second
)

// Fetcher retrieves the current QNH in hPa.
type Fetcher interface {
	Fetch(ctx context.Context) (float64, error)
}

type Store interface {
	Get(key string) cache.Entry
	Put(key string, value float64, timestamp string) error
}

type Service struct {
	store     Store
	fetcher   Fetcher
	status    types.Status
	threshold time.Duration
	timeout   time.Duration
	logger    *slog.Logger
}

func New(store Store, fetcher Fetcher, status types.Status, timeout time.Duration, logger *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		fetcher:   fetcher,
		status:    status,
		threshold: DefaultThreshold,
		timeout:   timeout,
		logger:    logger,
	}
}

// QNH returns the pressure reference for now. It refreshes a stale value when
// the network is up and falls back to the cached value on any failure. It
// returns nil only when no value was ever cached.
func (s *Service) QNH(ctx context.Context, now string) *float64 {
	entry := s.store.Get(cache.KeyQNH)
	cached := cachedValue(entry)

	if !cache.Stale(entry, now, s.threshold) {
		return cached
	}
	if s.fetcher == nil || !s.status.Has(types.Network) {
		s.logger.Debug("qnh: stale, no network", "cached", cached != nil)
		return cached
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	v, err := s.fetcher.Fetch(fetchCtx)
	if err != nil {
		s.logger.Warn("qnh: fetch failed, keeping cached value", "error", err)
		return cached
	}
	if !plausible(v) {
		s.logger.Warn("qnh: implausible value, keeping cached value", "value", v)
		return cached
	}

	if _, err := types.ParseTimestamp(now); err == nil {
		if err := s.store.Put(cache.KeyQNH, v, now); err != nil {
			s.logger.Warn("qnh: caching value failed", "error", err)
		}
	} else {
		s.logger.Info("qnh: clock unset, value not cached", "value", v)
	}
	s.logger.Info("qnh: refreshed", "value", v)
	return &v
}

func cachedValue(e cache.Entry) *float64 {
	if e.Absent() || e.Value == nil || !plausible(*e.Value) {
		return nil
	}
	v := *e.Value
	return &v
}

func plausible(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}
