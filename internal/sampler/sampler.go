// Package sampler turns noisy repeated sensor reads into one robust estimate per
// quantity.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"
)

const (
	DefaultTarget    = 100
	DefaultMaxErrors = 5
	DefaultDelay     = 50 * time.Millisecond
)

// ReadFunc performs one read of a sensor and returns one value per channel.
type ReadFunc func() ([]float64, error)

type Options struct {
	// Target is the number of valid tuples to collect.
	Target int
	// MaxErrors is the total number of invalid reads tolerated in one run.
	MaxErrors int
	// Delay separates consecutive reads.
	Delay time.Duration
}

// Estimate is the outcome of one sampling run.
type Estimate struct {
	Values    []float64
	Available bool
	Valid     int
	Errors    int
}

// Value returns channel i, or nil when the estimate is unavailable.
func (e Estimate) Value(i int) *float64 {
	if !e.Available || i < 0 || i >= len(e.Values) {
		return nil
	}
	v := e.Values[i]
	return &v
}

type Sampler struct {
	opts   Options
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(opts Options, logger *slog.Logger) *Sampler {
	if opts.Target <= 0 {
		opts.Target = DefaultTarget
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = DefaultMaxErrors
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{opts: opts, logger: logger, sleep: sleepCtx}
}

// Sample reads until Target valid tuples are collected or the error budget is
// spent. Only context cancellation is returned as an error; an exhausted budget
// yields an unavailable estimate.
func (s *Sampler) Sample(ctx context.Context, name string, channels int, read ReadFunc) (Estimate, error) {
	if channels <= 0 {
		return Estimate{}, fmt.Errorf("sample %s: channels must be positive, got %d", name, channels)
	}

	collected := make([][]float64, channels)
	for i := range collected {
		collected[i] = make([]float64, 0, s.opts.Target)
	}

	est := Estimate{}
	for est.Valid < s.opts.Target && est.Errors < s.opts.MaxErrors {
		if err := ctx.Err(); err != nil {
			return Estimate{}, err
		}

		values, err := read()
		if err != nil || !validTuple(values, channels) {
			est.Errors++
			s.logger.Debug("sampler: invalid read", "sensor", name, "errors", est.Errors, "error", err)
		} else {
			for i := 0; i < channels; i++ {
				collected[i] = append(collected[i], values[i])
			}
			est.Valid++
		}

		if s.opts.Delay > 0 {
			if err := s.sleep(ctx, s.opts.Delay); err != nil {
				return Estimate{}, err
			}
		}
	}

	if est.Errors >= s.opts.MaxErrors {
		s.logger.Warn("sampler: error budget exhausted", "sensor", name, "valid", est.Valid, "errors", est.Errors)
		return est, nil
	}

	est.Values = make([]float64, channels)
	for i := range collected {
		v, ok := RemoveOutliersAndMean(collected[i])
		if !ok {
			est.Values = nil
			return est, nil
		}
		est.Values[i] = v
	}
	est.Available = true
	return est, nil
}

func validTuple(values []float64, channels int) bool {
	if len(values) < channels {
		return false
	}
	for _, v := range values[:channels] {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// RemoveOutliersAndMean drops values outside [Q1-1.5*IQR, Q3+1.5*IQR] and
// returns the mean of the rest. When nothing survives the band the mean of the
// whole set is returned. It reports false for an empty input.
func RemoveOutliersAndMean(values []float64) (float64, bool) {
	n := len(values)
	if n == 0 {
		return 0, false
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	q1Len := n / 4
	if q1Len == 0 {
		q1Len = 1
	}
	q3Index := (3 * n) / 4
	q1 := median(sorted[:q1Len])
	q3 := median(sorted[q3Index:])
	iqr := q3 - q1

	lower := q1 - 1.5*iqr
	upper := q3 + 1.5*iqr

	var sum float64
	valid := 0
	for _, v := range sorted {
		if v >= lower && v <= upper {
			sum += v
			valid++
		}
	}
	if valid == 0 {
		return mean(sorted), true
	}
	return sum / float64(valid), true
}

// median of an already sorted, non-empty slice.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
