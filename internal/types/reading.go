package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the MySQL DATETIME layout the collector expects.
const TimestampLayout = "2006-01-02 15:04:05"

// TimestampNone marks a clock that was never synchronized.
const TimestampNone = "none"

const (
	imageLayout   = "2006_01_02_15_04_05"
	imageExt      = ".jpg"
	unsyncedImage = "unsynced_"
)

// Reading is one timestamped sample set from the station. A nil field means the
// quantity was unavailable this cycle.
type Reading struct {
	ID          string   `json:"id"`
	Timestamp   string   `json:"timestamp"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Pressure    *float64 `json:"pressure,omitempty"`
	Dewpoint    *float64 `json:"dewpoint,omitempty"`
	Altitude    *float64 `json:"altitude,omitempty"`
}

// NewReading returns an empty reading with a fresh ID.
func NewReading(timestamp string) Reading {
	if timestamp == "" {
		timestamp = TimestampNone
	}
	return Reading{
		ID:        uuid.NewString(),
		Timestamp: timestamp,
	}
}

// Float returns a pointer to a copy of v.
func Float(v float64) *float64 {
	return &v
}

// FormatTimestamp renders t in TimestampLayout, or TimestampNone for an unset clock.
func FormatTimestamp(t time.Time) string {
	if ClockUnset(t) {
		return TimestampNone
	}
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a timestamp written by FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, TimestampNone) {
		return time.Time{}, fmt.Errorf("timestamp not set")
	}
	t, err := time.ParseInLocation(TimestampLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// ValidTimestamp reports whether s is TimestampNone or parses with TimestampLayout.
func ValidTimestamp(s string) bool {
	if strings.EqualFold(strings.TrimSpace(s), TimestampNone) {
		return true
	}
	_, err := ParseTimestamp(s)
	return err == nil
}

// ClockUnset reports whether t looks like a clock that never received time.
func ClockUnset(t time.Time) bool {
	return t.IsZero() || t.Year() <= 1970
}

// ImageName returns the file name of the image that belongs to r.
func ImageName(r Reading) string {
	t, err := ParseTimestamp(r.Timestamp)
	if err != nil {
		return unsyncedImage + r.ID + imageExt
	}
	return t.Format(imageLayout) + imageExt
}

// ParseImageName recovers the reading timestamp from an image name produced by
// ImageName. It fails for names of unsynced readings.
func ParseImageName(name string) (string, error) {
	base, ok := strings.CutSuffix(name, imageExt)
	if !ok {
		return "", fmt.Errorf("image name %q: missing %s suffix", name, imageExt)
	}
	t, err := time.ParseInLocation(imageLayout, base, time.UTC)
	if err != nil {
		return "", fmt.Errorf("image name %q: %w", name, err)
	}
	return t.Format(TimestampLayout), nil
}
