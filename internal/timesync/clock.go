package timesync

import (
	"sync"
	"time"
)

// Clock is the node's wall clock.
type Clock interface {
	Now() time.Time
	Set(t time.Time) error
}

// OffsetClock is a Clock whose synchronization is a correction to the host
// clock. The Service stores the correction with the NTP entry and restores it
// in the next process.
type OffsetClock interface {
	Clock
	Offset() time.Duration
	SetOffset(d time.Duration)
}

// SystemClock reads the host clock and applies the last synchronization as an
// offset. The host OS keeps ownership of the RTC.
type SystemClock struct {
	mu     sync.RWMutex
	offset time.Duration
	now    func() time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{now: time.Now}
}

func (c *SystemClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now().Add(c.offset).UTC()
}

func (c *SystemClock) Set(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = t.Sub(c.now())
	return nil
}

func (c *SystemClock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

func (c *SystemClock) SetOffset(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = d
}
