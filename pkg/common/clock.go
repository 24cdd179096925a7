package common

import (
	"sync"
	"time"
)

// Clock abstracts wall-clock access so that scheduling and lifecycle logic
// can be tested with a frozen time source. The system clock resolves the
// local timezone once; if that fails it silently falls back to UTC.
type Clock interface {
	Now() time.Time
	Today() time.Time
	TimeOfDay() (hour, minute, second int)
}

type systemClock struct {
	location *time.Location
}

var _ Clock = (*systemClock)(nil)

func NewSystemClock() *systemClock {
	location := time.Local
	if location == nil {
		location = time.UTC
	}

	return &systemClock{location: location}
}

func (c *systemClock) Now() time.Time {
	return time.Now().In(c.location)
}

func (c *systemClock) Today() time.Time {
	now := c.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.location)
}

func (c *systemClock) TimeOfDay() (int, int, int) {
	now := c.Now()
	return now.Hour(), now.Minute(), now.Second()
}

type FakeClock struct {
	mux sync.Mutex
	now time.Time
}

var _ Clock = (*FakeClock)(nil)

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.now
}

func (c *FakeClock) Today() time.Time {
	now := c.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

func (c *FakeClock) TimeOfDay() (int, int, int) {
	now := c.Now()
	return now.Hour(), now.Minute(), now.Second()
}

func (c *FakeClock) Set(now time.Time) {
	c.mux.Lock()
	c.now = now
	c.mux.Unlock()
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mux.Lock()
	c.now = c.now.Add(d)
	c.mux.Unlock()
}
