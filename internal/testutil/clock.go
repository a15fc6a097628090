package testutil

import (
	"sync"
	"time"

	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// Clock is a settable wall clock for tests.
//
// Stores and services take a func() time.Time; pass Clock.Now so the
// same scenario produces the same timestamps and due dates on every run.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock reading t (converted to UTC).
func NewClock(t time.Time) *Clock {
	return &Clock{now: t.UTC()}
}

// NewClockOn creates a clock at 09:00 UTC on the given date ("2006-01-02").
func NewClockOn(date string) *Clock {
	d := row.MustDate(date)
	return NewClock(d.Time().Add(9 * time.Hour))
}

// Now returns the current reading.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Today returns the calendar date of the current reading.
func (c *Clock) Today() row.Date {
	return row.DateOf(c.Now())
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// AdvanceDays moves the clock forward by n calendar days.
func (c *Clock) AdvanceDays(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.AddDate(0, 0, n)
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}
