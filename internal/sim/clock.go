package sim

import "time"

// Clock counts simulated periods and maps them onto calendar dates.
type Clock struct {
	start      time.Time
	stepMonths int
	period     int
}

// NewClock returns a clock at period 0 dated start. Each tick advances
// the date by stepMonths calendar months.
func NewClock(start time.Time, stepMonths int) *Clock {
	return &Clock{start: start, stepMonths: stepMonths}
}

// Tick advances the clock by one period.
func (c *Clock) Tick() { c.period++ }

// Period returns the number of completed ticks.
func (c *Clock) Period() int { return c.period }

// Date returns the calendar date of the current period.
func (c *Clock) Date() time.Time {
	return c.start.AddDate(0, c.stepMonths*c.period, 0)
}

// Reset rewinds the clock to period 0.
func (c *Clock) Reset() { c.period = 0 }
