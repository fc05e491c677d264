package sla

import (
	"fmt"
	"time"
)

// Tier is the urgency level of a deadline. Higher values are more urgent.
type Tier int

const (
	TierNone Tier = iota
	TierPlenty
	TierApproaching
	TierOverdue
)

func (t Tier) String() string {
	switch t {
	case TierPlenty:
		return "plenty"
	case TierApproaching:
		return "approaching"
	case TierOverdue:
		return "overdue"
	default:
		return "none"
	}
}

// approachingFraction is the share of the SLA window left at which a
// deadline is shown as approaching.
const approachingFraction = 4

// DefaultTickInterval is how often the countdown is refreshed.
const DefaultTickInterval = 5 * time.Second

// FormatTimer renders the time left until deadline as "Xh Ym", or the time
// elapsed since it as "-Xh Ym" once now has reached the deadline.
func FormatTimer(deadline, now time.Time) string {
	d := deadline.Sub(now)
	sign := ""
	if d <= 0 {
		sign = "-"
		d = -d
	}

	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)

	return fmt.Sprintf("%s%dh %dm", sign, hours, minutes)
}

// FormatDeadline renders the deadline's wall clock time in loc. Deadlines on
// another day carry the weekday.
func FormatDeadline(deadline, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	d := deadline.In(loc)
	n := now.In(loc)

	if d.Year() == n.Year() && d.YearDay() == n.YearDay() {
		return d.Format("15:04")
	}
	return d.Format("Mon 15:04")
}

// StatusIcon maps the time left until deadline to a tier. window is the
// configured SLA length.
func StatusIcon(deadline, now time.Time, window time.Duration) Tier {
	remaining := deadline.Sub(now)
	switch {
	case remaining <= 0:
		return TierOverdue
	case remaining <= window/approachingFraction:
		return TierApproaching
	default:
		return TierPlenty
	}
}

// Clock holds the single deadline being counted down and its tick handle.
// It is not safe for concurrent use; the session machine owns it.
type Clock struct {
	interval time.Duration
	deadline time.Time
	active   bool
	ticker   *time.Ticker
}

func NewClock(interval time.Duration) *Clock {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Clock{interval: interval}
}

// Update replaces the current deadline and restarts ticking against it.
func (c *Clock) Update(deadline time.Time) {
	c.stopTicker()
	c.deadline = deadline
	c.active = true
	c.ticker = time.NewTicker(c.interval)
}

// Stop halts ticking and forgets the deadline. Calling Stop on a stopped
// clock does nothing.
func (c *Clock) Stop() {
	c.stopTicker()
	c.deadline = time.Time{}
	c.active = false
}

// C returns the tick channel, or nil while stopped so a select on it blocks.
func (c *Clock) C() <-chan time.Time {
	if c.ticker == nil {
		return nil
	}
	return c.ticker.C
}

// Deadline returns the active deadline and whether the clock is running.
func (c *Clock) Deadline() (time.Time, bool) {
	return c.deadline, c.active
}

// Read formats the active deadline at now. ok is false while stopped.
func (c *Clock) Read(now time.Time, window time.Duration) (text string, tier Tier, ok bool) {
	if !c.active {
		return "", TierNone, false
	}
	return FormatTimer(c.deadline, now), StatusIcon(c.deadline, now, window), true
}

func (c *Clock) stopTicker() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}
