// Package window implements the time-windowed counter shared by the entitlement
// ledger and the per-account allowance counters. Windows never advance on their own:
// a counter is rolled over the next time it is touched.
package window

import (
	"time"
)

const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

// DefaultLocation is the fixed usage timezone (UTC+9, no daylight saving).
var DefaultLocation = time.FixedZone("JST", 9*60*60)

// Counter is the persisted state of one windowed quota.
type Counter struct {
	Used  int64
	Start time.Time
	End   time.Time
	Key   string
}

// Window decides when a counter's cycle is over and what the next one looks like.
type Window interface {
	// Expired reports whether c no longer covers now.
	Expired(c Counter, now time.Time) bool
	// Next returns an empty counter for the window containing now.
	Next(now time.Time) Counter
}

// Rollover resets c to the window containing now when its cycle has ended.
// It reports whether c changed.
func (c *Counter) Rollover(w Window, now time.Time) bool {
	if !w.Expired(*c, now) {
		return false
	}
	*c = w.Next(now)
	return true
}

// Remaining returns limit minus used, floored at zero.
func (c Counter) Remaining(limit int64) int64 {
	if left := limit - c.Used; left > 0 {
		return left
	}
	return 0
}

// Period is a rolling window that restarts at the first touch after it ends.
type Period struct {
	Length time.Duration
}

// Days returns a Period of n days.
func Days(n int) Period {
	return Period{Length: time.Duration(n) * 24 * time.Hour}
}

func (p Period) Expired(c Counter, now time.Time) bool {
	return !c.End.After(now)
}

func (p Period) Next(now time.Time) Counter {
	return Counter{Start: now, End: now.Add(p.Length)}
}

// Day is the calendar day in a fixed usage timezone.
type Day struct {
	Location *time.Location
}

func (d Day) Expired(c Counter, now time.Time) bool {
	return c.Key != UsageDay(now, d.Location)
}

func (d Day) Next(now time.Time) Counter {
	start := DayStart(now, d.Location)
	return Counter{
		Start: start.UTC(),
		End:   start.AddDate(0, 0, 1).UTC(),
		Key:   start.Format(dayLayout),
	}
}

// Month is the calendar month in a fixed usage timezone.
type Month struct {
	Location *time.Location
}

func (m Month) Expired(c Counter, now time.Time) bool {
	return c.Key != UsageMonth(now, m.Location)
}

func (m Month) Next(now time.Time) Counter {
	local := now.In(orDefault(m.Location))
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, local.Location())
	return Counter{
		Start: start.UTC(),
		End:   start.AddDate(0, 1, 0).UTC(),
		Key:   start.Format(monthLayout),
	}
}

// UsageDay converts an absolute time to its usage-day label (YYYY-MM-DD).
// Every bucketing by day goes through this function.
func UsageDay(t time.Time, loc *time.Location) string {
	return t.In(orDefault(loc)).Format(dayLayout)
}

// UsageMonth converts an absolute time to its usage-month label (YYYY-MM).
func UsageMonth(t time.Time, loc *time.Location) string {
	return t.In(orDefault(loc)).Format(monthLayout)
}

// DayStart returns local midnight of the usage day containing t.
func DayStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(orDefault(loc))
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
}

// ParseKind maps a configuration name to a calendar window.
func ParseKind(kind string, loc *time.Location) (Window, bool) {
	switch kind {
	case "day", "daily":
		return Day{Location: loc}, true
	case "month", "monthly":
		return Month{Location: loc}, true
	default:
		return nil, false
	}
}

func orDefault(loc *time.Location) *time.Location {
	if loc == nil {
		return DefaultLocation
	}
	return loc
}
