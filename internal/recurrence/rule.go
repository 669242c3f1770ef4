// Package recurrence expands repeating reservation schedules into concrete
// intervals, bounded by a rolling horizon and a per-rule watermark.
package recurrence

import (
	"errors"
	"time"

	"github.com/example/fleetshare/internal/persistence"
)

var (
	// ErrInvalidPattern indicates the rule pattern is not supported.
	ErrInvalidPattern = errors.New("recurrence: invalid pattern")
	// ErrInvalidTimezone indicates the rule timezone cannot be loaded.
	ErrInvalidTimezone = errors.New("recurrence: invalid timezone")
	// ErrNotFound is returned when the referenced rule does not exist.
	ErrNotFound = errors.New("recurrence: rule not found")
)

// WeekdayBit returns the mask bit for a weekday (Sunday = bit 0).
func WeekdayBit(day time.Weekday) int {
	return 1 << int(day)
}

// WeekdayMask builds a mask from the given weekdays.
func WeekdayMask(days ...time.Weekday) int {
	mask := 0
	for _, day := range days {
		mask |= WeekdayBit(day)
	}
	return mask
}

// DateOnly truncates a time to its UTC calendar date at midnight. Watermarks
// and generation windows are compared at this granularity.
func DateOnly(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// includesDate is the pure date-inclusion predicate per pattern variant. Both
// arguments must be UTC midnights.
func includesDate(rule persistence.RecurrenceRule, date time.Time) (bool, error) {
	interval := rule.Interval
	if interval < 1 {
		interval = 1
	}

	windowStart := DateOnly(rule.WindowStart)
	days := int(date.Sub(windowStart).Hours() / 24)
	if days < 0 {
		return false, nil
	}

	switch rule.Pattern {
	case persistence.RulePatternDaily:
		return days%interval == 0, nil
	case persistence.RulePatternWeekly:
		if rule.WeekdayMask&WeekdayBit(date.Weekday()) == 0 {
			return false, nil
		}
		return (days/7)%interval == 0, nil
	default:
		return false, ErrInvalidPattern
	}
}

// instanceBounds places the rule's time-of-day bounds on a calendar date in
// the rule's timezone and converts to UTC. The caller must have rejected
// EndMinute <= StartMinute beforehand; instances never cross midnight.
func instanceBounds(rule persistence.RecurrenceRule, date time.Time, loc *time.Location) (time.Time, time.Time) {
	year, month, day := date.Date()
	start := time.Date(year, month, day, rule.StartMinute/60, rule.StartMinute%60, 0, 0, loc)
	end := time.Date(year, month, day, rule.EndMinute/60, rule.EndMinute%60, 0, 0, loc)
	return start.UTC(), end.UTC()
}
