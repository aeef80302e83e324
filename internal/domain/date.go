package domain

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar day formatted as YYYY-MM-DD. The zero value means unknown.
type Date string

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	return Date(t.Format(dateLayout))
}

// ParseDate validates a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	if _, err := time.Parse(dateLayout, s); err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date(s), nil
}

func (d Date) String() string { return string(d) }

func (d Date) IsZero() bool { return d == "" }

// Time returns midnight UTC of the day. Calendar arithmetic is done in UTC so
// daylight saving shifts never skip or repeat a day.
func (d Date) Time() time.Time {
	t, err := time.Parse(dateLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return t
}

func (d Date) AddDays(n int) Date {
	t := d.Time()
	if t.IsZero() {
		return d
	}
	return DateOf(t.AddDate(0, 0, n))
}

func (d Date) Weekday() time.Weekday {
	return d.Time().Weekday()
}

func (d Date) Before(other Date) bool { return d < other }

func (d Date) After(other Date) bool { return d > other }

// DaysBetween returns the number of days from a to b (negative when b is before a).
func DaysBetween(a, b Date) int {
	return int(b.Time().Sub(a.Time()).Hours() / 24)
}

// WeekStart returns the Sunday that starts d's calendar week.
func (d Date) WeekStart() Date {
	return d.AddDays(-int(d.Weekday()))
}
