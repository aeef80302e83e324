// Package clock anchors calendar questions to one fixed wall-clock reference.
package clock

import (
	"fmt"
	"time"

	"streakline/internal/domain"
)

// DefaultCutoffHour is the hour before which yesterday may still be backfilled.
const DefaultCutoffHour = 7

type Clock struct {
	Location *time.Location
	Now      func() time.Time
}

// New returns a clock for the named IANA zone. An empty name or "Local" uses
// the process location.
func New(zone string) (Clock, error) {
	loc := time.Local
	if zone != "" && zone != "Local" {
		l, err := time.LoadLocation(zone)
		if err != nil {
			return Clock{}, fmt.Errorf("load timezone %s: %w", zone, err)
		}
		loc = l
	}
	return Clock{Location: loc, Now: time.Now}, nil
}

// Fixed returns a clock frozen at t, in t's location.
func Fixed(t time.Time) Clock {
	return Clock{Location: t.Location(), Now: func() time.Time { return t }}
}

func (c Clock) now() time.Time {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	return now().In(loc)
}

func (c Clock) Current() time.Time { return c.now() }

func (c Clock) Today() domain.Date { return domain.DateOf(c.now()) }

func (c Clock) Yesterday() domain.Date { return c.Today().AddDays(-1) }

// DayOfWeek returns 0 for Sunday through 6 for Saturday.
func (c Clock) DayOfWeek() int { return int(c.now().Weekday()) }

func (c Clock) IsBeforeCutoff(hour int) bool { return c.now().Hour() < hour }

// Timestamp formats the current instant for audit fields.
func (c Clock) Timestamp() string { return c.now().UTC().Format(time.RFC3339) }
