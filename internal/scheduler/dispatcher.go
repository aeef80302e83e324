// Package scheduler maps calendar triggers to evaluation passes over the
// aggregate and binds those triggers to cron expressions.
package scheduler

import (
	"errors"
	"fmt"

	"streakline/internal/domain"
	"streakline/internal/engine"
	"streakline/internal/notify"
)

type Trigger string

var ErrUnknownTrigger = errors.New("unknown trigger")

const (
	TriggerDaily         Trigger = "daily"
	TriggerWeekly        Trigger = "weekly"
	TriggerFridayMorning Trigger = "friday-morning"
	TriggerFridayEvening Trigger = "friday-evening"
	TriggerNeglectSweep  Trigger = "neglect-sweep"
)

// Triggers lists every trigger in a stable order.
func Triggers() []Trigger {
	return []Trigger{TriggerDaily, TriggerWeekly, TriggerFridayMorning, TriggerFridayEvening, TriggerNeglectSweep}
}

func ParseTrigger(s string) (Trigger, error) {
	for _, t := range Triggers() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownTrigger, s)
}

// Dispatcher holds no state of its own; every pass reads the engine's
// aggregate at call time. The caller must serialize Dispatch with commands.
type Dispatcher struct {
	Engine engine.Engine
}

// Dispatch runs the pass bound to trigger and returns the facts to deliver.
func (d Dispatcher) Dispatch(trigger Trigger) ([]notify.Delivery, error) {
	switch trigger {
	case TriggerDaily:
		return d.daily(), nil
	case TriggerWeekly:
		return d.weekly()
	case TriggerFridayMorning:
		return d.fridayReminder(domain.ReminderMorning), nil
	case TriggerFridayEvening:
		return d.fridayReminder(domain.ReminderEvening), nil
	case TriggerNeglectSweep:
		return d.neglectSweep()
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownTrigger, trigger)
}

func (d Dispatcher) daily() []notify.Delivery {
	board := d.Engine.Board()
	summary := domain.DailySummary{Date: board.Date, Completed: []string{}, Pending: []string{}}
	for _, row := range board.Rows {
		if row.LoggedToday {
			summary.Completed = append(summary.Completed, row.Name)
		} else {
			summary.Pending = append(summary.Pending, row.Name)
		}
	}
	summary.CompletedCount = len(summary.Completed)
	summary.PendingCount = len(summary.Pending)
	return []notify.Delivery{{Target: notify.Channel(), Fact: summary}}
}

// weekly reports on the Sun-Sat week containing yesterday, counted up to
// yesterday, so a Sunday run covers the week that just ended.
func (d Dispatcher) weekly() ([]notify.Delivery, error) {
	yesterday := d.Engine.Clock.Yesterday()
	start := yesterday.WeekStart()
	end := start.AddDays(6)
	var out []notify.Delivery
	for _, p := range d.Engine.Agg.ActiveParticipants() {
		completed, missed, exempt, err := d.Engine.Tally(p.ID, start, yesterday)
		if err != nil {
			return nil, err
		}
		streak, err := d.Engine.ComputeStreak(p.ID)
		if err != nil {
			return nil, err
		}
		due, err := d.Engine.DonationBalance(p.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, notify.Delivery{
			Target: notify.Private(p.ID),
			Fact: domain.WeeklyReport{
				ParticipantID: p.ID,
				Name:          p.Name,
				Goal:          p.Goal,
				WeekStart:     start,
				WeekEnd:       end,
				CompletedDays: completed,
				MissedDays:    missed,
				ExemptDays:    exempt,
				Streak:        streak,
				Balance:       due,
			},
		})
	}
	return out, nil
}

func (d Dispatcher) fridayReminder(variant domain.ReminderVariant) []notify.Delivery {
	if d.Engine.Clock.DayOfWeek() != 5 {
		return nil
	}
	return []notify.Delivery{{
		Target: notify.Channel(),
		Fact:   domain.FridayReminder{Date: d.Engine.Clock.Today(), Variant: variant},
	}}
}

func (d Dispatcher) neglectSweep() ([]notify.Delivery, error) {
	var out []notify.Delivery
	for _, p := range d.Engine.Agg.ActiveParticipants() {
		paused, err := d.Engine.AutoPause(p.ID)
		if err != nil {
			return out, err
		}
		if !paused {
			continue
		}
		missed, err := d.Engine.ComputeMissedDays(p.ID)
		if err != nil {
			return out, err
		}
		out = append(out, notify.Delivery{
			Target: notify.Private(p.ID),
			Fact: domain.NeglectWarning{
				ParticipantID: p.ID,
				Name:          p.Name,
				Date:          d.Engine.Clock.Today(),
				MissedDays:    missed,
			},
		})
	}
	return out, nil
}
