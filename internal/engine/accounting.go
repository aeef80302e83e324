package engine

import (
	"github.com/shopspring/decimal"

	"streakline/internal/domain"
)

// ComputeStreak counts consecutive completed days ending today. A day without
// a completed log ends the walk; with neutral exemptions an exempt day on or
// after registration is skipped instead.
func (e Engine) ComputeStreak(participantID string) (int, error) {
	p, err := e.participant(participantID)
	if err != nil {
		return 0, err
	}
	streak := 0
	day := e.Clock.Today()
	for {
		entry, ok := e.Agg.GetLog(participantID, day)
		switch {
		case ok && entry.Completed:
			streak++
		case ok && entry.Exempt && e.Policy.ExemptionsNeutral && !beforeRegistration(p, day):
		default:
			return streak, nil
		}
		day = day.AddDays(-1)
	}
}

// ComputeMissedDays counts days from registration (or the lookback window when
// the registration date is unknown) up to but excluding today that lack a
// completed log.
func (e Engine) ComputeMissedDays(participantID string) (int, error) {
	p, err := e.participant(participantID)
	if err != nil {
		return 0, err
	}
	today := e.Clock.Today()
	start := p.RegisteredDate
	if start.IsZero() {
		start = today.AddDays(-e.Policy.lookback())
	}
	missed := 0
	for day := start; day.Before(today); day = day.AddDays(1) {
		if e.missed(p, day) {
			missed++
		}
	}
	return missed, nil
}

// HasMissedThreeConsecutiveDays inspects only the days immediately preceding
// today (yesterday, day-2, day-3).
func (e Engine) HasMissedThreeConsecutiveDays(participantID string) (bool, error) {
	p, err := e.participant(participantID)
	if err != nil {
		return false, err
	}
	window := e.Policy.neglectDays()
	day := e.Clock.Yesterday()
	run := 0
	for i := 0; i < window; i++ {
		if !e.missed(p, day) {
			break
		}
		run++
		day = day.AddDays(-1)
	}
	return run >= window, nil
}

// DonationBalance is missed days times pledge minus donations, floored at zero.
func (e Engine) DonationBalance(participantID string) (decimal.Decimal, error) {
	p, err := e.participant(participantID)
	if err != nil {
		return decimal.Zero, err
	}
	missed, err := e.ComputeMissedDays(participantID)
	if err != nil {
		return decimal.Zero, err
	}
	return balance(missed, p.Pledge, p.TotalDonations), nil
}

func balance(missed int, pledge, donations decimal.Decimal) decimal.Decimal {
	owed := decimal.NewFromInt(int64(missed)).Mul(pledge).Sub(donations)
	if owed.IsNegative() {
		return decimal.Zero
	}
	return owed
}

// DaysCovered is how many whole missed days a payment pays for. A zero pledge
// covers nothing.
func DaysCovered(amount, pledge decimal.Decimal) int64 {
	if !pledge.IsPositive() || !amount.IsPositive() {
		return 0
	}
	return amount.Div(pledge).Floor().IntPart()
}

// Completed reports whether the participant has a completed log for day.
func (e Engine) Completed(participantID string, day domain.Date) bool {
	entry, ok := e.Agg.GetLog(participantID, day)
	return ok && entry.Completed
}

// Tally counts completed, missed and exempt days in [from, to].
func (e Engine) Tally(participantID string, from, to domain.Date) (completed, missed, exempt int, err error) {
	p, err := e.participant(participantID)
	if err != nil {
		return 0, 0, 0, err
	}
	for day := from; !day.After(to); day = day.AddDays(1) {
		entry, ok := e.Agg.GetLog(participantID, day)
		switch {
		case ok && entry.Completed:
			completed++
		case e.missed(p, day):
			missed++
		case ok && entry.Exempt:
			exempt++
		}
	}
	return completed, missed, exempt, nil
}

// missed decides whether a day counts against the participant. Days before
// registration never count.
func (e Engine) missed(p *domain.Participant, day domain.Date) bool {
	if beforeRegistration(p, day) {
		return false
	}
	entry, ok := e.Agg.GetLog(p.ID, day)
	if !ok {
		return true
	}
	if entry.Completed {
		return false
	}
	return !(entry.Exempt && e.Policy.ExemptionsNeutral)
}

func beforeRegistration(p *domain.Participant, day domain.Date) bool {
	return !p.RegisteredDate.IsZero() && day.Before(p.RegisteredDate)
}
