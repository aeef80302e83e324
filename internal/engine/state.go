package engine

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"streakline/internal/domain"
)

// Pause moves an active participant to Paused on their own request.
func (e Engine) Pause(participantID string) (domain.Participant, error) {
	p, err := e.participant(participantID)
	if err != nil {
		return domain.Participant{}, err
	}
	if p.Paused {
		return domain.Participant{}, ErrAlreadyPaused
	}
	ts := e.Clock.Timestamp()
	p.Paused = true
	p.PauseDate = &ts
	e.record("participant.paused", p.ID, p.ID, map[string]any{"reason": "leave"})
	e.logger().Info("participant paused", zap.String("participant_id", p.ID))
	return *p, nil
}

// Resume moves a paused participant back to Active and clears the neglect latch.
func (e Engine) Resume(participantID string) (domain.Participant, error) {
	p, err := e.participant(participantID)
	if err != nil {
		return domain.Participant{}, err
	}
	if !p.Paused {
		return domain.Participant{}, ErrNotPaused
	}
	ts := e.Clock.Timestamp()
	p.Paused = false
	p.Warned = false
	p.ResumeDate = &ts
	e.record("participant.resumed", p.ID, p.ID, nil)
	e.logger().Info("participant resumed", zap.String("participant_id", p.ID))
	return *p, nil
}

// AutoPause pauses a tracked participant who missed the neglect window and
// has not been warned yet. It reports whether a transition happened, so a
// neglect episode fires at most once until the participant logs or resumes.
func (e Engine) AutoPause(participantID string) (bool, error) {
	p, err := e.participant(participantID)
	if err != nil {
		return false, err
	}
	if !p.Tracked() || p.Warned {
		return false, nil
	}
	neglected, err := e.HasMissedThreeConsecutiveDays(participantID)
	if err != nil || !neglected {
		return false, err
	}
	ts := e.Clock.Timestamp()
	p.Paused = true
	p.Warned = true
	p.PauseDate = &ts
	e.record("participant.auto_paused", p.ID, "scheduler", map[string]any{"date": e.Clock.Today().String()})
	e.logger().Info("participant auto-paused", zap.String("participant_id", p.ID))
	return true, nil
}

// ExitResult summarizes what was removed on exit.
type ExitResult struct {
	Participant    domain.Participant `json:"participant"`
	RemovedLogs    int                `json:"removed_logs"`
	OutstandingDue decimal.Decimal    `json:"outstanding_due"`
}

// Exit hard-deletes the participant and every log entry they own. The audit
// event keeps the balance that was outstanding at the time.
func (e Engine) Exit(participantID string) (ExitResult, error) {
	p, err := e.participant(participantID)
	if err != nil {
		return ExitResult{}, err
	}
	due, err := e.DonationBalance(participantID)
	if err != nil {
		return ExitResult{}, err
	}
	snapshot := *p
	e.Agg.DeleteParticipant(participantID)
	removed := e.Agg.DeleteParticipantLogs(participantID)
	e.record("participant.exited", participantID, participantID, map[string]any{
		"name":            snapshot.Name,
		"removed_logs":    removed,
		"outstanding_due": due.String(),
		"total_donations": snapshot.TotalDonations.String(),
	})
	e.logger().Info("participant exited", zap.String("participant_id", participantID), zap.Int("removed_logs", removed))
	return ExitResult{Participant: snapshot, RemovedLogs: removed, OutstandingDue: due}, nil
}

// RecordPayment adds amount to the participant's donations. The balance is
// always derived, so nothing else is decremented.
func (e Engine) RecordPayment(actorID, participantID string, amount decimal.Decimal) (domain.PaymentReceipt, error) {
	if !amount.IsPositive() {
		return domain.PaymentReceipt{}, ErrInvalidAmount
	}
	p, err := e.participant(participantID)
	if err != nil {
		return domain.PaymentReceipt{}, err
	}
	ts := e.Clock.Timestamp()
	p.TotalDonations = p.TotalDonations.Add(amount)
	p.LastPaymentDate = &ts
	due, err := e.DonationBalance(participantID)
	if err != nil {
		return domain.PaymentReceipt{}, err
	}
	e.record("payment.recorded", p.ID, actorID, map[string]any{"amount": amount.String()})
	e.logger().Info("payment recorded",
		zap.String("participant_id", p.ID),
		zap.String("amount", amount.String()),
		zap.String("recorded_by", actorID))
	return domain.PaymentReceipt{
		ParticipantID:  p.ID,
		Name:           p.Name,
		Amount:         amount,
		DaysCovered:    DaysCovered(amount, p.Pledge),
		TotalDonations: p.TotalDonations,
		Balance:        due,
		RecordedBy:     actorID,
	}, nil
}

// Stats is the private progress summary of one participant.
type Stats struct {
	Participant    domain.Participant `json:"participant"`
	Streak         int                `json:"streak"`
	MissedDays     int                `json:"missed_days"`
	Balance        decimal.Decimal    `json:"balance"`
	DaysRegistered int                `json:"days_registered"`
	CompletionRate decimal.Decimal    `json:"completion_rate"`
	LoggedToday    bool               `json:"logged_today"`
}

func (e Engine) Stats(participantID string) (Stats, error) {
	p, err := e.participant(participantID)
	if err != nil {
		return Stats{}, err
	}
	streak, err := e.ComputeStreak(participantID)
	if err != nil {
		return Stats{}, err
	}
	missed, err := e.ComputeMissedDays(participantID)
	if err != nil {
		return Stats{}, err
	}
	today := e.Clock.Today()
	days := 0
	if !p.RegisteredDate.IsZero() {
		days = domain.DaysBetween(p.RegisteredDate, today) + 1
	}
	rate := decimal.Zero
	if days > 0 {
		rate = decimal.NewFromInt(int64(days - missed)).
			Div(decimal.NewFromInt(int64(days))).
			Mul(decimal.NewFromInt(100)).
			Round(1)
	}
	return Stats{
		Participant:    *p,
		Streak:         streak,
		MissedDays:     missed,
		Balance:        balance(missed, p.Pledge, p.TotalDonations),
		DaysRegistered: days,
		CompletionRate: rate,
		LoggedToday:    e.Completed(participantID, today),
	}, nil
}

// Board is the public status of every tracked participant for today.
type Board struct {
	Date        domain.Date `json:"date"`
	Rows        []BoardRow  `json:"rows"`
	LoggedCount int         `json:"logged_count"`
	Total       int         `json:"total"`
}

type BoardRow struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
	LoggedToday   bool   `json:"logged_today"`
}

func (e Engine) Board() Board {
	today := e.Clock.Today()
	b := Board{Date: today, Rows: []BoardRow{}}
	for _, p := range e.Agg.ActiveParticipants() {
		logged := e.Completed(p.ID, today)
		if logged {
			b.LoggedCount++
		}
		b.Rows = append(b.Rows, BoardRow{ParticipantID: p.ID, Name: p.Name, LoggedToday: logged})
	}
	b.Total = len(b.Rows)
	return b
}

// Setup points broadcast facts at a channel.
func (e Engine) Setup(actorID, guildID, channelID string) {
	e.Agg.GuildID = guildID
	e.Agg.ChannelID = channelID
	e.Agg.Record(domain.PendingEvent{
		Type:       "channel.configured",
		EntityKind: "channel",
		EntityID:   channelID,
		ActorID:    actorID,
		Payload:    map[string]any{"guild_id": guildID},
	})
	e.logger().Info("broadcast channel configured", zap.String("channel_id", channelID))
}
