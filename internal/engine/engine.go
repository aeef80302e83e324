package engine

import (
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"streakline/internal/clock"
	"streakline/internal/domain"
)

// Policy holds the accounting knobs that are configurable per deployment.
type Policy struct {
	CutoffHour         int
	MissedLookbackDays int
	NeglectDays        int
	// ExemptionsNeutral makes an exempt day count as neither completed nor
	// missed. When false an exempt day is treated like any other
	// non-completed day.
	ExemptionsNeutral bool
}

func DefaultPolicy() Policy {
	return Policy{
		CutoffHour:         clock.DefaultCutoffHour,
		MissedLookbackDays: 30,
		NeglectDays:        3,
		ExemptionsNeutral:  true,
	}
}

func (p Policy) cutoff() int {
	if p.CutoffHour <= 0 {
		return clock.DefaultCutoffHour
	}
	return p.CutoffHour
}

func (p Policy) lookback() int {
	if p.MissedLookbackDays <= 0 {
		return 30
	}
	return p.MissedLookbackDays
}

func (p Policy) neglectDays() int {
	if p.NeglectDays <= 0 {
		return 3
	}
	return p.NeglectDays
}

// Engine applies commands to the aggregate and derives accounting values from
// it. It owns no data and does no I/O.
type Engine struct {
	Agg    *domain.Aggregate
	Clock  clock.Clock
	Policy Policy
	Logger *zap.Logger
}

func New(agg *domain.Aggregate, clk clock.Clock, policy Policy, logger *zap.Logger) Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Engine{Agg: agg, Clock: clk, Policy: policy, Logger: logger}
}

func (e Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

func (e Engine) participant(id string) (*domain.Participant, error) {
	p, ok := e.Agg.Participant(id)
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

// Participant returns a copy of the participant record.
func (e Engine) Participant(id string) (domain.Participant, error) {
	p, err := e.participant(id)
	if err != nil {
		return domain.Participant{}, err
	}
	return *p, nil
}

func (e Engine) record(evtType, entityID, actorID string, payload map[string]any) {
	e.Agg.Record(domain.PendingEvent{
		Type:       evtType,
		EntityKind: "participant",
		EntityID:   entityID,
		ActorID:    actorID,
		Payload:    payload,
	})
}

// Enrollment carries the answers collected by the registration dialogue.
type Enrollment struct {
	ID     string
	Name   string
	Goal   string
	Pledge decimal.Decimal
}

// Enroll creates a new participant registered today.
func (e Engine) Enroll(in Enrollment) (domain.Participant, error) {
	if _, ok := e.Agg.Participant(in.ID); ok {
		return domain.Participant{}, ErrAlreadyRegistered
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = in.ID
	}
	p := &domain.Participant{
		ID:             in.ID,
		Name:           name,
		Goal:           strings.TrimSpace(in.Goal),
		Pledge:         in.Pledge,
		RegisteredDate: e.Clock.Today(),
		Active:         true,
		TotalDonations: decimal.Zero,
	}
	if err := p.Validate(); err != nil {
		return domain.Participant{}, err
	}
	e.Agg.PutParticipant(p)
	e.record("participant.registered", p.ID, p.ID, map[string]any{
		"goal":   p.Goal,
		"pledge": p.Pledge.String(),
	})
	e.logger().Info("participant registered", zap.String("participant_id", p.ID), zap.String("name", p.Name))
	return *p, nil
}

// LogResult describes a successful log write.
type LogResult struct {
	Date   domain.Date     `json:"date"`
	Entry  domain.LogEntry `json:"entry"`
	Streak int             `json:"streak"`
}

// RecordDailyLog marks today completed.
func (e Engine) RecordDailyLog(participantID, notes string) (LogResult, error) {
	p, err := e.participant(participantID)
	if err != nil {
		return LogResult{}, err
	}
	if p.Paused {
		return LogResult{}, ErrPaused
	}
	today := e.Clock.Today()
	if e.Completed(participantID, today) {
		return LogResult{}, ErrAlreadyLogged
	}
	entry := e.Agg.SetLog(participantID, today, domain.LogEntry{
		Completed: true,
		Type:      domain.LogDaily,
		Notes:     strings.TrimSpace(notes),
	}, e.Clock.Current())
	p.LastLogDate = &today
	p.Warned = false
	streak, _ := e.ComputeStreak(participantID)
	e.record("log.daily", participantID, participantID, map[string]any{"date": today.String(), "streak": streak})
	e.logger().Info("participant logged", zap.String("participant_id", participantID), zap.Int("streak", streak))
	return LogResult{Date: today, Entry: entry, Streak: streak}, nil
}

// RecordBackfillLog marks yesterday completed while the cutoff window is open.
func (e Engine) RecordBackfillLog(participantID, notes string) (LogResult, error) {
	p, err := e.participant(participantID)
	if err != nil {
		return LogResult{}, err
	}
	if p.Paused {
		return LogResult{}, ErrPaused
	}
	if !e.Clock.IsBeforeCutoff(e.Policy.cutoff()) {
		return LogResult{}, ErrCutoffPassed
	}
	today := e.Clock.Today()
	yesterday := today.AddDays(-1)
	if e.Completed(participantID, yesterday) {
		return LogResult{}, ErrYesterdayLogged
	}
	if e.Completed(participantID, today) {
		return LogResult{}, ErrTodayLogged
	}
	notes = strings.TrimSpace(notes)
	if notes == "" {
		notes = "Backfilled after the day ended"
	}
	entry := e.Agg.SetLog(participantID, yesterday, domain.LogEntry{
		Completed: true,
		Type:      domain.LogForgot,
		Notes:     notes,
	}, e.Clock.Current())
	p.LastLogDate = &yesterday
	p.Warned = false
	streak, _ := e.ComputeStreak(participantID)
	e.record("log.backfill", participantID, participantID, map[string]any{"date": yesterday.String()})
	e.logger().Info("participant backfilled", zap.String("participant_id", participantID), zap.String("date", yesterday.String()))
	return LogResult{Date: yesterday, Entry: entry, Streak: streak}, nil
}

// RecordExemption marks today exempt with a reason.
func (e Engine) RecordExemption(participantID, reason string) (LogResult, error) {
	p, err := e.participant(participantID)
	if err != nil {
		return LogResult{}, err
	}
	if p.Paused {
		return LogResult{}, ErrPaused
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return LogResult{}, ErrEmptyReason
	}
	today := e.Clock.Today()
	existing, ok := e.Agg.GetLog(participantID, today)
	if ok && existing.Completed {
		return LogResult{}, ErrAlreadyLogged
	}
	if ok && existing.Exempt {
		return LogResult{}, ErrAlreadyExempt
	}
	entry := e.Agg.SetLog(participantID, today, domain.LogEntry{
		Exempt: true,
		Type:   domain.LogExemption,
		Reason: reason,
		Notes:  "Exemption: " + reason,
	}, e.Clock.Current())
	streak, _ := e.ComputeStreak(participantID)
	e.record("log.exemption", participantID, participantID, map[string]any{"date": today.String(), "reason": reason})
	e.logger().Info("participant exempted", zap.String("participant_id", participantID), zap.String("reason", reason))
	return LogResult{Date: today, Entry: entry, Streak: streak}, nil
}
