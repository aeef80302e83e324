package domain

import "github.com/shopspring/decimal"

// Fact is a structured notification payload. Rendering it into a message is
// left to whoever receives it.
type Fact interface {
	FactKind() string
}

const (
	FactDailySummary         = "daily_summary"
	FactWeeklyReport         = "weekly_report"
	FactFridayReminder       = "friday_reminder"
	FactNeglectWarning       = "neglect_warning"
	FactPaymentReceipt       = "payment_receipt"
	FactRegistrationTimedOut = "registration_timed_out"
	FactWelcome              = "welcome"
)

type DailySummary struct {
	Date           Date     `json:"date"`
	Completed      []string `json:"completed"`
	Pending        []string `json:"pending"`
	CompletedCount int      `json:"completed_count"`
	PendingCount   int      `json:"pending_count"`
}

func (DailySummary) FactKind() string { return FactDailySummary }

type WeeklyReport struct {
	ParticipantID string          `json:"participant_id"`
	Name          string          `json:"name"`
	Goal          string          `json:"goal"`
	WeekStart     Date            `json:"week_start"`
	WeekEnd       Date            `json:"week_end"`
	CompletedDays int             `json:"completed_days"`
	MissedDays    int             `json:"missed_days"`
	ExemptDays    int             `json:"exempt_days"`
	Streak        int             `json:"streak"`
	Balance       decimal.Decimal `json:"balance"`
}

func (WeeklyReport) FactKind() string { return FactWeeklyReport }

type ReminderVariant string

const (
	ReminderMorning ReminderVariant = "morning"
	ReminderEvening ReminderVariant = "evening"
)

type FridayReminder struct {
	Date    Date            `json:"date"`
	Variant ReminderVariant `json:"variant"`
}

func (FridayReminder) FactKind() string { return FactFridayReminder }

type NeglectWarning struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
	Date          Date   `json:"date"`
	MissedDays    int    `json:"missed_days"`
}

func (NeglectWarning) FactKind() string { return FactNeglectWarning }

type PaymentReceipt struct {
	ParticipantID  string          `json:"participant_id"`
	Name           string          `json:"name"`
	Amount         decimal.Decimal `json:"amount"`
	DaysCovered    int64           `json:"days_covered"`
	TotalDonations decimal.Decimal `json:"total_donations"`
	Balance        decimal.Decimal `json:"balance"`
	RecordedBy     string          `json:"recorded_by"`
}

func (PaymentReceipt) FactKind() string { return FactPaymentReceipt }

type RegistrationTimedOut struct {
	ParticipantID string `json:"participant_id"`
	Step          string `json:"step"`
}

func (RegistrationTimedOut) FactKind() string { return FactRegistrationTimedOut }

type Welcome struct {
	ParticipantID  string          `json:"participant_id"`
	Name           string          `json:"name"`
	Goal           string          `json:"goal"`
	Pledge         decimal.Decimal `json:"pledge"`
	RegisteredDate Date            `json:"registered_date"`
}

func (Welcome) FactKind() string { return FactWelcome }
