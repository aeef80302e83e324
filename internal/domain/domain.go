package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	GoalMinLength = 3
	GoalMaxLength = 100
)

// MaxPledge is the largest amount a participant may pledge per missed day.
var MaxPledge = decimal.NewFromInt(1000)

type Participant struct {
	ID              string          `json:"id" validate:"required"`
	Name            string          `json:"name"`
	Goal            string          `json:"goal" validate:"min=3,max=100"`
	Pledge          decimal.Decimal `json:"pledge" validate:"gte=0,lte=1000"`
	RegisteredDate  Date            `json:"registered_date"`
	Active          bool            `json:"active"`
	Paused          bool            `json:"paused"`
	Warned          bool            `json:"warned"`
	LastLogDate     *Date           `json:"last_log_date,omitempty"`
	PauseDate       *string         `json:"pause_date,omitempty" format:"date-time"`
	ResumeDate      *string         `json:"resume_date,omitempty" format:"date-time"`
	LastPaymentDate *string         `json:"last_payment_date,omitempty" format:"date-time"`
	TotalDonations  decimal.Decimal `json:"total_donations" validate:"gte=0"`
}

// Tracked reports whether the participant takes part in daily evaluation.
func (p *Participant) Tracked() bool {
	return p.Active && !p.Paused
}

// LogType tags how a log entry was written.
type LogType string

const (
	LogDaily     LogType = "daily_log"
	LogForgot    LogType = "forgot_log"
	LogExemption LogType = "exemption"
)

func (t LogType) Valid() bool {
	switch t {
	case LogDaily, LogForgot, LogExemption:
		return true
	}
	return false
}

func (t *LogType) UnmarshalText(b []byte) error {
	v := LogType(b)
	if !v.Valid() {
		return fmt.Errorf("unknown log type %q", string(b))
	}
	*t = v
	return nil
}

func (t LogType) MarshalText() ([]byte, error) {
	return []byte(t), nil
}

type LogEntry struct {
	Completed bool    `json:"completed"`
	Exempt    bool    `json:"exempt"`
	Type      LogType `json:"type" enum:"daily_log,forgot_log,exemption"`
	Reason    string  `json:"reason,omitempty"`
	Notes     string  `json:"notes,omitempty"`
	Timestamp string  `json:"timestamp" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey authenticates an integration (a chat bot front-end, a script) as an
// actor. Only the hash is stored.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
