package server

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"streakline/internal/domain"
	"streakline/internal/engine"
	"streakline/internal/notify"
	"streakline/internal/registration"
)

type ParticipantResponse struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Goal            string  `json:"goal"`
	Pledge          string  `json:"pledge" example:"10.00"`
	RegisteredDate  string  `json:"registered_date" format:"date"`
	Active          bool    `json:"active"`
	Paused          bool    `json:"paused"`
	Warned          bool    `json:"warned"`
	LastLogDate     *string `json:"last_log_date,omitempty" format:"date"`
	PauseDate       *string `json:"pause_date,omitempty" format:"date-time"`
	ResumeDate      *string `json:"resume_date,omitempty" format:"date-time"`
	LastPaymentDate *string `json:"last_payment_date,omitempty" format:"date-time"`
	TotalDonations  string  `json:"total_donations" example:"30.00"`
}

type StreakResponse struct {
	Participant    ParticipantResponse `json:"participant"`
	Streak         int                 `json:"streak"`
	MissedDays     int                 `json:"missed_days"`
	Balance        string              `json:"balance" example:"20.00"`
	DaysRegistered int                 `json:"days_registered"`
	CompletionRate string              `json:"completion_rate" example:"85.7"`
	LoggedToday    bool                `json:"logged_today"`
}

type LogResponse struct {
	Date      string `json:"date" format:"date"`
	Type      string `json:"type" enum:"daily_log,forgot_log,exemption"`
	Completed bool   `json:"completed"`
	Exempt    bool   `json:"exempt"`
	Reason    string `json:"reason,omitempty"`
	Notes     string `json:"notes,omitempty"`
	Timestamp string `json:"timestamp" format:"date-time"`
	Streak    int    `json:"streak"`
}

type LogRequest struct {
	Notes string `json:"notes,omitempty" maxLength:"500"`
}

func (r *LogRequest) notes() string {
	if r == nil {
		return ""
	}
	return r.Notes
}

type ExemptRequest struct {
	Reason string `json:"reason" minLength:"1" maxLength:"200"`
}

type BoardRowResponse struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
	LoggedToday   bool   `json:"logged_today"`
}

type BoardResponse struct {
	Date        string             `json:"date" format:"date"`
	Rows        []BoardRowResponse `json:"rows"`
	LoggedCount int                `json:"logged_count"`
	Total       int                `json:"total"`
}

type RegistrationStartRequest struct {
	Name string `json:"name,omitempty" maxLength:"100"`
}

type RegistrationInputRequest struct {
	Input string `json:"input"`
}

type RegistrationResponse struct {
	Step        string               `json:"step" enum:"awaiting_goal,awaiting_pledge,completed"`
	Goal        string               `json:"goal,omitempty"`
	Participant *ParticipantResponse `json:"participant,omitempty"`
}

type ExitResponse struct {
	ParticipantID  string `json:"participant_id"`
	RemovedLogs    int    `json:"removed_logs"`
	OutstandingDue string `json:"outstanding_due"`
}

type PaymentRequest struct {
	Participant string `json:"participant" doc:"Mention, id or @name of the payer"`
	Amount      string `json:"amount" example:"25.00"`
}

type PaymentResponse struct {
	ParticipantID  string `json:"participant_id"`
	Name           string `json:"name"`
	Amount         string `json:"amount"`
	DaysCovered    int64  `json:"days_covered"`
	TotalDonations string `json:"total_donations"`
	Balance        string `json:"balance"`
	RecordedBy     string `json:"recorded_by"`
}

type SetupRequest struct {
	GuildID   string `json:"guild_id,omitempty"`
	ChannelID string `json:"channel_id" minLength:"1"`
}

type DeliveryResponse struct {
	Kind          string `json:"kind"`
	ParticipantID string `json:"participant_id,omitempty"`
	Broadcast     bool   `json:"broadcast"`
	Fact          any    `json:"fact"`
}

type TriggerResponse struct {
	Trigger    string             `json:"trigger"`
	Deliveries []DeliveryResponse `json:"deliveries"`
}

type NotificationsResponse struct {
	Items []DeliveryResponse `json:"items"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	ActorID    string `json:"actor_id"`
	Source     string `json:"source" enum:"jwt,api_key,legacy_header"`
	Registered bool   `json:"registered"`
	Admin      bool   `json:"admin"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Conversion helpers

// money renders amounts with two decimals.
func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func participantResponse(p domain.Participant) ParticipantResponse {
	res := ParticipantResponse{
		ID:              p.ID,
		Name:            p.Name,
		Goal:            p.Goal,
		Pledge:          money(p.Pledge),
		RegisteredDate:  string(p.RegisteredDate),
		Active:          p.Active,
		Paused:          p.Paused,
		Warned:          p.Warned,
		PauseDate:       p.PauseDate,
		ResumeDate:      p.ResumeDate,
		LastPaymentDate: p.LastPaymentDate,
		TotalDonations:  money(p.TotalDonations),
	}
	if p.LastLogDate != nil {
		res.LastLogDate = strPtr(string(*p.LastLogDate))
	}
	return res
}

func streakResponse(s engine.Stats) StreakResponse {
	return StreakResponse{
		Participant:    participantResponse(s.Participant),
		Streak:         s.Streak,
		MissedDays:     s.MissedDays,
		Balance:        money(s.Balance),
		DaysRegistered: s.DaysRegistered,
		CompletionRate: s.CompletionRate.StringFixed(1),
		LoggedToday:    s.LoggedToday,
	}
}

func logResponse(r engine.LogResult) LogResponse {
	return LogResponse{
		Date:      string(r.Date),
		Type:      string(r.Entry.Type),
		Completed: r.Entry.Completed,
		Exempt:    r.Entry.Exempt,
		Reason:    r.Entry.Reason,
		Notes:     r.Entry.Notes,
		Timestamp: r.Entry.Timestamp,
		Streak:    r.Streak,
	}
}

func boardResponse(b engine.Board) BoardResponse {
	res := BoardResponse{
		Date:        string(b.Date),
		Rows:        make([]BoardRowResponse, 0, len(b.Rows)),
		LoggedCount: b.LoggedCount,
		Total:       b.Total,
	}
	for _, row := range b.Rows {
		res.Rows = append(res.Rows, BoardRowResponse(row))
	}
	return res
}

func registrationResponse(out registration.Outcome) RegistrationResponse {
	res := RegistrationResponse{Step: string(out.Step), Goal: out.Goal}
	if out.Participant != nil {
		p := participantResponse(*out.Participant)
		res.Participant = &p
	}
	return res
}

func exitResponse(r engine.ExitResult) ExitResponse {
	return ExitResponse{
		ParticipantID:  r.Participant.ID,
		RemovedLogs:    r.RemovedLogs,
		OutstandingDue: money(r.OutstandingDue),
	}
}

func paymentResponse(r domain.PaymentReceipt) PaymentResponse {
	return PaymentResponse{
		ParticipantID:  r.ParticipantID,
		Name:           r.Name,
		Amount:         money(r.Amount),
		DaysCovered:    r.DaysCovered,
		TotalDonations: money(r.TotalDonations),
		Balance:        money(r.Balance),
		RecordedBy:     r.RecordedBy,
	}
}

func deliveryResponses(in []notify.Delivery) []DeliveryResponse {
	out := make([]DeliveryResponse, 0, len(in))
	for _, d := range in {
		out = append(out, DeliveryResponse{
			Kind:          d.Fact.FactKind(),
			ParticipantID: d.Target.ParticipantID,
			Broadcast:     d.Target.Broadcast,
			Fact:          d.Fact,
		})
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func strPtr(in string) *string {
	return &in
}
