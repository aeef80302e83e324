package streaklinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Streakline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no other credential is set. Servers
	// only honour it with the legacy header enabled.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://127.0.0.1:8080/v0.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Participant mirrors the API participant model. Amounts are decimal strings.
type Participant struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Goal           string  `json:"goal"`
	Pledge         string  `json:"pledge"`
	RegisteredDate string  `json:"registered_date"`
	Active         bool    `json:"active"`
	Paused         bool    `json:"paused"`
	LastLogDate    *string `json:"last_log_date,omitempty"`
	TotalDonations string  `json:"total_donations"`
}

// Registration is the dialogue state after a request.
type Registration struct {
	Step        string       `json:"step"`
	Goal        string       `json:"goal,omitempty"`
	Participant *Participant `json:"participant,omitempty"`
}

// LogEntry is the result of a log, backfill or exemption.
type LogEntry struct {
	Date      string `json:"date"`
	Type      string `json:"type"`
	Completed bool   `json:"completed"`
	Exempt    bool   `json:"exempt"`
	Reason    string `json:"reason,omitempty"`
	Notes     string `json:"notes,omitempty"`
	Timestamp string `json:"timestamp"`
	Streak    int    `json:"streak"`
}

type Streak struct {
	Participant    Participant `json:"participant"`
	Streak         int         `json:"streak"`
	MissedDays     int         `json:"missed_days"`
	Balance        string      `json:"balance"`
	DaysRegistered int         `json:"days_registered"`
	CompletionRate string      `json:"completion_rate"`
	LoggedToday    bool        `json:"logged_today"`
}

type Board struct {
	Date string `json:"date"`
	Rows []struct {
		ParticipantID string `json:"participant_id"`
		Name          string `json:"name"`
		LoggedToday   bool   `json:"logged_today"`
	} `json:"rows"`
	LoggedCount int `json:"logged_count"`
	Total       int `json:"total"`
}

type Receipt struct {
	ParticipantID  string `json:"participant_id"`
	Name           string `json:"name"`
	Amount         string `json:"amount"`
	DaysCovered    int64  `json:"days_covered"`
	TotalDonations string `json:"total_donations"`
	Balance        string `json:"balance"`
	RecordedBy     string `json:"recorded_by"`
}

// Delivery is a notification fact with its audience.
type Delivery struct {
	Kind          string          `json:"kind"`
	ParticipantID string          `json:"participant_id,omitempty"`
	Broadcast     bool            `json:"broadcast"`
	Fact          json.RawMessage `json:"fact"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// StartRegistration opens the registration dialogue for the caller.
func (c *Client) StartRegistration(ctx context.Context, name string) (Registration, error) {
	var resp Registration
	err := c.do(ctx, http.MethodPost, "registrations", map[string]any{"name": name}, &resp)
	return resp, err
}

// SubmitRegistration answers the current prompt (goal, then pledge).
func (c *Client) SubmitRegistration(ctx context.Context, input string) (Registration, error) {
	var resp Registration
	err := c.do(ctx, http.MethodPost, "registrations/input", map[string]any{"input": input}, &resp)
	return resp, err
}

func (c *Client) CancelRegistration(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "registrations", nil, nil)
}

func (c *Client) Log(ctx context.Context, notes string) (LogEntry, error) {
	var resp LogEntry
	err := c.do(ctx, http.MethodPost, "me/log", map[string]any{"notes": notes}, &resp)
	return resp, err
}

// Forgot backfills yesterday.
func (c *Client) Forgot(ctx context.Context, notes string) (LogEntry, error) {
	var resp LogEntry
	err := c.do(ctx, http.MethodPost, "me/forgot", map[string]any{"notes": notes}, &resp)
	return resp, err
}

func (c *Client) Exempt(ctx context.Context, reason string) (LogEntry, error) {
	var resp LogEntry
	err := c.do(ctx, http.MethodPost, "me/exempt", map[string]any{"reason": reason}, &resp)
	return resp, err
}

func (c *Client) Streak(ctx context.Context) (Streak, error) {
	var resp Streak
	err := c.do(ctx, http.MethodGet, "me/streak", nil, &resp)
	return resp, err
}

func (c *Client) Leave(ctx context.Context) (Participant, error) {
	var resp Participant
	err := c.do(ctx, http.MethodPost, "me/leave", nil, &resp)
	return resp, err
}

func (c *Client) Continue(ctx context.Context) (Participant, error) {
	var resp Participant
	err := c.do(ctx, http.MethodPost, "me/continue", nil, &resp)
	return resp, err
}

// Exit removes the caller and every log they own.
func (c *Client) Exit(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "me", nil, nil)
}

func (c *Client) Status(ctx context.Context) (Board, error) {
	var resp Board
	err := c.do(ctx, http.MethodGet, "status", nil, &resp)
	return resp, err
}

// Notifications returns private facts delivered to the caller since the
// server started.
func (c *Client) Notifications(ctx context.Context) ([]Delivery, error) {
	var resp struct {
		Items []Delivery `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "me/notifications", nil, &resp)
	return resp.Items, err
}

// Paid records a donation. Admin only.
func (c *Client) Paid(ctx context.Context, participant, amount string) (Receipt, error) {
	var resp Receipt
	body := map[string]any{"participant": participant, "amount": amount}
	err := c.do(ctx, http.MethodPost, "payments", body, &resp)
	return resp, err
}

// Setup points broadcasts at channelID. Admin only.
func (c *Client) Setup(ctx context.Context, guildID, channelID string) error {
	body := map[string]any{"guild_id": guildID, "channel_id": channelID}
	return c.do(ctx, http.MethodPut, "setup", body, nil)
}

// Trigger runs a scheduled pass immediately. Admin only.
func (c *Client) Trigger(ctx context.Context, trigger string) ([]Delivery, error) {
	var resp struct {
		Deliveries []Delivery `json:"deliveries"`
	}
	err := c.do(ctx, http.MethodPost, "triggers/"+url.PathEscape(trigger), nil, &resp)
	return resp.Deliveries, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
