package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"streakline/internal/domain"
	"streakline/internal/events"
)

// Repo persists the aggregate to SQLite. Every Save rewrites the registry and
// log store in one transaction together with the queued audit events, so the
// file on disk always holds a complete snapshot.
type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

var ErrNotFound = errors.New("not found")

const (
	settingGuildID   = "guild_id"
	settingChannelID = "channel_id"
)

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Load reads the full aggregate. An empty database yields an empty aggregate.
func (r Repo) Load(ctx context.Context) (*domain.Aggregate, error) {
	agg := domain.NewAggregate()
	participants, err := r.listParticipants(ctx)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	for i := range participants {
		agg.PutParticipant(&participants[i])
	}
	if err := r.loadLogs(ctx, agg); err != nil {
		return nil, fmt.Errorf("load logs: %w", err)
	}
	admins, err := r.ListAdmins(ctx)
	if err != nil {
		return nil, fmt.Errorf("load admins: %w", err)
	}
	for _, id := range admins {
		agg.GrantAdmin(id)
	}
	if agg.GuildID, err = r.setting(ctx, settingGuildID); err != nil {
		return nil, err
	}
	if agg.ChannelID, err = r.setting(ctx, settingChannelID); err != nil {
		return nil, err
	}
	return agg, nil
}

// Save overwrites the stored snapshot with agg and appends its pending
// events. Pending events are cleared only after the commit succeeds.
func (r Repo) Save(ctx context.Context, agg *domain.Aggregate) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM participants`); err != nil {
		return err
	}
	for _, p := range agg.ListParticipants() {
		if err := insertParticipant(ctx, tx, *p); err != nil {
			return fmt.Errorf("save participant %s: %w", p.ID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM log_entries`); err != nil {
		return err
	}
	for _, date := range agg.Dates() {
		for id, entry := range agg.Logs[date] {
			if err := insertLog(ctx, tx, date, id, entry); err != nil {
				return fmt.Errorf("save log %s/%s: %w", date, id, err)
			}
		}
	}
	if err := r.syncAdmins(ctx, tx, agg.AdminIDs()); err != nil {
		return err
	}
	if err := putSetting(ctx, tx, settingGuildID, agg.GuildID); err != nil {
		return err
	}
	if err := putSetting(ctx, tx, settingChannelID, agg.ChannelID); err != nil {
		return err
	}
	pending := agg.PendingEvents()
	w := events.Writer{Now: r.Now}
	for _, evt := range pending {
		if err := w.Append(ctx, tx, evt); err != nil {
			return fmt.Errorf("append event %s: %w", evt.Type, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	agg.ClearEvents(len(pending))
	return nil
}

func insertParticipant(ctx context.Context, tx *sql.Tx, p domain.Participant) error {
	var lastLog *string
	if p.LastLogDate != nil {
		s := p.LastLogDate.String()
		lastLog = &s
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO participants(id,name,goal,pledge,registered_date,active,paused,warned,last_log_date,pause_date,resume_date,last_payment_date,total_donations)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, p.Goal, p.Pledge.String(), p.RegisteredDate.String(), p.Active, p.Paused, p.Warned,
		nullableStringPtr(lastLog), nullableStringPtr(p.PauseDate), nullableStringPtr(p.ResumeDate), nullableStringPtr(p.LastPaymentDate),
		p.TotalDonations.String())
	return err
}

func insertLog(ctx context.Context, tx *sql.Tx, date domain.Date, participantID string, e domain.LogEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO log_entries(date,participant_id,completed,exempt,type,reason,notes,ts) VALUES (?,?,?,?,?,?,?,?)`,
		date.String(), participantID, e.Completed, e.Exempt, string(e.Type), nullable(e.Reason), nullable(e.Notes), e.Timestamp)
	return err
}

func (r Repo) listParticipants(ctx context.Context) ([]domain.Participant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,goal,pledge,registered_date,active,paused,warned,last_log_date,pause_date,resume_date,last_payment_date,total_donations
FROM participants ORDER BY registered_date, name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Participant
	for rows.Next() {
		var (
			p                                         domain.Participant
			pledge, donations, registered             string
			lastLog, pauseDate, resumeDate, lastPayed sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Goal, &pledge, &registered, &p.Active, &p.Paused, &p.Warned,
			&lastLog, &pauseDate, &resumeDate, &lastPayed, &donations); err != nil {
			return nil, err
		}
		if p.Pledge, err = decimal.NewFromString(pledge); err != nil {
			return nil, fmt.Errorf("participant %s pledge: %w", p.ID, err)
		}
		if p.TotalDonations, err = decimal.NewFromString(donations); err != nil {
			return nil, fmt.Errorf("participant %s donations: %w", p.ID, err)
		}
		p.RegisteredDate = domain.Date(registered)
		if lastLog.Valid {
			d := domain.Date(lastLog.String)
			p.LastLogDate = &d
		}
		p.PauseDate = stringPtr(pauseDate)
		p.ResumeDate = stringPtr(resumeDate)
		p.LastPaymentDate = stringPtr(lastPayed)
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) loadLogs(ctx context.Context, agg *domain.Aggregate) error {
	rows, err := r.DB.QueryContext(ctx, `SELECT date,participant_id,completed,exempt,type,COALESCE(reason,''),COALESCE(notes,''),ts FROM log_entries ORDER BY date, participant_id`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			date, id string
			e        domain.LogEntry
		)
		if err := rows.Scan(&date, &id, &e.Completed, &e.Exempt, &e.Type, &e.Reason, &e.Notes, &e.Timestamp); err != nil {
			return err
		}
		bucket, ok := agg.Logs[domain.Date(date)]
		if !ok {
			bucket = map[string]domain.LogEntry{}
			agg.Logs[domain.Date(date)] = bucket
		}
		bucket[id] = e
	}
	return rows.Err()
}

func (r Repo) setting(ctx context.Context, key string) (string, error) {
	var v string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read setting %s: %w", key, err)
	}
	return v, nil
}

func putSetting(ctx context.Context, tx *sql.Tx, key, value string) error {
	if value == "" {
		_, err := tx.ExecContext(ctx, `DELETE FROM settings WHERE key=?`, key)
		return err
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO settings(key,value) VALUES (?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
