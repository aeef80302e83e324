package domain

import (
	"sort"
	"time"
)

// Aggregate is the process-wide mutable state: participant registry, log store,
// admin set and the broadcast channel. It is not safe for concurrent use; the
// command layer serializes access.
type Aggregate struct {
	Participants map[string]*Participant
	Logs         map[Date]map[string]LogEntry
	Admins       map[string]struct{}
	GuildID      string
	ChannelID    string

	pending []PendingEvent
}

// PendingEvent is an audit record waiting to be flushed with the next save.
type PendingEvent struct {
	Type       string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    map[string]any
}

func NewAggregate() *Aggregate {
	return &Aggregate{
		Participants: map[string]*Participant{},
		Logs:         map[Date]map[string]LogEntry{},
		Admins:       map[string]struct{}{},
	}
}

func (a *Aggregate) GetLog(participantID string, date Date) (LogEntry, bool) {
	bucket, ok := a.Logs[date]
	if !ok {
		return LogEntry{}, false
	}
	entry, ok := bucket[participantID]
	return entry, ok
}

// SetLog upserts the entry for (date, participant), stamping the write time.
func (a *Aggregate) SetLog(participantID string, date Date, entry LogEntry, now time.Time) LogEntry {
	bucket, ok := a.Logs[date]
	if !ok {
		bucket = map[string]LogEntry{}
		a.Logs[date] = bucket
	}
	entry.Timestamp = now.UTC().Format(time.RFC3339)
	bucket[participantID] = entry
	return entry
}

// DeleteParticipantLogs removes the participant from every date bucket and
// returns how many entries were dropped. Buckets left empty are removed.
func (a *Aggregate) DeleteParticipantLogs(participantID string) int {
	removed := 0
	for date, bucket := range a.Logs {
		if _, ok := bucket[participantID]; !ok {
			continue
		}
		delete(bucket, participantID)
		removed++
		if len(bucket) == 0 {
			delete(a.Logs, date)
		}
	}
	return removed
}

// Dates returns the log bucket keys in ascending order.
func (a *Aggregate) Dates() []Date {
	dates := make([]Date, 0, len(a.Logs))
	for d := range a.Logs {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i] < dates[j] })
	return dates
}

func (a *Aggregate) Participant(id string) (*Participant, bool) {
	p, ok := a.Participants[id]
	return p, ok
}

func (a *Aggregate) PutParticipant(p *Participant) {
	a.Participants[p.ID] = p
}

func (a *Aggregate) DeleteParticipant(id string) {
	delete(a.Participants, id)
}

// ListParticipants returns every participant ordered by registration date, then name.
func (a *Aggregate) ListParticipants() []*Participant {
	out := make([]*Participant, 0, len(a.Participants))
	for _, p := range a.Participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredDate != out[j].RegisteredDate {
			return out[i].RegisteredDate < out[j].RegisteredDate
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ActiveParticipants returns participants that are active and not paused.
func (a *Aggregate) ActiveParticipants() []*Participant {
	var out []*Participant
	for _, p := range a.ListParticipants() {
		if p.Tracked() {
			out = append(out, p)
		}
	}
	return out
}

func (a *Aggregate) IsAdmin(id string) bool {
	_, ok := a.Admins[id]
	return ok
}

func (a *Aggregate) GrantAdmin(id string) {
	a.Admins[id] = struct{}{}
}

func (a *Aggregate) RevokeAdmin(id string) {
	delete(a.Admins, id)
}

func (a *Aggregate) AdminIDs() []string {
	ids := make([]string, 0, len(a.Admins))
	for id := range a.Admins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Record queues an audit event for the next save.
func (a *Aggregate) Record(evt PendingEvent) {
	a.pending = append(a.pending, evt)
}

func (a *Aggregate) PendingEvents() []PendingEvent {
	return a.pending
}

// ClearEvents drops the first n pending events once they are persisted.
func (a *Aggregate) ClearEvents(n int) {
	if n >= len(a.pending) {
		a.pending = nil
		return
	}
	a.pending = a.pending[n:]
}
