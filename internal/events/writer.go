package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"streakline/internal/domain"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one audit event inside tx.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evt domain.PendingEvent) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	payload := EventPayload(evt.Payload)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	actor := evt.ActorID
	if actor == "" {
		actor = "system"
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evt.Type, evt.EntityKind, nullable(evt.EntityID), actor, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
