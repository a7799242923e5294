package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"checkline/internal/db"
)

const (
	ChecklistCreated      = "checklist.created"
	ChecklistVerified     = "checklist.verified"
	ChecklistReopened     = "checklist.reopened"
	ChecklistNotesUpdated = "checklist.notes_updated"
	ResponseUpserted      = "response.upserted"
)

// Writer appends audit events inside the caller's transaction so an event exists iff the
// change it describes was committed.
type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, checklistID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	_, err = tx.ExecContext(ctx, w.Dialect.Rebind(`INSERT INTO events(ts,type,checklist_id,actor_id,payload_json) VALUES (?,?,?,?,?)`),
		db.FormatTime(w.Now()), evtType, nullable(checklistID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
