package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"checkline/internal/db"
	"checkline/internal/domain"
)

type EventFilter struct {
	ChecklistID string
	Type        string
	// After returns events with ids greater than the cursor, oldest first.
	After int64
	Limit int
}

// ListEvents returns audit events in ascending id order.
func (r Repo) ListEvents(ctx context.Context, tx *sql.Tx, f EventFilter) ([]domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if f.ChecklistID != "" {
		clauses = append(clauses, "checklist_id=?")
		args = append(args, f.ChecklistID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.After > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, f.After)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,checklist_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, f.Limit)
	rows, err := r.query(ctx, tx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var ts string
		var checklistID, payload sql.NullString
		if err := rows.Scan(&e.ID, &ts, &e.Type, &checklistID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if e.TS, err = db.ParseTime(ts); err != nil {
			return nil, fmt.Errorf("event %d ts: %w", e.ID, err)
		}
		e.ChecklistID = checklistID.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event id, optionally for one checklist.
func (r Repo) LatestEventID(ctx context.Context, checklistID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if checklistID != "" {
		query += ` WHERE checklist_id=?`
		args = append(args, checklistID)
	}
	var id int64
	if err := r.queryRow(ctx, nil, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
