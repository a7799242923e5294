package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkline/internal/db"
	"checkline/internal/domain"
)

const responseColumns = `id,checklist_id,category_id,item_id,boolean_value,text_value,version,created_at,updated_at`

func scanResponse(row scanner) (domain.Response, error) {
	var (
		resp                 domain.Response
		b                    sql.NullBool
		text                 sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&resp.ID, &resp.ChecklistID, &resp.CategoryID, &resp.ItemID, &b, &text, &resp.Version, &createdAt, &updatedAt); err != nil {
		return resp, translate(err)
	}
	if b.Valid {
		v := b.Bool
		resp.BooleanValue = &v
	}
	resp.TextValue = stringPtr(text)
	var err error
	if resp.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return resp, fmt.Errorf("response %s created_at: %w", resp.ID, err)
	}
	if resp.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
		return resp, fmt.Errorf("response %s updated_at: %w", resp.ID, err)
	}
	return resp, nil
}

func boolArg(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}

func textArg(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

// UpsertResponse inserts or replaces the answer for (checklist, category, item) in one
// statement. Concurrent writers to the same key never produce a duplicate row; the last
// writer's value wins and the version is bumped on each replace.
func (r Repo) UpsertResponse(ctx context.Context, tx *sql.Tx, resp domain.Response) (domain.Response, error) {
	ts := db.FormatTime(resp.UpdatedAt)
	return scanResponse(r.queryRow(ctx, tx, `INSERT INTO responses(id,checklist_id,category_id,item_id,boolean_value,text_value,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,1,?,?)
ON CONFLICT(checklist_id,category_id,item_id) DO UPDATE SET boolean_value=excluded.boolean_value, text_value=excluded.text_value,
updated_at=excluded.updated_at, version=responses.version+1
RETURNING `+responseColumns,
		resp.ID, resp.ChecklistID, resp.CategoryID, resp.ItemID, boolArg(resp.BooleanValue), textArg(resp.TextValue), ts, ts))
}

// InsertResponse creates the answer and fails with ErrConflict if one already exists.
func (r Repo) InsertResponse(ctx context.Context, tx *sql.Tx, resp domain.Response) (domain.Response, error) {
	ts := db.FormatTime(resp.UpdatedAt)
	return scanResponse(r.queryRow(ctx, tx, `INSERT INTO responses(id,checklist_id,category_id,item_id,boolean_value,text_value,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,1,?,?) RETURNING `+responseColumns,
		resp.ID, resp.ChecklistID, resp.CategoryID, resp.ItemID, boolArg(resp.BooleanValue), textArg(resp.TextValue), ts, ts))
}

// ReplaceResponse overwrites an existing answer only if it is still at expectedVersion.
func (r Repo) ReplaceResponse(ctx context.Context, tx *sql.Tx, resp domain.Response, expectedVersion int64) (domain.Response, error) {
	out, err := scanResponse(r.queryRow(ctx, tx, `UPDATE responses SET boolean_value=?, text_value=?, updated_at=?, version=version+1
WHERE checklist_id=? AND category_id=? AND item_id=? AND version=? RETURNING `+responseColumns,
		boolArg(resp.BooleanValue), textArg(resp.TextValue), db.FormatTime(resp.UpdatedAt),
		resp.ChecklistID, resp.CategoryID, resp.ItemID, expectedVersion))
	if errors.Is(err, ErrNotFound) {
		return out, fmt.Errorf("%w: response %s/%s is not at version %d", ErrConflict, resp.CategoryID, resp.ItemID, expectedVersion)
	}
	return out, err
}

// ListResponses returns a checklist's answers ordered by category then item.
func (r Repo) ListResponses(ctx context.Context, tx *sql.Tx, checklistID string) ([]domain.Response, error) {
	rows, err := r.query(ctx, tx, `SELECT `+responseColumns+` FROM responses WHERE checklist_id=? ORDER BY category_id, item_id`, checklistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Response{}
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, resp)
	}
	return res, rows.Err()
}
