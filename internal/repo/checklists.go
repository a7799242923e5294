package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"checkline/internal/db"
	"checkline/internal/domain"
)

const checklistColumns = `id,product_id,delivery_plan_product_id,schema_version,created_by,created_at,verified_by,verified_at,updated_by,updated_at,COALESCE(notes,''),version`

func scanChecklist(row scanner) (domain.Checklist, error) {
	var (
		c                     domain.Checklist
		productID, dppID      sql.NullString
		verifiedBy, updatedBy sql.NullString
		verifiedAt            sql.NullString
		createdAt, updatedAt  string
	)
	err := row.Scan(&c.ID, &productID, &dppID, &c.SchemaVersion, &c.CreatedBy, &createdAt,
		&verifiedBy, &verifiedAt, &updatedBy, &updatedAt, &c.Notes, &c.Version)
	if err != nil {
		return c, translate(err)
	}
	c.ProductID = stringPtr(productID)
	c.DeliveryPlanProductID = stringPtr(dppID)
	c.VerifiedBy = stringPtr(verifiedBy)
	c.UpdatedBy = stringPtr(updatedBy)
	if c.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return c, fmt.Errorf("checklist %s created_at: %w", c.ID, err)
	}
	if c.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
		return c, fmt.Errorf("checklist %s updated_at: %w", c.ID, err)
	}
	if c.VerifiedAt, err = parseNullTime(verifiedAt); err != nil {
		return c, fmt.Errorf("checklist %s verified_at: %w", c.ID, err)
	}
	return c, nil
}

// InsertChecklist stores a new checklist. A second checklist for the same target
// violates the unique index and yields ErrConflict.
func (r Repo) InsertChecklist(ctx context.Context, tx *sql.Tx, c domain.Checklist) error {
	if c.Version == 0 {
		c.Version = 1
	}
	_, err := r.exec(ctx, tx, `INSERT INTO checklists(id,product_id,delivery_plan_product_id,schema_version,created_by,created_at,verified_by,verified_at,updated_by,updated_at,notes,version)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, nullableStringPtr(c.ProductID), nullableStringPtr(c.DeliveryPlanProductID), c.SchemaVersion, c.CreatedBy,
		db.FormatTime(c.CreatedAt), nullableStringPtr(c.VerifiedBy), nullableTimePtr(c.VerifiedAt), nullableStringPtr(c.UpdatedBy),
		db.FormatTime(c.UpdatedAt), nullable(c.Notes), c.Version)
	return err
}

func (r Repo) GetChecklist(ctx context.Context, tx *sql.Tx, id string) (domain.Checklist, error) {
	return scanChecklist(r.queryRow(ctx, tx, `SELECT `+checklistColumns+` FROM checklists WHERE id=?`, id))
}

// GetChecklistForUpdate reads a checklist inside tx and holds its row lock until tx ends.
// SQLite runs a single writer connection, so a plain read is already exclusive there.
func (r Repo) GetChecklistForUpdate(ctx context.Context, tx *sql.Tx, id string) (domain.Checklist, error) {
	query := `SELECT ` + checklistColumns + ` FROM checklists WHERE id=?`
	if r.Dialect == db.Postgres {
		query += ` FOR UPDATE`
	}
	return scanChecklist(r.queryRow(ctx, tx, query, id))
}

// GetChecklistByAttachment finds the checklist bound to a target.
func (r Repo) GetChecklistByAttachment(ctx context.Context, tx *sql.Tx, a domain.Attachment) (domain.Checklist, error) {
	var column string
	switch a.Kind {
	case domain.TargetProduct:
		column = "product_id"
	case domain.TargetDeliveryPlanProduct:
		column = "delivery_plan_product_id"
	default:
		return domain.Checklist{}, fmt.Errorf("unknown attachment kind %q", a.Kind)
	}
	return scanChecklist(r.queryRow(ctx, tx, `SELECT `+checklistColumns+` FROM checklists WHERE `+column+`=?`, a.ID))
}

// UpdateChecklist writes the mutable checklist fields if the stored version still equals
// expectedVersion, and bumps the version. A stale version yields ErrConflict; the caller
// distinguishes a missing row by reading first.
func (r Repo) UpdateChecklist(ctx context.Context, tx *sql.Tx, c domain.Checklist, expectedVersion int64) (domain.Checklist, error) {
	at := db.FormatTime(c.UpdatedAt)
	res, err := r.exec(ctx, tx, `UPDATE checklists SET verified_by=?, verified_at=?, updated_by=?,
updated_at=CASE WHEN updated_at < ? THEN ? ELSE updated_at END, notes=?, version=version+1
WHERE id=? AND version=?`,
		nullableStringPtr(c.VerifiedBy), nullableTimePtr(c.VerifiedAt), nullableStringPtr(c.UpdatedBy),
		at, at, nullable(c.Notes), c.ID, expectedVersion)
	if err != nil {
		return c, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return c, fmt.Errorf("%w: checklist %s is no longer at version %d", ErrConflict, c.ID, expectedVersion)
	}
	return r.GetChecklist(ctx, tx, c.ID)
}

// TouchChecklist records a modification: updated_at only moves forward, updated_by is
// replaced when actorID is set, and the version is bumped.
func (r Repo) TouchChecklist(ctx context.Context, tx *sql.Tx, id, actorID string, at time.Time) error {
	ts := db.FormatTime(at)
	res, err := r.exec(ctx, tx, `UPDATE checklists SET updated_at=CASE WHEN updated_at < ? THEN ? ELSE updated_at END,
updated_by=COALESCE(?, updated_by), version=version+1 WHERE id=?`, ts, ts, nullable(actorID), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type ChecklistFilter struct {
	Verified *bool
	Limit    int
}

func (r Repo) ListChecklists(ctx context.Context, tx *sql.Tx, f ChecklistFilter) ([]domain.Checklist, error) {
	var clauses []string
	var args []any
	if f.Verified != nil {
		if *f.Verified {
			clauses = append(clauses, "verified_by IS NOT NULL")
		} else {
			clauses = append(clauses, "verified_by IS NULL")
		}
	}
	query := `SELECT ` + checklistColumns + ` FROM checklists`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.query(ctx, tx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Checklist
	for rows.Next() {
		c, err := scanChecklist(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
