package repo

import (
	"context"
	"database/sql"
	"time"

	"checkline/internal/db"
)

// The directory tables mirror externally owned entities so attachments and actors can be
// checked for existence without reaching into the host application's schema.

func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID string, now time.Time) error {
	_, err := r.exec(ctx, tx, `INSERT INTO actors(id, created_at) VALUES (?,?) ON CONFLICT(id) DO NOTHING`, actorID, db.FormatTime(now))
	return err
}

func (r Repo) UpsertProduct(ctx context.Context, tx *sql.Tx, id, label string, now time.Time) error {
	_, err := r.exec(ctx, tx, `INSERT INTO products(id, label, created_at) VALUES (?,?,?)
ON CONFLICT(id) DO UPDATE SET label=excluded.label`, id, nullable(label), db.FormatTime(now))
	return err
}

func (r Repo) UpsertDeliveryPlanProduct(ctx context.Context, tx *sql.Tx, id, productID, label string, now time.Time) error {
	_, err := r.exec(ctx, tx, `INSERT INTO delivery_plan_products(id, product_id, label, created_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET product_id=excluded.product_id, label=excluded.label`, id, nullable(productID), nullable(label), db.FormatTime(now))
	return err
}

func (r Repo) exists(ctx context.Context, table, id string) (bool, error) {
	var one int
	err := r.queryRow(ctx, nil, `SELECT 1 FROM `+table+` WHERE id=?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r Repo) ProductExists(ctx context.Context, id string) (bool, error) {
	return r.exists(ctx, "products", id)
}

func (r Repo) DeliveryPlanProductExists(ctx context.Context, id string) (bool, error) {
	return r.exists(ctx, "delivery_plan_products", id)
}

func (r Repo) ActorExists(ctx context.Context, id string) (bool, error) {
	return r.exists(ctx, "actors", id)
}
