package engine

import (
	"context"
	"database/sql"
	"strings"

	"go.uber.org/zap"
)

// RegisterProduct mirrors an externally owned product so checklists can attach to it.
func (e Engine) RegisterProduct(ctx context.Context, id, label string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ValidationError{Field: "id", Reason: ReasonRequired}
	}
	err := e.run(ctx, "register_product", func(tx *sql.Tx) error {
		return e.Repo.UpsertProduct(ctx, tx, id, label, e.now())
	})
	if err == nil {
		e.log().Debug("product registered", zap.String("product_id", id))
	}
	return err
}

// RegisterDeliveryPlanProduct mirrors a delivery plan line. productID is informational and
// may be empty.
func (e Engine) RegisterDeliveryPlanProduct(ctx context.Context, id, productID, label string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ValidationError{Field: "id", Reason: ReasonRequired}
	}
	err := e.run(ctx, "register_delivery_plan_product", func(tx *sql.Tx) error {
		return e.Repo.UpsertDeliveryPlanProduct(ctx, tx, id, strings.TrimSpace(productID), label, e.now())
	})
	if err == nil {
		e.log().Debug("delivery plan product registered", zap.String("delivery_plan_product_id", id))
	}
	return err
}
