package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"checkline/internal/domain"
	"checkline/internal/events"
	"checkline/internal/repo"
	"checkline/internal/workflow"
)

// ResponseInput is one answer to write.
type ResponseInput struct {
	ChecklistID string
	CategoryID  string
	ItemID      string
	Value       domain.Value
	// ActorID, when set, becomes the checklist's updated_by.
	ActorID string
	// ExpectedVersion enables conflict detection: 0 requires that no answer exists yet,
	// N requires the stored answer to be at version N. nil means last writer wins.
	ExpectedVersion *int64
}

// UpsertResponse validates the answer against the schema and stores it, replacing any
// previous answer for the same item.
func (e Engine) UpsertResponse(ctx context.Context, in ResponseInput) (domain.Response, error) {
	def, err := e.Registry.Resolve(in.CategoryID, in.ItemID)
	if err != nil {
		return domain.Response{}, ValidationError{Field: "item", Reason: ReasonUnknownItem}
	}
	if in.Value.IsZero() {
		return domain.Response{}, ValidationError{Field: "value", Reason: ReasonRequired}
	}
	if in.Value.Type() != def.Type {
		return domain.Response{}, ValidationError{Field: "value", Reason: ReasonTypeMismatch}
	}
	if in.ActorID != "" {
		if err := e.requireActor(ctx, "actor_id", in.ActorID); err != nil {
			return domain.Response{}, classify("upsert_response", err)
		}
	}

	var out domain.Response
	err = e.run(ctx, "upsert_response", func(tx *sql.Tx) error {
		c, err := e.lockChecklist(ctx, tx, in.ChecklistID)
		if err != nil {
			return err
		}
		if c.IsVerified() {
			if err := workflow.EnsureTransition(workflow.StateVerified, workflow.ActionAnswer, e.Policy.LockVerified); err != nil {
				return err
			}
		}
		now := e.now()
		resp := domain.Response{
			ID:          uuid.NewString(),
			ChecklistID: c.ID,
			CategoryID:  def.CategoryID,
			ItemID:      def.ItemID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		resp.SetValue(in.Value)

		switch {
		case in.ExpectedVersion == nil:
			out, err = e.Repo.UpsertResponse(ctx, tx, resp)
		case *in.ExpectedVersion == 0:
			out, err = e.Repo.InsertResponse(ctx, tx, resp)
			if errors.Is(err, repo.ErrConflict) {
				err = ConflictError{Reason: fmt.Sprintf("response %s/%s already exists", def.CategoryID, def.ItemID)}
			}
		default:
			out, err = e.Repo.ReplaceResponse(ctx, tx, resp, *in.ExpectedVersion)
			if errors.Is(err, repo.ErrConflict) {
				err = ConflictError{Reason: fmt.Sprintf("response %s/%s is not at version %d", def.CategoryID, def.ItemID, *in.ExpectedVersion)}
			}
		}
		if err != nil {
			return err
		}
		if err := e.Repo.TouchChecklist(ctx, tx, c.ID, in.ActorID, now); err != nil {
			return err
		}
		if in.ActorID != "" {
			if err := e.Repo.EnsureActor(ctx, tx, in.ActorID, now); err != nil {
				return err
			}
		}
		return e.appendEvent(ctx, tx, events.ResponseUpserted, c.ID, in.ActorID, events.EventPayload{
			"category_id": def.CategoryID,
			"item_id":     def.ItemID,
			"value_type":  def.Type,
			"version":     out.Version,
		})
	})
	if err != nil {
		return domain.Response{}, err
	}
	e.Metrics.IncrementResponseUpserted(string(def.Type))
	e.log().Debug("response upserted",
		zap.String("checklist_id", out.ChecklistID),
		zap.String("category_id", out.CategoryID),
		zap.String("item_id", out.ItemID),
		zap.Int64("version", out.Version))
	return out, nil
}

// ListResponses returns the stored answers of a checklist ordered by category then item.
func (e Engine) ListResponses(ctx context.Context, checklistID string) ([]domain.Response, error) {
	var out []domain.Response
	err := e.run(ctx, "list_responses", func(tx *sql.Tx) error {
		if _, err := e.loadChecklist(ctx, tx, checklistID); err != nil {
			return err
		}
		var err error
		out, err = e.Repo.ListResponses(ctx, tx, checklistID)
		return err
	})
	return out, err
}
