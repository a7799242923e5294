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

// CreateChecklistOptions are parameters for creating a checklist. At most one of
// ProductID and DeliveryPlanProductID may be set.
type CreateChecklistOptions struct {
	ID                    string
	ActorID               string
	ProductID             string
	DeliveryPlanProductID string
	Notes                 string
}

func (e Engine) CreateChecklist(ctx context.Context, opts CreateChecklistOptions) (domain.Checklist, error) {
	attachment, err := domain.AttachmentFromRefs(opts.ProductID, opts.DeliveryPlanProductID)
	switch {
	case errors.Is(err, domain.ErrAmbiguousAttachment):
		return domain.Checklist{}, ValidationError{Field: "attachment", Reason: ReasonAmbiguousAttachment}
	case errors.Is(err, domain.ErrMissingAttachment):
		if !e.Policy.AllowUnattached {
			return domain.Checklist{}, ValidationError{Field: "attachment", Reason: ReasonMissingAttachment}
		}
	}
	if err := e.requireActor(ctx, "actor_id", opts.ActorID); err != nil {
		return domain.Checklist{}, classify("create_checklist", err)
	}
	if !attachment.IsZero() && e.Policy.RequireKnownTargets {
		ok, err := e.targetExists(ctx, attachment)
		if err != nil {
			return domain.Checklist{}, classify("create_checklist", err)
		}
		if !ok {
			return domain.Checklist{}, NotFoundError{Kind: string(attachment.Kind), ID: attachment.ID}
		}
	}

	now := e.now()
	c := domain.Checklist{
		ID:            opts.ID,
		SchemaVersion: e.Registry.Version(),
		CreatedBy:     opts.ActorID,
		CreatedAt:     now,
		UpdatedAt:     now,
		Notes:         opts.Notes,
		Version:       1,
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.SetAttachment(attachment)

	err = e.run(ctx, "create_checklist", func(tx *sql.Tx) error {
		if opts.ID != "" {
			taken, err := e.checklistIDTaken(ctx, tx, c.ID)
			if err != nil {
				return err
			}
			if taken {
				return ConflictError{Reason: fmt.Sprintf("checklist id %s already exists", c.ID)}
			}
		}
		if !attachment.IsZero() {
			existing, err := e.Repo.GetChecklistByAttachment(ctx, tx, attachment)
			if err == nil {
				return ConflictError{Reason: fmt.Sprintf("%s %s already has checklist %s", attachment.Kind, attachment.ID, existing.ID)}
			}
			if !errors.Is(err, repo.ErrNotFound) {
				return err
			}
		}
		if err := e.Repo.InsertChecklist(ctx, tx, c); err != nil {
			if !errors.Is(err, repo.ErrConflict) {
				return err
			}
			if taken, lookupErr := e.checklistIDTaken(ctx, tx, c.ID); lookupErr == nil && taken {
				return ConflictError{Reason: fmt.Sprintf("checklist id %s already exists", c.ID)}
			}
			return ConflictError{Reason: fmt.Sprintf("%s %s already has a checklist", attachment.Kind, attachment.ID)}
		}
		if err := e.Repo.EnsureActor(ctx, tx, opts.ActorID, now); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.ChecklistCreated, c.ID, opts.ActorID, events.EventPayload{
			"target_kind":    attachment.Kind,
			"target_id":      attachment.ID,
			"schema_version": c.SchemaVersion,
		})
	})
	if err != nil {
		return domain.Checklist{}, err
	}
	e.Metrics.IncrementChecklistCreated()
	e.log().Info("checklist created",
		zap.String("checklist_id", c.ID),
		zap.String("target_kind", string(attachment.Kind)),
		zap.String("target_id", attachment.ID),
		zap.String("actor_id", opts.ActorID))
	return c, nil
}

func (e Engine) checklistIDTaken(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	_, err := e.Repo.GetChecklist(ctx, tx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repo.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Selector picks a checklist by exactly one key.
type Selector struct {
	ID                    string
	ProductID             string
	DeliveryPlanProductID string
}

func (s Selector) count() int {
	n := 0
	for _, v := range []string{s.ID, s.ProductID, s.DeliveryPlanProductID} {
		if v != "" {
			n++
		}
	}
	return n
}

func (e Engine) GetChecklist(ctx context.Context, sel Selector) (ChecklistView, error) {
	if sel.count() != 1 {
		return ChecklistView{}, ValidationError{Field: "selector", Reason: ReasonSelector}
	}
	var out ChecklistView
	err := e.run(ctx, "get_checklist", func(tx *sql.Tx) error {
		var (
			c   domain.Checklist
			err error
		)
		switch {
		case sel.ID != "":
			c, err = e.loadChecklist(ctx, tx, sel.ID)
		default:
			a, _ := domain.AttachmentFromRefs(sel.ProductID, sel.DeliveryPlanProductID)
			c, err = e.Repo.GetChecklistByAttachment(ctx, tx, a)
			if errors.Is(err, repo.ErrNotFound) {
				err = NotFoundError{Kind: "checklist for " + string(a.Kind), ID: a.ID}
			}
		}
		if err != nil {
			return err
		}
		out, err = e.view(ctx, tx, c)
		return err
	})
	return out, err
}

type ListFilter struct {
	Verified *bool
	Limit    int
}

const defaultListLimit = 50

func (e Engine) ListChecklists(ctx context.Context, f ListFilter) ([]ChecklistView, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	var out []ChecklistView
	err := e.run(ctx, "list_checklists", func(tx *sql.Tx) error {
		list, err := e.Repo.ListChecklists(ctx, tx, repo.ChecklistFilter{Verified: f.Verified, Limit: f.Limit})
		if err != nil {
			return err
		}
		out = make([]ChecklistView, 0, len(list))
		for _, c := range list {
			v, err := e.view(ctx, tx, c)
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

// UpdateNotes replaces the free-text notes. Notes are not answers, so verified checklists
// accept them.
func (e Engine) UpdateNotes(ctx context.Context, checklistID, actorID, notes string) (ChecklistView, error) {
	if err := e.requireActor(ctx, "actor_id", actorID); err != nil {
		return ChecklistView{}, classify("update_notes", err)
	}
	var out ChecklistView
	err := e.run(ctx, "update_notes", func(tx *sql.Tx) error {
		c, err := e.lockChecklist(ctx, tx, checklistID)
		if err != nil {
			return err
		}
		expected := c.Version
		c.Notes = notes
		c.UpdatedBy = &actorID
		c.UpdatedAt = e.now()
		if c, err = e.Repo.UpdateChecklist(ctx, tx, c, expected); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return ConflictError{Reason: "checklist was modified concurrently"}
			}
			return err
		}
		if err := e.appendEvent(ctx, tx, events.ChecklistNotesUpdated, c.ID, actorID, nil); err != nil {
			return err
		}
		out, err = e.view(ctx, tx, c)
		return err
	})
	return out, err
}

// Verify records verifierID as having verified a complete checklist. Verifying again with the
// same verifier is a no-op; a different verifier, or losing a concurrent update, is a conflict.
func (e Engine) Verify(ctx context.Context, checklistID, verifierID string) (ChecklistView, error) {
	if err := e.requireActor(ctx, "verifier_id", verifierID); err != nil {
		return ChecklistView{}, classify("verify", err)
	}
	var (
		out     ChecklistView
		outcome = "verified"
	)
	err := e.run(ctx, "verify", func(tx *sql.Tx) error {
		c, err := e.lockChecklist(ctx, tx, checklistID)
		if err != nil {
			return err
		}
		if c.IsVerified() {
			if *c.VerifiedBy != verifierID {
				return ConflictError{Reason: fmt.Sprintf("checklist %s already verified by %s", c.ID, *c.VerifiedBy)}
			}
			outcome = "noop"
			out = ChecklistView{Checklist: c, State: workflow.StateVerified}
			return nil
		}
		p, err := e.progress(ctx, tx, c)
		if err != nil {
			return err
		}
		if err := workflow.EnsureTransition(p.State, workflow.ActionVerify, e.Policy.LockVerified); err != nil {
			return err
		}
		expected := c.Version
		now := e.now()
		c.VerifiedBy, c.VerifiedAt = &verifierID, &now
		c.UpdatedBy, c.UpdatedAt = &verifierID, now
		if c, err = e.Repo.UpdateChecklist(ctx, tx, c, expected); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return ConflictError{Reason: "checklist was modified concurrently"}
			}
			return err
		}
		if err := e.Repo.EnsureActor(ctx, tx, verifierID, now); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, events.ChecklistVerified, c.ID, verifierID, events.EventPayload{
			"required":  p.Required,
			"satisfied": p.Satisfied,
		}); err != nil {
			return err
		}
		out = ChecklistView{Checklist: c, State: workflow.StateVerified}
		return nil
	})
	if err != nil {
		switch Kind(err) {
		case "conflict":
			e.Metrics.IncrementVerify("conflict")
		case "invalid_transition":
			e.Metrics.IncrementVerify("rejected")
		}
		return ChecklistView{}, err
	}
	e.Metrics.IncrementVerify(outcome)
	if outcome == "verified" {
		e.log().Info("checklist verified", zap.String("checklist_id", out.ID), zap.String("verifier_id", verifierID))
	}
	return out, nil
}

// Reopen clears the verification of a verified checklist.
func (e Engine) Reopen(ctx context.Context, checklistID, actorID string) (ChecklistView, error) {
	if err := e.requireActor(ctx, "actor_id", actorID); err != nil {
		return ChecklistView{}, classify("reopen", err)
	}
	var out ChecklistView
	err := e.run(ctx, "reopen", func(tx *sql.Tx) error {
		c, err := e.lockChecklist(ctx, tx, checklistID)
		if err != nil {
			return err
		}
		p, err := e.progress(ctx, tx, c)
		if err != nil {
			return err
		}
		if err := workflow.EnsureTransition(p.State, workflow.ActionReopen, e.Policy.LockVerified); err != nil {
			return err
		}
		previous := *c.VerifiedBy
		expected := c.Version
		c.VerifiedBy, c.VerifiedAt = nil, nil
		c.UpdatedBy, c.UpdatedAt = &actorID, e.now()
		if c, err = e.Repo.UpdateChecklist(ctx, tx, c, expected); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				return ConflictError{Reason: "checklist was modified concurrently"}
			}
			return err
		}
		if err := e.appendEvent(ctx, tx, events.ChecklistReopened, c.ID, actorID, events.EventPayload{"previous_verifier": previous}); err != nil {
			return err
		}
		out = ChecklistView{Checklist: c, State: workflow.Derive(false, p.Report)}
		return nil
	})
	if err != nil {
		return ChecklistView{}, err
	}
	e.Metrics.IncrementReopen()
	e.log().Info("checklist reopened", zap.String("checklist_id", out.ID), zap.String("actor_id", actorID))
	return out, nil
}

// GetCompletion recomputes progress from the current responses.
func (e Engine) GetCompletion(ctx context.Context, checklistID string) (Progress, error) {
	var out Progress
	err := e.run(ctx, "get_completion", func(tx *sql.Tx) error {
		c, err := e.loadChecklist(ctx, tx, checklistID)
		if err != nil {
			return err
		}
		out, err = e.progress(ctx, tx, c)
		return err
	})
	return out, err
}

// ListEvents returns the audit trail of a checklist, oldest first.
func (e Engine) ListEvents(ctx context.Context, checklistID string, after int64, limit int) ([]domain.Event, error) {
	var out []domain.Event
	err := e.run(ctx, "list_events", func(tx *sql.Tx) error {
		if _, err := e.loadChecklist(ctx, tx, checklistID); err != nil {
			return err
		}
		var err error
		out, err = e.Repo.ListEvents(ctx, tx, repo.EventFilter{ChecklistID: checklistID, After: after, Limit: limit})
		return err
	})
	return out, err
}
