package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"checkline/internal/completion"
	"checkline/internal/config"
	"checkline/internal/db"
	"checkline/internal/domain"
	"checkline/internal/events"
	"checkline/internal/logging"
	"checkline/internal/metrics"
	"checkline/internal/repo"
	"checkline/internal/schema"
	"checkline/internal/workflow"
)

// Directory answers existence questions about externally owned entities.
type Directory interface {
	ProductExists(ctx context.Context, id string) (bool, error)
	DeliveryPlanProductExists(ctx context.Context, id string) (bool, error)
	ActorExists(ctx context.Context, id string) (bool, error)
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Registry  *schema.Registry
	Policy    config.Policy
	Directory Directory
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	// Tracer defaults to the global provider, a no-op unless the host installs one.
	Tracer trace.Tracer
	Now    func() time.Time
}

const tracerName = "checkline/engine"

func New(conn *sql.DB, dialect db.Dialect, cfg *config.Config) (Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	reg, err := cfg.Registry()
	if err != nil {
		return Engine{}, err
	}
	r := repo.New(conn, dialect)
	return Engine{
		DB:        conn,
		Repo:      r,
		Events:    events.Writer{Dialect: dialect},
		Registry:  reg,
		Policy:    cfg.Policy,
		Directory: r,
		Logger:    zap.NewNop(),
		Now:       time.Now,
	}, nil
}

func (e Engine) now() time.Time {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return now().UTC().Truncate(time.Microsecond)
}

func (e Engine) log() *zap.Logger { return logging.OrNop(e.Logger) }

// ChecklistView is a checklist together with its derived workflow state.
type ChecklistView struct {
	domain.Checklist
	State workflow.State `json:"state"`
}

// Progress is the completion report of one checklist.
type Progress struct {
	ChecklistID string         `json:"checklist_id"`
	State       workflow.State `json:"state"`
	completion.Report
}

// run executes fn in a transaction and records duration and failures for op.
func (e Engine) run(ctx context.Context, op string, fn func(tx *sql.Tx) error) (err error) {
	start := time.Now()
	tracer := e.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	ctx, span := tracer.Start(ctx, "engine."+op, trace.WithAttributes(attribute.String("checkline.operation", op)))
	defer func() {
		err = classify(op, err)
		e.Metrics.Observe(op, start)
		defer span.End()
		if err == nil {
			return
		}
		kind := Kind(err)
		e.Metrics.IncrementError(op, kind)
		span.SetAttributes(attribute.String("checkline.error_kind", kind))
		if kind == "storage" || kind == "internal" {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.log().Error("operation failed", zap.String("op", op), zap.Error(err))
			return
		}
		e.log().Debug("operation rejected", zap.String("op", op), zap.String("kind", kind), zap.Error(err))
	}()
	tx, err := e.Repo.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType, checklistID, actorID string, payload events.EventPayload) error {
	w := e.Events
	w.Now = e.now
	return w.Append(ctx, tx, evtType, checklistID, actorID, payload)
}

func (e Engine) loadChecklist(ctx context.Context, tx *sql.Tx, id string) (domain.Checklist, error) {
	return e.load(id, func() (domain.Checklist, error) { return e.Repo.GetChecklist(ctx, tx, id) })
}

// lockChecklist loads a checklist that the caller is about to modify. Writers to the same
// checklist are serialized until tx ends.
func (e Engine) lockChecklist(ctx context.Context, tx *sql.Tx, id string) (domain.Checklist, error) {
	return e.load(id, func() (domain.Checklist, error) { return e.Repo.GetChecklistForUpdate(ctx, tx, id) })
}

func (e Engine) load(id string, get func() (domain.Checklist, error)) (domain.Checklist, error) {
	if id == "" {
		return domain.Checklist{}, ValidationError{Field: "checklist_id", Reason: ReasonRequired}
	}
	c, err := get()
	if errors.Is(err, repo.ErrNotFound) {
		return c, NotFoundError{Kind: "checklist", ID: id}
	}
	return c, err
}

// progress computes the report and derived state of c from its stored responses.
func (e Engine) progress(ctx context.Context, tx *sql.Tx, c domain.Checklist) (Progress, error) {
	responses, err := e.Repo.ListResponses(ctx, tx, c.ID)
	if err != nil {
		return Progress{}, err
	}
	rep := completion.Compute(e.Registry, responses)
	return Progress{ChecklistID: c.ID, State: workflow.Derive(c.IsVerified(), rep), Report: rep}, nil
}

func (e Engine) view(ctx context.Context, tx *sql.Tx, c domain.Checklist) (ChecklistView, error) {
	p, err := e.progress(ctx, tx, c)
	if err != nil {
		return ChecklistView{}, err
	}
	return ChecklistView{Checklist: c, State: p.State}, nil
}

// requireActor validates an actor id and, under policy, that the actor is known.
// Lookups happen before a transaction is opened.
func (e Engine) requireActor(ctx context.Context, field, actorID string) error {
	if actorID == "" {
		return ValidationError{Field: field, Reason: ReasonRequired}
	}
	if !e.Policy.RequireKnownActors || e.Directory == nil {
		return nil
	}
	ok, err := e.Directory.ActorExists(ctx, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return NotFoundError{Kind: "actor", ID: actorID}
	}
	return nil
}

func (e Engine) targetExists(ctx context.Context, a domain.Attachment) (bool, error) {
	if e.Directory == nil {
		return true, nil
	}
	switch a.Kind {
	case domain.TargetProduct:
		return e.Directory.ProductExists(ctx, a.ID)
	case domain.TargetDeliveryPlanProduct:
		return e.Directory.DeliveryPlanProductExists(ctx, a.ID)
	}
	return false, fmt.Errorf("unknown target kind %q", a.Kind)
}

// Schema exposes the registry the engine validates against.
func (e Engine) Schema() *schema.Registry { return e.Registry }
