package server

import (
	"time"

	"checkline/internal/domain"
	"checkline/internal/engine"
	"checkline/internal/schema"
	"checkline/internal/workflow"
)

// Request payloads

type CreateChecklistRequest struct {
	ID                    *string `json:"id,omitempty"`
	ProductID             *string `json:"product_id,omitempty"`
	DeliveryPlanProductID *string `json:"delivery_plan_product_id,omitempty"`
	Notes                 *string `json:"notes,omitempty"`
}

type UpdateChecklistRequest struct {
	Notes string `json:"notes"`
}

// UpsertResponseRequest carries exactly one of BooleanValue and TextValue.
type UpsertResponseRequest struct {
	BooleanValue    *bool   `json:"boolean_value,omitempty"`
	TextValue       *string `json:"text_value,omitempty"`
	ExpectedVersion *int64  `json:"expected_version,omitempty" minimum:"0"`
}

type RegisterProductRequest struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

type RegisterDeliveryPlanProductRequest struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id,omitempty"`
	Label     string `json:"label,omitempty"`
}

// Response payloads

type ChecklistResponse struct {
	ID                    string         `json:"id"`
	ProductID             *string        `json:"product_id,omitempty"`
	DeliveryPlanProductID *string        `json:"delivery_plan_product_id,omitempty"`
	SchemaVersion         string         `json:"schema_version,omitempty"`
	State                 workflow.State `json:"state" enum:"draft,in_progress,completed,verified"`
	CreatedBy             string         `json:"created_by"`
	CreatedAt             time.Time      `json:"created_at"`
	VerifiedBy            *string        `json:"verified_by,omitempty"`
	VerifiedAt            *time.Time     `json:"verified_at,omitempty"`
	UpdatedBy             *string        `json:"updated_by,omitempty"`
	UpdatedAt             time.Time      `json:"updated_at"`
	Notes                 string         `json:"notes,omitempty"`
	Version               int64          `json:"version"`
}

type ChecklistListResponse struct {
	Items []ChecklistResponse `json:"items"`
}

type ResponseItem struct {
	ID           string    `json:"id"`
	ChecklistID  string    `json:"checklist_id"`
	CategoryID   string    `json:"category_id"`
	ItemID       string    `json:"item_id"`
	BooleanValue *bool     `json:"boolean_value,omitempty"`
	TextValue    *string   `json:"text_value,omitempty"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type ResponseListResponse struct {
	Items []ResponseItem `json:"items"`
}

type CategoryProgress struct {
	Required  int     `json:"required"`
	Satisfied int     `json:"satisfied"`
	Ratio     float64 `json:"ratio"`
}

type CompletionResponse struct {
	ChecklistID     string                      `json:"checklist_id"`
	State           workflow.State              `json:"state" enum:"draft,in_progress,completed,verified"`
	SchemaVersion   string                      `json:"schema_version"`
	Required        int                         `json:"required"`
	Satisfied       int                         `json:"satisfied"`
	Answered        int                         `json:"answered"`
	OverallRatio    float64                     `json:"overall_ratio"`
	Complete        bool                        `json:"complete"`
	PerCategory     map[string]CategoryProgress `json:"per_category"`
	MissingRequired []domain.ItemKey            `json:"missing_required"`
	Orphaned        []domain.ItemKey            `json:"orphaned,omitempty"`
	Mismatched      []domain.ItemKey            `json:"mismatched,omitempty"`
}

type EventResponse struct {
	ID          int64     `json:"id"`
	TS          time.Time `json:"ts"`
	Type        string    `json:"type"`
	ChecklistID string    `json:"checklist_id"`
	ActorID     string    `json:"actor_id"`
	Payload     string    `json:"payload_json"`
}

type EventListResponse struct {
	Items []EventResponse `json:"items"`
}

type SchemaResponse struct {
	Version    string            `json:"version"`
	Categories []schema.Category `json:"categories"`
}

type TargetResponse struct {
	Kind string `json:"kind" enum:"product,delivery_plan_product"`
	ID   string `json:"id"`
}

func toChecklistResponse(v engine.ChecklistView) ChecklistResponse {
	return ChecklistResponse{
		ID:                    v.ID,
		ProductID:             v.ProductID,
		DeliveryPlanProductID: v.DeliveryPlanProductID,
		SchemaVersion:         v.SchemaVersion,
		State:                 v.State,
		CreatedBy:             v.CreatedBy,
		CreatedAt:             v.CreatedAt,
		VerifiedBy:            v.VerifiedBy,
		VerifiedAt:            v.VerifiedAt,
		UpdatedBy:             v.UpdatedBy,
		UpdatedAt:             v.UpdatedAt,
		Notes:                 v.Notes,
		Version:               v.Version,
	}
}

func toResponseItem(r domain.Response) ResponseItem {
	return ResponseItem{
		ID:           r.ID,
		ChecklistID:  r.ChecklistID,
		CategoryID:   r.CategoryID,
		ItemID:       r.ItemID,
		BooleanValue: r.BooleanValue,
		TextValue:    r.TextValue,
		Version:      r.Version,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func toCompletionResponse(p engine.Progress) CompletionResponse {
	perCategory := make(map[string]CategoryProgress, len(p.PerCategory))
	for id, cp := range p.PerCategory {
		perCategory[id] = CategoryProgress(cp)
	}
	missing := p.MissingRequired
	if missing == nil {
		missing = []domain.ItemKey{}
	}
	return CompletionResponse{
		ChecklistID:     p.ChecklistID,
		State:           p.State,
		SchemaVersion:   p.SchemaVersion,
		Required:        p.Required,
		Satisfied:       p.Satisfied,
		Answered:        p.Answered,
		OverallRatio:    p.OverallRatio,
		Complete:        p.Report.Complete(),
		PerCategory:     perCategory,
		MissingRequired: missing,
		Orphaned:        p.Orphaned,
		Mismatched:      p.Mismatched,
	}
}

func toEventResponse(e domain.Event) EventResponse {
	return EventResponse(e)
}

// valueFromRequest returns the zero Value when neither or both fields are set.
func valueFromRequest(req UpsertResponseRequest) domain.Value {
	switch {
	case req.BooleanValue != nil && req.TextValue == nil:
		return domain.BoolValue(*req.BooleanValue)
	case req.TextValue != nil && req.BooleanValue == nil:
		return domain.TextValue(*req.TextValue)
	}
	return domain.Value{}
}
