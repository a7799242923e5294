package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"checkline/internal/engine"
)

var commonErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusInternalServerError,
	http.StatusServiceUnavailable,
}

func withErrors(extra ...int) []int {
	return append(append([]int{}, commonErrors...), extra...)
}

type checklistPath struct {
	ID string `path:"id"`
}

type checklistOutput struct {
	Body ChecklistResponse `json:"body"`
}

func registerSchema(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-schema",
		Method:      http.MethodGet,
		Path:        "/schema",
		Summary:     "Category and item hierarchy answers are validated against",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SchemaResponse `json:"body"`
	}, error) {
		reg := e.Schema()
		return &struct {
			Body SchemaResponse `json:"body"`
		}{Body: SchemaResponse{Version: reg.Version(), Categories: reg.Categories()}}, nil
	})
}

func registerTargets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-product",
		Method:        http.MethodPost,
		Path:          "/targets/products",
		Summary:       "Register a product checklists may attach to",
		DefaultStatus: http.StatusCreated,
		Errors:        withErrors(http.StatusForbidden),
	}, func(ctx context.Context, input *struct {
		Body RegisterProductRequest `json:"body"`
	}) (*struct {
		Body TargetResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, PermAdmin); err != nil {
			return nil, handleError(err)
		}
		if err := e.RegisterProduct(ctx, input.Body.ID, input.Body.Label); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TargetResponse `json:"body"`
		}{Body: TargetResponse{Kind: "product", ID: strings.TrimSpace(input.Body.ID)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "register-delivery-plan-product",
		Method:        http.MethodPost,
		Path:          "/targets/delivery-plan-products",
		Summary:       "Register a delivery plan line checklists may attach to",
		DefaultStatus: http.StatusCreated,
		Errors:        withErrors(http.StatusForbidden),
	}, func(ctx context.Context, input *struct {
		Body RegisterDeliveryPlanProductRequest `json:"body"`
	}) (*struct {
		Body TargetResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, PermAdmin); err != nil {
			return nil, handleError(err)
		}
		if err := e.RegisterDeliveryPlanProduct(ctx, input.Body.ID, input.Body.ProductID, input.Body.Label); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TargetResponse `json:"body"`
		}{Body: TargetResponse{Kind: "delivery_plan_product", ID: strings.TrimSpace(input.Body.ID)}}, nil
	})
}

func registerChecklists(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-checklist",
		Method:        http.MethodPost,
		Path:          "/checklists",
		Summary:       "Create a checklist for a product or delivery plan product",
		DefaultStatus: http.StatusCreated,
		Errors:        withErrors(http.StatusConflict),
	}, func(ctx context.Context, input *struct {
		Body CreateChecklistRequest `json:"body"`
	}) (*checklistOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.CreateChecklistOptions{ActorID: actorID}
		if input.Body.ID != nil {
			opts.ID = strings.TrimSpace(*input.Body.ID)
		}
		if input.Body.ProductID != nil {
			opts.ProductID = strings.TrimSpace(*input.Body.ProductID)
		}
		if input.Body.DeliveryPlanProductID != nil {
			opts.DeliveryPlanProductID = strings.TrimSpace(*input.Body.DeliveryPlanProductID)
		}
		if input.Body.Notes != nil {
			opts.Notes = *input.Body.Notes
		}
		c, err := e.CreateChecklist(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		v, err := e.GetChecklist(ctx, engine.Selector{ID: c.ID})
		if err != nil {
			return nil, handleError(err)
		}
		return &checklistOutput{Body: toChecklistResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-checklists",
		Method:      http.MethodGet,
		Path:        "/checklists",
		Summary:     "List checklists, or look one up by target",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ProductID             string `query:"product_id"`
		DeliveryPlanProductID string `query:"delivery_plan_product_id"`
		Verified              string `query:"verified" enum:"true,false"`
		Limit                 int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body ChecklistListResponse `json:"body"`
	}, error) {
		out := &struct {
			Body ChecklistListResponse `json:"body"`
		}{Body: ChecklistListResponse{Items: []ChecklistResponse{}}}
		if input.ProductID != "" || input.DeliveryPlanProductID != "" {
			v, err := e.GetChecklist(ctx, engine.Selector{ProductID: input.ProductID, DeliveryPlanProductID: input.DeliveryPlanProductID})
			var nf engine.NotFoundError
			if err != nil && !errors.As(err, &nf) {
				return nil, handleError(err)
			}
			if err == nil {
				out.Body.Items = append(out.Body.Items, toChecklistResponse(v))
			}
			return out, nil
		}
		filter := engine.ListFilter{Limit: input.Limit}
		if input.Verified != "" {
			verified := input.Verified == "true"
			filter.Verified = &verified
		}
		views, err := e.ListChecklists(ctx, filter)
		if err != nil {
			return nil, handleError(err)
		}
		for _, v := range views {
			out.Body.Items = append(out.Body.Items, toChecklistResponse(v))
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-checklist",
		Method:      http.MethodGet,
		Path:        "/checklists/{id}",
		Summary:     "Get a checklist with its derived state",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *checklistPath) (*checklistOutput, error) {
		v, err := e.GetChecklist(ctx, engine.Selector{ID: input.ID})
		if err != nil {
			return nil, handleError(err)
		}
		return &checklistOutput{Body: toChecklistResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-checklist",
		Method:      http.MethodPatch,
		Path:        "/checklists/{id}",
		Summary:     "Update checklist notes",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body UpdateChecklistRequest `json:"body"`
	}) (*checklistOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.UpdateNotes(ctx, input.ID, actorID, input.Body.Notes)
		if err != nil {
			return nil, handleError(err)
		}
		return &checklistOutput{Body: toChecklistResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-completion",
		Method:      http.MethodGet,
		Path:        "/checklists/{id}/completion",
		Summary:     "Completion report of a checklist",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *checklistPath) (*struct {
		Body CompletionResponse `json:"body"`
	}, error) {
		p, err := e.GetCompletion(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompletionResponse `json:"body"`
		}{Body: toCompletionResponse(p)}, nil
	})
}

func registerResponses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-response",
		Method:      http.MethodPut,
		Path:        "/checklists/{id}/responses/{category_id}/{item_id}",
		Summary:     "Record the answer to one item",
		Errors:      withErrors(http.StatusConflict, http.StatusUnprocessableEntity),
	}, func(ctx context.Context, input *struct {
		ID         string                `path:"id"`
		CategoryID string                `path:"category_id"`
		ItemID     string                `path:"item_id"`
		Body       UpsertResponseRequest `json:"body"`
	}) (*struct {
		Body ResponseItem `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.BooleanValue != nil && input.Body.TextValue != nil {
			return nil, newAPIError(http.StatusBadRequest, "validation_failed", "exactly one of boolean_value and text_value is allowed",
				map[string]any{"field": "value", "reason": "ambiguous value"})
		}
		r, err := e.UpsertResponse(ctx, engine.ResponseInput{
			ChecklistID:     input.ID,
			CategoryID:      input.CategoryID,
			ItemID:          input.ItemID,
			Value:           valueFromRequest(input.Body),
			ActorID:         actorID,
			ExpectedVersion: input.Body.ExpectedVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResponseItem `json:"body"`
		}{Body: toResponseItem(r)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-responses",
		Method:      http.MethodGet,
		Path:        "/checklists/{id}/responses",
		Summary:     "List recorded answers",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *checklistPath) (*struct {
		Body ResponseListResponse `json:"body"`
	}, error) {
		list, err := e.ListResponses(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		items := make([]ResponseItem, 0, len(list))
		for _, r := range list {
			items = append(items, toResponseItem(r))
		}
		return &struct {
			Body ResponseListResponse `json:"body"`
		}{Body: ResponseListResponse{Items: items}}, nil
	})
}

func registerWorkflow(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "verify-checklist",
		Method:      http.MethodPost,
		Path:        "/checklists/{id}/verify",
		Summary:     "Verify a completed checklist",
		Errors:      withErrors(http.StatusForbidden, http.StatusConflict, http.StatusUnprocessableEntity),
	}, func(ctx context.Context, input *checklistPath) (*checklistOutput, error) {
		actorID, err := requirePermission(ctx, PermVerify)
		if err != nil {
			return nil, handleError(err)
		}
		v, err := e.Verify(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &checklistOutput{Body: toChecklistResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reopen-checklist",
		Method:      http.MethodPost,
		Path:        "/checklists/{id}/reopen",
		Summary:     "Clear the verification of a checklist",
		Errors:      withErrors(http.StatusForbidden, http.StatusConflict, http.StatusUnprocessableEntity),
	}, func(ctx context.Context, input *checklistPath) (*checklistOutput, error) {
		actorID, err := requirePermission(ctx, PermReopen)
		if err != nil {
			return nil, handleError(err)
		}
		v, err := e.Reopen(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &checklistOutput{Body: toChecklistResponse(v)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/checklists/{id}/events",
		Summary:     "Audit trail of a checklist",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		After int64  `query:"after" minimum:"0"`
		Limit int    `query:"limit" minimum:"0" maximum:"1000"`
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		evts, err := e.ListEvents(ctx, input.ID, input.After, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		items := make([]EventResponse, 0, len(evts))
		for _, ev := range evts {
			items = append(items, toEventResponse(ev))
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: EventListResponse{Items: items}}, nil
	})
}
