package checklinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Checkline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "v0",
		Timeout:  10 * time.Second,
	}
}

// Checklist represents the API checklist model.
type Checklist struct {
	ID                    string     `json:"id"`
	ProductID             *string    `json:"product_id,omitempty"`
	DeliveryPlanProductID *string    `json:"delivery_plan_product_id,omitempty"`
	SchemaVersion         string     `json:"schema_version,omitempty"`
	State                 string     `json:"state"`
	CreatedBy             string     `json:"created_by"`
	CreatedAt             time.Time  `json:"created_at"`
	VerifiedBy            *string    `json:"verified_by,omitempty"`
	VerifiedAt            *time.Time `json:"verified_at,omitempty"`
	UpdatedBy             *string    `json:"updated_by,omitempty"`
	UpdatedAt             time.Time  `json:"updated_at"`
	Notes                 string     `json:"notes,omitempty"`
	Version               int64      `json:"version"`
}

// Response is one recorded answer.
type Response struct {
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

type ItemKey struct {
	CategoryID string `json:"category_id"`
	ItemID     string `json:"item_id"`
}

type CategoryProgress struct {
	Required  int     `json:"required"`
	Satisfied int     `json:"satisfied"`
	Ratio     float64 `json:"ratio"`
}

// Completion is the progress report of a checklist.
type Completion struct {
	ChecklistID     string                      `json:"checklist_id"`
	State           string                      `json:"state"`
	SchemaVersion   string                      `json:"schema_version"`
	Required        int                         `json:"required"`
	Satisfied       int                         `json:"satisfied"`
	Answered        int                         `json:"answered"`
	OverallRatio    float64                     `json:"overall_ratio"`
	Complete        bool                        `json:"complete"`
	PerCategory     map[string]CategoryProgress `json:"per_category"`
	MissingRequired []ItemKey                   `json:"missing_required"`
	Orphaned        []ItemKey                   `json:"orphaned,omitempty"`
	Mismatched      []ItemKey                   `json:"mismatched,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID          int64     `json:"id"`
	TS          time.Time `json:"ts"`
	Type        string    `json:"type"`
	ChecklistID string    `json:"checklist_id"`
	ActorID     string    `json:"actor_id"`
	Payload     string    `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Retryable reports whether the server asked the caller to try again later.
func (e *APIError) Retryable() bool { return e.StatusCode == http.StatusServiceUnavailable }

// IsConflict reports whether err is a 409 from the API.
func IsConflict(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusConflict
}

// CreateChecklist creates a checklist attached to productID or deliveryPlanProductID; pass an
// empty string for the other.
func (c *Client) CreateChecklist(ctx context.Context, productID, deliveryPlanProductID, notes string) (Checklist, error) {
	body := map[string]any{}
	if productID != "" {
		body["product_id"] = productID
	}
	if deliveryPlanProductID != "" {
		body["delivery_plan_product_id"] = deliveryPlanProductID
	}
	if notes != "" {
		body["notes"] = notes
	}
	var resp Checklist
	err := c.do(ctx, http.MethodPost, c.path("checklists"), body, &resp)
	return resp, err
}

// GetChecklist fetches a checklist by id.
func (c *Client) GetChecklist(ctx context.Context, id string) (Checklist, error) {
	var resp Checklist
	err := c.do(ctx, http.MethodGet, c.path("checklists/"+url.PathEscape(id)), nil, &resp)
	return resp, err
}

// ChecklistForProduct returns the checklist of a product, or nil when it has none.
func (c *Client) ChecklistForProduct(ctx context.Context, productID string) (*Checklist, error) {
	return c.lookup(ctx, "product_id", productID)
}

// ChecklistForDeliveryPlanProduct returns the checklist of a delivery plan product, or nil.
func (c *Client) ChecklistForDeliveryPlanProduct(ctx context.Context, id string) (*Checklist, error) {
	return c.lookup(ctx, "delivery_plan_product_id", id)
}

func (c *Client) lookup(ctx context.Context, param, id string) (*Checklist, error) {
	var resp struct {
		Items []Checklist `json:"items"`
	}
	endpoint := c.path("checklists") + "?" + url.Values{param: {id}}.Encode()
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, nil
	}
	return &resp.Items[0], nil
}

// SetBool answers a boolean item.
func (c *Client) SetBool(ctx context.Context, checklistID, categoryID, itemID string, v bool) (Response, error) {
	return c.setResponse(ctx, checklistID, categoryID, itemID, map[string]any{"boolean_value": v})
}

// SetText answers a text item.
func (c *Client) SetText(ctx context.Context, checklistID, categoryID, itemID, v string) (Response, error) {
	return c.setResponse(ctx, checklistID, categoryID, itemID, map[string]any{"text_value": v})
}

func (c *Client) setResponse(ctx context.Context, checklistID, categoryID, itemID string, body map[string]any) (Response, error) {
	var resp Response
	endpoint := c.path(fmt.Sprintf("checklists/%s/responses/%s/%s",
		url.PathEscape(checklistID), url.PathEscape(categoryID), url.PathEscape(itemID)))
	err := c.do(ctx, http.MethodPut, endpoint, body, &resp)
	return resp, err
}

// ListResponses returns the answers of a checklist.
func (c *Client) ListResponses(ctx context.Context, checklistID string) ([]Response, error) {
	var resp struct {
		Items []Response `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.path(fmt.Sprintf("checklists/%s/responses", url.PathEscape(checklistID))), nil, &resp)
	return resp.Items, err
}

// Completion returns the completion report of a checklist.
func (c *Client) Completion(ctx context.Context, checklistID string) (Completion, error) {
	var resp Completion
	err := c.do(ctx, http.MethodGet, c.path(fmt.Sprintf("checklists/%s/completion", url.PathEscape(checklistID))), nil, &resp)
	return resp, err
}

// Verify marks a completed checklist as verified by the authenticated actor.
func (c *Client) Verify(ctx context.Context, checklistID string) (Checklist, error) {
	var resp Checklist
	err := c.do(ctx, http.MethodPost, c.path(fmt.Sprintf("checklists/%s/verify", url.PathEscape(checklistID))), nil, &resp)
	return resp, err
}

// Reopen clears a verification.
func (c *Client) Reopen(ctx context.Context, checklistID string) (Checklist, error) {
	var resp Checklist
	err := c.do(ctx, http.MethodPost, c.path(fmt.Sprintf("checklists/%s/reopen", url.PathEscape(checklistID))), nil, &resp)
	return resp, err
}

// Events returns the audit trail of a checklist after the given event id.
func (c *Client) Events(ctx context.Context, checklistID string, after int64, limit int) ([]Event, error) {
	q := url.Values{}
	if after > 0 {
		q.Set("after", fmt.Sprint(after))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := c.path(fmt.Sprintf("checklists/%s/events", url.PathEscape(checklistID)))
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message, apiErr.Details = env.Error.Code, env.Error.Message, env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) path(p string) string {
	return strings.Trim(c.BasePath, "/") + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
