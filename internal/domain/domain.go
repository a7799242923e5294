package domain

import (
	"errors"
	"time"
)

// TargetKind names the physical-goods entity a checklist inspects.
type TargetKind string

const (
	TargetProduct             TargetKind = "product"
	TargetDeliveryPlanProduct TargetKind = "delivery_plan_product"
)

var (
	ErrAmbiguousAttachment = errors.New("attachment must reference either a product or a delivery plan product, not both")
	ErrMissingAttachment   = errors.New("attachment must reference a product or a delivery plan product")
)

// Attachment binds a checklist to exactly one target. The zero value is unattached.
type Attachment struct {
	Kind TargetKind
	ID   string
}

func ProductAttachment(id string) Attachment {
	return Attachment{Kind: TargetProduct, ID: id}
}

func DeliveryPlanProductAttachment(id string) Attachment {
	return Attachment{Kind: TargetDeliveryPlanProduct, ID: id}
}

// AttachmentFromRefs builds an Attachment from the two nullable references used on the wire
// and in storage. Both set is always an error; neither set yields ErrMissingAttachment and
// callers decide whether that is acceptable.
func AttachmentFromRefs(productID, deliveryPlanProductID string) (Attachment, error) {
	switch {
	case productID != "" && deliveryPlanProductID != "":
		return Attachment{}, ErrAmbiguousAttachment
	case productID != "":
		return ProductAttachment(productID), nil
	case deliveryPlanProductID != "":
		return DeliveryPlanProductAttachment(deliveryPlanProductID), nil
	default:
		return Attachment{}, ErrMissingAttachment
	}
}

func (a Attachment) IsZero() bool { return a.Kind == "" && a.ID == "" }

// Refs splits the attachment back into the two nullable references.
func (a Attachment) Refs() (productID, deliveryPlanProductID string) {
	switch a.Kind {
	case TargetProduct:
		return a.ID, ""
	case TargetDeliveryPlanProduct:
		return "", a.ID
	}
	return "", ""
}

type Checklist struct {
	ID                    string     `json:"id"`
	ProductID             *string    `json:"product_id,omitempty"`
	DeliveryPlanProductID *string    `json:"delivery_plan_product_id,omitempty"`
	SchemaVersion         string     `json:"schema_version,omitempty"`
	CreatedBy             string     `json:"created_by"`
	CreatedAt             time.Time  `json:"created_at"`
	VerifiedBy            *string    `json:"verified_by,omitempty"`
	VerifiedAt            *time.Time `json:"verified_at,omitempty"`
	UpdatedBy             *string    `json:"updated_by,omitempty"`
	UpdatedAt             time.Time  `json:"updated_at"`
	Notes                 string     `json:"notes,omitempty"`
	Version               int64      `json:"version"`
}

// Attachment returns the tagged form of the two target references.
func (c Checklist) Attachment() Attachment {
	if c.ProductID != nil {
		return ProductAttachment(*c.ProductID)
	}
	if c.DeliveryPlanProductID != nil {
		return DeliveryPlanProductAttachment(*c.DeliveryPlanProductID)
	}
	return Attachment{}
}

func (c *Checklist) SetAttachment(a Attachment) {
	c.ProductID, c.DeliveryPlanProductID = nil, nil
	p, d := a.Refs()
	if p != "" {
		c.ProductID = &p
	}
	if d != "" {
		c.DeliveryPlanProductID = &d
	}
}

func (c Checklist) IsVerified() bool { return c.VerifiedBy != nil }

// ValueType is the declared answer type of an item.
type ValueType string

const (
	ValueBoolean ValueType = "boolean"
	ValueText    ValueType = "text"
)

func (t ValueType) Valid() bool { return t == ValueBoolean || t == ValueText }

// Value is a typed answer: exactly one of the boolean or text forms.
type Value struct {
	typ  ValueType
	b    bool
	text string
}

func BoolValue(b bool) Value    { return Value{typ: ValueBoolean, b: b} }
func TextValue(s string) Value  { return Value{typ: ValueText, text: s} }
func (v Value) Type() ValueType { return v.typ }
func (v Value) Bool() bool      { return v.b }
func (v Value) Text() string    { return v.text }
func (v Value) IsZero() bool    { return v.typ == "" }

// ItemKey identifies an item within the schema hierarchy.
type ItemKey struct {
	CategoryID string `json:"category_id"`
	ItemID     string `json:"item_id"`
}

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

func (r Response) Key() ItemKey { return ItemKey{CategoryID: r.CategoryID, ItemID: r.ItemID} }

// Value returns the stored answer; the zero Value if the row holds neither or both columns.
func (r Response) Value() Value {
	switch {
	case r.BooleanValue != nil && r.TextValue == nil:
		return BoolValue(*r.BooleanValue)
	case r.TextValue != nil && r.BooleanValue == nil:
		return TextValue(*r.TextValue)
	}
	return Value{}
}

func (r *Response) SetValue(v Value) {
	r.BooleanValue, r.TextValue = nil, nil
	switch v.Type() {
	case ValueBoolean:
		b := v.Bool()
		r.BooleanValue = &b
	case ValueText:
		s := v.Text()
		r.TextValue = &s
	}
}

type Event struct {
	ID          int64     `json:"id"`
	TS          time.Time `json:"ts"`
	Type        string    `json:"type"`
	ChecklistID string    `json:"checklist_id"`
	ActorID     string    `json:"actor_id"`
	Payload     string    `json:"payload_json"`
}

type APIKey struct {
	ID          string    `json:"id"`
	ActorID     string    `json:"actor_id"`
	Name        string    `json:"name,omitempty"`
	KeyHash     string    `json:"key_hash"`
	Permissions []string  `json:"permissions,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
