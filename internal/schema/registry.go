// Package schema holds the category/item hierarchy that checklists are answered against.
//
// A Registry is built once at startup and never mutated; it is passed explicitly to the
// components that need it so tests can run several schema versions side by side.
package schema

import (
	"errors"
	"fmt"

	"checkline/internal/domain"
)

// ErrUnknownItem is returned when a (category, item) pair is not part of the registry.
var ErrUnknownItem = errors.New("unknown item")

type ItemDef struct {
	CategoryID string           `json:"category_id"`
	ItemID     string           `json:"item_id"`
	Label      string           `json:"label"`
	Type       domain.ValueType `json:"value_type" enum:"boolean,text"`
	Required   bool             `json:"required"`
}

func (d ItemDef) Key() domain.ItemKey {
	return domain.ItemKey{CategoryID: d.CategoryID, ItemID: d.ItemID}
}

type Category struct {
	ID    string    `json:"id"`
	Label string    `json:"label"`
	Items []ItemDef `json:"items"`
}

type Registry struct {
	version    string
	categories []Category
	index      map[domain.ItemKey]ItemDef
	// position of each key in declaration order, used to sort reports.
	order map[domain.ItemKey]int
}

// New validates the hierarchy and returns an immutable registry.
func New(version string, categories []Category) (*Registry, error) {
	r := &Registry{
		version: version,
		index:   make(map[domain.ItemKey]ItemDef),
		order:   make(map[domain.ItemKey]int),
	}
	seenCategories := make(map[string]bool, len(categories))
	for _, c := range categories {
		if c.ID == "" {
			return nil, errors.New("schema category id is required")
		}
		if seenCategories[c.ID] {
			return nil, fmt.Errorf("schema category %s declared twice", c.ID)
		}
		seenCategories[c.ID] = true
		cat := Category{ID: c.ID, Label: c.Label, Items: make([]ItemDef, 0, len(c.Items))}
		for _, it := range c.Items {
			if it.ItemID == "" {
				return nil, fmt.Errorf("schema category %s has an item without id", c.ID)
			}
			if !it.Type.Valid() {
				return nil, fmt.Errorf("schema item %s/%s has unknown value type %q", c.ID, it.ItemID, it.Type)
			}
			it.CategoryID = c.ID
			key := it.Key()
			if _, dup := r.index[key]; dup {
				return nil, fmt.Errorf("schema item %s/%s declared twice", c.ID, it.ItemID)
			}
			r.index[key] = it
			r.order[key] = len(r.order)
			cat.Items = append(cat.Items, it)
		}
		r.categories = append(r.categories, cat)
	}
	return r, nil
}

func (r *Registry) Version() string { return r.version }

// Resolve looks up an item definition.
func (r *Registry) Resolve(categoryID, itemID string) (ItemDef, error) {
	def, ok := r.index[domain.ItemKey{CategoryID: categoryID, ItemID: itemID}]
	if !ok {
		return ItemDef{}, fmt.Errorf("%w: %s/%s", ErrUnknownItem, categoryID, itemID)
	}
	return def, nil
}

// Categories returns the categories in declaration order. The result is a copy.
func (r *Registry) Categories() []Category {
	out := make([]Category, len(r.categories))
	for i, c := range r.categories {
		items := make([]ItemDef, len(c.Items))
		copy(items, c.Items)
		out[i] = Category{ID: c.ID, Label: c.Label, Items: items}
	}
	return out
}

// RequiredItems lists the keys of every required item in declaration order.
func (r *Registry) RequiredItems() []domain.ItemKey {
	var keys []domain.ItemKey
	for _, c := range r.categories {
		for _, it := range c.Items {
			if it.Required {
				keys = append(keys, it.Key())
			}
		}
	}
	return keys
}

// Position returns the declaration index of a key and whether the key is known.
func (r *Registry) Position(key domain.ItemKey) (int, bool) {
	pos, ok := r.order[key]
	return pos, ok
}
