package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkline/internal/domain"
	"checkline/internal/schema"
)

func opticsSchema(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.New("v1", []schema.Category{
		{ID: "optics", Label: "Optics", Items: []schema.ItemDef{
			{ItemID: "lens-clean", Label: "Lens clean", Type: domain.ValueBoolean, Required: true},
			{ItemID: "notes", Label: "Notes", Type: domain.ValueText},
		}},
		{ID: "body", Label: "Body", Items: []schema.ItemDef{
			{ItemID: "scratches", Label: "Scratch description", Type: domain.ValueText, Required: true},
		}},
	})
	require.NoError(t, err)
	return reg
}

func TestResolve(t *testing.T) {
	reg := opticsSchema(t)

	def, err := reg.Resolve("optics", "lens-clean")
	require.NoError(t, err)
	assert.Equal(t, "optics", def.CategoryID)
	assert.Equal(t, domain.ValueBoolean, def.Type)
	assert.True(t, def.Required)

	_, err = reg.Resolve("optics", "no-such-item")
	assert.ErrorIs(t, err, schema.ErrUnknownItem)
	_, err = reg.Resolve("nope", "lens-clean")
	assert.ErrorIs(t, err, schema.ErrUnknownItem)
}

func TestRequiredItemsInDeclarationOrder(t *testing.T) {
	reg := opticsSchema(t)
	assert.Equal(t, []domain.ItemKey{
		{CategoryID: "optics", ItemID: "lens-clean"},
		{CategoryID: "body", ItemID: "scratches"},
	}, reg.RequiredItems())
}

func TestCategoriesReturnsCopy(t *testing.T) {
	reg := opticsSchema(t)
	cats := reg.Categories()
	require.Len(t, cats, 2)
	cats[0].Items[0].Required = false
	cats[0].ID = "mutated"

	again := reg.Categories()
	assert.Equal(t, "optics", again[0].ID)
	assert.True(t, again[0].Items[0].Required)
}

func TestNewRejectsMalformedHierarchy(t *testing.T) {
	cases := map[string][]schema.Category{
		"empty category id": {{ID: ""}},
		"duplicate category": {
			{ID: "a"}, {ID: "a"},
		},
		"duplicate item": {
			{ID: "a", Items: []schema.ItemDef{
				{ItemID: "x", Type: domain.ValueText},
				{ItemID: "x", Type: domain.ValueBoolean},
			}},
		},
		"unknown type": {
			{ID: "a", Items: []schema.ItemDef{{ItemID: "x", Type: "number"}}},
		},
		"empty item id": {
			{ID: "a", Items: []schema.ItemDef{{Type: domain.ValueText}}},
		},
	}
	for name, cats := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := schema.New("v1", cats)
			assert.Error(t, err)
		})
	}
}
