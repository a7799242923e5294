package completion_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkline/internal/completion"
	"checkline/internal/domain"
	"checkline/internal/schema"
)

func registry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.New("2024-06", []schema.Category{
		{ID: "optics", Items: []schema.ItemDef{
			{ItemID: "lens-clean", Type: domain.ValueBoolean, Required: true},
			{ItemID: "coating", Type: domain.ValueText, Required: true},
			{ItemID: "remarks", Type: domain.ValueText},
		}},
		{ID: "body", Items: []schema.ItemDef{
			{ItemID: "scratches", Type: domain.ValueBoolean, Required: true},
			{ItemID: "serial", Type: domain.ValueText, Required: true},
		}},
	})
	require.NoError(t, err)
	return reg
}

func answer(category, item string, v domain.Value) domain.Response {
	r := domain.Response{ChecklistID: "c1", CategoryID: category, ItemID: item}
	r.SetValue(v)
	return r
}

func TestComputeEmpty(t *testing.T) {
	rep := completion.Compute(registry(t), nil)
	assert.Equal(t, "2024-06", rep.SchemaVersion)
	assert.Equal(t, 4, rep.Required)
	assert.Equal(t, 0, rep.Satisfied)
	assert.Zero(t, rep.OverallRatio)
	assert.False(t, rep.Complete())
	assert.Len(t, rep.MissingRequired, 4)
	assert.Equal(t, completion.CategoryProgress{Required: 2}, rep.PerCategory["optics"])
}

func TestComputeOptionalItemsDoNotCount(t *testing.T) {
	rep := completion.Compute(registry(t), []domain.Response{
		answer("optics", "remarks", domain.TextValue("dusty")),
	})
	assert.Equal(t, 0, rep.Satisfied)
	assert.Equal(t, 1, rep.Answered)
}

func TestComputeFull(t *testing.T) {
	rep := completion.Compute(registry(t), []domain.Response{
		answer("optics", "lens-clean", domain.BoolValue(false)),
		answer("optics", "coating", domain.TextValue("")),
		answer("body", "scratches", domain.BoolValue(true)),
		answer("body", "serial", domain.TextValue("SN-1")),
	})
	assert.True(t, rep.Complete())
	assert.Equal(t, 1.0, rep.OverallRatio)
	assert.Empty(t, rep.MissingRequired)
	assert.Equal(t, 1.0, rep.PerCategory["body"].Ratio)
}

func TestComputeIsMonotonicInResponses(t *testing.T) {
	reg := registry(t)
	all := []domain.Response{
		answer("optics", "lens-clean", domain.BoolValue(true)),
		answer("body", "serial", domain.TextValue("SN-1")),
		answer("optics", "coating", domain.TextValue("ok")),
		answer("body", "scratches", domain.BoolValue(false)),
	}
	prev := -1
	for i := 0; i <= len(all); i++ {
		rep := completion.Compute(reg, all[:i])
		assert.GreaterOrEqual(t, rep.Satisfied, prev)
		prev = rep.Satisfied
	}
	assert.Equal(t, 4, prev)
}

func TestComputeOrphanedAndMismatched(t *testing.T) {
	rep := completion.Compute(registry(t), []domain.Response{
		answer("optics", "lens-clean", domain.TextValue("yes")),
		answer("legacy", "old-item", domain.BoolValue(true)),
		answer("body", "scratches", domain.BoolValue(true)),
	})
	assert.Equal(t, []domain.ItemKey{{CategoryID: "legacy", ItemID: "old-item"}}, rep.Orphaned)
	assert.Equal(t, []domain.ItemKey{{CategoryID: "optics", ItemID: "lens-clean"}}, rep.Mismatched)
	assert.Equal(t, 1, rep.Satisfied)
	assert.Equal(t, []domain.ItemKey{
		{CategoryID: "optics", ItemID: "lens-clean"},
		{CategoryID: "optics", ItemID: "coating"},
		{CategoryID: "body", ItemID: "serial"},
	}, rep.MissingRequired)
}

func TestComputeNoRequiredItems(t *testing.T) {
	reg, err := schema.New("empty", []schema.Category{
		{ID: "misc", Items: []schema.ItemDef{{ItemID: "note", Type: domain.ValueText}}},
	})
	require.NoError(t, err)
	rep := completion.Compute(reg, nil)
	assert.Equal(t, 1.0, rep.OverallRatio)
	assert.Equal(t, 1.0, rep.PerCategory["misc"].Ratio)
	assert.True(t, rep.Complete())
}

func TestComputeIgnoresResponseOrder(t *testing.T) {
	reg := registry(t)
	responses := []domain.Response{
		answer("body", "serial", domain.TextValue("SN")),
		answer("optics", "lens-clean", domain.BoolValue(false)),
		answer("legacy", "dust", domain.BoolValue(true)),
		answer("optics", "coating", domain.BoolValue(true)),
		answer("optics", "remarks", domain.TextValue("ok")),
	}
	want := completion.Compute(reg, responses)
	for i := 0; i < len(responses); i++ {
		rotated := append(append([]domain.Response{}, responses[i:]...), responses[:i]...)
		if diff := cmp.Diff(want, completion.Compute(reg, rotated)); diff != "" {
			t.Fatalf("rotation %d changed the report (-want +got):\n%s", i, diff)
		}
	}
}
