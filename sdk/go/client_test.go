package checklinesdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendsCredentialsAndDecodes(t *testing.T) {
	var gotKey, gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		gotPath = r.URL.Path
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		b, _ := json.Marshal(body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "r1", "checklist_id": "c1", "category_id": "optics", "item_id": "lens-clean",
			"boolean_value": true, "version": 2,
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "cl_secret"
	r, err := c.SetBool(context.Background(), "c1", "optics", "lens-clean", true)
	require.NoError(t, err)
	assert.Equal(t, "cl_secret", gotKey)
	assert.Equal(t, "/v0/checklists/c1/responses/optics/lens-clean", gotPath)
	assert.JSONEq(t, `{"boolean_value":true}`, gotBody)
	require.NotNil(t, r.BooleanValue)
	assert.True(t, *r.BooleanValue)
	assert.Equal(t, int64(2), r.Version)
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"conflict","message":"product P1 already has checklist c1"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "t"
	_, err := c.CreateChecklist(context.Background(), "P1", "", "")
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "conflict", apiErr.Code)
	assert.False(t, apiErr.Retryable())
}

func TestLookupReturnsNilWhenAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "D9", r.URL.Query().Get("delivery_plan_product_id"))
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	got, err := New(srv.URL).ChecklistForDeliveryPlanProduct(context.Background(), "D9")
	require.NoError(t, err)
	assert.Nil(t, got)
}
