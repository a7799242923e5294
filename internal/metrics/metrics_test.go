package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.IncrementChecklistCreated()
	m.IncrementVerify("verified")
	m.IncrementVerify("conflict")
	m.IncrementVerify("conflict")
	m.IncrementResponseUpserted("boolean")
	m.Observe("verify", time.Now())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChecklistsCreated))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.VerifyOutcomes.WithLabelValues("conflict")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "checkline_checklists_created_total 1"))
}

func TestIndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.IncrementReopen()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Reopens))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IncrementChecklistCreated()
	m.IncrementError("verify", "conflict")
	m.Observe("verify", time.Now())
}
