package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides observability for the checklist engine.
// Each instance owns its registry so several engines can coexist in one process.
type Metrics struct {
	Registry *prometheus.Registry

	ChecklistsCreated prometheus.Counter
	ResponsesUpserted *prometheus.CounterVec
	VerifyOutcomes    *prometheus.CounterVec
	Reopens           prometheus.Counter
	OperationDuration *prometheus.HistogramVec
	OperationErrors   *prometheus.CounterVec
}

// New creates a Metrics instance with every collector registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		ChecklistsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "checkline_checklists_created_total",
			Help: "Total number of checklists created",
		}),
		ResponsesUpserted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "checkline_responses_upserted_total",
			Help: "Total number of responses written, by value type",
		}, []string{"value_type"}),
		VerifyOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "checkline_verify_total",
			Help: "Verify calls by outcome (verified, noop, conflict, rejected)",
		}, []string{"outcome"}),
		Reopens: f.NewCounter(prometheus.CounterOpts{
			Name: "checkline_reopens_total",
			Help: "Total number of verified checklists reopened",
		}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "checkline_operation_duration_seconds",
			Help:    "Duration of engine operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		OperationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "checkline_operation_errors_total",
			Help: "Engine operation failures by error kind",
		}, []string{"operation", "kind"}),
	}
}

// Observe records the duration of an operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) Observe(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementChecklistCreated() {
	if m == nil {
		return
	}
	m.ChecklistsCreated.Inc()
}

func (m *Metrics) IncrementResponseUpserted(valueType string) {
	if m == nil {
		return
	}
	m.ResponsesUpserted.WithLabelValues(valueType).Inc()
}

func (m *Metrics) IncrementVerify(outcome string) {
	if m == nil {
		return
	}
	m.VerifyOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementReopen() {
	if m == nil {
		return
	}
	m.Reopens.Inc()
}

func (m *Metrics) IncrementError(operation, kind string) {
	if m == nil {
		return
	}
	m.OperationErrors.WithLabelValues(operation, kind).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
