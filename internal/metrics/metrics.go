// Package metrics owns the prometheus registry and the collectors shared by
// the HTTP layer, the workflow engine, and the vector pipeline. The registry
// is the only process-wide mutable singleton besides the logger sink.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the server registers.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ErrorsTotal      *prometheus.CounterVec
	ActiveExecutions prometheus.Gauge
	ExecutionsTotal  *prometheus.CounterVec
	VectorQueueDepth prometheus.Gauge
	EmbeddingsTotal  prometheus.Counter
	EmbeddingErrors  prometheus.Counter
	AuditEventsTotal *prometheus.CounterVec
	DBPoolInUse      prometheus.Gauge
}

// New builds and registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intellispec_http_requests_total",
			Help: "HTTP requests by method, route, and status.",
		}, []string{"method", "route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intellispec_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intellispec_errors_total",
			Help: "Errors surfaced to clients, by kind.",
		}, []string{"kind"}),
		ActiveExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intellispec_workflow_active_executions",
			Help: "Workflow executions currently running.",
		}),
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intellispec_workflow_executions_total",
			Help: "Workflow executions by terminal status.",
		}, []string{"status"}),
		VectorQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intellispec_vector_queue_depth",
			Help: "Embedding jobs waiting in the pipeline queue.",
		}),
		EmbeddingsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intellispec_vector_embeddings_total",
			Help: "Embeddings generated and upserted.",
		}),
		EmbeddingErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intellispec_vector_embedding_errors_total",
			Help: "Embedding jobs that failed permanently.",
		}),
		AuditEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intellispec_audit_events_total",
			Help: "Audit events written, by event type.",
		}, []string{"event_type"}),
		DBPoolInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intellispec_db_connections_in_use",
			Help: "Mongo driver connections checked out.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal, m.RequestDuration, m.ErrorsTotal,
		m.ActiveExecutions, m.ExecutionsTotal,
		m.VectorQueueDepth, m.EmbeddingsTotal, m.EmbeddingErrors,
		m.AuditEventsTotal, m.DBPoolInUse,
	)
	return m
}

// Handler exposes the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
