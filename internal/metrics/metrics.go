package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the answer service.
// All methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Pipeline
	Questions       *prometheus.CounterVec // outcome: success, failure, rejected
	QuestionLatency prometheus.Histogram
	ProviderErrors  *prometheus.CounterVec // provider: embedding, completion, vision

	// Retrieval
	EvidenceEntries prometheus.Histogram
	EmbedCacheHits  *prometheus.CounterVec // result: hit, miss
	VectorSearches  prometheus.Histogram
	DanglingRefs    prometheus.Counter

	// Index
	IndexSize       *prometheus.GaugeVec   // variant
	ReindexRuns     *prometheus.CounterVec // status
	ReindexDuration prometheus.Histogram

	// HTTP
	HTTPRequests *prometheus.CounterVec // method, route, status
	HTTPLatency  *prometheus.HistogramVec
}

// New registers every instrument on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Questions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tds_ta_questions_total",
			Help: "Questions handled by the answer pipeline by outcome",
		}, []string{"outcome"}),

		QuestionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tds_ta_question_duration_seconds",
			Help:    "End-to-end answer latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		ProviderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tds_ta_provider_errors_total",
			Help: "Failed calls to external model providers",
		}, []string{"provider"}),

		EvidenceEntries: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tds_ta_evidence_entries",
			Help:    "Evidence entries returned per question",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 7, 8},
		}),

		EmbedCacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tds_ta_embed_cache_total",
			Help: "Question embedding cache lookups",
		}, []string{"result"}),

		VectorSearches: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tds_ta_vector_search_duration_seconds",
			Help:    "Embedding index search latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),

		DanglingRefs: f.NewCounter(prometheus.CounterOpts{
			Name: "tds_ta_dangling_references_total",
			Help: "Embedding records whose content item no longer exists",
		}),

		IndexSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tds_ta_index_embeddings",
			Help: "Embedding records in the index by variant",
		}, []string{"variant"}),

		ReindexRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tds_ta_reindex_runs_total",
			Help: "Reindex runs by final status",
		}, []string{"status"}),

		ReindexDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tds_ta_reindex_duration_seconds",
			Help:    "Reindex duration in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tds_ta_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),

		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tds_ta_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the exposition handler for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordQuestion records a pipeline outcome and its latency.
func (m *Metrics) RecordQuestion(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Questions.WithLabelValues(outcome).Inc()
	if outcome != "rejected" {
		m.QuestionLatency.Observe(seconds)
	}
}

// RecordProviderError counts a failed provider call.
func (m *Metrics) RecordProviderError(provider string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider).Inc()
}

// RecordEvidence records how many evidence entries a question produced.
func (m *Metrics) RecordEvidence(n int) {
	if m == nil {
		return
	}
	m.EvidenceEntries.Observe(float64(n))
}

// RecordEmbedCache records a cache lookup.
func (m *Metrics) RecordEmbedCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.EmbedCacheHits.WithLabelValues("hit").Inc()
	} else {
		m.EmbedCacheHits.WithLabelValues("miss").Inc()
	}
}

// RecordVectorSearch records an index search latency.
func (m *Metrics) RecordVectorSearch(seconds float64) {
	if m == nil {
		return
	}
	m.VectorSearches.Observe(seconds)
}

// RecordDanglingReference counts a skipped embedding.
func (m *Metrics) RecordDanglingReference() {
	if m == nil {
		return
	}
	m.DanglingRefs.Inc()
}

// SetIndexSize publishes per-variant index counts.
func (m *Metrics) SetIndexSize(course, forum int) {
	if m == nil {
		return
	}
	m.IndexSize.WithLabelValues("course").Set(float64(course))
	m.IndexSize.WithLabelValues("forum").Set(float64(forum))
}

// RecordReindex records a finished reindex run.
func (m *Metrics) RecordReindex(status string, seconds float64) {
	if m == nil {
		return
	}
	m.ReindexRuns.WithLabelValues(status).Inc()
	m.ReindexDuration.Observe(seconds)
}

// RecordHTTP records one HTTP request.
func (m *Metrics) RecordHTTP(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.HTTPLatency.WithLabelValues(method, route).Observe(seconds)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
