package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry              *prometheus.Registry
	httpRequests          *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	queries               *prometheus.CounterVec
	queryDuration         *prometheus.HistogramVec
	viewRebuilds          prometheus.Counter
	staleResponsesDropped prometheus.Counter
	savedLocationOps      *prometheus.CounterVec
}

// New creates a fresh Metrics registry with HTTP and query metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sigmap",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by the local UI server",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sigmap",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by the local UI server",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	queries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sigmap",
		Name:      "queries_total",
		Help:      "Backend queries issued per family and outcome",
	}, []string{"family", "outcome"})

	queryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sigmap",
		Name:      "query_duration_seconds",
		Help:      "Duration of backend queries from dispatch to completion",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"family"})

	viewRebuilds := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sigmap",
		Name:      "view_rebuilds_total",
		Help:      "Full view rebuilds pushed by the synchronizer",
	})

	staleResponsesDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sigmap",
		Name:      "stale_responses_discarded_total",
		Help:      "Query responses discarded by the request-generation guard",
	})

	savedLocationOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sigmap",
		Name:      "saved_location_ops_total",
		Help:      "Saved-location repository operations",
	}, []string{"op"})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		queries,
		queryDuration,
		viewRebuilds,
		staleResponsesDropped,
		savedLocationOps,
	)

	return &Metrics{
		registry:              registry,
		httpRequests:          httpRequests,
		httpRequestDuration:   httpRequestDuration,
		queries:               queries,
		queryDuration:         queryDuration,
		viewRebuilds:          viewRebuilds,
		staleResponsesDropped: staleResponsesDropped,
		savedLocationOps:      savedLocationOps,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveQuery records one backend query completion.
func (m *Metrics) ObserveQuery(family, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.queries.With(prometheus.Labels{"family": family, "outcome": outcome}).Inc()
	m.queryDuration.With(prometheus.Labels{"family": family}).Observe(duration.Seconds())
}

// IncViewRebuild counts one full synchronizer rebuild.
func (m *Metrics) IncViewRebuild() {
	if m == nil {
		return
	}
	m.viewRebuilds.Inc()
}

// IncStaleResponse counts a response discarded by the generation guard.
func (m *Metrics) IncStaleResponse() {
	if m == nil {
		return
	}
	m.staleResponsesDropped.Inc()
}

// IncSavedLocationOp counts a saved-location repository operation.
func (m *Metrics) IncSavedLocationOp(op string) {
	if m == nil {
		return
	}
	m.savedLocationOps.With(prometheus.Labels{"op": op}).Inc()
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
