package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandler_nilMetrics(t *testing.T) {
	var m *Metrics
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if got := rr.Body.String(); !strings.Contains(got, "metrics unavailable") {
		t.Fatalf("expected body to mention metrics unavailable, got %q", got)
	}
}

func TestHandler_exposesRegisteredMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest(http.MethodGet, "/healthz", http.StatusOK, 12*time.Millisecond)
	m.ObserveQuery("nearby", "success", 200*time.Millisecond)
	m.IncViewRebuild()
	m.IncStaleResponse()
	m.IncSavedLocationOp("add")

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	body := rr.Body.String()
	if !strings.Contains(body, "sigmap_http_requests_total{method=\"GET\",path=\"/healthz\",status=\"200\"} 1") {
		t.Fatalf("expected labeled request counter to be incremented; body=%s", body)
	}
	if !strings.Contains(body, "sigmap_queries_total{family=\"nearby\",outcome=\"success\"} 1") {
		t.Fatalf("expected query counter to be incremented; body=%s", body)
	}
	if !strings.Contains(body, "sigmap_query_duration_seconds_count{family=\"nearby\"} 1") {
		t.Fatalf("expected query duration histogram to have one observation; body=%s", body)
	}
	if !strings.Contains(body, "sigmap_view_rebuilds_total 1") {
		t.Fatalf("expected view rebuild counter to be incremented; body=%s", body)
	}
	if !strings.Contains(body, "sigmap_stale_responses_discarded_total 1") {
		t.Fatalf("expected stale response counter to be incremented; body=%s", body)
	}
	if !strings.Contains(body, "sigmap_saved_location_ops_total{op=\"add\"} 1") {
		t.Fatalf("expected saved location op counter to be incremented; body=%s", body)
	}
}

func TestNilMetricsMethodsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveHTTPRequest(http.MethodGet, "/", http.StatusOK, time.Millisecond)
	m.ObserveQuery("search", "failure", time.Millisecond)
	m.IncViewRebuild()
	m.IncStaleResponse()
	m.IncSavedLocationOp("remove")
}
