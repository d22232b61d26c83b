package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestMetrics_Usable verifies that all Prometheus metrics can be used without
// panic, ensuring label dimensions match usage across client, http, service, and cache packages.
func TestMetrics_Usable(t *testing.T) {
	// Route uses path template to avoid cardinality
	HTTPRequestsTotal.WithLabelValues("GET", "/weather", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/flights").Observe(0.01)
	UpstreamCallsTotal.WithLabelValues("stations", "success").Inc()
	UpstreamDuration.WithLabelValues("flights", "server_error").Observe(0.1)
	UpstreamErrorsTotal.WithLabelValues("flights", "logical").Inc()
	LenientRepairsTotal.WithLabelValues("points_key").Inc()
	DataQualityPercent.Observe(87.5)
	CacheHitsTotal.WithLabelValues("weather").Inc()
	CacheMissesTotal.WithLabelValues("flights").Inc()
	CacheErrorsTotal.WithLabelValues("get", "timeout").Inc()
	CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(0.001)
	CacheStampedeDetectedTotal.WithLabelValues("stations").Inc()
	RequestCoalescingHitsTotal.WithLabelValues("weather").Inc()
	DestinationCandidateTotal.WithLabelValues("partial").Inc()
	RecordCircuitBreakerTransition("flights", "closed", "open", 1)
}

func TestRegisterProviderWindowGauge_Once(t *testing.T) {
	RegisterProviderWindowGauge(func() int { return 3 })
	RegisterProviderWindowGauge(func() int { return 4 }) // must not panic on duplicate registration

	w := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(w.Body.String(), "providerRateLimitCallsInWindow 3") {
		t.Error("window gauge should report the first registered source")
	}
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format with correct HTTP status and metric output.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/stations", "2xx").Inc()
	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "httpRequestsTotal") {
		t.Error("MetricsHandler response should contain metric output")
	}
}
