package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream call rate per provider (stations, flights) and status class.
	UpstreamCallsTotal *prometheus.CounterVec

	// Upstream latency per provider. Watch for: stalled providers.
	UpstreamDuration *prometheus.HistogramVec

	// Upstream failures by stable category (http_4xx, parsing, logical, ...).
	UpstreamErrorsTotal *prometheus.CounterVec

	// Bodies that needed a structural repair before decoding, by strategy.
	LenientRepairsTotal *prometheus.CounterVec

	// Station histories classified as Fahrenheit and converted.
	FahrenheitBatchesTotal prometheus.Counter

	// Share of raw observations that survive cleaning, per station fetch.
	DataQualityPercent prometheus.Histogram

	// Calls suspended by the provider sliding-window limiter, and how long.
	ProviderRateLimitWaitsTotal  prometheus.Counter
	ProviderRateLimitWaitSeconds prometheus.Histogram

	// Cache hits and misses per cache type (stations, weather, flights).
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Cache backend errors and latency.
	CacheErrorsTotal              *prometheus.CounterVec
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Concurrent misses for one key, and requests served by joining an in-flight fetch.
	CacheStampedeDetectedTotal   *prometheus.CounterVec
	RequestCoalescingHitsTotal   *prometheus.CounterVec
	RequestCoalescingWaitSeconds prometheus.Histogram

	// Cache warming runs, failures and duration.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Inbound rate limit denials (429).
	RateLimitDeniedTotal prometheus.Counter

	// Destination searches and candidate outcomes.
	DestinationSearchesTotal  prometheus.Counter
	DestinationCandidateTotal *prometheus.CounterVec

	// Circuit breaker state per upstream (0 closed, 1 open, 2 half-open) and transitions.
	CircuitBreakerState            *prometheus.GaugeVec
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	providerWindowGaugeOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of upstream provider calls",
		},
		[]string{"provider", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "Upstream provider latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "status"},
	)
	UpstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamErrorsTotal",
			Help: "Upstream failures by provider and category",
		},
		[]string{"provider", "category"},
	)
	LenientRepairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lenientRepairsTotal",
			Help: "Provider bodies decoded through a repair strategy",
		},
		[]string{"repair"},
	)
	FahrenheitBatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fahrenheitBatchesTotal",
			Help: "Station histories inferred to be Fahrenheit and converted",
		},
	)
	DataQualityPercent = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dataQualityPercent",
			Help:    "Percentage of raw observations kept after cleaning",
			Buckets: []float64{0, 25, 50, 75, 90, 95, 99, 100},
		},
	)
	ProviderRateLimitWaitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "providerRateLimitWaitsTotal",
			Help: "Outbound station-provider calls suspended by the sliding-window limiter",
		},
	)
	ProviderRateLimitWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "providerRateLimitWaitSeconds",
			Help:    "Enforced wait before an outbound station-provider call",
			Buckets: []float64{.1, 1, 5, 15, 30, 60},
		},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits",
		},
		[]string{"cacheType"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of cache misses",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend errors by operation and category",
		},
		[]string{"operation", "category"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache get/set latency",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"operation", "result"},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Cache misses that found another miss for the same key in progress",
		},
		[]string{"cacheType"},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestCoalescingHitsTotal",
			Help: "Requests served by joining an in-flight upstream fetch",
		},
		[]string{"cacheType"},
	)
	RequestCoalescingWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "requestCoalescingWaitSeconds",
			Help:    "Time spent waiting on a coalesced upstream fetch",
			Buckets: prometheus.DefBuckets,
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs with at least one failure",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration",
			Buckets: []float64{.5, 1, 5, 15, 60, 300},
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	DestinationSearchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "destinationSearchesTotal",
			Help: "Destination ranking requests",
		},
	)
	DestinationCandidateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "destinationCandidateTotal",
			Help: "Ranked destination candidates by outcome (complete, partial)",
		},
		[]string{"outcome"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, UpstreamErrorsTotal,
		LenientRepairsTotal, FahrenheitBatchesTotal, DataQualityPercent,
		ProviderRateLimitWaitsTotal, ProviderRateLimitWaitSeconds,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		CacheStampedeDetectedTotal, RequestCoalescingHitsTotal, RequestCoalescingWaitSeconds,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		RateLimitDeniedTotal,
		DestinationSearchesTotal, DestinationCandidateTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
	)
}

// RegisterProviderWindowGauge exposes the number of station-provider calls in the
// current sliding window. Only the first call registers.
func RegisterProviderWindowGauge(inWindow func() int) {
	providerWindowGaugeOnce.Do(func() {
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "providerRateLimitCallsInWindow",
				Help: "Station-provider calls recorded in the current sliding window",
			},
			func() float64 { return float64(inWindow()) },
		))
	})
}

// RecordCircuitBreakerTransition records a state change for the component.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
