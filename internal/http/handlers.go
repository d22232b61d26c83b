package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/travel-weather-service/internal/circuitbreaker"
	"github.com/kjstillabower/travel-weather-service/internal/client"
	"github.com/kjstillabower/travel-weather-service/internal/lifecycle"
	"github.com/kjstillabower/travel-weather-service/internal/models"
	"github.com/kjstillabower/travel-weather-service/internal/observability"
	"github.com/kjstillabower/travel-weather-service/internal/service"
	"github.com/kjstillabower/travel-weather-service/internal/traffic"
	"github.com/kjstillabower/travel-weather-service/internal/validation"
)

// ServiceName is reported by /health.
const ServiceName = "travel-weather-service"

// DestinationRanker ranks candidate destinations. *service.DestinationService satisfies it.
type DestinationRanker interface {
	Rank(ctx context.Context, params models.DestinationParams) (models.DestinationRanking, error)
}

// BreakerState reports a circuit breaker's state. *circuitbreaker.CircuitBreaker satisfies it.
type BreakerState interface {
	Component() string
	State() circuitbreaker.State
}

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	// Upstream error rate over DegradedWindow at or above DegradedErrorPct reports degraded.
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// Inbound rate limit denials over OverloadWindow above OverloadThresholdPct of
	// RateLimitRPS*window report overloaded. Disabled when RateLimitRPS is 0.
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int
	Breakers             []BreakerState
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
	Version   string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	travel           service.TravelData
	ranker           DestinationRanker
	outcomes         *traffic.Set
	healthConfig     *HealthConfig
	logger           *zap.Logger
	maxStationLen    int
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. outcomes and healthConfig may be nil.
func NewHandler(
	travel service.TravelData,
	ranker DestinationRanker,
	outcomes *traffic.Set,
	healthConfig *HealthConfig,
	logger *zap.Logger,
	maxStationLen int,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		travel:        travel,
		ranker:        ranker,
		outcomes:      outcomes,
		healthConfig:  healthConfig,
		logger:        logger,
		maxStationLen: maxStationLen,
	}
}

// GetStations handles GET /stations.
func (h *Handler) GetStations(w http.ResponseWriter, r *http.Request) {
	stations, err := h.travel.GetStations(r.Context())
	if err != nil {
		writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stations)
}

// GetWeather handles GET /weather?station={id}. The body is the cleaned observation
// list; data quality and the raw observation count travel in response headers.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("station")
	station, err := validation.ValidateStation(raw, h.maxStationLen)
	if err != nil {
		code := validation.CodeInvalidParameter
		if errors.Is(err, validation.ErrStationEmpty) {
			code = validation.CodeMissingParameter
		}
		writeError(w, r, http.StatusBadRequest, code, err.Error())
		return
	}

	report, err := h.travel.GetWeather(r.Context(), station)
	if err != nil {
		writeUpstreamError(w, r, err)
		return
	}
	obs := report.Observations
	if obs == nil {
		obs = []models.WeatherObservation{}
	}
	w.Header().Set("X-Data-Quality", strconv.FormatFloat(report.DataQuality, 'f', 1, 64))
	w.Header().Set("X-Raw-Count", strconv.Itoa(report.RawCount))
	writeJSON(w, http.StatusOK, obs)
}

// GetFlights handles GET /flights.
func (h *Handler) GetFlights(w http.ResponseWriter, r *http.Request) {
	params, err := parseSearchParams(r.URL.Query())
	if err == nil {
		err = validation.ValidateSearchParams(&params)
	}
	if err != nil {
		writeValidationError(w, r, err)
		return
	}

	result, err := h.travel.SearchFlights(r.Context(), params)
	if err != nil {
		writeUpstreamError(w, r, err)
		return
	}
	all := result.All
	if all == nil {
		all = []models.FlightQuote{}
	}
	writeJSON(w, http.StatusOK, models.FlightSearchResponse{
		Cheapest:     result.Cheapest,
		All:          all,
		SearchParams: params,
	})
}

// GetDestinations handles GET /destinations.
func (h *Handler) GetDestinations(w http.ResponseWriter, r *http.Request) {
	params, err := parseDestinationParams(r.URL.Query())
	if err == nil {
		err = validation.ValidateDestinationParams(&params)
	}
	if err != nil {
		writeValidationError(w, r, err)
		return
	}

	ranking, err := h.ranker.Rank(r.Context(), params)
	if err != nil {
		writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ranking)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
	checks     map[string]string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	version := "dev"
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			result.checks["cache"] = "healthy"
		} else {
			result.checks["cache"] = "unhealthy"
		}
	}
	if h.healthConfig != nil && h.healthConfig.Version != "" {
		version = h.healthConfig.Version
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   ServiceName,
		"version":   version,
		"checks":    result.checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > starting > overloaded > degraded > healthy.
// Provider checks are always filled in so the body shows which upstream is failing.
func (h *Handler) computeHealthStatus() healthResult {
	checks := h.providerChecks()

	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal", checks}
	}
	if lifecycle.Current() == lifecycle.PhaseStarting {
		return healthResult{"starting", http.StatusServiceUnavailable, "warming", checks}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, "", checks}
	}

	cfg := h.healthConfig
	if cfg.RateLimitRPS > 0 && cfg.OverloadWindow > 0 && h.outcomes != nil {
		threshold := float64(cfg.RateLimitRPS) * cfg.OverloadWindow.Seconds() * float64(cfg.OverloadThresholdPct) / 100
		if float64(h.outcomes.Get(traffic.Inbound).DenialCount(cfg.OverloadWindow)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold", checks}
		}
	}
	for _, b := range cfg.Breakers {
		if b.State() == circuitbreaker.StateOpen {
			return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open", checks}
		}
	}
	for name, state := range checks {
		if state == "unhealthy" {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach:" + name, checks}
		}
	}
	return healthResult{"healthy", http.StatusOK, "", checks}
}

// providerChecks reports each upstream as healthy or unhealthy from its circuit
// state and recent error rate.
func (h *Handler) providerChecks() map[string]string {
	checks := map[string]string{
		client.ProviderStations: "healthy",
		client.ProviderFlights:  "healthy",
	}
	if h.healthConfig == nil {
		return checks
	}
	cfg := h.healthConfig
	for _, b := range cfg.Breakers {
		if b.State() == circuitbreaker.StateOpen {
			checks[b.Component()] = "unhealthy"
		}
	}
	if h.outcomes == nil || cfg.DegradedWindow <= 0 || cfg.DegradedErrorPct <= 0 {
		return checks
	}
	for _, name := range h.outcomes.Names() {
		if name == traffic.Inbound {
			continue
		}
		errCount, total := h.outcomes.Get(name).ErrorRate(cfg.DegradedWindow)
		if total == 0 {
			continue
		}
		if float64(errCount)*100/float64(total) >= float64(cfg.DegradedErrorPct) {
			checks[name] = "unhealthy"
		}
	}
	return checks
}

// writeJSON writes a JSON response with the specified HTTP status code.
// Sets Content-Type header to application/json and encodes the provided value.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response with message, code, and requestId
// (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":     message,
		"code":      code,
		"requestId": observability.CorrelationID(r.Context()),
	})
}

func writeValidationError(w http.ResponseWriter, r *http.Request, err error) {
	var fe *validation.FieldError
	if errors.As(err, &fe) {
		writeError(w, r, http.StatusBadRequest, fe.Code, fe.Error())
		return
	}
	writeError(w, r, http.StatusBadRequest, validation.CodeInvalidParameter, err.Error())
}

// writeUpstreamError writes a 500 for a failed provider call. The code names the
// error category.
func writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	category := client.CategorizeError(err)
	code := strings.ToUpper(string(category))
	if !strings.HasPrefix(code, "UPSTREAM_") {
		code = "UPSTREAM_" + code
	}
	writeError(w, r, http.StatusInternalServerError, code, err.Error())
	if logger := observability.LoggerFromContext(r.Context()); logger != nil {
		logger.Warn("upstream error", zap.String("category", string(category)), zap.Error(err))
	}
}
