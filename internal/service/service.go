package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/travel-weather-service/internal/cache"
	"github.com/kjstillabower/travel-weather-service/internal/client"
	"github.com/kjstillabower/travel-weather-service/internal/models"
	"github.com/kjstillabower/travel-weather-service/internal/observability"
	"github.com/kjstillabower/travel-weather-service/internal/observations"
	"github.com/kjstillabower/travel-weather-service/internal/traffic"
)

// Cache types label hit, miss and coalescing metrics.
const (
	CacheTypeStations = "stations"
	CacheTypeWeather  = "weather"
	CacheTypeFlights  = "flights"
)

const stationsKey = "stations:v1"

// Options configures TravelService caching and coalescing.
type Options struct {
	StationsTTL     time.Duration
	WeatherTTL      time.Duration
	FlightsTTL      time.Duration
	CoalesceEnabled bool
	CoalesceTimeout time.Duration
}

// DefaultOptions returns the standard TTLs with coalescing enabled.
// The coalesce timeout covers a full provider rate-limit window.
func DefaultOptions() Options {
	return Options{
		StationsTTL:     5 * time.Minute,
		WeatherTTL:      2 * time.Minute,
		FlightsTTL:      15 * time.Minute,
		CoalesceEnabled: true,
		CoalesceTimeout: 70 * time.Second,
	}
}

// TravelService serves stations, station weather and flight searches using the
// cache-aside pattern in front of the providers.
type TravelService struct {
	stations  client.StationProvider
	flights   client.FlightProvider
	cache     cache.Cache
	outcomes  *traffic.Set
	opts      Options
	misses    *missTracker
	coalescer *requestCoalescer // nil when coalescing is disabled
}

// NewTravelService creates a TravelService. outcomes may be nil; when set, each
// provider call records its outcome under the provider name for health checks.
func NewTravelService(stations client.StationProvider, flights client.FlightProvider, c cache.Cache, outcomes *traffic.Set, opts Options) *TravelService {
	def := DefaultOptions()
	if opts.StationsTTL <= 0 {
		opts.StationsTTL = def.StationsTTL
	}
	if opts.WeatherTTL <= 0 {
		opts.WeatherTTL = def.WeatherTTL
	}
	if opts.FlightsTTL <= 0 {
		opts.FlightsTTL = def.FlightsTTL
	}
	var coalescer *requestCoalescer
	if opts.CoalesceEnabled && opts.CoalesceTimeout > 0 {
		coalescer = newRequestCoalescer(opts.CoalesceTimeout)
	}
	return &TravelService{
		stations:  stations,
		flights:   flights,
		cache:     c,
		outcomes:  outcomes,
		opts:      opts,
		misses:    newMissTracker(),
		coalescer: coalescer,
	}
}

// GetStations returns the provider's station list.
func (s *TravelService) GetStations(ctx context.Context) ([]models.Station, error) {
	return load(ctx, s, CacheTypeStations, stationsKey, client.ProviderStations, s.opts.StationsTTL,
		func(ctx context.Context) ([]models.Station, error) {
			return s.stations.FetchStations(ctx)
		})
}

// GetWeather returns the cleaned, Celsius history of one station with its data quality.
func (s *TravelService) GetWeather(ctx context.Context, stationID string) (models.WeatherReport, error) {
	key := "wx:" + stationID
	return load(ctx, s, CacheTypeWeather, key, client.ProviderStations, s.opts.WeatherTTL,
		func(ctx context.Context) (models.WeatherReport, error) {
			raw, err := s.stations.FetchHistory(ctx, stationID)
			if err != nil {
				return models.WeatherReport{}, err
			}
			return buildReport(stationID, raw), nil
		})
}

// SearchFlights returns offers for params sorted by price. params must already be validated.
func (s *TravelService) SearchFlights(ctx context.Context, params models.SearchParams) (models.FlightSearchResult, error) {
	keyJSON, err := json.Marshal(params)
	if err != nil {
		return models.FlightSearchResult{}, fmt.Errorf("flight cache key: %w", err)
	}
	return load(ctx, s, CacheTypeFlights, "flights:"+string(keyJSON), client.ProviderFlights, s.opts.FlightsTTL,
		func(ctx context.Context) (models.FlightSearchResult, error) {
			return s.flights.Search(ctx, params)
		})
}

func buildReport(stationID string, raw []models.WeatherObservation) models.WeatherReport {
	cleaned := observations.Clean(raw)
	report := models.WeatherReport{
		StationID:    stationID,
		Observations: cleaned,
		RawCount:     len(raw),
		DataQuality:  observations.DataQuality(len(raw), len(cleaned)),
	}
	if avg, ok := observations.Average(cleaned); ok {
		report.AverageCelsius = &avg
	}
	observability.DataQualityPercent.Observe(report.DataQuality)
	return report
}

// load reads key from the cache and, on a miss, fetches and stores it. Concurrent
// misses for the same key share one fetch when coalescing is enabled. Cache errors
// are logged and treated as misses.
func load[T any](ctx context.Context, s *TravelService, cacheType, key, provider string, ttl time.Duration, fetch func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	logger := observability.LoggerFromContext(ctx)

	getStart := time.Now()
	cached, ok, err := cache.GetJSON[T](ctx, s.cache, key)
	getDuration := time.Since(getStart).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
		if logger != nil {
			logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
	} else if ok {
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
		observability.CacheHitsTotal.WithLabelValues(cacheType).Inc()
		if logger != nil {
			logger.Debug("cache hit", zap.String("key", key), zap.Duration("duration", time.Since(start)))
		}
		return cached, nil
	}
	observability.CacheMissesTotal.WithLabelValues(cacheType).Inc()

	concurrent, done := s.misses.begin(key)
	defer done()
	if concurrent > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(cacheType).Inc()
	}
	if logger != nil {
		logger.Debug("cache miss, fetching upstream", zap.String("key", key), zap.Int("concurrentMisses", concurrent))
	}

	fetchAndStore := func(ctx context.Context) ([]byte, error) {
		value, err := fetch(ctx)
		s.recordOutcome(provider, err)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		s.store(ctx, key, raw, ttl)
		return raw, nil
	}

	var raw []byte
	if s.coalescer != nil {
		coalesceStart := time.Now()
		var shared bool
		raw, shared, err = s.coalescer.Do(ctx, key, fetchAndStore)
		observability.RequestCoalescingWaitSeconds.Observe(time.Since(coalesceStart).Seconds())
		if err == nil && shared {
			observability.RequestCoalescingHitsTotal.WithLabelValues(cacheType).Inc()
		}
	} else {
		raw, err = fetchAndStore(ctx)
	}

	var out T
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", key, err)
	}
	if logger != nil {
		logger.Debug("served from upstream", zap.String("key", key), zap.Duration("duration", time.Since(start)))
	}
	return out, nil
}

func (s *TravelService) store(ctx context.Context, key string, raw []byte, ttl time.Duration) {
	setStart := time.Now()
	if err := s.cache.Set(ctx, key, raw, ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		if logger := observability.LoggerFromContext(ctx); logger != nil {
			logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		}
		return
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
}

// recordOutcome feeds the provider's traffic tracker. Cancellations and caller
// mistakes do not count as provider errors.
func (s *TravelService) recordOutcome(provider string, err error) {
	if s.outcomes == nil || errors.Is(err, context.Canceled) {
		return
	}
	if client.BreakerFailure(err) {
		s.outcomes.Get(provider).RecordError()
		return
	}
	s.outcomes.Get(provider).RecordSuccess()
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
