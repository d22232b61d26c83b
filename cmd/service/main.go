package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/travel-weather-service/internal/cache"
	"github.com/kjstillabower/travel-weather-service/internal/circuitbreaker"
	"github.com/kjstillabower/travel-weather-service/internal/client"
	"github.com/kjstillabower/travel-weather-service/internal/config"
	httphandler "github.com/kjstillabower/travel-weather-service/internal/http"
	"github.com/kjstillabower/travel-weather-service/internal/lifecycle"
	"github.com/kjstillabower/travel-weather-service/internal/observability"
	"github.com/kjstillabower/travel-weather-service/internal/ratelimit"
	"github.com/kjstillabower/travel-weather-service/internal/service"
	"github.com/kjstillabower/travel-weather-service/internal/traffic"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	limiter := ratelimit.New(cfg.ProviderRateLimit, cfg.ProviderRateWindow,
		ratelimit.WithWaitHook(func(d time.Duration) {
			observability.ProviderRateLimitWaitsTotal.Inc()
			observability.ProviderRateLimitWaitSeconds.Observe(d.Seconds())
		}))
	observability.RegisterProviderWindowGauge(limiter.InWindow)

	var stationOpts []client.StationOption
	var flightOpts []client.FlightOption
	var breakers []httphandler.BreakerState
	if cfg.CircuitBreakerEnabled {
		stationBreaker := newBreaker(cfg, client.ProviderStations)
		flightBreaker := newBreaker(cfg, client.ProviderFlights)
		stationOpts = append(stationOpts, client.WithStationBreaker(stationBreaker))
		flightOpts = append(flightOpts, client.WithFlightBreaker(flightBreaker))
		breakers = append(breakers, stationBreaker, flightBreaker)
		logger.Info("circuit breakers enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	stationClient, err := client.NewStationClient(cfg.StationAPIURL, cfg.StationAPITimeout, limiter, stationOpts...)
	if err != nil {
		logger.Fatal("station client", zap.Error(err))
	}
	flightClient, err := client.NewFlightClient(cfg.FlightAPIKey, cfg.FlightAPIURL, cfg.FlightAPITimeout,
		client.FlightLocale{Language: cfg.FlightLanguage, Country: cfg.FlightCountry, Currency: cfg.FlightCurrency},
		flightOpts...)
	if err != nil {
		logger.Fatal("flight client", zap.Error(err))
	}

	var cacheSvc cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		cacheSvc = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		cacheSvc = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	outcomes := traffic.NewSet(maxDuration(cfg.DegradedWindow, cfg.OverloadWindow))
	travelService := service.NewTravelService(stationClient, flightClient, cacheSvc, outcomes, service.Options{
		StationsTTL:     cfg.StationsTTL,
		WeatherTTL:      cfg.WeatherTTL,
		FlightsTTL:      cfg.FlightsTTL,
		CoalesceEnabled: cfg.CoalesceEnabled,
		CoalesceTimeout: cfg.CoalesceTimeout,
	})
	destinationService := service.NewDestinationService(travelService, cfg.Airports, cfg.DestinationConcurrency)

	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		Breakers:             breakers,
		Version:              version,
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}

	var inbound *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		inbound = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(travelService, destinationService, outcomes, healthConfig, logger, cfg.StationMaxLength)

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())
	api := router.NewRoute().Subrouter()
	api.Use(httphandler.RateLimitMiddleware(inbound, outcomes))
	api.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	api.HandleFunc("/stations", handler.GetStations).Methods("GET")
	api.HandleFunc("/weather", handler.GetWeather).Methods("GET")
	api.HandleFunc("/flights", handler.GetFlights).Methods("GET")
	api.HandleFunc("/destinations", handler.GetDestinations).Methods("GET")

	srv := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// Leave room for a handler to write its error after the request deadline.
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.WarmCache && len(cfg.TrackedStations) > 0 {
		warmer := cache.NewCacheWarmer(travelService, logger)
		warmCtx, warmCancel := context.WithTimeout(ctx, cfg.RequestTimeout)
		if err := warmer.Warm(warmCtx, cfg.TrackedStations); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(ctx, cfg.TrackedStations, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		}
	}
	lifecycle.SetServing()
	logger.Info("serving", zap.Int("airports", len(cfg.Airports)))

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// newBreaker builds a provider circuit breaker that reports its transitions as metrics.
func newBreaker(cfg *config.Config, component string) *circuitbreaker.CircuitBreaker {
	observability.CircuitBreakerState.WithLabelValues(component).Set(0)
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
		Component:        component,
		IsFailure:        client.BreakerFailure,
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(component, from.String(), to.String(), int(to))
		},
	})
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
