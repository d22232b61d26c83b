package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/travel-weather-service/internal/models"
)

const defaultFlightAPIURL = "https://serpapi.com/search.json"

// Config holds service configuration loaded from YAML, .env and the environment.
type Config struct {
	ServerPort string

	StationAPIURL     string
	StationAPITimeout time.Duration

	FlightAPIKey     string
	FlightAPIURL     string
	FlightAPITimeout time.Duration
	FlightLanguage   string
	FlightCountry    string
	FlightCurrency   string

	// Station provider budget: at most ProviderRateLimit calls per ProviderRateWindow.
	ProviderRateLimit  int
	ProviderRateWindow time.Duration

	RequestTimeout time.Duration

	StationsTTL  time.Duration
	WeatherTTL   time.Duration
	FlightsTTL   time.Duration
	CacheBackend string // "in_memory" or "memcached"

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	RateLimitRPS   int
	RateLimitBurst int

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int

	StationMaxLength       int
	DestinationConcurrency int
	Airports               []models.Airport

	WarmCache       bool
	WarmInterval    time.Duration
	TrackedStations []string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	StationAPI struct {
		URL       string `yaml:"url"`
		Timeout   string `yaml:"timeout"`
		RateLimit int    `yaml:"rate_limit"`
		Window    string `yaml:"rate_window"`
	} `yaml:"station_api"`

	FlightAPI struct {
		URL      string `yaml:"url"`
		Timeout  string `yaml:"timeout"`
		Language string `yaml:"language"`
		Country  string `yaml:"country"`
		Currency string `yaml:"currency"`
	} `yaml:"flight_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend         string `yaml:"backend"`
		StationsTTL     string `yaml:"stations_ttl"`
		WeatherTTL      string `yaml:"weather_ttl"`
		FlightsTTL      string `yaml:"flights_ttl"`
		CoalesceEnabled *bool  `yaml:"coalesce_enabled"`
		CoalesceTimeout string `yaml:"coalesce_timeout"`
		WarmCache       bool   `yaml:"warm_cache"`
		WarmInterval    string `yaml:"warm_interval"`
		Memcached       struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
		CircuitBreaker struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`

	Validation struct {
		StationMaxLength int `yaml:"station_max_length"`
	} `yaml:"validation"`

	Destinations struct {
		Concurrency     int              `yaml:"concurrency"`
		Airports        []models.Airport `yaml:"airports"`
		TrackedStations []string         `yaml:"tracked_stations"`
	} `yaml:"destinations"`
}

type secretsFile struct {
	FlightAPIKey string `yaml:"flight_api_key"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// A .env file in the working directory is loaded first; variables already set win.
// The flight API key comes from FLIGHT_API_KEY or the secrets file. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}
	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.FlightAPIKey = os.Getenv("FLIGHT_API_KEY")
	if cfg.FlightAPIKey == "" {
		secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
		secretsData, err := os.ReadFile(secretsPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read secrets file: %w", err)
			}
		} else {
			var sec secretsFile
			if err := yaml.Unmarshal(secretsData, &sec); err != nil {
				return nil, fmt.Errorf("parse secrets file: %w", err)
			}
			cfg.FlightAPIKey = sec.FlightAPIKey
		}
	}
	if cfg.FlightAPIKey == "" {
		return nil, fmt.Errorf("FLIGHT_API_KEY required (set env or config/secrets.yaml flight_api_key)")
	}

	cfg.StationAPIURL = envOr("WEATHER_API_URL", fc.StationAPI.URL)
	cfg.StationAPITimeout = parseDurationOrZero(fc.StationAPI.Timeout, 5*time.Second)
	cfg.ProviderRateLimit = fc.StationAPI.RateLimit
	if cfg.ProviderRateLimit <= 0 {
		cfg.ProviderRateLimit = 20
	}
	cfg.ProviderRateWindow = parseDuration(fc.StationAPI.Window, 60*time.Second)

	cfg.FlightAPIURL = envOr("FLIGHT_API_URL", fc.FlightAPI.URL)
	if cfg.FlightAPIURL == "" {
		cfg.FlightAPIURL = defaultFlightAPIURL
	}
	cfg.FlightAPITimeout = parseDurationOrZero(fc.FlightAPI.Timeout, 10*time.Second)
	cfg.FlightLanguage = envOr("FLIGHT_HL", fc.FlightAPI.Language)
	cfg.FlightCountry = envOr("FLIGHT_GL", fc.FlightAPI.Country)
	cfg.FlightCurrency = envOr("FLIGHT_CURRENCY", fc.FlightAPI.Currency)

	// A station call may queue for a full provider window before it is sent.
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 70*time.Second)

	cfg.StationsTTL = parseDuration(fc.Cache.StationsTTL, 5*time.Minute)
	cfg.WeatherTTL = parseDuration(fc.Cache.WeatherTTL, 2*time.Minute)
	cfg.FlightsTTL = parseDuration(fc.Cache.FlightsTTL, 15*time.Minute)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.MemcachedAddrs = strings.TrimSpace(envOr("MEMCACHED_ADDRS", fc.Cache.Memcached.Addrs))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.CoalesceEnabled = true
	if fc.Cache.CoalesceEnabled != nil {
		cfg.CoalesceEnabled = *fc.Cache.CoalesceEnabled
	}
	cfg.CoalesceTimeout = parseDuration(fc.Cache.CoalesceTimeout, cfg.RequestTimeout)
	cfg.WarmCache = fc.Cache.WarmCache
	cfg.WarmInterval = parseDurationOrZero(fc.Cache.WarmInterval, 0)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 50
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 100
	}
	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = true
	if cb.Enabled != nil {
		cfg.CircuitBreakerEnabled = *cb.Enabled
	}
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 1
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	cfg.StationMaxLength = fc.Validation.StationMaxLength
	if cfg.StationMaxLength <= 0 {
		cfg.StationMaxLength = 32
	}
	cfg.DestinationConcurrency = fc.Destinations.Concurrency
	if cfg.DestinationConcurrency <= 0 {
		cfg.DestinationConcurrency = 4
	}
	cfg.Airports = fc.Destinations.Airports
	cfg.TrackedStations = fc.Destinations.TrackedStations

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// RequestTimeout is raised so a station call can wait out a full provider window.
func validate(cfg *Config) error {
	if cfg.StationAPIURL == "" {
		return fmt.Errorf("WEATHER_API_URL required (set env or station_api.url)")
	}
	if cfg.StationAPITimeout <= 0 {
		return fmt.Errorf("station_api.timeout must be positive")
	}
	if cfg.FlightAPITimeout <= 0 {
		return fmt.Errorf("flight_api.timeout must be positive")
	}
	if floor := cfg.ProviderRateWindow + cfg.StationAPITimeout; cfg.RequestTimeout < floor {
		cfg.RequestTimeout = floor
	}
	if cfg.RequestTimeout <= cfg.FlightAPITimeout {
		cfg.RequestTimeout = cfg.FlightAPITimeout + time.Second
	}
	if cfg.CoalesceTimeout > cfg.RequestTimeout {
		cfg.CoalesceTimeout = cfg.RequestTimeout
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	seen := make(map[string]bool, len(cfg.Airports))
	for i, a := range cfg.Airports {
		code := strings.ToUpper(strings.TrimSpace(a.Code))
		if len(code) != 3 {
			return fmt.Errorf("destinations.airports[%d]: code %q must be a 3-letter IATA code", i, a.Code)
		}
		if a.Lat < -90 || a.Lat > 90 || a.Lon < -180 || a.Lon > 180 {
			return fmt.Errorf("destinations.airports[%d]: coordinates out of range for %s", i, code)
		}
		if seen[code] {
			return fmt.Errorf("destinations.airports: duplicate code %s", code)
		}
		seen[code] = true
		cfg.Airports[i].Code = code
	}
	return nil
}
