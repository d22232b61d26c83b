package client

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/travel-weather-service/internal/lenient"
	"github.com/kjstillabower/travel-weather-service/internal/models"
	"github.com/kjstillabower/travel-weather-service/internal/observability"
	"github.com/kjstillabower/travel-weather-service/internal/observations"
)

// ProviderStations labels station-provider metrics and errors.
const ProviderStations = "stations"

// StationProvider fetches stations and their raw observation histories.
type StationProvider interface {
	FetchStations(ctx context.Context) ([]models.Station, error)
	FetchHistory(ctx context.Context, stationID string) ([]models.WeatherObservation, error)
}

// Limiter admits outbound calls. *ratelimit.SlidingWindow satisfies it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// StationClient calls the weather-station provider. An open breaker rejects a
// request before it takes a limiter slot; otherwise the request waits on the
// limiter, then goes through the breaker.
type StationClient struct {
	baseURL string
	limiter Limiter
	get     getter
}

// StationOption configures a StationClient.
type StationOption func(*StationClient)

// WithStationBreaker puts a circuit breaker in front of the provider.
func WithStationBreaker(b Breaker) StationOption {
	return func(c *StationClient) { c.get.breaker = b }
}

// WithStationHTTPClient replaces the default HTTP client.
func WithStationHTTPClient(hc *http.Client) StationOption {
	return func(c *StationClient) { c.get.client = hc }
}

// NewStationClient returns a client for baseURL. limiter is required.
func NewStationClient(baseURL string, timeout time.Duration, limiter Limiter, opts ...StationOption) (*StationClient, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid station provider URL: %w", err)
	}
	if limiter == nil {
		return nil, fmt.Errorf("station client requires a rate limiter")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &StationClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: limiter,
		get: getter{
			provider: ProviderStations,
			client:   &http.Client{Timeout: timeout},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// providerStation carries the provider's field names.
type providerStation struct {
	StationID   flexString `json:"station_id"`
	StationName flexString `json:"station_name"`
	Latitude    flexFloat  `json:"latitude"`
	Longitude   flexFloat  `json:"longitude"`

	ID   flexString `json:"id"`
	Name flexString `json:"name"`
	Lat  flexFloat  `json:"lat"`
	Lon  flexFloat  `json:"lon"`
}

func (p providerStation) normalize() models.Station {
	return models.Station{
		ID:   firstString(p.StationID, p.ID),
		Name: firstString(p.StationName, p.Name),
		Lat:  firstFloat(p.Latitude, p.Lat).ptr(),
		Lon:  firstFloat(p.Longitude, p.Lon).ptr(),
	}
}

type providerPoint struct {
	Timestamp   flexString `json:"timestamp"`
	Time        flexString `json:"time"`
	Temperature flexFloat  `json:"temperature"`
	Temp        flexFloat  `json:"temp"`
}

// FetchStations returns the provider's station list with normalized field names.
// Entries that are not objects or carry no id are skipped.
func (c *StationClient) FetchStations(ctx context.Context) ([]models.Station, error) {
	payload, err := c.fetch(ctx, c.baseURL+"/stations")
	if err != nil {
		return nil, fmt.Errorf("fetch stations: %w", err)
	}

	var items []json.RawMessage
	switch payload.Shape {
	case lenient.ShapeArray:
		if err := json.Unmarshal(payload.Raw, &items); err != nil {
			return nil, fmt.Errorf("fetch stations: %w: %v", ErrUpstreamParse, err)
		}
	case lenient.ShapeObject, lenient.ShapePoints:
		var wrapped struct {
			Stations []json.RawMessage `json:"stations"`
			Points   []json.RawMessage `json:"points"`
		}
		if err := json.Unmarshal(payload.Raw, &wrapped); err != nil {
			return nil, fmt.Errorf("fetch stations: %w: %v", ErrUpstreamParse, err)
		}
		// A repaired bare array arrives wrapped under "points".
		switch {
		case wrapped.Stations != nil:
			items = wrapped.Stations
		case wrapped.Points != nil:
			items = wrapped.Points
		default:
			return nil, fmt.Errorf("fetch stations: %w: no stations in %s body", ErrUpstreamParse, payload.Shape)
		}
	case lenient.ShapeError:
		return nil, fmt.Errorf("fetch stations: %w: %s", ErrUpstreamLogical, payload.Error)
	default:
		return nil, fmt.Errorf("fetch stations: %w: unexpected %s body", ErrUpstreamParse, payload.Shape)
	}

	stations := make([]models.Station, 0, len(items))
	for _, item := range items {
		var ps providerStation
		if err := json.Unmarshal(item, &ps); err != nil {
			continue
		}
		st := ps.normalize()
		if st.ID == "" {
			continue
		}
		stations = append(stations, st)
	}
	return stations, nil
}

// FetchHistory returns the station's observations in Celsius, in provider order.
// A body that is neither an array nor a points object yields an empty history.
// Observations are not cleaned here.
func (c *StationClient) FetchHistory(ctx context.Context, stationID string) ([]models.WeatherObservation, error) {
	endpoint := c.baseURL + "/stations/" + url.PathEscape(stationID) + "/history"
	payload, err := c.fetch(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetch history %s: %w", stationID, err)
	}

	var raw []json.RawMessage
	switch payload.Shape {
	case lenient.ShapeArray:
		if err := json.Unmarshal(payload.Raw, &raw); err != nil {
			return []models.WeatherObservation{}, nil
		}
	case lenient.ShapePoints:
		var wrapped struct {
			Points []json.RawMessage `json:"points"`
		}
		if err := json.Unmarshal(payload.Raw, &wrapped); err != nil {
			return []models.WeatherObservation{}, nil
		}
		raw = wrapped.Points
	case lenient.ShapeError:
		return nil, fmt.Errorf("fetch history %s: %w: %s", stationID, ErrUpstreamLogical, payload.Error)
	default:
		return []models.WeatherObservation{}, nil
	}

	timestamps := make([]string, 0, len(raw))
	readings := make([]float64, 0, len(raw))
	for _, item := range raw {
		var p providerPoint
		if err := json.Unmarshal(item, &p); err != nil {
			// Keep the slot so the cleaner counts it against data quality.
			timestamps = append(timestamps, "")
			readings = append(readings, math.NaN())
			continue
		}
		temp := math.NaN()
		if t := firstFloat(p.Temperature, p.Temp); t.Set {
			temp = t.Value
		}
		timestamps = append(timestamps, firstString(p.Timestamp, p.Time))
		readings = append(readings, temp)
	}

	celsius, fahrenheit := observations.NormalizeUnits(readings)
	if fahrenheit {
		observability.FahrenheitBatchesTotal.Inc()
	}

	out := make([]models.WeatherObservation, len(celsius))
	for i, v := range celsius {
		out[i] = models.WeatherObservation{Timestamp: timestamps[i], TemperatureCelsius: v}
	}
	return out, nil
}

func (c *StationClient) fetch(ctx context.Context, endpoint string) (lenient.Payload, error) {
	if err := c.get.rejectOpen(); err != nil {
		return lenient.Payload{}, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return lenient.Payload{}, err
	}
	body, err := c.get.get(ctx, endpoint)
	if err != nil {
		return lenient.Payload{}, err
	}
	payload, err := lenient.Decode(body)
	if err != nil {
		observability.UpstreamErrorsTotal.WithLabelValues(ProviderStations, string(ErrorCategoryParsing)).Inc()
		return lenient.Payload{}, fmt.Errorf("%w: %w", ErrUpstreamParse, err)
	}
	if payload.Repair != lenient.RepairNone {
		observability.LenientRepairsTotal.WithLabelValues(payload.Repair.String()).Inc()
		if logger := observability.LoggerFromContext(ctx); logger != nil {
			logger.Debug("repaired provider body",
				zap.String("repair", payload.Repair.String()),
				zap.String("shape", payload.Shape.String()),
			)
		}
	}
	return payload, nil
}
