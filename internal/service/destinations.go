package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/umahmood/haversine"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/travel-weather-service/internal/models"
	"github.com/kjstillabower/travel-weather-service/internal/observability"
	"github.com/kjstillabower/travel-weather-service/internal/observations"
	"github.com/kjstillabower/travel-weather-service/internal/scoring"
)

const defaultDestinationConcurrency = 4

// TravelData is the cached data DestinationService ranks. *TravelService satisfies it.
type TravelData interface {
	GetStations(ctx context.Context) ([]models.Station, error)
	GetWeather(ctx context.Context, stationID string) (models.WeatherReport, error)
	SearchFlights(ctx context.Context, params models.SearchParams) (models.FlightSearchResult, error)
}

var _ TravelData = (*TravelService)(nil)

// DestinationService ranks candidate airports by flight price, temperature fit and
// flight duration.
type DestinationService struct {
	data        TravelData
	airports    map[string]models.Airport
	concurrency int
	now         func() time.Time
}

// NewDestinationService creates a DestinationService over the configured airports.
// concurrency bounds how many candidates are fetched at once.
func NewDestinationService(data TravelData, airports []models.Airport, concurrency int) *DestinationService {
	if concurrency <= 0 {
		concurrency = defaultDestinationConcurrency
	}
	byCode := make(map[string]models.Airport, len(airports))
	for _, a := range airports {
		byCode[a.Code] = a
	}
	return &DestinationService{
		data:        data,
		airports:    byCode,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Rank scores every destination in params.To and returns them best first.
// A failure for one candidate is reported in that candidate's Errors and never
// fails the ranking. Only cancellation of ctx returns an error.
func (s *DestinationService) Rank(ctx context.Context, params models.DestinationParams) (models.DestinationRanking, error) {
	observability.DestinationSearchesTotal.Inc()
	if params.LookbackDays <= 0 {
		params.LookbackDays = models.DefaultLookbackDays
	}
	cutoff := s.now().Add(-time.Duration(params.LookbackDays) * 24 * time.Hour)

	stations, stationsErr := s.data.GetStations(ctx)
	if stationsErr != nil {
		if logger := observability.LoggerFromContext(ctx); logger != nil {
			logger.Warn("station list unavailable for ranking", zap.Error(stationsErr))
		}
	}

	candidates := make([]models.DestinationCandidate, len(params.To))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, code := range params.To {
		g.Go(func() error {
			candidates[i] = s.candidate(ctx, code, params, cutoff, stations, stationsErr)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return models.DestinationRanking{}, err
	}

	scoreDurations(candidates)
	for i := range candidates {
		c := &candidates[i]
		c.Score = scoring.Composite(c.PriceScore, c.TemperatureScore, c.DurationScore)
		outcome := "complete"
		if len(c.Errors) > 0 {
			outcome = "partial"
		}
		observability.DestinationCandidateTotal.WithLabelValues(outcome).Inc()
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Airport < candidates[j].Airport
	})

	return models.DestinationRanking{Candidates: candidates, Params: params}, nil
}

// candidate gathers weather and flight data for one destination and fills in the
// temperature and price sub-scores.
func (s *DestinationService) candidate(ctx context.Context, code string, params models.DestinationParams, cutoff time.Time, stations []models.Station, stationsErr error) models.DestinationCandidate {
	c := models.DestinationCandidate{Airport: code}

	switch airport, ok := s.airports[code]; {
	case !ok:
		c.Errors = append(c.Errors, fmt.Sprintf("no coordinates configured for %s", code))
	case stationsErr != nil:
		c.Errors = append(c.Errors, fmt.Sprintf("stations: %v", stationsErr))
	default:
		s.fillWeather(ctx, &c, airport, stations, cutoff)
	}
	if c.AverageCelsius != nil && params.TempMin != nil && params.TempMax != nil {
		c.TemperatureScore = scoring.TemperatureScore(*c.AverageCelsius, *params.TempMin, *params.TempMax)
	}

	result, err := s.data.SearchFlights(ctx, params.FlightSearch(code))
	switch {
	case err != nil:
		c.Errors = append(c.Errors, fmt.Sprintf("flights: %v", err))
	case result.Cheapest == nil:
		c.Errors = append(c.Errors, "flights: no offers")
	default:
		c.Flight = result.Cheapest
		c.PriceScore = scoring.PriceScore(result.Cheapest.Price, params.Budget)
	}
	return c
}

func (s *DestinationService) fillWeather(ctx context.Context, c *models.DestinationCandidate, airport models.Airport, stations []models.Station, cutoff time.Time) {
	station, distKm, ok := nearestStation(airport, stations)
	if !ok {
		c.Errors = append(c.Errors, "weather: no station with coordinates")
		return
	}
	c.Station = &station
	c.StationDistKm = math.Round(distKm*10) / 10

	report, err := s.data.GetWeather(ctx, station.ID)
	if err != nil {
		c.Errors = append(c.Errors, fmt.Sprintf("weather: %v", err))
		return
	}
	c.DataQuality = report.DataQuality
	avg, ok := observations.Average(observations.Since(report.Observations, cutoff))
	if !ok {
		c.Errors = append(c.Errors, "weather: no observations in lookback window")
		return
	}
	c.AverageCelsius = &avg
}

// nearestStation returns the station closest to airport by great-circle distance.
// Stations without coordinates are skipped.
func nearestStation(airport models.Airport, stations []models.Station) (models.Station, float64, bool) {
	origin := haversine.Coord{Lat: airport.Lat, Lon: airport.Lon}
	var best models.Station
	bestKm := math.Inf(1)
	for _, st := range stations {
		if !st.HasCoordinates() {
			continue
		}
		_, km := haversine.Distance(origin, haversine.Coord{Lat: *st.Lat, Lon: *st.Lon})
		if km < bestKm {
			best, bestKm = st, km
		}
	}
	if math.IsInf(bestKm, 1) {
		return models.Station{}, 0, false
	}
	return best, bestKm, true
}

// scoreDurations scores each cheapest flight's duration against the shortest one.
// When no candidate has a known duration, flights are scored by price rank instead.
func scoreDurations(candidates []models.DestinationCandidate) {
	shortest := math.Inf(1)
	for _, c := range candidates {
		if c.Flight != nil && c.Flight.DurationMinutes != nil && *c.Flight.DurationMinutes > 0 {
			shortest = math.Min(shortest, float64(*c.Flight.DurationMinutes))
		}
	}
	if !math.IsInf(shortest, 1) {
		for i := range candidates {
			if f := candidates[i].Flight; f != nil && f.DurationMinutes != nil {
				candidates[i].DurationScore = scoring.DurationScore(float64(*f.DurationMinutes), shortest)
			}
		}
		return
	}

	var priced []int
	for i, c := range candidates {
		if c.Flight != nil {
			priced = append(priced, i)
		}
	}
	sort.SliceStable(priced, func(a, b int) bool {
		ca, cb := candidates[priced[a]], candidates[priced[b]]
		if ca.Flight.Price != cb.Flight.Price {
			return ca.Flight.Price < cb.Flight.Price
		}
		return ca.Airport < cb.Airport
	})
	for rank, idx := range priced {
		candidates[idx].DurationScore = scoring.RankScore(rank+1, len(priced))
	}
}
