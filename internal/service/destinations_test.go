package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kjstillabower/travel-weather-service/internal/models"
)

type fakeTravelData struct {
	stations    []models.Station
	stationsErr error
	weather     map[string]models.WeatherReport
	weatherErr  error
	flights     map[string]models.FlightSearchResult
	flightErrs  map[string]error
}

func (f *fakeTravelData) GetStations(ctx context.Context) ([]models.Station, error) {
	return f.stations, f.stationsErr
}

func (f *fakeTravelData) GetWeather(ctx context.Context, stationID string) (models.WeatherReport, error) {
	if f.weatherErr != nil {
		return models.WeatherReport{}, f.weatherErr
	}
	return f.weather[stationID], nil
}

func (f *fakeTravelData) SearchFlights(ctx context.Context, params models.SearchParams) (models.FlightSearchResult, error) {
	if err := f.flightErrs[params.To]; err != nil {
		return models.FlightSearchResult{}, err
	}
	return f.flights[params.To], nil
}

func ip(v int) *int { return &v }

func quote(price float64, minutes *int) models.FlightSearchResult {
	q := models.FlightQuote{Price: price, Currency: "USD", DurationMinutes: minutes}
	return models.FlightSearchResult{Cheapest: &q, All: []models.FlightQuote{q}}
}

var testNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func recentReport(id string, temps ...float64) models.WeatherReport {
	obs := make([]models.WeatherObservation, len(temps))
	for i, v := range temps {
		obs[i] = models.WeatherObservation{
			Timestamp:          testNow.Add(-time.Duration(i+1) * time.Hour).Format(time.RFC3339),
			TemperatureCelsius: v,
		}
	}
	return models.WeatherReport{StationID: id, Observations: obs, RawCount: len(obs), DataQuality: 100}
}

func testAirports() []models.Airport {
	return []models.Airport{
		{Code: "LAX", Lat: 33.9425, Lon: -118.4081},
		{Code: "MIA", Lat: 25.7959, Lon: -80.2870},
		{Code: "ORD", Lat: 41.9742, Lon: -87.9073},
	}
}

func testStations() []models.Station {
	return []models.Station{
		{ID: "KLAX", Lat: fp(33.94), Lon: fp(-118.40)},
		{ID: "KMIA", Lat: fp(25.79), Lon: fp(-80.29)},
		{ID: "KORD", Lat: fp(41.98), Lon: fp(-87.90)},
		{ID: "NOCOORD"},
	}
}

func newTestDestinationService(data TravelData) *DestinationService {
	s := NewDestinationService(data, testAirports(), 2)
	s.now = func() time.Time { return testNow }
	return s
}

func destParams(to ...string) models.DestinationParams {
	return models.DestinationParams{
		From:         "SEA",
		To:           to,
		OutboundDate: "2026-11-01",
		Budget:       300,
		TempMin:      fp(20),
		TempMax:      fp(28),
	}
}

// TestDestinationService_Rank_OrdersByComposite verifies that candidates are scored
// on price, temperature and duration and returned best first.
func TestDestinationService_Rank_OrdersByComposite(t *testing.T) {
	data := &fakeTravelData{
		stations: testStations(),
		weather: map[string]models.WeatherReport{
			"KLAX": recentReport("KLAX", 24, 24),
			"KMIA": recentReport("KMIA", 30, 30),
			"KORD": recentReport("KORD", 5, 5),
		},
		flights: map[string]models.FlightSearchResult{
			"LAX": quote(300, ip(180)),
			"MIA": quote(300, ip(360)),
			"ORD": quote(600, ip(240)),
		},
	}
	got, err := newTestDestinationService(data).Rank(context.Background(), destParams("ORD", "MIA", "LAX"))
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if len(got.Candidates) != 3 {
		t.Fatalf("len(Candidates) = %d, want 3", len(got.Candidates))
	}
	order := []string{got.Candidates[0].Airport, got.Candidates[1].Airport, got.Candidates[2].Airport}
	want := []string{"LAX", "MIA", "ORD"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}

	lax := got.Candidates[0]
	if lax.Station == nil || lax.Station.ID != "KLAX" {
		t.Errorf("LAX station = %+v, want KLAX", lax.Station)
	}
	if lax.TemperatureScore != 100 || lax.PriceScore != 100 || lax.DurationScore != 100 || lax.Score != 100 {
		t.Errorf("LAX scores = t%v p%v d%v s%v, want all 100", lax.TemperatureScore, lax.PriceScore, lax.DurationScore, lax.Score)
	}
	if len(lax.Errors) != 0 {
		t.Errorf("LAX errors = %v, want none", lax.Errors)
	}
	if got.Params.LookbackDays != models.DefaultLookbackDays {
		t.Errorf("LookbackDays = %d, want default %d", got.Params.LookbackDays, models.DefaultLookbackDays)
	}
}

// TestDestinationService_Rank_IsolatesFailures verifies that one candidate's flight
// failure and another's unknown airport do not fail the ranking.
func TestDestinationService_Rank_IsolatesFailures(t *testing.T) {
	data := &fakeTravelData{
		stations: testStations(),
		weather: map[string]models.WeatherReport{
			"KLAX": recentReport("KLAX", 22),
			"KMIA": recentReport("KMIA", 22),
		},
		flights: map[string]models.FlightSearchResult{
			"LAX": quote(250, ip(200)),
			"JFK": quote(200, ip(300)),
		},
		flightErrs: map[string]error{"MIA": errors.New("provider down")},
	}
	got, err := newTestDestinationService(data).Rank(context.Background(), destParams("LAX", "MIA", "JFK"))
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	byCode := make(map[string]models.DestinationCandidate)
	for _, c := range got.Candidates {
		byCode[c.Airport] = c
	}

	mia := byCode["MIA"]
	if mia.Flight != nil || mia.PriceScore != 0 || len(mia.Errors) != 1 {
		t.Errorf("MIA = %+v, want flight error only", mia)
	}
	if mia.TemperatureScore != 100 {
		t.Errorf("MIA TemperatureScore = %v, want 100", mia.TemperatureScore)
	}

	jfk := byCode["JFK"]
	if jfk.Station != nil || jfk.AverageCelsius != nil || jfk.TemperatureScore != 0 {
		t.Errorf("JFK = %+v, want no weather for unconfigured airport", jfk)
	}
	if jfk.Flight == nil || jfk.Flight.Price != 200 {
		t.Errorf("JFK flight = %+v, want searched anyway", jfk.Flight)
	}
	if len(jfk.Errors) != 1 {
		t.Errorf("JFK errors = %v, want 1", jfk.Errors)
	}
}

// TestDestinationService_Rank_LookbackWindow verifies that observations older than
// the lookback window are ignored and a station with none scores 0 on temperature.
func TestDestinationService_Rank_LookbackWindow(t *testing.T) {
	old := models.WeatherReport{
		StationID: "KLAX",
		Observations: []models.WeatherObservation{
			{Timestamp: testNow.Add(-10 * 24 * time.Hour).Format(time.RFC3339), TemperatureCelsius: 24},
		},
		RawCount:    1,
		DataQuality: 100,
	}
	data := &fakeTravelData{
		stations: testStations(),
		weather:  map[string]models.WeatherReport{"KLAX": old},
		flights:  map[string]models.FlightSearchResult{"LAX": quote(300, ip(120))},
	}
	params := destParams("LAX")
	params.LookbackDays = 3

	got, err := newTestDestinationService(data).Rank(context.Background(), params)
	if err != nil {
		t.Fatal(err)
	}
	c := got.Candidates[0]
	if c.AverageCelsius != nil || c.TemperatureScore != 0 {
		t.Errorf("candidate = %+v, want no average in window", c)
	}
	if c.DataQuality != 100 {
		t.Errorf("DataQuality = %v, want 100", c.DataQuality)
	}
	if c.Score != 70 {
		t.Errorf("Score = %v, want 70 (price and duration only)", c.Score)
	}
}

// TestDestinationService_Rank_StationsUnavailable verifies that a station list failure
// is reported per candidate while flights are still ranked.
func TestDestinationService_Rank_StationsUnavailable(t *testing.T) {
	data := &fakeTravelData{
		stationsErr: errors.New("stations down"),
		flights: map[string]models.FlightSearchResult{
			"LAX": quote(300, ip(120)),
			"MIA": quote(150, ip(120)),
		},
	}
	got, err := newTestDestinationService(data).Rank(context.Background(), destParams("LAX", "MIA"))
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range got.Candidates {
		if len(c.Errors) != 1 || c.Flight == nil {
			t.Errorf("%s = %+v, want stations error and a flight", c.Airport, c)
		}
	}
	if got.Candidates[0].Airport != "LAX" {
		t.Errorf("best = %s, want LAX (at budget beats far below)", got.Candidates[0].Airport)
	}
}

// TestScoreDurations_RankFallback verifies that price rank stands in for duration when
// no flight reports one.
func TestScoreDurations_RankFallback(t *testing.T) {
	candidates := []models.DestinationCandidate{
		{Airport: "AAA", Flight: &models.FlightQuote{Price: 300}},
		{Airport: "BBB", Flight: &models.FlightQuote{Price: 100}},
		{Airport: "CCC"},
		{Airport: "DDD", Flight: &models.FlightQuote{Price: 200}},
	}
	scoreDurations(candidates)
	want := map[string]float64{"BBB": 100, "DDD": 67, "AAA": 33, "CCC": 0}
	for _, c := range candidates {
		if c.DurationScore != want[c.Airport] {
			t.Errorf("%s DurationScore = %v, want %v", c.Airport, c.DurationScore, want[c.Airport])
		}
	}
}

func TestNearestStation(t *testing.T) {
	st, km, ok := nearestStation(models.Airport{Code: "MIA", Lat: 25.7959, Lon: -80.2870}, testStations())
	if !ok || st.ID != "KMIA" {
		t.Fatalf("nearestStation() = %v, %v, want KMIA", st.ID, ok)
	}
	if km > 5 {
		t.Errorf("distance = %.1f km, want < 5", km)
	}

	if _, _, ok := nearestStation(models.Airport{Code: "X"}, []models.Station{{ID: "NOCOORD"}}); ok {
		t.Error("nearestStation() ok = true with no coordinates, want false")
	}
}

func TestDestinationService_Rank_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestDestinationService(&fakeTravelData{}).Rank(ctx, destParams("LAX"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Rank() error = %v, want Canceled", err)
	}
}
