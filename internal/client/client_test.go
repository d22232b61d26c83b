package client

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/travel-weather-service/internal/circuitbreaker"
	"github.com/kjstillabower/travel-weather-service/internal/lenient"
	"github.com/kjstillabower/travel-weather-service/internal/models"
	"github.com/kjstillabower/travel-weather-service/internal/observability"
)

type countingLimiter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (l *countingLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.err
}

func newStationServer(t *testing.T, status int, body string) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	paths := []string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &paths
}

func newStationClient(t *testing.T, baseURL string, limiter Limiter, opts ...StationOption) *StationClient {
	t.Helper()
	c, err := NewStationClient(baseURL, 2*time.Second, limiter, opts...)
	if err != nil {
		t.Fatalf("NewStationClient() error = %v", err)
	}
	return c
}

func TestNewStationClient_Validation(t *testing.T) {
	if _, err := NewStationClient("not a url", time.Second, &countingLimiter{}); err == nil {
		t.Error("expected error for invalid URL")
	}
	if _, err := NewStationClient("http://example.test", time.Second, nil); err == nil {
		t.Error("expected error for missing limiter")
	}
}

// TestStationClient_FetchStations_RenamesFields verifies that provider field names are
// mapped to the normalized Station shape, entries without an id are skipped, and the
// limiter is consulted before the call.
func TestStationClient_FetchStations_RenamesFields(t *testing.T) {
	body := `[
		{"station_id":"KSFO","station_name":"San Francisco Intl","latitude":37.62,"longitude":"-122.37"},
		{"station_id":1042,"station_name":"Numeric","latitude":null},
		{"station_name":"No id"},
		"garbage"
	]`
	srv, paths := newStationServer(t, http.StatusOK, body)
	limiter := &countingLimiter{}
	c := newStationClient(t, srv.URL, limiter)

	stations, err := c.FetchStations(context.Background())
	if err != nil {
		t.Fatalf("FetchStations() error = %v", err)
	}
	if len(stations) != 2 {
		t.Fatalf("len(stations) = %d, want 2", len(stations))
	}
	got := stations[0]
	if got.ID != "KSFO" || got.Name != "San Francisco Intl" {
		t.Errorf("station = %+v", got)
	}
	if got.Lat == nil || *got.Lat != 37.62 || got.Lon == nil || *got.Lon != -122.37 {
		t.Errorf("coordinates = %v, %v", got.Lat, got.Lon)
	}
	if stations[1].ID != "1042" || stations[1].HasCoordinates() {
		t.Errorf("numeric station = %+v", stations[1])
	}
	if limiter.calls != 1 {
		t.Errorf("limiter calls = %d, want 1", limiter.calls)
	}
	if (*paths)[0] != "/stations" {
		t.Errorf("path = %q, want /stations", (*paths)[0])
	}
}

func TestStationClient_FetchStations_WrappedObject(t *testing.T) {
	srv, _ := newStationServer(t, http.StatusOK, `{"stations":[{"station_id":"A"}]}`)
	c := newStationClient(t, srv.URL, &countingLimiter{})

	stations, err := c.FetchStations(context.Background())
	if err != nil {
		t.Fatalf("FetchStations() error = %v", err)
	}
	if len(stations) != 1 || stations[0].ID != "A" {
		t.Errorf("stations = %+v", stations)
	}
}

// TestStationClient_FetchStations_RepairedArray verifies that a bare station array
// followed by noise keeps its entries after the decoder wraps it under "points".
func TestStationClient_FetchStations_RepairedArray(t *testing.T) {
	srv, _ := newStationServer(t, http.StatusOK,
		`[{"station_id":"KSFO","latitude":37.6,"longitude":-122.3}] trailing`)
	c := newStationClient(t, srv.URL, &countingLimiter{})

	stations, err := c.FetchStations(context.Background())
	if err != nil {
		t.Fatalf("FetchStations() error = %v", err)
	}
	if len(stations) != 1 || stations[0].ID != "KSFO" {
		t.Fatalf("stations = %+v, want [KSFO]", stations)
	}
	got := stations[0]
	if got.Lat == nil || *got.Lat != 37.6 || got.Lon == nil || *got.Lon != -122.3 {
		t.Errorf("coordinates = %v, %v", got.Lat, got.Lon)
	}
}

// TestStationClient_Errors verifies the error taxonomy for non-2xx, empty, and
// unrepairable bodies.
func TestStationClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		check   func(error) bool
		wantMsg string
	}{
		{
			name:   "non-2xx carries status",
			status: http.StatusBadGateway,
			body:   "bad gateway",
			check: func(err error) bool {
				var httpErr *UpstreamHTTPError
				return errors.As(err, &httpErr) && httpErr.StatusCode == 502 && httpErr.Provider == ProviderStations
			},
		},
		{
			name:   "empty body",
			status: http.StatusOK,
			body:   "   ",
			check: func(err error) bool {
				return errors.Is(err, ErrUpstreamParse) && errors.Is(err, lenient.ErrEmptyBody)
			},
		},
		{
			name:   "unrepairable",
			status: http.StatusOK,
			body:   "<html>oops</html>",
			check: func(err error) bool {
				return errors.Is(err, ErrUpstreamParse) && errors.Is(err, lenient.ErrUnparseable)
			},
		},
		{
			name:   "error body",
			status: http.StatusOK,
			body:   `{"error":"quota exceeded"}`,
			check:  func(err error) bool { return errors.Is(err, ErrUpstreamLogical) },
		},
		{
			name:   "object without station list",
			status: http.StatusOK,
			body:   `{"data":[{"station_id":"A"}]}`,
			check:  func(err error) bool { return errors.Is(err, ErrUpstreamParse) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newStationServer(t, tt.status, tt.body)
			c := newStationClient(t, srv.URL, &countingLimiter{})
			_, err := c.FetchStations(context.Background())
			if err == nil || !tt.check(err) {
				t.Errorf("FetchStations() error = %v", err)
			}
		})
	}
}

func TestStationClient_LimiterErrorStopsCall(t *testing.T) {
	srv, paths := newStationServer(t, http.StatusOK, `[]`)
	c := newStationClient(t, srv.URL, &countingLimiter{err: context.Canceled})

	if _, err := c.FetchStations(context.Background()); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if len(*paths) != 0 {
		t.Error("no request should be sent when the limiter refuses")
	}
}

// TestStationClient_FetchHistory_RepairsFragment verifies that a dangling points
// member decodes into one observation.
func TestStationClient_FetchHistory_RepairsFragment(t *testing.T) {
	srv, paths := newStationServer(t, http.StatusOK,
		`"points": [{"timestamp":"2024-01-01T00:00:00Z","temperature":20}]`)
	c := newStationClient(t, srv.URL, &countingLimiter{})

	obs, err := c.FetchHistory(context.Background(), "KSFO")
	if err != nil {
		t.Fatalf("FetchHistory() error = %v", err)
	}
	if len(obs) != 1 {
		t.Fatalf("len(obs) = %d, want 1", len(obs))
	}
	if obs[0].Timestamp != "2024-01-01T00:00:00Z" || obs[0].TemperatureCelsius != 20 {
		t.Errorf("obs[0] = %+v", obs[0])
	}
	if (*paths)[0] != "/stations/KSFO/history" {
		t.Errorf("path = %q", (*paths)[0])
	}
}

func TestStationClient_FetchHistory_Shapes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantLen int
	}{
		{"bare array", `[{"timestamp":"2024-01-01T00:00:00Z","temperature":"21.5"}]`, 1},
		{"points object", `{"points":[{"time":"2024-01-01T00:00:00Z","temp":18},{"timestamp":"x","temperature":null}]}`, 2},
		{"unrecognized object", `{"data":[1,2,3]}`, 0},
		{"scalar", `42`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newStationServer(t, http.StatusOK, tt.body)
			c := newStationClient(t, srv.URL, &countingLimiter{})
			obs, err := c.FetchHistory(context.Background(), "S1")
			if err != nil {
				t.Fatalf("FetchHistory() error = %v", err)
			}
			if obs == nil || len(obs) != tt.wantLen {
				t.Errorf("len(obs) = %d, want %d (non-nil)", len(obs), tt.wantLen)
			}
		})
	}
}

func TestStationClient_FetchHistory_NullTemperatureIsNaN(t *testing.T) {
	srv, _ := newStationServer(t, http.StatusOK,
		`[{"timestamp":"2024-01-01T00:00:00Z","temperature":null},{"timestamp":"2024-01-01T01:00:00Z","temperature":"n/a"}]`)
	c := newStationClient(t, srv.URL, &countingLimiter{})

	obs, err := c.FetchHistory(context.Background(), "S1")
	if err != nil {
		t.Fatalf("FetchHistory() error = %v", err)
	}
	for i, o := range obs {
		if !math.IsNaN(o.TemperatureCelsius) {
			t.Errorf("obs[%d].TemperatureCelsius = %v, want NaN", i, o.TemperatureCelsius)
		}
	}
}

func TestStationClient_FetchHistory_ConvertsFahrenheit(t *testing.T) {
	srv, _ := newStationServer(t, http.StatusOK, `[
		{"timestamp":"2024-01-01T00:00:00Z","temperature":68},
		{"timestamp":"2024-01-01T01:00:00Z","temperature":70},
		{"timestamp":"2024-01-01T02:00:00Z","temperature":72},
		{"timestamp":"2024-01-01T03:00:00Z","temperature":75},
		{"timestamp":"2024-01-01T04:00:00Z","temperature":80}
	]`)
	c := newStationClient(t, srv.URL, &countingLimiter{})

	obs, err := c.FetchHistory(context.Background(), "S1")
	if err != nil {
		t.Fatalf("FetchHistory() error = %v", err)
	}
	if math.Abs(obs[1].TemperatureCelsius-21.11) > 0.01 {
		t.Errorf("obs[1] = %v, want ~21.11", obs[1].TemperatureCelsius)
	}
}

func TestStationClient_PropagatesCorrelationID(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Correlation-ID")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()
	c := newStationClient(t, srv.URL, &countingLimiter{})

	ctx := observability.WithCorrelationID(context.Background(), "corr-123")
	if _, err := c.FetchStations(ctx); err != nil {
		t.Fatalf("FetchStations() error = %v", err)
	}
	if got != "corr-123" {
		t.Errorf("X-Correlation-ID = %q, want corr-123", got)
	}
}

// TestStationClient_BreakerOpens verifies that repeated 5xx responses open the
// circuit and later calls fail fast without reaching the provider.
func TestStationClient_BreakerOpens(t *testing.T) {
	srv, paths := newStationServer(t, http.StatusServiceUnavailable, "down")
	cb := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 2,
		Timeout:          time.Minute,
		Component:        ProviderStations,
		IsFailure:        BreakerFailure,
	})
	c := newStationClient(t, srv.URL, &countingLimiter{}, WithStationBreaker(cb))

	for i := 0; i < 2; i++ {
		_, _ = c.FetchStations(context.Background())
	}
	_, err := c.FetchStations(context.Background())
	if !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Errorf("error = %v, want ErrOpen", err)
	}
	if len(*paths) != 2 {
		t.Errorf("provider calls = %d, want 2", len(*paths))
	}
}

// TestStationClient_OpenBreakerSkipsLimiter verifies that an open circuit rejects
// the call before it takes a rate-limit slot.
func TestStationClient_OpenBreakerSkipsLimiter(t *testing.T) {
	srv, paths := newStationServer(t, http.StatusServiceUnavailable, "down")
	cb := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 1,
		Timeout:          time.Minute,
		Component:        ProviderStations,
		IsFailure:        BreakerFailure,
	})
	limiter := &countingLimiter{}
	c := newStationClient(t, srv.URL, limiter, WithStationBreaker(cb))

	_, _ = c.FetchStations(context.Background())
	if cb.State() != circuitbreaker.StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	_, err := c.FetchStations(context.Background())
	if !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Errorf("error = %v, want ErrOpen", err)
	}
	if limiter.calls != 1 {
		t.Errorf("limiter calls = %d, want 1", limiter.calls)
	}
	if len(*paths) != 1 {
		t.Errorf("provider calls = %d, want 1", len(*paths))
	}
}

func newFlightClient(t *testing.T, apiURL string) *FlightClient {
	t.Helper()
	c, err := NewFlightClient("test-key", apiURL, 2*time.Second, FlightLocale{Language: "en", Country: "us", Currency: "USD"})
	if err != nil {
		t.Fatalf("NewFlightClient() error = %v", err)
	}
	return c
}

func TestNewFlightClient_RequiresKey(t *testing.T) {
	_, err := NewFlightClient("", "https://flights.test/search", time.Second, FlightLocale{})
	if !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("error = %v, want ErrInvalidAPIKey", err)
	}
}

func intPtr(v int) *int { return &v }

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name   string
		params models.SearchParams
		want   map[string]string
		absent []string
	}{
		{
			name:   "one-way defaults",
			params: models.SearchParams{From: "sfo", To: "LAX", OutboundDate: "2025-03-01"},
			want: map[string]string{
				"engine": "google_flights", "departure_id": "SFO", "arrival_id": "LAX",
				"outbound_date": "2025-03-01", "type": "2", "sort_by": "2",
			},
			absent: []string{"return_date", "stops", "deep_search"},
		},
		{
			name: "round trip",
			params: models.SearchParams{
				From: "SFO", To: "JFK", OutboundDate: "2025-03-01", ReturnDate: "2025-03-08",
				TripType: models.TripRoundTrip, SortBy: intPtr(5), MaxStops: intPtr(0), DeepSearch: true,
			},
			want: map[string]string{
				"type": "1", "return_date": "2025-03-08", "sort_by": "5", "stops": "1", "deep_search": "true",
			},
		},
		{
			name:   "round trip without return date degrades to one-way",
			params: models.SearchParams{From: "SFO", To: "JFK", OutboundDate: "2025-03-01", TripType: models.TripRoundTrip},
			want:   map[string]string{"type": "2"},
			absent: []string{"return_date"},
		},
		{
			name:   "any number of stops",
			params: models.SearchParams{From: "SFO", To: "JFK", OutboundDate: "2025-03-01", MaxStops: intPtr(3)},
			absent: []string{"stops"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := buildQuery(tt.params)
			for k, v := range tt.want {
				if got := q.Get(k); got != v {
					t.Errorf("%s = %q, want %q", k, got, v)
				}
			}
			for _, k := range tt.absent {
				if q.Has(k) {
					t.Errorf("%s should be absent, got %q", k, q.Get(k))
				}
			}
		})
	}
}

const flightBody = `{
	"search_metadata": {"status": "Success"},
	"best_flights": [
		{
			"flights": [
				{"airline":"United","duration":80,"departure_airport":{"time":"2025-03-01 08:00"},"arrival_airport":{"time":"2025-03-01 09:20"}}
			],
			"layovers": [],
			"total_duration": 80,
			"price": 240
		}
	],
	"other_flights": [
		{
			"flights": [
				{"airline":"Alaska","duration":60,"departure_airport":{"time":"2025-03-01 10:00"}},
				{"airline":"Delta","duration":50,"arrival_airport":{"time":"2025-03-01 13:30"}}
			],
			"price": "$180",
			"booking_url": "https://book.test/1"
		},
		{"flights": [], "price": {"value": 180, "currency": "EUR"}, "stops": 2},
		{"price": "call us"},
		{"price": 0}
	]
}`

// TestFlightClient_Search_Normalizes verifies merging, price parsing, airline and
// duration derivation, and the stable ascending price sort.
func TestFlightClient_Search_Normalizes(t *testing.T) {
	var query url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		_, _ = w.Write([]byte(flightBody))
	}))
	defer srv.Close()
	c := newFlightClient(t, srv.URL)

	res, err := c.Search(context.Background(), models.SearchParams{From: "SFO", To: "LAX", OutboundDate: "2025-03-01"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if query.Get("api_key") != "test-key" || query.Get("currency") != "USD" || query.Get("hl") != "en" || query.Get("gl") != "us" {
		t.Errorf("query = %v", query)
	}
	if len(res.All) != 3 {
		t.Fatalf("len(All) = %d, want 3", len(res.All))
	}

	first := res.All[0]
	if first.Price != 180 || first.Airline != multipleAirlines || first.BookingURL != "https://book.test/1" {
		t.Errorf("All[0] = %+v", first)
	}
	if first.DurationMinutes == nil || *first.DurationMinutes != 110 {
		t.Errorf("All[0].DurationMinutes = %v, want 110", first.DurationMinutes)
	}
	if first.Stops == nil || *first.Stops != 1 {
		t.Errorf("All[0].Stops = %v, want 1", first.Stops)
	}
	if first.DepartureTime != "2025-03-01 10:00" || first.ArrivalTime != "2025-03-01 13:30" {
		t.Errorf("All[0] times = %q, %q", first.DepartureTime, first.ArrivalTime)
	}

	second := res.All[1]
	if second.Price != 180 || second.Currency != "EUR" || second.Stops == nil || *second.Stops != 2 {
		t.Errorf("All[1] = %+v (stable order for ties)", second)
	}

	third := res.All[2]
	if third.Price != 240 || third.Airline != "United" || third.Stops == nil || *third.Stops != 0 {
		t.Errorf("All[2] = %+v", third)
	}

	if res.Cheapest == nil || res.Cheapest.Price != 180 || res.Cheapest.Airline != multipleAirlines {
		t.Errorf("Cheapest = %+v", res.Cheapest)
	}
}

func TestFlightClient_Search_FallbackFlightsAndEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("arrival_id") == "NIL" {
			_, _ = w.Write([]byte(`{"search_metadata":{}}`))
			return
		}
		_, _ = w.Write([]byte(`{"flights":[{"price":99.5,"airline":"Solo"}]}`))
	}))
	defer srv.Close()
	c := newFlightClient(t, srv.URL)

	res, err := c.Search(context.Background(), models.SearchParams{From: "SFO", To: "LAX", OutboundDate: "2025-03-01"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.Cheapest == nil || res.Cheapest.Price != 99.5 || res.Cheapest.Currency != "USD" {
		t.Errorf("Cheapest = %+v", res.Cheapest)
	}

	res, err = c.Search(context.Background(), models.SearchParams{From: "SFO", To: "NIL", OutboundDate: "2025-03-01"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.Cheapest != nil || len(res.All) != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}

// TestFlightClient_Search_LogicalError verifies that an error field in a 200 body
// is raised rather than read as zero results.
func TestFlightClient_Search_LogicalError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"Invalid API key. Your API key should be here."}`))
	}))
	defer srv.Close()
	c := newFlightClient(t, srv.URL)

	_, err := c.Search(context.Background(), models.SearchParams{From: "SFO", To: "LAX", OutboundDate: "2025-03-01"})
	if !errors.Is(err, ErrUpstreamLogical) {
		t.Errorf("error = %v, want ErrUpstreamLogical", err)
	}
}

func TestFlightClient_Search_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Invalid API key"}`))
	}))
	defer srv.Close()
	c := newFlightClient(t, srv.URL)

	_, err := c.Search(context.Background(), models.SearchParams{From: "SFO", To: "LAX", OutboundDate: "2025-03-01"})
	var httpErr *UpstreamHTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("error = %v, want UpstreamHTTPError 401", err)
	}
	if CategorizeError(err) != ErrorCategoryInvalidAPIKey {
		t.Errorf("category = %v", CategorizeError(err))
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw    string
		want   float64
		wantOK bool
	}{
		{`123.4`, 123.4, true},
		{`"$1,234"`, 1234, true},
		{`"€99.90"`, 99.90, true},
		{`{"price": "250"}`, 250, true},
		{`{"value":"abc","price":120}`, 120, true},
		{`{"value":-5,"price":80}`, 80, true},
		{`"-$50"`, 0, false},
		{`"$-50"`, 0, false},
		{`{"value": null}`, 0, false},
		{`"free"`, 0, false},
		{`-3`, 0, false},
		{`null`, 0, false},
		{`[]`, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, _, ok := parsePrice([]byte(tt.raw))
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("parsePrice(%s) = %v, %v; want %v, %v", tt.raw, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
