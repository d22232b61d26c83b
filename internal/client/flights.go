package client

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/travel-weather-service/internal/lenient"
	"github.com/kjstillabower/travel-weather-service/internal/models"
)

// ProviderFlights labels flight-provider metrics and errors.
const ProviderFlights = "flights"

const (
	defaultSortBy     = 2 // price
	multipleAirlines  = "Multiple airlines"
	tripTypeRoundTrip = "1"
	tripTypeOneWay    = "2"
)

// FlightProvider searches flight offers.
type FlightProvider interface {
	Search(ctx context.Context, params models.SearchParams) (models.FlightSearchResult, error)
}

// FlightLocale holds the language, country and currency sent with every search.
type FlightLocale struct {
	Language string
	Country  string
	Currency string
}

// FlightClient calls a Google-Flights-style search provider. It does not retry.
type FlightClient struct {
	apiKey string
	apiURL string
	locale FlightLocale
	get    getter
}

// FlightOption configures a FlightClient.
type FlightOption func(*FlightClient)

// WithFlightBreaker puts a circuit breaker in front of the provider.
func WithFlightBreaker(b Breaker) FlightOption {
	return func(c *FlightClient) { c.get.breaker = b }
}

// WithFlightHTTPClient replaces the default HTTP client.
func WithFlightHTTPClient(hc *http.Client) FlightOption {
	return func(c *FlightClient) { c.get.client = hc }
}

// NewFlightClient returns a client for apiURL authenticated with apiKey.
func NewFlightClient(apiKey, apiURL string, timeout time.Duration, locale FlightLocale, opts ...FlightOption) (*FlightClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if _, err := url.ParseRequestURI(apiURL); err != nil {
		return nil, fmt.Errorf("invalid flight provider URL: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if locale.Language == "" {
		locale.Language = "en"
	}
	if locale.Country == "" {
		locale.Country = "us"
	}
	if locale.Currency == "" {
		locale.Currency = "USD"
	}
	c := &FlightClient{
		apiKey: apiKey,
		apiURL: apiURL,
		locale: locale,
		get: getter{
			provider: ProviderFlights,
			client:   &http.Client{Timeout: timeout},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Search runs one query and returns offers sorted by ascending price.
// An error field in a 2xx body is returned as ErrUpstreamLogical.
func (c *FlightClient) Search(ctx context.Context, params models.SearchParams) (models.FlightSearchResult, error) {
	endpoint, err := c.buildURL(params)
	if err != nil {
		return models.FlightSearchResult{}, err
	}
	body, err := c.get.get(ctx, endpoint)
	if err != nil {
		return models.FlightSearchResult{}, fmt.Errorf("search flights: %w", err)
	}

	payload, err := lenient.Decode(body)
	if err != nil {
		return models.FlightSearchResult{}, fmt.Errorf("search flights: %w: %w", ErrUpstreamParse, err)
	}

	var offers []flightOffer
	switch payload.Shape {
	case lenient.ShapeError:
		return models.FlightSearchResult{}, fmt.Errorf("search flights: %w: %s", ErrUpstreamLogical, payload.Error)
	case lenient.ShapeArray:
		if err := json.Unmarshal(payload.Raw, &offers); err != nil {
			return models.FlightSearchResult{}, fmt.Errorf("search flights: %w: %v", ErrUpstreamParse, err)
		}
	case lenient.ShapeObject, lenient.ShapePoints:
		var resp flightResponse
		if err := json.Unmarshal(payload.Raw, &resp); err != nil {
			return models.FlightSearchResult{}, fmt.Errorf("search flights: %w: %v", ErrUpstreamParse, err)
		}
		offers = resp.offers()
	default:
		return models.FlightSearchResult{}, fmt.Errorf("search flights: %w: unexpected %s body", ErrUpstreamParse, payload.Shape)
	}

	quotes := make([]models.FlightQuote, 0, len(offers))
	for _, o := range offers {
		if q, ok := o.quote(c.locale.Currency); ok {
			quotes = append(quotes, q)
		}
	}
	sort.SliceStable(quotes, func(i, j int) bool { return quotes[i].Price < quotes[j].Price })

	result := models.FlightSearchResult{All: quotes}
	if len(quotes) > 0 {
		cheapest := quotes[0]
		result.Cheapest = &cheapest
	}
	return result, nil
}

func (c *FlightClient) buildURL(params models.SearchParams) (string, error) {
	u, err := url.Parse(c.apiURL)
	if err != nil {
		return "", fmt.Errorf("invalid API URL: %w", err)
	}
	q := u.Query()
	for k, v := range buildQuery(params) {
		q[k] = v
	}
	q.Set("hl", c.locale.Language)
	q.Set("gl", c.locale.Country)
	q.Set("currency", c.locale.Currency)
	q.Set("api_key", c.apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// buildQuery maps search parameters to provider query fields. A round trip
// without a return date is searched as one-way.
func buildQuery(params models.SearchParams) url.Values {
	q := url.Values{}
	q.Set("engine", "google_flights")
	q.Set("departure_id", strings.ToUpper(strings.TrimSpace(params.From)))
	q.Set("arrival_id", strings.ToUpper(strings.TrimSpace(params.To)))
	q.Set("outbound_date", params.OutboundDate)

	roundTrip := params.ReturnDate != "" && params.TripType != models.TripOneWay
	if roundTrip {
		q.Set("type", tripTypeRoundTrip)
		q.Set("return_date", params.ReturnDate)
	} else {
		q.Set("type", tripTypeOneWay)
	}

	sortBy := defaultSortBy
	if params.SortBy != nil {
		sortBy = *params.SortBy
	}
	q.Set("sort_by", strconv.Itoa(sortBy))

	// Provider stops: 0 any, 1 nonstop, 2 at most one, 3 at most two.
	if params.MaxStops != nil && *params.MaxStops >= 0 && *params.MaxStops < 3 {
		q.Set("stops", strconv.Itoa(*params.MaxStops+1))
	}
	if params.DeepSearch {
		q.Set("deep_search", "true")
	}
	return q
}

type flightResponse struct {
	BestFlights  []flightOffer `json:"best_flights"`
	OtherFlights []flightOffer `json:"other_flights"`
	Flights      []flightOffer `json:"flights"`
}

func (r flightResponse) offers() []flightOffer {
	out := make([]flightOffer, 0, len(r.BestFlights)+len(r.OtherFlights))
	out = append(out, r.BestFlights...)
	out = append(out, r.OtherFlights...)
	if len(out) == 0 {
		out = append(out, r.Flights...)
	}
	return out
}

type flightAirport struct {
	Time flexString `json:"time"`
}

type flightLeg struct {
	Airline          flexString    `json:"airline"`
	Duration         flexFloat     `json:"duration"`
	DepartureAirport flightAirport `json:"departure_airport"`
	ArrivalAirport   flightAirport `json:"arrival_airport"`
}

type flightOffer struct {
	Price         json.RawMessage   `json:"price"`
	Currency      flexString        `json:"currency"`
	Airline       flexString        `json:"airline"`
	TotalDuration flexFloat         `json:"total_duration"`
	Legs          []flightLeg       `json:"flights"`
	Layovers      []json.RawMessage `json:"layovers"`
	Stops         flexFloat         `json:"stops"`
	BookingURL    flexString        `json:"booking_url"`
	Link          flexString        `json:"link"`
}

func (o flightOffer) quote(defaultCurrency string) (models.FlightQuote, bool) {
	price, currency, ok := parsePrice(o.Price)
	if !ok {
		return models.FlightQuote{}, false
	}
	if currency == "" {
		currency = string(o.Currency)
	}
	if currency == "" {
		currency = defaultCurrency
	}

	q := models.FlightQuote{
		Price:      price,
		Currency:   currency,
		Airline:    o.airline(),
		BookingURL: firstString(o.BookingURL, o.Link),
	}
	if d, ok := o.durationMinutes(); ok {
		q.DurationMinutes = &d
	}
	if len(o.Legs) > 0 {
		q.DepartureTime = string(o.Legs[0].DepartureAirport.Time)
		q.ArrivalTime = string(o.Legs[len(o.Legs)-1].ArrivalAirport.Time)
	}
	if s, ok := o.stops(); ok {
		q.Stops = &s
	}
	return q, true
}

func (o flightOffer) airline() string {
	if o.Airline != "" {
		return string(o.Airline)
	}
	seen := make(map[string]struct{})
	var first string
	for _, leg := range o.Legs {
		if leg.Airline == "" {
			continue
		}
		if first == "" {
			first = string(leg.Airline)
		}
		seen[string(leg.Airline)] = struct{}{}
	}
	if len(seen) > 1 {
		return multipleAirlines
	}
	return first
}

func (o flightOffer) durationMinutes() (int, bool) {
	if d := o.TotalDuration.ptr(); d != nil && *d >= 0 {
		return int(math.Round(*d)), true
	}
	var sum float64
	var found bool
	for _, leg := range o.Legs {
		if d := leg.Duration.ptr(); d != nil && *d >= 0 {
			sum += *d
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return int(math.Round(sum)), true
}

func (o flightOffer) stops() (int, bool) {
	if o.Layovers != nil {
		return len(o.Layovers), true
	}
	if s := o.Stops.ptr(); s != nil && *s >= 0 {
		return int(*s), true
	}
	if len(o.Legs) > 0 {
		return len(o.Legs) - 1, true
	}
	return 0, false
}

// parsePrice accepts a number, a currency string such as "$1,234.50", or an
// object with a value or price member. Non-positive prices are rejected.
func parsePrice(raw json.RawMessage) (float64, string, bool) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 || string(raw) == "null" {
		return 0, "", false
	}
	var price float64
	var currency string
	switch raw[0] {
	case '{':
		var obj struct {
			Value    flexFloat  `json:"value"`
			Price    flexFloat  `json:"price"`
			Currency flexString `json:"currency"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return 0, "", false
		}
		p := firstPositive(obj.Value, obj.Price)
		if p == nil {
			return 0, "", false
		}
		price, currency = *p, string(obj.Currency)
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, "", false
		}
		v, ok := parsePriceString(s)
		if !ok {
			return 0, "", false
		}
		price = v
	default:
		var f flexFloat
		_ = f.UnmarshalJSON(raw)
		p := f.ptr()
		if p == nil {
			return 0, "", false
		}
		price = *p
	}
	if price <= 0 {
		return 0, "", false
	}
	return price, currency, true
}

// parsePriceString keeps the digits and decimal point of s. A minus sign before
// the first digit makes the result negative.
func parsePriceString(s string) (float64, bool) {
	var b strings.Builder
	negative := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			negative = true
		}
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	if negative {
		v = -v
	}
	return v, true
}
