package models

// Station is a weather-observation point from the station provider.
type Station struct {
	ID   string   `json:"id"`
	Name string   `json:"name,omitempty"`
	Lat  *float64 `json:"lat,omitempty"`
	Lon  *float64 `json:"lon,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are known.
func (s Station) HasCoordinates() bool {
	return s.Lat != nil && s.Lon != nil
}

// WeatherObservation is a single temperature reading in Celsius.
// Timestamp is kept as the provider's ISO-8601 string.
type WeatherObservation struct {
	Timestamp          string  `json:"timestamp"`
	TemperatureCelsius float64 `json:"temperatureCelsius"`
}

// WeatherReport is the cleaned history for one station.
type WeatherReport struct {
	StationID      string               `json:"stationId"`
	Observations   []WeatherObservation `json:"observations"`
	RawCount       int                  `json:"rawCount"`
	DataQuality    float64              `json:"dataQuality"` // percent of raw observations kept
	AverageCelsius *float64             `json:"averageCelsius,omitempty"`
}

// FlightQuote is one normalized flight offer.
type FlightQuote struct {
	Price           float64 `json:"price"`
	Currency        string  `json:"currency"`
	Airline         string  `json:"airline,omitempty"`
	DurationMinutes *int    `json:"durationMinutes,omitempty"`
	DepartureTime   string  `json:"departureTime,omitempty"`
	ArrivalTime     string  `json:"arrivalTime,omitempty"`
	Stops           *int    `json:"stops,omitempty"`
	BookingURL      string  `json:"bookingUrl,omitempty"`
}

// FlightSearchResult is the price-sorted offer list and its minimum.
type FlightSearchResult struct {
	Cheapest *FlightQuote  `json:"cheapest"`
	All      []FlightQuote `json:"all"`
}

// TripType selects one-way or round-trip searches.
type TripType string

const (
	TripOneWay    TripType = "one-way"
	TripRoundTrip TripType = "round-trip"
)

// SearchParams are the inputs of a flight search. Field order is the
// cache key order, since the key is the JSON encoding of this struct.
type SearchParams struct {
	From         string   `json:"from" query:"from" validate:"required,iata"`
	To           string   `json:"to" query:"to" validate:"required,iata,nefield=From"`
	OutboundDate string   `json:"outboundDate" query:"outbound_date" validate:"required,datetime=2006-01-02"`
	ReturnDate   string   `json:"returnDate,omitempty" query:"return_date" validate:"omitempty,datetime=2006-01-02"`
	TripType     TripType `json:"tripType" query:"type" validate:"omitempty,oneof=one-way round-trip"`
	SortBy       *int     `json:"sortBy,omitempty" query:"sort_by" validate:"omitempty,min=1,max=6"`
	MaxStops     *int     `json:"maxStops,omitempty" query:"stops" validate:"omitempty,min=0,max=3"`
	DeepSearch   bool     `json:"deepSearch,omitempty" query:"deep_search"`
}

// FlightSearchResponse is the /flights response body.
type FlightSearchResponse struct {
	Cheapest     *FlightQuote  `json:"cheapest"`
	All          []FlightQuote `json:"all"`
	SearchParams SearchParams  `json:"searchParams"`
}

// DefaultLookbackDays is the temperature averaging window when none is given.
const DefaultLookbackDays = 7

// DestinationParams are the inputs of a destination ranking.
type DestinationParams struct {
	From         string   `json:"from" query:"from" validate:"required,iata"`
	To           []string `json:"to" query:"to" validate:"required,min=1,max=10,dive,iata"`
	OutboundDate string   `json:"outboundDate" query:"outbound_date" validate:"required,datetime=2006-01-02"`
	ReturnDate   string   `json:"returnDate,omitempty" query:"return_date" validate:"omitempty,datetime=2006-01-02"`
	TripType     TripType `json:"tripType" query:"type" validate:"omitempty,oneof=one-way round-trip"`
	Budget       float64  `json:"budget" query:"budget" validate:"required,gt=0"`
	TempMin      *float64 `json:"tempMin" query:"temp_min" validate:"required,gte=-50,lte=50"`
	TempMax      *float64 `json:"tempMax" query:"temp_max" validate:"required,gte=-50,lte=50"`
	LookbackDays int      `json:"lookbackDays" query:"lookback_days" validate:"min=1,max=30"`
}

// FlightSearch returns the flight query for one destination.
func (p DestinationParams) FlightSearch(to string) SearchParams {
	return SearchParams{
		From:         p.From,
		To:           to,
		OutboundDate: p.OutboundDate,
		ReturnDate:   p.ReturnDate,
		TripType:     p.TripType,
	}
}

// DestinationRanking is the /destinations response body.
type DestinationRanking struct {
	Candidates []DestinationCandidate `json:"candidates"`
	Params     DestinationParams      `json:"params"`
}

// DestinationCandidate is one ranked row of a destination search.
type DestinationCandidate struct {
	Airport          string       `json:"airport"`
	Station          *Station     `json:"station,omitempty"`
	StationDistKm    float64      `json:"stationDistanceKm,omitempty"`
	AverageCelsius   *float64     `json:"averageCelsius,omitempty"`
	DataQuality      float64      `json:"dataQuality"`
	Flight           *FlightQuote `json:"flight,omitempty"`
	TemperatureScore float64      `json:"temperatureScore"`
	PriceScore       float64      `json:"priceScore"`
	DurationScore    float64      `json:"durationScore"`
	Score            float64      `json:"score"`
	Errors           []string     `json:"errors,omitempty"`
}

// Airport is a configured destination with known coordinates.
type Airport struct {
	Code string  `json:"code" yaml:"code"`
	Name string  `json:"name,omitempty" yaml:"name"`
	Lat  float64 `json:"lat" yaml:"lat"`
	Lon  float64 `json:"lon" yaml:"lon"`
}
