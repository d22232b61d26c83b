package observations

import (
	"strings"
	"time"

	"github.com/kjstillabower/travel-weather-service/internal/models"
)

// Plausible surface temperature bounds in Celsius.
const (
	MinCelsius = -50.0
	MaxCelsius = 50.0
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses the ISO-8601 variants stations report.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Clean drops observations with an unparseable timestamp, a non-finite temperature,
// or a temperature outside [MinCelsius, MaxCelsius]. Survivors keep their order and values.
func Clean(obs []models.WeatherObservation) []models.WeatherObservation {
	out := make([]models.WeatherObservation, 0, len(obs))
	for _, o := range obs {
		if _, ok := ParseTimestamp(o.Timestamp); !ok {
			continue
		}
		t := o.TemperatureCelsius
		if !isFinite(t) || t < MinCelsius || t > MaxCelsius {
			continue
		}
		out = append(out, o)
	}
	return out
}

// DataQuality returns the percentage of raw observations that survived cleaning.
// A station that yields nothing scores 0.
func DataQuality(raw, kept int) float64 {
	if raw <= 0 || kept <= 0 {
		return 0
	}
	if kept >= raw {
		return 100
	}
	return float64(kept) / float64(raw) * 100
}

// Average returns the mean temperature, or false for an empty slice.
func Average(obs []models.WeatherObservation) (float64, bool) {
	if len(obs) == 0 {
		return 0, false
	}
	var sum float64
	for _, o := range obs {
		sum += o.TemperatureCelsius
	}
	return sum / float64(len(obs)), true
}

// Since keeps observations at or after cutoff. Entries with unparseable timestamps are dropped.
func Since(obs []models.WeatherObservation, cutoff time.Time) []models.WeatherObservation {
	out := make([]models.WeatherObservation, 0, len(obs))
	for _, o := range obs {
		if t, ok := ParseTimestamp(o.Timestamp); ok && !t.Before(cutoff) {
			out = append(out, o)
		}
	}
	return out
}
