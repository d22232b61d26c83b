// Package observations normalizes and cleans station temperature histories.
package observations

import "math"

// Fahrenheit band and the upper bound used to reject implausible readings.
const (
	fahrenheitLow  = 32.0
	fahrenheitHigh = 100.0
	implausibleMax = 130.0
)

// FahrenheitToCelsius converts a Fahrenheit reading.
func FahrenheitToCelsius(f float64) float64 {
	return (f - 32) * 5 / 9
}

// NormalizeUnits infers whether a batch of readings from one station is Fahrenheit
// and returns the readings in Celsius. The provider has no unit field, so this is
// best-effort inference: a Celsius station averaging in the 30s can be misread as
// Fahrenheit. Non-finite readings are passed through untouched.
//
// The batch is treated as Fahrenheit when any of these hold over the finite readings:
//   - more than 70% lie in [32, 100];
//   - the average lies in [32, 100] and the maximum is below 130;
//   - all lie in [32, 100] and there are more than 5;
//   - the maximum is in (50, 130) and the average is above 40.
//
// Independently, when the maximum is in (50, 130), any remaining reading in [32, 100]
// is converted individually to catch mixed-unit batches.
func NormalizeUnits(readings []float64) ([]float64, bool) {
	out := make([]float64, len(readings))
	copy(out, readings)

	var n, inBand int
	var sum float64
	maxVal := math.Inf(-1)
	for _, v := range readings {
		if !isFinite(v) {
			continue
		}
		n++
		sum += v
		if v > maxVal {
			maxVal = v
		}
		if inFahrenheitBand(v) {
			inBand++
		}
	}
	if n == 0 {
		return out, false
	}

	avg := sum / float64(n)
	ratio := float64(inBand) / float64(n)
	fahrenheit := ratio > 0.7 ||
		(inFahrenheitBand(avg) && maxVal < implausibleMax) ||
		(inBand == n && n > 5) ||
		(maxVal > 50 && maxVal < implausibleMax && avg > 40)

	converted := make([]bool, len(out))
	if fahrenheit {
		for i, v := range out {
			if isFinite(v) {
				out[i] = FahrenheitToCelsius(v)
				converted[i] = true
			}
		}
	}

	if maxVal > 50 && maxVal < implausibleMax {
		for i, v := range readings {
			if !converted[i] && isFinite(v) && inFahrenheitBand(v) {
				out[i] = FahrenheitToCelsius(v)
			}
		}
	}
	return out, fahrenheit
}

func inFahrenheitBand(v float64) bool {
	return v >= fahrenheitLow && v <= fahrenheitHigh
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
