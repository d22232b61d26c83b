package client

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// flexFloat accepts a JSON number, a numeric string, or null.
// Anything non-numeric decodes to NaN with Set still true.
type flexFloat struct {
	Value float64
	Set   bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	f.Set = true
	f.Value = math.NaN()
	if len(b) == 0 || string(b) == "null" {
		f.Set = false
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			f.Value = v
		}
	default:
		var v float64
		if err := json.Unmarshal(b, &v); err == nil {
			f.Value = v
		}
	}
	return nil
}

// ptr returns the value when present and finite.
func (f flexFloat) ptr() *float64 {
	if !f.Set || math.IsNaN(f.Value) || math.IsInf(f.Value, 0) {
		return nil
	}
	v := f.Value
	return &v
}

// flexString accepts a JSON string or number. Other values decode to "".
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*s = ""
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case '"':
		var v string
		if err := json.Unmarshal(b, &v); err == nil {
			*s = flexString(strings.TrimSpace(v))
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(b, &n); err == nil {
			*s = flexString(n.String())
		}
	}
	return nil
}

// firstString returns the first non-empty value.
func firstString(vals ...flexString) string {
	for _, v := range vals {
		if v != "" {
			return string(v)
		}
	}
	return ""
}

// firstFloat returns the first value that was present in the payload.
func firstFloat(vals ...flexFloat) flexFloat {
	for _, v := range vals {
		if v.Set {
			return v
		}
	}
	return flexFloat{}
}

// firstPositive returns the first value that is finite and above zero.
func firstPositive(vals ...flexFloat) *float64 {
	for _, v := range vals {
		if p := v.ptr(); p != nil && *p > 0 {
			return p
		}
	}
	return nil
}
