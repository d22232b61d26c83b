// Package lenient decodes nominally-JSON provider bodies that may arrive as fragments,
// such as a dangling "points": [...] member or a bare array followed by noise.
//
// Repairs are attempted in a fixed order and each candidate must pass strict JSON
// validation before it is accepted. Nothing here knows about HTTP.
package lenient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrEmptyBody is returned for empty or whitespace-only bodies.
	ErrEmptyBody = errors.New("empty response body")
	// ErrUnparseable is returned when strict decoding and every repair failed.
	ErrUnparseable = errors.New("unparseable response body")
)

// Shape classifies a decoded payload.
type Shape int

const (
	ShapeScalar Shape = iota
	ShapeArray
	ShapePoints // object with a "points" array
	ShapeObject
	ShapeError // object with a non-empty "error" member
)

func (s Shape) String() string {
	switch s {
	case ShapeArray:
		return "array"
	case ShapePoints:
		return "points"
	case ShapeObject:
		return "object"
	case ShapeError:
		return "error"
	default:
		return "scalar"
	}
}

// Repair names the strategy that produced a payload.
type Repair int

const (
	RepairNone Repair = iota
	RepairPointsKey
	RepairBareArray
	RepairEmbeddedPoints
)

func (r Repair) String() string {
	switch r {
	case RepairPointsKey:
		return "points_key"
	case RepairBareArray:
		return "bare_array"
	case RepairEmbeddedPoints:
		return "embedded_points"
	default:
		return "none"
	}
}

// Payload is a successfully decoded body.
type Payload struct {
	Raw    json.RawMessage
	Shape  Shape
	Repair Repair
	// Error holds the provider's message when Shape is ShapeError.
	Error string
}

// ParseError reports a body no strategy could decode.
type ParseError struct {
	Tried   []Repair
	Snippet string
}

func (e *ParseError) Error() string {
	names := make([]string, len(e.Tried))
	for i, r := range e.Tried {
		names[i] = r.String()
	}
	return fmt.Sprintf("%v (tried %s): %q", ErrUnparseable, strings.Join(names, ","), e.Snippet)
}

func (e *ParseError) Unwrap() error { return ErrUnparseable }

type strategy struct {
	repair Repair
	apply  func(body []byte) ([]byte, bool)
}

var strategies = []strategy{
	{RepairPointsKey, repairPointsKey},
	{RepairBareArray, repairBareArray},
	{RepairEmbeddedPoints, repairEmbeddedPoints},
}

var (
	leadingPointsKey = regexp.MustCompile(`^"?points"?\s*:\s*`)
	embeddedPoints   = regexp.MustCompile(`"?points"?\s*:\s*\[`)
)

// Decode parses body strictly, falling back to the repair strategies in order.
func Decode(body []byte) (Payload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Payload{}, ErrEmptyBody
	}
	if json.Valid(trimmed) {
		return classify(trimmed, RepairNone), nil
	}

	tried := make([]Repair, 0, len(strategies))
	for _, s := range strategies {
		tried = append(tried, s.repair)
		if out, ok := s.apply(trimmed); ok && json.Valid(out) {
			return classify(out, s.repair), nil
		}
	}
	return Payload{}, &ParseError{Tried: tried, Snippet: snippet(trimmed)}
}

// repairPointsKey handles `"points": [...]` without the enclosing braces.
func repairPointsKey(body []byte) ([]byte, bool) {
	loc := leadingPointsKey.FindIndex(body)
	if loc == nil {
		return nil, false
	}
	rest := bytes.TrimSpace(body[loc[1]:])
	rest = bytes.TrimRight(rest, ",}")
	if json.Valid(rest) {
		return wrapPoints(rest), true
	}
	if arr, ok := balancedArray(rest, 0); ok {
		return wrapPoints(arr), true
	}
	return nil, false
}

// repairBareArray handles a leading array followed by trailing noise.
func repairBareArray(body []byte) ([]byte, bool) {
	if body[0] != '[' {
		return nil, false
	}
	arr, ok := balancedArray(body, 0)
	if !ok {
		return nil, false
	}
	return wrapPoints(arr), true
}

// repairEmbeddedPoints finds a "points": [...] member anywhere in the body.
func repairEmbeddedPoints(body []byte) ([]byte, bool) {
	for _, loc := range embeddedPoints.FindAllIndex(body, -1) {
		if arr, ok := balancedArray(body, loc[1]-1); ok && json.Valid(arr) {
			return wrapPoints(arr), true
		}
	}
	return nil, false
}

func wrapPoints(arr []byte) []byte {
	out := make([]byte, 0, len(arr)+12)
	out = append(out, `{"points":`...)
	out = append(out, arr...)
	return append(out, '}')
}

// balancedArray returns the bracket-balanced array starting at body[start],
// skipping brackets inside string literals.
func balancedArray(body []byte, start int) ([]byte, bool) {
	if start >= len(body) || body[start] != '[' {
		return nil, false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(body); i++ {
		c := body[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return body[start : i+1], true
			}
		}
	}
	return nil, false
}

func classify(raw []byte, repair Repair) Payload {
	p := Payload{Raw: json.RawMessage(raw), Repair: repair, Shape: ShapeScalar}
	switch raw[0] {
	case '[':
		p.Shape = ShapeArray
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return p
		}
		p.Shape = ShapeObject
		if msg := errorMessage(obj["error"]); msg != "" {
			p.Shape = ShapeError
			p.Error = msg
			return p
		}
		if pts := bytes.TrimSpace(obj["points"]); len(pts) > 0 && pts[0] == '[' {
			p.Shape = ShapePoints
		}
	}
	return p
}

// errorMessage extracts a provider error. Strings are used as-is; other non-null,
// non-false values are reported as their JSON text.
func errorMessage(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	switch string(raw) {
	case "null", "false", "{}", "[]":
		return ""
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

func snippet(b []byte) string {
	const limit = 64
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}
