// Package validation checks request parameters before any upstream call is made.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/travel-weather-service/internal/models"
)

// ErrInvalid is wrapped by every *FieldError.
var ErrInvalid = errors.New("invalid request")

// ErrStationEmpty is returned when the station id is empty or whitespace-only after trim.
var ErrStationEmpty = errors.New("station is required")

// ErrStationTooLong is returned when the station id exceeds the maximum length.
var ErrStationTooLong = errors.New("station too long")

// ErrStationInvalidChars is returned when the station id contains disallowed characters.
var ErrStationInvalidChars = errors.New("station contains invalid characters")

// Error codes returned in 400 responses.
const (
	CodeMissingParameter = "MISSING_PARAMETER"
	CodeInvalidParameter = "INVALID_PARAMETER"
)

// FieldError reports the first failing query parameter.
type FieldError struct {
	Field   string // query parameter name
	Code    string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + " " + e.Message
}

func (e *FieldError) Unwrap() error { return ErrInvalid }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("query"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	if err := v.RegisterValidation("iata", func(fl validator.FieldLevel) bool {
		return isIATA(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

func isIATA(s string) bool {
	if len(s) != 3 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

// ValidateSearchParams normalizes p in place (trimmed, upper-case airport codes,
// trip type inferred from the return date) and validates it.
func ValidateSearchParams(p *models.SearchParams) error {
	p.From = normalizeCode(p.From)
	p.To = normalizeCode(p.To)
	p.OutboundDate = strings.TrimSpace(p.OutboundDate)
	p.ReturnDate = strings.TrimSpace(p.ReturnDate)
	p.TripType = normalizeTripType(p.TripType, p.ReturnDate)

	if err := validate.Struct(p); err != nil {
		return toFieldError(err)
	}
	return checkReturnDate(p.OutboundDate, p.ReturnDate)
}

// ValidateDestinationParams normalizes p in place and validates it. Destination
// codes are de-duplicated, keeping first occurrence order; the origin is dropped
// from the destination list.
func ValidateDestinationParams(p *models.DestinationParams) error {
	p.From = normalizeCode(p.From)
	seen := map[string]struct{}{p.From: {}}
	to := make([]string, 0, len(p.To))
	for _, code := range p.To {
		code = normalizeCode(code)
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		to = append(to, code)
	}
	p.To = to
	if len(to) == 0 {
		p.To = nil
	}
	p.OutboundDate = strings.TrimSpace(p.OutboundDate)
	p.ReturnDate = strings.TrimSpace(p.ReturnDate)
	p.TripType = normalizeTripType(p.TripType, p.ReturnDate)
	if p.LookbackDays == 0 {
		p.LookbackDays = models.DefaultLookbackDays
	}

	if err := validate.Struct(p); err != nil {
		return toFieldError(err)
	}
	if *p.TempMin > *p.TempMax {
		return &FieldError{Field: "temp_min", Code: CodeInvalidParameter, Message: "must not exceed temp_max"}
	}
	return checkReturnDate(p.OutboundDate, p.ReturnDate)
}

// ValidateStation trims the input, enforces maxLen (in runes, 0 = unbounded), and
// restricts to letters, digits, hyphen, underscore and dot.
func ValidateStation(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrStationEmpty
	}
	if maxLen > 0 && len(r) > maxLen {
		return "", ErrStationTooLong
	}
	for _, c := range r {
		if !isAllowedStationRune(c) {
			return "", ErrStationInvalidChars
		}
	}
	return s, nil
}

func isAllowedStationRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '-', '_', '.':
		return true
	}
	return false
}

func normalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func normalizeTripType(t models.TripType, returnDate string) models.TripType {
	t = models.TripType(strings.ToLower(strings.TrimSpace(string(t))))
	if t != "" {
		return t
	}
	if returnDate != "" {
		return models.TripRoundTrip
	}
	return models.TripOneWay
}

// checkReturnDate rejects a return before the outbound date. Both are already
// YYYY-MM-DD, so string order is date order.
func checkReturnDate(outbound, ret string) error {
	if ret != "" && ret < outbound {
		return &FieldError{Field: "return_date", Code: CodeInvalidParameter, Message: "must not be before outbound_date"}
	}
	return nil
}

func toFieldError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	fe := verrs[0]
	out := &FieldError{Field: fe.Field(), Code: CodeInvalidParameter}
	switch fe.Tag() {
	case "required":
		out.Code = CodeMissingParameter
		out.Message = "is required"
	case "iata":
		out.Message = "must be a 3-letter IATA airport code"
	case "datetime":
		out.Message = "must be a date in YYYY-MM-DD format"
	case "oneof":
		out.Message = "must be one of: " + fe.Param()
	case "nefield":
		out.Message = "must differ from the origin"
	case "min", "gte":
		out.Message = "must be at least " + fe.Param()
	case "max", "lte":
		out.Message = "must be at most " + fe.Param()
	case "gt":
		out.Message = "must be greater than " + fe.Param()
	default:
		out.Message = "is invalid"
	}
	return out
}
