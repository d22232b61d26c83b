package http

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/kjstillabower/travel-weather-service/internal/models"
	"github.com/kjstillabower/travel-weather-service/internal/validation"
)

// parseSearchParams reads /flights query parameters. Only type conversion fails
// here; presence and format are checked by validation.ValidateSearchParams.
func parseSearchParams(q url.Values) (models.SearchParams, error) {
	p := models.SearchParams{
		From:         q.Get("from"),
		To:           q.Get("to"),
		OutboundDate: q.Get("outbound_date"),
		ReturnDate:   q.Get("return_date"),
		TripType:     models.TripType(q.Get("type")),
	}
	var err error
	if p.SortBy, err = queryInt(q, "sort_by"); err != nil {
		return p, err
	}
	if p.MaxStops, err = queryInt(q, "stops"); err != nil {
		return p, err
	}
	if p.DeepSearch, err = queryBool(q, "deep_search"); err != nil {
		return p, err
	}
	return p, nil
}

// parseDestinationParams reads /destinations query parameters. Destinations may be
// comma-separated, repeated, or both.
func parseDestinationParams(q url.Values) (models.DestinationParams, error) {
	p := models.DestinationParams{
		From:         q.Get("from"),
		OutboundDate: q.Get("outbound_date"),
		ReturnDate:   q.Get("return_date"),
		TripType:     models.TripType(q.Get("type")),
	}
	for _, v := range q["to"] {
		for _, code := range strings.Split(v, ",") {
			if code = strings.TrimSpace(code); code != "" {
				p.To = append(p.To, code)
			}
		}
	}

	budget, err := queryFloat(q, "budget")
	if err != nil {
		return p, err
	}
	if budget != nil {
		p.Budget = *budget
	}
	if p.TempMin, err = queryFloat(q, "temp_min"); err != nil {
		return p, err
	}
	if p.TempMax, err = queryFloat(q, "temp_max"); err != nil {
		return p, err
	}
	lookback, err := queryInt(q, "lookback_days")
	if err != nil {
		return p, err
	}
	if lookback != nil {
		p.LookbackDays = *lookback
	}
	return p, nil
}

func queryInt(q url.Values, name string) (*int, error) {
	s := strings.TrimSpace(q.Get(name))
	if s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, invalidParam(name, "must be an integer")
	}
	return &v, nil
}

func queryFloat(q url.Values, name string) (*float64, error) {
	s := strings.TrimSpace(q.Get(name))
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v != v {
		return nil, invalidParam(name, "must be a number")
	}
	return &v, nil
}

func queryBool(q url.Values, name string) (bool, error) {
	s := strings.TrimSpace(q.Get(name))
	if s == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, invalidParam(name, "must be true or false")
	}
	return v, nil
}

func invalidParam(name, msg string) error {
	return &validation.FieldError{Field: name, Code: validation.CodeInvalidParameter, Message: msg}
}
