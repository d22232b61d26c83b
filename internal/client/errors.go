package client

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAPIKey = errors.New("invalid API key")
	// ErrUpstreamParse wraps bodies that could not be decoded.
	ErrUpstreamParse = errors.New("upstream response unparseable")
	// ErrUpstreamLogical is a 200 response whose body reports an error.
	ErrUpstreamLogical = errors.New("upstream reported error")
	// ErrUpstreamFailure covers transport failures (no HTTP response).
	ErrUpstreamFailure = errors.New("upstream failure")
)

// UpstreamHTTPError is a non-2xx response from a provider.
type UpstreamHTTPError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *UpstreamHTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d", e.Provider, e.StatusCode)
}

// IsClientError reports whether err is a 4xx response other than 429.
// Those are caller mistakes and do not count against the provider's health.
func IsClientError(err error) bool {
	var httpErr *UpstreamHTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != 429
}
