package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kjstillabower/travel-weather-service/internal/circuitbreaker"
	"github.com/kjstillabower/travel-weather-service/internal/observability"
)

const (
	maxBodyBytes    = 10 << 20
	maxErrorMessage = 256
)

// Breaker guards a provider call. *circuitbreaker.CircuitBreaker satisfies it.
type Breaker interface {
	Call(ctx context.Context, fn func() error) error
	State() circuitbreaker.State
}

// BreakerFailure reports whether err should count against a provider's circuit.
// Caller mistakes (4xx other than 429) and cancellations do not.
func BreakerFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return !IsClientError(err)
}

var _ Breaker = (*circuitbreaker.CircuitBreaker)(nil)

// getter performs one GET against a provider and returns the raw body of a 2xx response.
type getter struct {
	provider string
	client   *http.Client
	breaker  Breaker
}

// rejectOpen fails fast while the circuit is open, before the caller queues on a limiter.
func (g *getter) rejectOpen() error {
	if g.breaker == nil || g.breaker.State() != circuitbreaker.StateOpen {
		return nil
	}
	observability.UpstreamErrorsTotal.WithLabelValues(g.provider, string(ErrorCategoryCircuitOpen)).Inc()
	return fmt.Errorf("%w: %s", circuitbreaker.ErrOpen, g.provider)
}

func (g *getter) get(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	call := func() error {
		var err error
		body, err = g.do(ctx, rawURL)
		return err
	}
	var err error
	if g.breaker != nil {
		err = g.breaker.Call(ctx, call)
	} else {
		err = call()
	}
	if err != nil {
		observability.UpstreamErrorsTotal.WithLabelValues(g.provider, string(CategorizeError(err))).Inc()
		return nil, err
	}
	return body, nil
}

func (g *getter) do(ctx context.Context, rawURL string) ([]byte, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(g.provider, "error").Inc()
		observability.UpstreamDuration.WithLabelValues(g.provider, "error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFailure, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(g.provider, status).Inc()
	observability.UpstreamDuration.WithLabelValues(g.provider, status).Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %v", ErrUpstreamFailure, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamHTTPError{
			Provider:   g.provider,
			StatusCode: resp.StatusCode,
			Message:    errorText(body),
		}
	}
	return body, nil
}

func errorText(body []byte) string {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage]
	}
	return msg
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
