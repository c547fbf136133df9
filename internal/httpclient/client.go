// Package httpclient builds outbound HTTP clients guarded by a circuit breaker.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"guardian/internal/logging"
)

type circuitBreakerRoundTripper struct {
	base    http.RoundTripper
	breaker *CircuitBreaker
}

// New builds a plain HTTP client with the given timeout.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	logging.OrNop(logger).Debug("HTTPClient: new client with timeout %s", timeout)
	return &http.Client{Timeout: timeout, Transport: transport}
}

// NewWithCircuitBreakerConfig builds an HTTP client guarded by a custom breaker
// and returns the breaker alongside it.
func NewWithCircuitBreakerConfig(timeout time.Duration, logger logging.Logger, name string, config BreakerConfig) (*http.Client, *CircuitBreaker) {
	client := New(timeout, logger)
	breaker := NewCircuitBreaker(name, config, logger)
	client.Transport = WrapTransport(client.Transport, breaker)
	return client, breaker
}

// WrapTransport guards base with breaker. 5xx and 429 responses count as
// failures; cancelled requests do not.
func WrapTransport(base http.RoundTripper, breaker *CircuitBreaker) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &circuitBreakerRoundTripper{base: base, breaker: breaker}
}

func (t *circuitBreakerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if err := t.breaker.Allow(); err != nil {
		return nil, err
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			t.breaker.Mark(nil)
			return nil, err
		}
		t.breaker.Mark(err)
		return nil, err
	}
	if isBreakerFailureStatus(resp.StatusCode) {
		t.breaker.Mark(fmt.Errorf("http status %d", resp.StatusCode))
	} else {
		t.breaker.Mark(nil)
	}
	return resp, nil
}

func isBreakerFailureStatus(status int) bool {
	return status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
}
