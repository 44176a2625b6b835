package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	memerrors "membria/internal/errors"
	"membria/internal/logging"
)

// breakerRoundTripper fails fast once the upstream has shown itself unhealthy.
type breakerRoundTripper struct {
	base    http.RoundTripper
	breaker *memerrors.CircuitBreaker
	logger  logging.Logger
}

// NewWithBreaker builds a timeout-bounded client whose transport is guarded
// by a named circuit breaker. Server errors and 429s count as failures;
// caller cancellation does not.
func NewWithBreaker(timeout time.Duration, name string, logger logging.Logger) *http.Client {
	client := New(timeout)
	client.Transport = WrapTransport(client.Transport, name, logger)
	return client
}

// WrapTransport guards an existing transport with a circuit breaker.
func WrapTransport(base http.RoundTripper, name string, logger logging.Logger) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if name == "" {
		name = "outbound"
	}
	return &breakerRoundTripper{
		base:    base,
		breaker: memerrors.NewCircuitBreaker(name, memerrors.DefaultCircuitBreakerConfig()),
		logger:  logging.OrNop(logger),
	}
}

func (t *breakerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if err := t.breaker.Allow(); err != nil {
		t.logger.Warn("refusing %s %s: %v", req.Method, req.URL.Host, err)
		return nil, err
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		// The caller giving up says nothing about upstream health.
		if errors.Is(err, context.Canceled) {
			t.breaker.Mark(nil)
			return nil, err
		}
		t.breaker.Mark(err)
		return nil, err
	}
	if failureStatus(resp.StatusCode) {
		t.breaker.Mark(fmt.Errorf("http status %d", resp.StatusCode))
	} else {
		t.breaker.Mark(nil)
	}
	return resp, nil
}

func failureStatus(status int) bool {
	return status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
}
