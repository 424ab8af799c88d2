package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"cadence/internal/core"
	"cadence/internal/retry"
)

// ClassifyStatus maps an HTTP response status onto the pipeline's error
// taxonomy. 2xx returns nil.
func ClassifyStatus(status int, retryAfter string, now time.Time) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return &core.SendError{
			Kind:       core.ErrKindRateLimited,
			StatusCode: status,
			RetryAfter: retry.ParseRetryAfter(retryAfter, now),
			Err:        fmt.Errorf("rate limited"),
		}
	case status >= 500:
		return &core.SendError{
			Kind:       core.ErrKindServerError,
			StatusCode: status,
			Err:        fmt.Errorf("server error"),
		}
	default:
		return &core.SendError{
			Kind:       core.ErrKindClientError,
			StatusCode: status,
			Err:        fmt.Errorf("client error"),
		}
	}
}

// ClassifyTransport wraps a transport-level failure as a network error.
// Context cancellation passes through unclassified.
func ClassifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &core.SendError{Kind: core.ErrKindNetwork, Err: err}
}

// NewBreaker builds the per-adapter circuit breaker. It trips after three
// requests once half of them fail, and probes again after its timeout.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.5
		},
	})
}

// ExecuteBreaker runs fn under the breaker, translating an open circuit
// into a retryable network error.
func ExecuteBreaker(cb *gobreaker.CircuitBreaker, fn func() error) error {
	_, err := cb.Execute(func() (any, error) { return nil, fn() })
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &core.SendError{Kind: core.ErrKindNetwork, Err: err}
	}
	return err
}

// NewLimiter builds the adapter pacer. Zero or negative rates fall back to
// one request per second.
func NewLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		perSec = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), 1)
}
