package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SendRequest is a single outbound message owned by the pipeline from
// enqueue to terminal dispatch. Immutable after creation.
type SendRequest struct {
	Platform      string
	Channel       string
	Job           string
	Payload       string
	CorrelationID string
	EnqueuedAt    time.Time
	Priority      int
}

// BatchKey identifies the coalescing bucket for a request. Batches never
// cross keys.
type BatchKey struct {
	Platform string
	Channel  string
	Job      string
}

func (r SendRequest) Key() BatchKey {
	return BatchKey{Platform: r.Platform, Channel: r.Channel, Job: r.Job}
}

// Batch is a closed or open group of requests sharing one key and one
// priority. Requests keep insertion order.
type Batch struct {
	Key      BatchKey
	Requests []SendRequest
	OpenedAt time.Time
	Priority int
	Deadline time.Time
}

// Sender delivers a payload to a platform channel. Implementations return
// nil on success or a *SendError carrying the failure classification.
type Sender interface {
	Send(ctx context.Context, platform, channel, payload string) error
}

// ErrorKind classifies sender failures for the retry policy.
type ErrorKind string

const (
	ErrKindRateLimited ErrorKind = "rate_limited"
	ErrKindServerError ErrorKind = "server_error"
	ErrKindClientError ErrorKind = "client_error"
	ErrKindNetwork     ErrorKind = "network"
)

// SendError is the classified failure contract between adapters and the
// retry policy.
type SendError struct {
	Kind       ErrorKind
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("send %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("send %s (status %d)", e.Kind, e.StatusCode)
}

func (e *SendError) Unwrap() error { return e.Err }

// ErrorClass returns the tag value recorded for a terminal failure.
func ErrorClass(err error) string {
	var se *SendError
	if errors.As(err, &se) {
		return string(se.Kind)
	}
	if err == nil {
		return ""
	}
	return "unknown"
}

// SendFunc is one sender invocation, retried by a Retryer.
type SendFunc func(ctx context.Context) error

// RetryResult is the terminal outcome of a retried send.
type RetryResult struct {
	Attempts  int
	Err       error
	Retryable bool
	Exhausted bool
}

// Retryer runs a send under the configured retry policy.
type Retryer interface {
	Do(ctx context.Context, correlationID string, send SendFunc) RetryResult
}

// Observer is the narrow metrics capability injected into the pipeline.
// Implementations never call back into the pipeline.
type Observer interface {
	Increment(name string, tags map[string]string)
	Observe(name string, value float64, tags map[string]string)
}

// NopObserver discards everything; used where metrics are optional.
type NopObserver struct{}

func (NopObserver) Increment(string, map[string]string)        {}
func (NopObserver) Observe(string, float64, map[string]string) {}

// AuditEntry records one terminal outcome. Payload text is never stored.
type AuditEntry struct {
	At            time.Time
	Job           string
	Platform      string
	Channel       string
	CorrelationID string
	Status        string
	DurationMS    int64
}

// AuditSink appends audit rows; storage provides the sqlite implementation.
type AuditSink interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
}
