package retry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"cadence/internal/core"
	"cadence/pkg/logx"
)

// Config bounds the retry loop. BaseBackoff seeds the exponential schedule;
// RetryAfterCap limits how long a rate-limit hint may stall an attempt.
type Config struct {
	MaxAttempts   int
	BaseBackoff   time.Duration
	RetryAfterCap time.Duration
}

const (
	defaultMaxAttempts   = 3
	defaultBaseBackoff   = 500 * time.Millisecond
	defaultRetryAfterCap = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = defaultBaseBackoff
	}
	if c.RetryAfterCap <= 0 {
		c.RetryAfterCap = defaultRetryAfterCap
	}
	return c
}

// Retryable reports whether the error class permits another attempt.
// Rate limits, server errors and network faults retry; client errors and
// unclassified errors are terminal.
func Retryable(err error) bool {
	var se *core.SendError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Kind {
	case core.ErrKindRateLimited, core.ErrKindServerError, core.ErrKindNetwork:
		return true
	default:
		return false
	}
}

// ParseRetryAfter interprets an HTTP Retry-After value as either a second
// count or an HTTP-date. Returns 0 when the value is absent or malformed.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// Executor runs sends under exponential backoff with jitter, honoring
// rate-limit hints and giving up after MaxAttempts.
type Executor struct {
	mu      sync.RWMutex
	cfg     Config
	metrics core.Observer
	log     logx.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

var _ core.Retryer = (*Executor)(nil)

func NewExecutor(cfg Config, metrics core.Observer, log logx.Logger) *Executor {
	if metrics == nil {
		metrics = core.NopObserver{}
	}
	return &Executor{
		cfg:     cfg.withDefaults(),
		metrics: metrics,
		log:     log,
		sleep:   sleepCtx,
	}
}

// Reconfigure swaps the retry bounds. Loops already in flight finish under
// the config they started with.
func (e *Executor) Reconfigure(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg.withDefaults()
	e.mu.Unlock()
}

func (e *Executor) config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do invokes send until it succeeds, fails terminally, exhausts the
// attempt budget, or the context is canceled. Cancellation is noticed before
// each attempt and cuts a backoff sleep short.
func (e *Executor) Do(ctx context.Context, correlationID string, send core.SendFunc) core.RetryResult {
	cfg := e.config()
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BaseBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = 0
	bo.Reset()

	log := e.log.With(logx.String("correlation_id", correlationID))

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return core.RetryResult{Attempts: attempt - 1, Err: err, Retryable: false}
		}
		lastErr = send(ctx)
		if lastErr == nil {
			return core.RetryResult{Attempts: attempt}
		}
		if !Retryable(lastErr) {
			return core.RetryResult{Attempts: attempt, Err: lastErr, Retryable: false}
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		var se *core.SendError
		if errors.As(lastErr, &se) && se.Kind == core.ErrKindRateLimited && se.RetryAfter > 0 {
			delay = se.RetryAfter
			if delay > cfg.RetryAfterCap {
				delay = cfg.RetryAfterCap
			}
		}
		log.Debug("send_retry_wait",
			logx.String("event", "send_retry_wait"),
			logx.Int("attempt", attempt),
			logx.Duration("delay", delay),
			logx.String("error_class", core.ErrorClass(lastErr)),
		)
		e.metrics.Increment("send_retry", map[string]string{
			"error_class": core.ErrorClass(lastErr),
		})
		if err := e.sleep(ctx, delay); err != nil {
			return core.RetryResult{Attempts: attempt, Err: err, Retryable: false}
		}
	}

	log.Warn("send_retry_exhausted",
		logx.String("event", "send_retry_exhausted"),
		logx.Int("attempts", cfg.MaxAttempts),
		logx.String("error_class", core.ErrorClass(lastErr)),
		logx.Err(lastErr),
	)
	e.metrics.Increment("send_retry_exhausted", map[string]string{
		"error_class": core.ErrorClass(lastErr),
	})
	return core.RetryResult{
		Attempts:  cfg.MaxAttempts,
		Err:       lastErr,
		Retryable: false,
		Exhausted: true,
	}
}
