// Package discord posts payloads through a Discord webhook.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"cadence/internal/adapters"
	"cadence/pkg/logx"
)

type Config struct {
	WebhookURL string
	RatePerSec float64
}

type Sender struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) *Sender {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{
		cfg:     cfg,
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: adapters.NewLimiter(cfg.RatePerSec),
		breaker: adapters.NewBreaker("discord"),
		log:     log,
	}
}

// Send posts the payload to the configured webhook. The channel is implied
// by the webhook itself.
func (s *Sender) Send(ctx context.Context, channel, payload string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return adapters.ExecuteBreaker(s.breaker, func() error {
		return s.post(ctx, payload)
	})
}

func (s *Sender) post(ctx context.Context, payload string) error {
	body, err := json.Marshal(map[string]string{"content": payload})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return adapters.ClassifyTransport(err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()
	return adapters.ClassifyStatus(resp.StatusCode, resp.Header.Get("Retry-After"), time.Now())
}
