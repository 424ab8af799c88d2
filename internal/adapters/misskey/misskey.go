// Package misskey creates notes on a Misskey instance.
package misskey

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"cadence/internal/adapters"
	"cadence/pkg/logx"
)

type Config struct {
	BaseURL    string
	Token      string
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
		breaker: adapters.NewBreaker("misskey"),
		log:     log,
	}
}

func (s *Sender) Send(ctx context.Context, channel, payload string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return adapters.ExecuteBreaker(s.breaker, func() error {
		return s.createNote(ctx, payload)
	})
}

func (s *Sender) createNote(ctx context.Context, payload string) error {
	body, err := json.Marshal(map[string]string{
		"i":    s.cfg.Token,
		"text": payload,
	})
	if err != nil {
		return err
	}
	url := strings.TrimRight(s.cfg.BaseURL, "/") + "/api/notes/create"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
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
