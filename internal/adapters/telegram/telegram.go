// Package telegram sends payloads to a Telegram chat through the Bot API.
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"cadence/internal/adapters"
	"cadence/internal/core"
	"cadence/pkg/logx"
)

type Config struct {
	Token      string
	ChatID     int64
	RatePerSec float64

	// Offline skips the startup getMe call; tests use it.
	Offline bool
}

type Sender struct {
	cfg     Config
	bot     *tele.Bot
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}
	return &Sender{
		cfg:     cfg,
		bot:     b,
		limiter: adapters.NewLimiter(cfg.RatePerSec),
		breaker: adapters.NewBreaker("telegram"),
		log:     log,
	}, nil
}

// Send posts the payload to the configured chat. The channel argument is
// the pipeline's logical channel name; the destination chat is fixed by
// config.
func (s *Sender) Send(ctx context.Context, channel, payload string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return adapters.ExecuteBreaker(s.breaker, func() error {
		_, err := s.bot.Send(tele.ChatID(s.cfg.ChatID), payload)
		return classify(err)
	})
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &core.SendError{
			Kind:       core.ErrKindRateLimited,
			StatusCode: 429,
			RetryAfter: time.Duration(flood.RetryAfter) * time.Second,
			Err:        err,
		}
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		kind := core.ErrKindClientError
		if apiErr.Code >= 500 {
			kind = core.ErrKindServerError
		}
		return &core.SendError{Kind: kind, StatusCode: apiErr.Code, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &core.SendError{Kind: core.ErrKindNetwork, Err: err}
}
