package app

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"cadence/internal/adapters"
	"cadence/internal/adapters/discord"
	"cadence/internal/adapters/misskey"
	"cadence/internal/adapters/telegram"
	"cadence/internal/config"
	"cadence/internal/core"
	"cadence/internal/producers"
	"cadence/internal/retry"
	"cadence/internal/scheduler"
	"cadence/internal/storage"
	"cadence/pkg/logx"
)

func mapLogging(s config.LoggingSettings) logx.Config {
	return logx.Config{
		Level:   s.Level,
		Console: s.Console,
		File: logx.FileConfig{
			Enabled: s.File.Enabled,
			Path:    s.File.Path,
		},
	}
}

func mapCooldown(s *config.Settings) core.CooldownConfig {
	cfg := core.CooldownConfig{Enabled: s.Cooldown.Enabled}
	if len(s.Cooldown.Jobs) > 0 {
		cfg.Jobs = make(map[string]core.CooldownRule, len(s.Cooldown.Jobs))
		for name, j := range s.Cooldown.Jobs {
			cfg.Jobs[name] = core.CooldownRule{
				Base:      time.Duration(j.BaseWindowSeconds) * time.Second,
				MaxFactor: j.MaxFactor,
				Growth:    j.Growth,
			}
		}
	}
	return cfg
}

func mapDedupe(s *config.Settings) core.DedupeConfig {
	return core.DedupeConfig{
		Enabled:  s.Dedupe.Enabled,
		Capacity: s.Dedupe.Capacity,
		TTL:      time.Duration(s.Dedupe.TTLSeconds) * time.Second,
	}
}

func mapPermit(s *config.Settings) core.PermitConfig {
	cfg := core.PermitConfig{}
	if len(s.Quotas) > 0 {
		cfg.Quotas = make(map[string]core.Quota, len(s.Quotas))
		for channel, q := range s.Quotas {
			cfg.Quotas[channel] = core.Quota{
				Window:    time.Duration(q.WindowSeconds) * time.Second,
				MaxEvents: q.MaxEvents,
			}
		}
	}
	return cfg
}

func mapCoalesce(s *config.Settings) core.CoalesceConfig {
	return core.CoalesceConfig{
		Window:    time.Duration(s.Coalesce.WindowSeconds) * time.Second,
		Threshold: s.Coalesce.Threshold,
	}
}

func mapRetry(s *config.Settings) retry.Config {
	return retry.Config{
		MaxAttempts: s.Retry.MaxAttempts,
		BaseBackoff: time.Duration(s.Retry.BaseBackoffMS) * time.Millisecond,
	}
}

func mapJitter(s *config.Settings) scheduler.JitterConfig {
	return scheduler.JitterConfig{
		Enabled: s.Scheduler.JitterEnabled,
		Min:     time.Duration(s.Scheduler.JitterMinMS) * time.Millisecond,
		Max:     time.Duration(s.Scheduler.JitterMaxMS) * time.Millisecond,
	}
}

func mapStorage(s *config.Settings) (storage.Config, error) {
	if s.Storage == nil {
		return storage.Config{}, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", s.Storage.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      s.Storage.Driver,
		Path:        s.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func buildSenders(s *config.Settings, log logx.Logger) (*adapters.Registry, error) {
	reg := adapters.NewRegistry()
	if d := s.Platforms.Discord; d != nil {
		reg.Register("discord", discord.New(discord.Config{
			WebhookURL: d.WebhookURL,
			RatePerSec: d.RatePerSec,
		}, log.With(logx.String("comp", "discord"))))
	}
	if m := s.Platforms.Misskey; m != nil {
		reg.Register("misskey", misskey.New(misskey.Config{
			BaseURL:    m.BaseURL,
			Token:      m.Token,
			RatePerSec: m.RatePerSec,
		}, log.With(logx.String("comp", "misskey"))))
	}
	if t := s.Platforms.Telegram; t != nil {
		snd, err := telegram.New(telegram.Config{
			Token:      t.Token,
			ChatID:     t.ChatID,
			RatePerSec: t.RatePerSec,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram adapter: %w", err)
		}
		reg.Register("telegram", snd)
	}
	return reg, nil
}

// reportJobName finds the job rendering the weekly report so the snapshot
// can leave it out of its own rows.
func reportJobName(s *config.Settings) string {
	for name, job := range s.Jobs {
		if strings.ReplaceAll(strings.TrimSpace(job.Provider), ":", ".") == "report.Weekly" {
			return name
		}
	}
	return ""
}

// buildJobs resolves every configured job's provider ref into a factory.
// Unknown refs fail the whole build; jobs come out name-sorted so cron
// registration order is stable.
func buildJobs(s *config.Settings, reg *producers.Registry, deps producers.Deps) ([]scheduler.JobSpec, error) {
	names := make([]string, 0, len(s.Jobs))
	for name := range s.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	jobs := make([]scheduler.JobSpec, 0, len(names))
	for _, name := range names {
		job := s.Jobs[name]
		p, err := reg.Build(job.Provider, deps, s.Providers[job.Provider])
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", name, err)
		}
		jobs = append(jobs, scheduler.JobSpec{
			Name:     name,
			Slots:    job.Slots(),
			Channel:  job.Channel,
			Platform: job.Platform,
			Priority: job.Priority,
			Factory:  p.Build,
		})
	}
	return jobs, nil
}
