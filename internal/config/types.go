package config

import "encoding/json"

// Settings is one immutable configuration snapshot. Reload never mutates a
// snapshot in place; the manager swaps the pointer after validation.
type Settings struct {
	Scheduler SchedulerSettings          `json:"scheduler"`
	Cooldown  CooldownSettings           `json:"cooldown"`
	Quotas    map[string]QuotaSettings   `json:"quotas"`
	Dedupe    DedupeSettings             `json:"dedupe"`
	Retry     RetrySettings              `json:"retry"`
	Coalesce  CoalesceSettings           `json:"coalesce"`
	Metrics   MetricsSettings            `json:"metrics,omitempty"`
	Jobs      map[string]JobSettings     `json:"jobs"`
	Providers map[string]json.RawMessage `json:"providers,omitempty"`
	Platforms PlatformSettings           `json:"platforms"`
	Logging   LoggingSettings            `json:"logging"`
	Storage   *StorageSettings           `json:"storage,omitempty"`

	// Limits is carried opaquely in the snapshot. Neither the pipeline nor
	// the platform adapters read it.
	Limits json.RawMessage `json:"limits,omitempty"`
}

type SchedulerSettings struct {
	Timezone      string `json:"timezone"`
	JitterEnabled bool   `json:"jitter_enabled"`
	JitterMinMS   int    `json:"jitter_min_ms,omitempty"`
	JitterMaxMS   int    `json:"jitter_max_ms,omitempty"`
}

type CooldownSettings struct {
	Enabled bool                           `json:"enabled"`
	Jobs    map[string]CooldownJobSettings `json:"jobs,omitempty"`
}

type CooldownJobSettings struct {
	BaseWindowSeconds int     `json:"base_window_seconds"`
	MaxFactor         float64 `json:"max_factor,omitempty"`
	Growth            float64 `json:"growth,omitempty"`
}

type QuotaSettings struct {
	WindowSeconds int `json:"window_seconds"`
	MaxEvents     int `json:"max_events"`
}

type DedupeSettings struct {
	Enabled    bool `json:"enabled"`
	Capacity   int  `json:"capacity,omitempty"`
	TTLSeconds int  `json:"ttl_seconds,omitempty"`
}

type RetrySettings struct {
	MaxAttempts   int `json:"max_attempts,omitempty"`
	BaseBackoffMS int `json:"base_backoff_ms,omitempty"`
}

type CoalesceSettings struct {
	WindowSeconds int `json:"window_seconds"`
	Threshold     int `json:"threshold"`
}

type MetricsSettings struct {
	Export ExportSettings `json:"export,omitempty"`
}

type ExportSettings struct {
	PrometheusAddr string `json:"prometheus_addr,omitempty"`
}

// JobSettings declares one scheduled job. Schedule and Schedules are
// alternatives; both hold "HH:MM" wall-clock slots in the scheduler's
// timezone.
type JobSettings struct {
	Schedule  string   `json:"schedule,omitempty"`
	Schedules []string `json:"schedules,omitempty"`
	Channel   string   `json:"channel"`
	Platform  string   `json:"platform"`
	Priority  int      `json:"priority,omitempty"`
	Provider  string   `json:"provider"`
}

// Slots returns the job's schedule list regardless of which field carried it.
func (j JobSettings) Slots() []string {
	if len(j.Schedules) > 0 {
		return j.Schedules
	}
	if j.Schedule != "" {
		return []string{j.Schedule}
	}
	return nil
}

type PlatformSettings struct {
	Discord  *DiscordSettings  `json:"discord,omitempty"`
	Misskey  *MisskeySettings  `json:"misskey,omitempty"`
	Telegram *TelegramSettings `json:"telegram,omitempty"`
}

type DiscordSettings struct {
	WebhookURL string  `json:"webhook_url,omitempty"`
	Token      string  `json:"token,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

type MisskeySettings struct {
	BaseURL    string  `json:"base_url"`
	Token      string  `json:"token"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

type TelegramSettings struct {
	Token      string  `json:"token"`
	ChatID     int64   `json:"chat_id"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

type LoggingSettings struct {
	Level   string       `json:"level,omitempty"`
	Console bool         `json:"console,omitempty"`
	File    FileSettings `json:"file,omitempty"`
}

type FileSettings struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// StorageSettings controls the optional persistence layer. Nil means
// disabled. BusyTimeout is a Go duration string.
type StorageSettings struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}
