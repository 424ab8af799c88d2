package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ParseSlot parses an "HH:MM" wall-clock slot.
func ParseSlot(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid slot %q: want HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid slot %q: hour out of range", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid slot %q: minute out of range", s)
	}
	return hour, minute, nil
}

// Validate checks a snapshot as a whole. A snapshot failing any check is
// rejected entirely; the previous one stays active.
func Validate(s *Settings) error {
	if s == nil {
		return fmt.Errorf("settings: nil snapshot")
	}

	if tz := strings.TrimSpace(s.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	if s.Scheduler.JitterEnabled {
		if s.Scheduler.JitterMinMS < 0 || s.Scheduler.JitterMaxMS < 0 {
			return fmt.Errorf("scheduler: jitter bounds must be >= 0")
		}
		if s.Scheduler.JitterMinMS > s.Scheduler.JitterMaxMS {
			return fmt.Errorf("scheduler: jitter_min_ms > jitter_max_ms")
		}
	}

	if s.Cooldown.Enabled {
		for name, rule := range s.Cooldown.Jobs {
			if rule.BaseWindowSeconds <= 0 {
				return fmt.Errorf("cooldown.jobs.%s: base_window_seconds must be > 0", name)
			}
			if rule.Growth != 0 && rule.Growth < 1 {
				return fmt.Errorf("cooldown.jobs.%s: growth must be >= 1", name)
			}
			if rule.MaxFactor != 0 && rule.MaxFactor < 1 {
				return fmt.Errorf("cooldown.jobs.%s: max_factor must be >= 1", name)
			}
		}
	}

	for channel, q := range s.Quotas {
		if q.WindowSeconds <= 0 {
			return fmt.Errorf("quotas.%s: window_seconds must be > 0", channel)
		}
		if q.MaxEvents <= 0 {
			return fmt.Errorf("quotas.%s: max_events must be > 0", channel)
		}
	}

	if s.Dedupe.Enabled {
		if s.Dedupe.Capacity <= 0 {
			return fmt.Errorf("dedupe.capacity must be > 0")
		}
		if s.Dedupe.TTLSeconds <= 0 {
			return fmt.Errorf("dedupe.ttl_seconds must be > 0")
		}
	}

	if s.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must be >= 0")
	}
	if s.Retry.BaseBackoffMS < 0 {
		return fmt.Errorf("retry.base_backoff_ms must be >= 0")
	}

	if s.Coalesce.WindowSeconds <= 0 {
		return fmt.Errorf("coalesce.window_seconds must be > 0")
	}
	if s.Coalesce.Threshold <= 0 {
		return fmt.Errorf("coalesce.threshold must be > 0")
	}

	names := make([]string, 0, len(s.Jobs))
	for name := range s.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		job := s.Jobs[name]
		slots := job.Slots()
		if len(slots) == 0 {
			return fmt.Errorf("jobs.%s: schedule or schedules required", name)
		}
		for _, slot := range slots {
			if _, _, err := ParseSlot(slot); err != nil {
				return fmt.Errorf("jobs.%s: %w", name, err)
			}
		}
		if strings.TrimSpace(job.Channel) == "" {
			return fmt.Errorf("jobs.%s: channel required", name)
		}
		if strings.TrimSpace(job.Provider) == "" {
			return fmt.Errorf("jobs.%s: provider required", name)
		}
		switch job.Platform {
		case "discord":
			if s.Platforms.Discord == nil {
				return fmt.Errorf("jobs.%s: platform discord not configured", name)
			}
		case "misskey":
			if s.Platforms.Misskey == nil {
				return fmt.Errorf("jobs.%s: platform misskey not configured", name)
			}
		case "telegram":
			if s.Platforms.Telegram == nil {
				return fmt.Errorf("jobs.%s: platform telegram not configured", name)
			}
		default:
			return fmt.Errorf("jobs.%s: unknown platform %q", name, job.Platform)
		}
	}

	if d := s.Platforms.Discord; d != nil {
		if strings.TrimSpace(d.WebhookURL) == "" && strings.TrimSpace(d.Token) == "" {
			return fmt.Errorf("platforms.discord: webhook_url or token required")
		}
	}
	if mk := s.Platforms.Misskey; mk != nil {
		if strings.TrimSpace(mk.BaseURL) == "" {
			return fmt.Errorf("platforms.misskey: base_url required")
		}
		if strings.TrimSpace(mk.Token) == "" {
			return fmt.Errorf("platforms.misskey: token required")
		}
	}
	if tg := s.Platforms.Telegram; tg != nil {
		if strings.TrimSpace(tg.Token) == "" {
			return fmt.Errorf("platforms.telegram: token required")
		}
		if tg.ChatID == 0 {
			return fmt.Errorf("platforms.telegram: chat_id required")
		}
	}

	if st := s.Storage; st != nil {
		if st.Driver != "sqlite" {
			return fmt.Errorf("storage.driver: unsupported %q", st.Driver)
		}
		if strings.TrimSpace(st.Path) == "" {
			return fmt.Errorf("storage.path required")
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			return err
		}
	}

	return nil
}
