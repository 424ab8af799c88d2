package core

import (
	"sync"
	"time"
)

// Quota is a sliding-window event budget for one channel.
type Quota struct {
	Window    time.Duration
	MaxEvents int
}

// PermitConfig maps channels to quotas. The "*" entry, when present, is
// the default for channels without their own quota.
type PermitConfig struct {
	Quotas map[string]Quota
}

// Permit reasons carried on denial decisions and denial metrics.
const (
	PermitReasonQuotaExceeded  = "quota_exceeded"
	PermitReasonChannelUnknown = "channel_unknown"
	PermitReasonConfigMissing  = "configuration_missing"
)

// PermitDecision is the outcome of an admission check. On denial, Suffix
// is appended to the job tag of the denial logs and metrics (job + Suffix)
// and RetryAfter estimates when the oldest in-window slot frees up.
type PermitDecision struct {
	Allowed    bool
	Reason     string
	Retryable  bool
	Suffix     string
	RetryAfter time.Duration
}

// PermitGate enforces per-channel sliding-window quotas. Admit is read
// only; the window advances solely through ObserveSuccess, so denied or
// failed sends never consume budget.
type PermitGate struct {
	mu     sync.Mutex
	cfg    PermitConfig
	events map[string][]time.Time
}

func NewPermitGate(cfg PermitConfig) *PermitGate {
	return &PermitGate{cfg: cfg, events: make(map[string][]time.Time)}
}

// Reconfigure swaps the quota table. Recorded send times survive so a
// reload cannot be used to sidestep a window already consumed.
func (g *PermitGate) Reconfigure(cfg PermitConfig) {
	g.mu.Lock()
	g.cfg = cfg
	g.mu.Unlock()
}

// Admit decides whether one more send to the channel fits its quota.
func (g *PermitGate) Admit(channel string, now time.Time) PermitDecision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.cfg.Quotas) == 0 {
		return PermitDecision{Allowed: true, Reason: PermitReasonConfigMissing}
	}
	quota, ok := g.cfg.Quotas[channel]
	if !ok {
		quota, ok = g.cfg.Quotas["*"]
	}
	if !ok {
		return PermitDecision{
			Allowed:   false,
			Reason:    PermitReasonChannelUnknown,
			Retryable: false,
			Suffix:    "-denied",
		}
	}
	if quota.MaxEvents <= 0 || quota.Window <= 0 {
		return PermitDecision{Allowed: true}
	}

	ring := g.evictLocked(channel, quota.Window, now)
	if len(ring) < quota.MaxEvents {
		return PermitDecision{Allowed: true}
	}
	oldest := ring[0]
	return PermitDecision{
		Allowed:    false,
		Reason:     PermitReasonQuotaExceeded,
		Retryable:  true,
		Suffix:     "-denied",
		RetryAfter: quota.Window - now.Sub(oldest),
	}
}

// ObserveSuccess records a delivered send against the channel's window.
func (g *PermitGate) ObserveSuccess(channel string, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	quota, ok := g.cfg.Quotas[channel]
	if !ok {
		quota, ok = g.cfg.Quotas["*"]
	}
	if !ok || quota.MaxEvents <= 0 || quota.Window <= 0 {
		return
	}
	ring := g.evictLocked(channel, quota.Window, now)
	g.events[channel] = append(ring, now)
}

func (g *PermitGate) evictLocked(channel string, window time.Duration, now time.Time) []time.Time {
	ring := g.events[channel]
	cut := 0
	for cut < len(ring) && now.Sub(ring[cut]) >= window {
		cut++
	}
	if cut > 0 {
		ring = append(ring[:0], ring[cut:]...)
		g.events[channel] = ring
	}
	return ring
}
