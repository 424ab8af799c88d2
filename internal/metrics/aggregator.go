package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"

	"cadence/internal/core"
)

// DurationBuckets are the fixed histogram bounds, in seconds.
var DurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

const eventRetention = 7 * 24 * time.Hour

// outcome names that feed the weekly snapshot.
const (
	nameSuccess       = "send_success"
	nameFailure       = "send_failure"
	namePermitDenied  = "permit_denied"
	nameCooldownSkip  = "cooldown_skip"
	nameDuplicateSkip = "duplicate_skip"
	nameDuration      = "send_duration_seconds"
)

// deniedJobSuffix is appended to the job tag of denial counters so audit
// trails tell granted and denied flows apart; the snapshot folds denials
// back under the base job name.
const deniedJobSuffix = "-denied"

type outcomeEvent struct {
	at     time.Time
	name   string
	job    string
	reason string
}

type durationSample struct {
	at    time.Time
	job   string
	value float64
}

type histogram struct {
	counts []uint64
	sum    float64
	total  uint64
}

func (h *histogram) observe(v float64) {
	for i, bound := range DurationBuckets {
		if v <= bound {
			h.counts[i]++
			break
		}
	}
	h.sum += v
	h.total++
}

// Aggregator is the in-process metrics store. Counters and histograms are
// keyed by name plus the sorted tag set; outcome events are kept in a
// seven-day ring that feeds WeeklySnapshot.
type Aggregator struct {
	mu         sync.Mutex
	clock      core.Clock
	counters   map[string]float64
	histograms map[string]*histogram
	events     []outcomeEvent
	samples    []durationSample
	mirror     *PromMirror
}

var _ core.Observer = (*Aggregator)(nil)

func NewAggregator(clock core.Clock) *Aggregator {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Aggregator{
		clock:      clock,
		counters:   make(map[string]float64),
		histograms: make(map[string]*histogram),
	}
}

// SetMirror forwards every increment and observation to a prometheus
// registry as well.
func (a *Aggregator) SetMirror(m *PromMirror) {
	a.mu.Lock()
	a.mirror = m
	a.mu.Unlock()
}

func seriesKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(tags[k])
	}
	return b.String()
}

func (a *Aggregator) Increment(name string, tags map[string]string) {
	now := a.clock.Now()

	a.mu.Lock()
	a.counters[seriesKey(name, tags)]++
	switch name {
	case nameSuccess, nameFailure, namePermitDenied, nameCooldownSkip, nameDuplicateSkip:
		job := tags["job"]
		if name == namePermitDenied {
			job = strings.TrimSuffix(job, deniedJobSuffix)
		}
		a.events = append(a.events, outcomeEvent{
			at:     now,
			name:   name,
			job:    job,
			reason: tags["reason"],
		})
		a.pruneLocked(now)
	}
	mirror := a.mirror
	a.mu.Unlock()

	if mirror != nil {
		mirror.Increment(name, tags)
	}
}

func (a *Aggregator) Observe(name string, value float64, tags map[string]string) {
	now := a.clock.Now()

	a.mu.Lock()
	key := seriesKey(name, tags)
	h := a.histograms[key]
	if h == nil {
		h = &histogram{counts: make([]uint64, len(DurationBuckets))}
		a.histograms[key] = h
	}
	h.observe(value)
	if name == nameDuration {
		a.samples = append(a.samples, durationSample{at: now, job: tags["job"], value: value})
		a.pruneLocked(now)
	}
	mirror := a.mirror
	a.mu.Unlock()

	if mirror != nil {
		mirror.Observe(name, value, tags)
	}
}

func (a *Aggregator) pruneLocked(now time.Time) {
	cutoff := now.Add(-eventRetention)
	cut := 0
	for cut < len(a.events) && a.events[cut].at.Before(cutoff) {
		cut++
	}
	if cut > 0 {
		a.events = append(a.events[:0], a.events[cut:]...)
	}
	cut = 0
	for cut < len(a.samples) && a.samples[cut].at.Before(cutoff) {
		cut++
	}
	if cut > 0 {
		a.samples = append(a.samples[:0], a.samples[cut:]...)
	}
}

// Counter returns the current value of a counter series. Intended for
// tests and debug surfaces.
func (a *Aggregator) Counter(name string, tags map[string]string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters[seriesKey(name, tags)]
}
