package metrics

import (
	"math"
	"testing"
	"time"

	"cadence/internal/core"
)

func TestCounterTagsFormDistinctSeries(t *testing.T) {
	a := NewAggregator(core.NewManualClock(time.Now()))

	a.Increment("send_success", map[string]string{"job": "news"})
	a.Increment("send_success", map[string]string{"job": "news"})
	a.Increment("send_success", map[string]string{"job": "weather"})

	if got := a.Counter("send_success", map[string]string{"job": "news"}); got != 2 {
		t.Fatalf("news counter = %v", got)
	}
	if got := a.Counter("send_success", map[string]string{"job": "weather"}); got != 1 {
		t.Fatalf("weather counter = %v", got)
	}
	if got := a.Counter("send_success", nil); got != 0 {
		t.Fatalf("untagged series leaked: %v", got)
	}
}

func TestSeriesKeyOrderIndependent(t *testing.T) {
	a := seriesKey("m", map[string]string{"a": "1", "b": "2"})
	b := seriesKey("m", map[string]string{"b": "2", "a": "1"})
	if a != b {
		t.Fatalf("%q != %q", a, b)
	}
}

func TestHistogramBucketsAndSum(t *testing.T) {
	a := NewAggregator(core.NewManualClock(time.Now()))
	a.Observe("send_duration_seconds", 0.04, nil)
	a.Observe("send_duration_seconds", 0.2, nil)
	a.Observe("send_duration_seconds", 3, nil)

	h := a.histograms["send_duration_seconds"]
	if h == nil {
		t.Fatalf("histogram missing")
	}
	if h.total != 3 || math.Abs(h.sum-3.24) > 1e-9 {
		t.Fatalf("total=%d sum=%v", h.total, h.sum)
	}
	if h.counts[0] != 1 || h.counts[2] != 1 || h.counts[6] != 1 {
		t.Fatalf("bucket counts = %v", h.counts)
	}
}

func TestEventsPrunedAfterSevenDays(t *testing.T) {
	clock := core.NewManualClock(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	a := NewAggregator(clock)

	a.Increment("send_success", map[string]string{"job": "news"})
	clock.Advance(8 * 24 * time.Hour)
	a.Increment("send_success", map[string]string{"job": "news"})

	if len(a.events) != 1 {
		t.Fatalf("stale events kept: %d", len(a.events))
	}
	// The counter itself is cumulative and never pruned.
	if got := a.Counter("send_success", map[string]string{"job": "news"}); got != 2 {
		t.Fatalf("counter = %v", got)
	}
}

func TestWeeklySnapshotRollup(t *testing.T) {
	clock := core.NewManualClock(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	a := NewAggregator(clock)

	a.Increment("send_success", map[string]string{"job": "news"})
	a.Increment("send_success", map[string]string{"job": "news"})
	a.Increment("send_failure", map[string]string{"job": "news", "error_class": "server_error"})
	// Denial counters carry the suffixed job tag; the rollup folds it back.
	a.Increment("permit_denied", map[string]string{"job": "news-denied", "reason": "quota_exceeded"})
	a.Increment("permit_denied", map[string]string{"job": "weather-denied", "reason": "channel_unknown"})
	a.Observe("send_duration_seconds", 0.1, map[string]string{"job": "news"})
	a.Observe("send_duration_seconds", 0.3, map[string]string{"job": "news"})

	snap := a.WeeklySnapshot(clock.Now(), "report")

	st, ok := snap.Jobs["news"]
	if !ok {
		t.Fatalf("news job missing: %+v", snap.Jobs)
	}
	if st.Sent != 2 || st.Failed != 1 || st.Denied != 1 {
		t.Fatalf("news stats = %+v", st)
	}
	// Denials do not enter the success-rate denominator: 2/(2+1).
	if math.Abs(st.SuccessRate-2.0/3.0) > 1e-9 {
		t.Fatalf("success rate = %v", st.SuccessRate)
	}
	if math.Abs(st.P50-0.2) > 1e-9 {
		t.Fatalf("p50 = %v", st.P50)
	}
	if snap.DenialReasons["quota_exceeded"] != 1 || snap.DenialReasons["channel_unknown"] != 1 {
		t.Fatalf("denial reasons = %v", snap.DenialReasons)
	}
}

func TestWeeklySnapshotExcludesReportJob(t *testing.T) {
	clock := core.NewManualClock(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	a := NewAggregator(clock)

	a.Increment("send_success", map[string]string{"job": "report"})
	a.Increment("permit_denied", map[string]string{"job": "report", "reason": "quota_exceeded"})

	snap := a.WeeklySnapshot(clock.Now(), "report")
	if _, ok := snap.Jobs["report"]; ok {
		t.Fatalf("report job counted in its own rollup")
	}
	// Denial reasons still aggregate globally.
	if snap.DenialReasons["quota_exceeded"] != 1 {
		t.Fatalf("denial reasons = %v", snap.DenialReasons)
	}
}

func TestWeeklySnapshotWindowBounds(t *testing.T) {
	clock := core.NewManualClock(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	a := NewAggregator(clock)

	a.Increment("send_success", map[string]string{"job": "news"})
	clock.Advance(3 * 24 * time.Hour)
	a.Increment("send_success", map[string]string{"job": "news"})
	clock.Advance(5 * 24 * time.Hour)

	// First event is now eight days old and out of the window.
	snap := a.WeeklySnapshot(clock.Now(), "report")
	if st := snap.Jobs["news"]; st.Sent != 1 {
		t.Fatalf("sent = %d", st.Sent)
	}
}

func TestPercentile(t *testing.T) {
	cases := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{"empty", nil, 0.5, 0},
		{"single", []float64{4}, 0.95, 4},
		{"median of two", []float64{1, 3}, 0.5, 2},
		{"p95 of twenty", seq(1, 20), 0.95, 19.05},
		{"p100", []float64{1, 2, 3}, 1, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := percentile(tc.sorted, tc.p)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("percentile(%v, %v) = %v, want %v", tc.sorted, tc.p, got, tc.want)
			}
		})
	}
}

func seq(from, to int) []float64 {
	out := make([]float64, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, float64(i))
	}
	return out
}
