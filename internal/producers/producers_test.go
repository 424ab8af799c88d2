package producers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cadence/internal/core"
	"cadence/internal/metrics"
)

func TestRegistryRefNormalization(t *testing.T) {
	r := NewRegistry()
	r.Register("omikuji:Draw", NewOmikuji)

	deps := Deps{Clock: core.NewManualClock(time.Now())}
	if _, err := r.Build("omikuji.Draw", deps, nil); err != nil {
		t.Fatalf("dotted ref: %v", err)
	}
	if _, err := r.Build(" omikuji:Draw ", deps, nil); err != nil {
		t.Fatalf("colon ref: %v", err)
	}
	if _, err := r.Build("omikuji.Missing", deps, nil); err == nil {
		t.Fatalf("unknown ref accepted")
	}
}

func TestDefaultRegistryCoversBuiltins(t *testing.T) {
	r := Default()
	for _, ref := range []string{
		"weather.Summary", "news.Digest", "omikuji.Draw",
		"dmdigest.Digest", "report.Weekly", "netprobe.Speedtest",
	} {
		if r.builders[normalizeRef(ref)] == nil {
			t.Fatalf("builtin %q not registered", ref)
		}
	}
}

func TestOmikujiSameDaySameFortune(t *testing.T) {
	clock := core.NewManualClock(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	p, err := NewOmikuji(Deps{Clock: clock}, nil)
	if err != nil {
		t.Fatalf("NewOmikuji: %v", err)
	}

	first, err := p.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	clock.Advance(6 * time.Hour)
	second, _ := p.Build(context.Background())
	if first != second {
		t.Fatalf("same-day draws differ: %q vs %q", first, second)
	}
	if !strings.Contains(first, "2025-06-02") {
		t.Fatalf("payload missing date: %q", first)
	}
}

func TestOmikujiSaltChangesDraw(t *testing.T) {
	clock := core.NewManualClock(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	plain, _ := NewOmikuji(Deps{Clock: clock}, nil)
	salted, _ := NewOmikuji(Deps{Clock: clock}, json.RawMessage(`{"salt":"alt"}`))

	var differed bool
	for i := 0; i < 14 && !differed; i++ {
		a, _ := plain.Build(context.Background())
		b, _ := salted.Build(context.Background())
		differed = a != b
		clock.Advance(24 * time.Hour)
	}
	if !differed {
		t.Fatalf("salt never changed the draw across two weeks")
	}
}

func TestDMDigestCountsRecentSenders(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	lines := []string{
		`{"at":"2025-06-02T08:00:00Z","from":"alice","text":"hi"}`,
		`{"at":"2025-06-02T08:30:00Z","from":"alice","text":"again"}`,
		`{"at":"2025-06-02T07:00:00Z","from":"bob","text":"yo"}`,
		`{"at":"2025-05-20T00:00:00Z","from":"carol","text":"old"}`,
		`not json`,
		``,
	}
	path := filepath.Join(t.TempDir(), "dm.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	p, err := NewDMDigest(
		Deps{Clock: core.NewManualClock(now)},
		json.RawMessage(`{"path":"`+path+`","window":"24h"}`),
	)
	if err != nil {
		t.Fatalf("NewDMDigest: %v", err)
	}
	out, err := p.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(out, "3 messages from 2 senders") {
		t.Fatalf("digest = %q", out)
	}
	if !strings.Contains(out, "- alice: 2") || !strings.Contains(out, "- bob: 1") {
		t.Fatalf("digest = %q", out)
	}
	if strings.Contains(out, "hi") || strings.Contains(out, "carol") {
		t.Fatalf("digest leaked content: %q", out)
	}
}

func TestDMDigestSenderCap(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	var lines []string
	for _, from := range []string{"a", "b", "c", "d"} {
		lines = append(lines, `{"at":"2025-06-02T08:00:00Z","from":"`+from+`","text":"x"}`)
	}
	path := filepath.Join(t.TempDir(), "dm.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	p, err := NewDMDigest(
		Deps{Clock: core.NewManualClock(now)},
		json.RawMessage(`{"path":"`+path+`","max_senders":2}`),
	)
	if err != nil {
		t.Fatalf("NewDMDigest: %v", err)
	}
	out, _ := p.Build(context.Background())
	if strings.Count(out, "- ") != 2 {
		t.Fatalf("sender cap not applied: %q", out)
	}
	// The header still reports the full sender count.
	if !strings.Contains(out, "from 4 senders") {
		t.Fatalf("header = %q", out)
	}
}

func TestDMDigestMissingFileSkips(t *testing.T) {
	p, err := NewDMDigest(
		Deps{Clock: core.NewManualClock(time.Now())},
		json.RawMessage(`{"path":"`+filepath.Join(t.TempDir(), "absent.jsonl")+`"}`),
	)
	if err != nil {
		t.Fatalf("NewDMDigest: %v", err)
	}
	out, err := p.Build(context.Background())
	if err != nil || out != "" {
		t.Fatalf("missing file: %q, %v", out, err)
	}
}

func TestDMDigestRequiresPath(t *testing.T) {
	if _, err := NewDMDigest(Deps{}, json.RawMessage(`{}`)); err == nil {
		t.Fatalf("missing path accepted")
	}
}

func TestNewsDigest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]headline{
			{Title: "First", URL: "https://example.com/1"},
			{Title: "Second"},
			{Title: "Third"},
		})
	}))
	defer srv.Close()

	p, err := NewNews(Deps{HTTP: srv.Client()}, json.RawMessage(`{"endpoint":"`+srv.URL+`","max_items":2}`))
	if err != nil {
		t.Fatalf("NewNews: %v", err)
	}
	out, err := p.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.HasPrefix(out, "News digest (2)") {
		t.Fatalf("digest = %q", out)
	}
	if !strings.Contains(out, "First https://example.com/1") || strings.Contains(out, "Third") {
		t.Fatalf("digest = %q", out)
	}
}

func TestNewsEmptyFeedSkips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	p, _ := NewNews(Deps{HTTP: srv.Client()}, json.RawMessage(`{"endpoint":"`+srv.URL+`"}`))
	out, err := p.Build(context.Background())
	if err != nil || out != "" {
		t.Fatalf("empty feed: %q, %v", out, err)
	}
}

func TestNewsEndpointError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p, _ := NewNews(Deps{HTTP: srv.Client()}, json.RawMessage(`{"endpoint":"`+srv.URL+`"}`))
	if _, err := p.Build(context.Background()); err == nil {
		t.Fatalf("bad status accepted")
	}
}

func TestWeatherSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("location") != "tokyo" {
			t.Errorf("location query = %q", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(weatherSnapshot{
			Location: "Tokyo", TemperatureC: 21.5, Condition: "cloudy", Humidity: 60,
		})
	}))
	defer srv.Close()

	p, err := NewWeather(Deps{HTTP: srv.Client()}, json.RawMessage(`{"endpoint":"`+srv.URL+`","location":"tokyo"}`))
	if err != nil {
		t.Fatalf("NewWeather: %v", err)
	}
	out, err := p.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if out != "Weather for Tokyo: 21.5°C, cloudy (humidity 60%)" {
		t.Fatalf("summary = %q", out)
	}
}

func TestWeeklyReportRendersSnapshot(t *testing.T) {
	clock := core.NewManualClock(time.Date(2025, 6, 9, 9, 0, 0, 0, time.UTC))
	agg := metrics.NewAggregator(clock)
	agg.Increment("send_success", map[string]string{"job": "news"})
	agg.Increment("send_failure", map[string]string{"job": "news", "error_class": "network"})
	agg.Increment("permit_denied", map[string]string{"job": "news", "reason": "quota_exceeded"})
	agg.Observe("send_duration_seconds", 0.2, map[string]string{"job": "news"})

	p, err := NewWeeklyReport(Deps{Clock: clock, Snapshots: agg, ReportJob: "weekly"}, nil)
	if err != nil {
		t.Fatalf("NewWeeklyReport: %v", err)
	}
	out, err := p.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(out, "news: sent 1, denied 1, failed 1") {
		t.Fatalf("report = %q", out)
	}
	if !strings.Contains(out, "success 50.0%") {
		t.Fatalf("report = %q", out)
	}
	if !strings.Contains(out, "- quota_exceeded: 1") {
		t.Fatalf("report = %q", out)
	}
}

func TestWeeklyReportQuietWeekSkips(t *testing.T) {
	clock := core.NewManualClock(time.Now())
	p, err := NewWeeklyReport(Deps{Clock: clock, Snapshots: metrics.NewAggregator(clock), ReportJob: "weekly"}, nil)
	if err != nil {
		t.Fatalf("NewWeeklyReport: %v", err)
	}
	out, err := p.Build(context.Background())
	if err != nil || out != "" {
		t.Fatalf("quiet week: %q, %v", out, err)
	}
}

func TestWeeklyReportRequiresSource(t *testing.T) {
	if _, err := NewWeeklyReport(Deps{}, nil); err == nil {
		t.Fatalf("missing snapshot source accepted")
	}
}
