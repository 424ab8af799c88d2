// Package producers holds the payload builders behind scheduled jobs.
//
// A producer renders one message per fired slot from an injected source.
// Returning ("", nil) skips the slot.
package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cadence/internal/core"
	"cadence/internal/metrics"
	"cadence/pkg/logx"
)

// Producer builds one payload per slot.
type Producer interface {
	Build(ctx context.Context) (string, error)
}

// SnapshotSource feeds the weekly report producer.
type SnapshotSource interface {
	WeeklySnapshot(now time.Time, reportJob string) metrics.WeeklySnapshot
}

// Deps are the shared capabilities handed to every builder.
type Deps struct {
	Log       logx.Logger
	Clock     core.Clock
	HTTP      *http.Client
	Snapshots SnapshotSource
	ReportJob string
}

func (d Deps) clock() core.Clock {
	if d.Clock != nil {
		return d.Clock
	}
	return core.SystemClock{}
}

func (d Deps) httpClient() *http.Client {
	if d.HTTP != nil {
		return d.HTTP
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Builder constructs a producer from its config blob.
type Builder func(deps Deps, cfg json.RawMessage) (Producer, error)

// Registry resolves provider refs to builders. Refs accept "pkg:Name" or
// "pkg.Name"; both normalize to the dotted form.
type Registry struct {
	builders map[string]Builder
}

func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

func (r *Registry) Register(name string, b Builder) {
	r.builders[normalizeRef(name)] = b
}

// Build resolves ref and constructs its producer. Unknown refs are an
// error; startup treats that as fatal.
func (r *Registry) Build(ref string, deps Deps, cfg json.RawMessage) (Producer, error) {
	b := r.builders[normalizeRef(ref)]
	if b == nil {
		return nil, fmt.Errorf("unknown provider ref %q", ref)
	}
	return b(deps, cfg)
}

func normalizeRef(ref string) string {
	return strings.ReplaceAll(strings.TrimSpace(ref), ":", ".")
}

// Default returns the registry with every built-in producer registered.
func Default() *Registry {
	r := NewRegistry()
	r.Register("weather.Summary", NewWeather)
	r.Register("news.Digest", NewNews)
	r.Register("omikuji.Draw", NewOmikuji)
	r.Register("dmdigest.Digest", NewDMDigest)
	r.Register("report.Weekly", NewWeeklyReport)
	r.Register("netprobe.Speedtest", NewNetprobe)
	return r
}
