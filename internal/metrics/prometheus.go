package metrics

import (
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "cadence"

// PromMirror re-exports aggregator series through a prometheus registry.
// Each metric name gets its own vector; the label set is fixed by the
// first series seen under that name, later calls drop unknown labels.
type PromMirror struct {
	mu         sync.Mutex
	reg        *prometheus.Registry
	counters   map[string]*promCounter
	histograms map[string]*promHistogram
}

type promCounter struct {
	vec    *prometheus.CounterVec
	labels []string
}

type promHistogram struct {
	vec    *prometheus.HistogramVec
	labels []string
}

func NewPromMirror() *PromMirror {
	return &PromMirror{
		reg:        prometheus.NewRegistry(),
		counters:   make(map[string]*promCounter),
		histograms: make(map[string]*promHistogram),
	}
}

// Handler serves the registry in the prometheus exposition format.
func (m *PromMirror) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func labelKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func labelValues(keys []string, tags map[string]string) []string {
	vals := make([]string, len(keys))
	for i, k := range keys {
		vals[i] = tags[k]
	}
	return vals
}

func (m *PromMirror) Increment(name string, tags map[string]string) {
	m.mu.Lock()
	c := m.counters[name]
	if c == nil {
		keys := labelKeys(tags)
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name + "_total",
		}, keys)
		if err := m.reg.Register(vec); err != nil {
			m.mu.Unlock()
			return
		}
		c = &promCounter{vec: vec, labels: keys}
		m.counters[name] = c
	}
	vals := labelValues(c.labels, tags)
	m.mu.Unlock()

	c.vec.WithLabelValues(vals...).Inc()
}

func (m *PromMirror) Observe(name string, value float64, tags map[string]string) {
	m.mu.Lock()
	h := m.histograms[name]
	if h == nil {
		keys := labelKeys(tags)
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: promNamespace,
			Name:      name,
			Buckets:   DurationBuckets,
		}, keys)
		if err := m.reg.Register(vec); err != nil {
			m.mu.Unlock()
			return
		}
		h = &promHistogram{vec: vec, labels: keys}
		m.histograms[name] = h
	}
	vals := labelValues(h.labels, tags)
	m.mu.Unlock()

	h.vec.WithLabelValues(vals...).Observe(value)
}
