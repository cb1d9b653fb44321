// Package metrics is a small Prometheus-compatible registry. Counters, gauges
// and histograms are grouped into families by name; each label combination is
// its own series. The registry renders the text exposition format at /metrics.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets are the default histogram buckets (in seconds).
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Default is the process-wide registry served by the HTTP server.
var Default = New()

// Counter is a monotonically increasing counter.
type Counter struct{ val atomic.Int64 }

func (c *Counter) Inc()         { c.val.Add(1) }
func (c *Counter) Add(n int64)  { c.val.Add(n) }
func (c *Counter) Value() int64 { return c.val.Load() }

// Gauge can go up and down.
type Gauge struct{ val atomic.Int64 }

func (g *Gauge) Set(n int64)  { g.val.Store(n) }
func (g *Gauge) Inc()         { g.val.Add(1) }
func (g *Gauge) Dec()         { g.val.Add(-1) }
func (g *Gauge) Value() int64 { return g.val.Load() }

// Histogram tracks observations in cumulative buckets.
type Histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64 // cumulative
	sum     float64
	count   uint64
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
		}
	}
}

// Since observes the seconds elapsed since t.
func (h *Histogram) Since(t time.Time) { h.Observe(time.Since(t).Seconds()) }

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

type family struct {
	typ    string
	help   string
	series map[string]any // rendered label set -> *Counter | *Gauge | *Histogram
}

// Registry holds metric families.
type Registry struct {
	mu       sync.Mutex
	families map[string]*family
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{families: make(map[string]*family)}
}

// Counter returns (or creates) the counter series for name and label pairs.
func (r *Registry) Counter(name, help string, labels ...string) *Counter {
	return r.get(name, "counter", help, labels, func() any { return &Counter{} }).(*Counter)
}

// Gauge returns (or creates) the gauge series for name and label pairs.
func (r *Registry) Gauge(name, help string, labels ...string) *Gauge {
	return r.get(name, "gauge", help, labels, func() any { return &Gauge{} }).(*Gauge)
}

// Histogram returns (or creates) the histogram series for name and label pairs.
// Nil buckets select DefaultBuckets.
func (r *Registry) Histogram(name, help string, buckets []float64, labels ...string) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	return r.get(name, "histogram", help, labels, func() any {
		b := append([]float64(nil), buckets...)
		sort.Float64s(b)
		return &Histogram{buckets: b, counts: make([]uint64, len(b))}
	}).(*Histogram)
}

func (r *Registry) get(name, typ, help string, labels []string, mk func() any) any {
	key := labelSet(labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[name]
	if !ok {
		f = &family{typ: typ, help: help, series: make(map[string]any)}
		r.families[name] = f
	}
	if f.typ != typ {
		panic(fmt.Sprintf("metrics: %s registered as %s, requested as %s", name, f.typ, typ))
	}
	if m, ok := f.series[key]; ok {
		return m
	}
	m := mk()
	f.series[key] = m
	return m
}

// labelSet renders k/v pairs as `k="v",k2="v2"`. An odd trailing key is dropped.
func labelSet(kvs []string) string {
	var b strings.Builder
	for i := 0; i+1 < len(kvs); i += 2 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", kvs[i], kvs[i+1])
	}
	return b.String()
}

func wrap(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

// Render returns the Prometheus text exposition format output.
func (r *Registry) Render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.families))
	for n := range r.families {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		f := r.families[name]
		if f.help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", name, f.help)
		}
		fmt.Fprintf(&b, "# TYPE %s %s\n", name, f.typ)

		keys := make([]string, 0, len(f.series))
		for k := range f.series {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch m := f.series[k].(type) {
			case *Counter:
				fmt.Fprintf(&b, "%s%s %d\n", name, wrap(k), m.Value())
			case *Gauge:
				fmt.Fprintf(&b, "%s%s %d\n", name, wrap(k), m.Value())
			case *Histogram:
				renderHistogram(&b, name, k, m)
			}
		}
	}
	return b.String()
}

func renderHistogram(b *strings.Builder, name, labels string, h *Histogram) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sep := ""
	if labels != "" {
		sep = ","
	}
	for i, bk := range h.buckets {
		fmt.Fprintf(b, "%s_bucket{%s%sle=\"%g\"} %d\n", name, labels, sep, bk, h.counts[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s%sle=\"+Inf\"} %d\n", name, labels, sep, h.count)
	fmt.Fprintf(b, "%s_sum%s %g\n", name, wrap(labels), h.sum)
	fmt.Fprintf(b, "%s_count%s %d\n", name, wrap(labels), h.count)
}

// Handler serves the registry in the text exposition format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(r.Render()))
	})
}
