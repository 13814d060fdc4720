// Package metrics keeps the process counters for webhook deliveries, event
// outcomes and backend latency, and renders them in the Prometheus text
// exposition format.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Default is the registry served on the metrics endpoint.
var Default = NewRegistry()

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

// family is one metric name with its series, keyed by label set.
type family struct {
	name    string
	help    string
	kind    kind
	buckets []float64 // histograms only, ascending, ending in +Inf
	series  map[string]any
}

// Registry owns metric families. Lookups are idempotent: asking twice for
// the same name and labels returns the same series.
type Registry struct {
	mu       sync.Mutex
	families map[string]*family
	start    time.Time
}

func NewRegistry() *Registry {
	return &Registry{families: make(map[string]*family), start: time.Now()}
}

// Uptime is the time since the registry was created.
func (r *Registry) Uptime() time.Duration {
	return time.Since(r.start)
}

// Counter only goes up.
type Counter struct{ v atomic.Int64 }

func (c *Counter) Inc()         { c.v.Add(1) }
func (c *Counter) Add(n int64)  { c.v.Add(n) }
func (c *Counter) Value() int64 { return c.v.Load() }

// Gauge tracks a level, such as events in flight.
type Gauge struct{ v atomic.Int64 }

func (g *Gauge) Inc()         { g.v.Add(1) }
func (g *Gauge) Dec()         { g.v.Add(-1) }
func (g *Gauge) Value() int64 { return g.v.Load() }

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []int64
	count  int64
	sum    float64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// series returns the series for labels in family name, creating both on
// first use. A name reused with another kind panics: that is a wiring bug.
func (r *Registry) series(name, help string, k kind, buckets []float64, labels string, create func(*family) any) any {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.families[name]
	if !ok {
		f = &family{name: name, help: help, kind: k, series: make(map[string]any)}
		if k == kindHistogram {
			f.buckets = normalizeBuckets(buckets)
		}
		r.families[name] = f
	}
	if f.kind != k {
		panic(fmt.Sprintf("metrics: %s registered as %s, requested as %s", name, f.kind, k))
	}
	s, ok := f.series[labels]
	if !ok {
		s = create(f)
		f.series[labels] = s
	}
	return s
}

// Counter returns the counter name{labels}. labels is the rendered label
// list without braces, e.g. `status="replied"`.
func (r *Registry) Counter(name, help, labels string) *Counter {
	return r.series(name, help, kindCounter, nil, labels, func(*family) any { return &Counter{} }).(*Counter)
}

func (r *Registry) Gauge(name, help, labels string) *Gauge {
	return r.series(name, help, kindGauge, nil, labels, func(*family) any { return &Gauge{} }).(*Gauge)
}

// Histogram returns the histogram name{labels}. The buckets of the first
// call win for the whole family.
func (r *Registry) Histogram(name, help, labels string, buckets []float64) *Histogram {
	return r.series(name, help, kindHistogram, buckets, labels, func(f *family) any {
		return &Histogram{bounds: f.buckets, counts: make([]int64, len(f.buckets))}
	}).(*Histogram)
}

func normalizeBuckets(in []float64) []float64 {
	b := slices.Clone(in)
	slices.Sort(b)
	b = slices.Compact(b)
	if len(b) == 0 || !math.IsInf(b[len(b)-1], 1) {
		b = append(b, math.Inf(1))
	}
	return b
}

// Handler serves every family, sorted by name and label set so that each
// family's series are contiguous.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.Render(w)
	}
}

// Render writes the registry in the text exposition format.
func (r *Registry) Render(w io.Writer) {
	fmt.Fprintf(w, "# HELP linechat_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(w, "# TYPE linechat_uptime_seconds gauge\n")
	fmt.Fprintf(w, "linechat_uptime_seconds %d\n", int64(r.Uptime().Seconds()))

	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.families))
	for name := range r.families {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		f := r.families[name]
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind)

		labelSets := make([]string, 0, len(f.series))
		for labels := range f.series {
			labelSets = append(labelSets, labels)
		}
		slices.Sort(labelSets)

		for _, labels := range labelSets {
			switch s := f.series[labels].(type) {
			case *Counter:
				fmt.Fprintf(w, "%s%s %d\n", f.name, braces(labels), s.Value())
			case *Gauge:
				fmt.Fprintf(w, "%s%s %d\n", f.name, braces(labels), s.Value())
			case *Histogram:
				writeHistogram(w, f.name, labels, s)
			}
		}
	}
}

func writeHistogram(w io.Writer, name, labels string, h *Histogram) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sep := ""
	if labels != "" {
		sep = ","
	}
	for i, le := range h.bounds {
		bound := fmt.Sprintf("%g", le)
		if math.IsInf(le, 1) {
			bound = "+Inf"
		}
		fmt.Fprintf(w, "%s_bucket{%s%sle=%q} %d\n", name, labels, sep, bound, h.counts[i])
	}
	fmt.Fprintf(w, "%s_sum%s %g\n", name, braces(labels), h.sum)
	fmt.Fprintf(w, "%s_count%s %d\n", name, braces(labels), h.count)
}

func braces(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

var (
	WebhookRequests     = Default.Counter("linechat_webhook_requests_total", "Webhook deliveries received", "")
	SignatureRejections = Default.Counter("linechat_signature_rejections_total", "Deliveries rejected for a missing or invalid X-Line-Signature", "")
	ModelRequests       = Default.Counter("linechat_model_requests_total", "Chat and image requests sent to the model backend", "")
	OCRRequests         = Default.Counter("linechat_ocr_requests_total", "Text extraction requests sent to Cloud Vision", "")
	InFlightEvents      = Default.Gauge("linechat_events_in_flight", "Events currently being processed", "")

	ModelLatency = Default.Histogram("linechat_model_latency_seconds", "Model backend latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
	OCRLatency = Default.Histogram("linechat_ocr_latency_seconds", "Cloud Vision latency in seconds", "",
		[]float64{0.1, 0.5, 1, 2, 5, 10})
)

// EventsTotal returns the counter of events that ended in status.
func EventsTotal(status string) *Counter {
	return Default.Counter("linechat_events_total", "Events processed by terminal status", `status="`+status+`"`)
}
