// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector. It renders the text exposition format directly.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	counters   sync.Map // name -> *Counter
	gauges     sync.Map // name -> *Gauge
	histograms sync.Map // name -> *Histogram
	startTime  time.Time
}

// NewMetricsCollector creates a new collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter only goes up.
type Counter struct {
	desc
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge holds a level that moves both ways.
type Gauge struct {
	desc
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	desc
	mu     sync.Mutex
	bounds []float64
	counts []int64
	count  int64
	sum    float64
}

// Observe records v.
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

// desc identifies one series: a metric family name plus a rendered label set.
type desc struct {
	name   string
	help   string
	labels string
}

func (d desc) key() string { return d.name + "{" + d.labels + "}" }

func (d desc) series(suffix string) string {
	if d.labels == "" {
		return d.name + suffix
	}
	return d.name + suffix + "{" + d.labels + "}"
}

func register[T any](m *sync.Map, key string, build func() *T) *T {
	if v, ok := m.Load(key); ok {
		return v.(*T)
	}
	actual, _ := m.LoadOrStore(key, build())
	return actual.(*T)
}

// Counter returns the counter for name and labels, creating it on first use.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	d := desc{name, help, labels}
	return register(&c.counters, d.key(), func() *Counter { return &Counter{desc: d} })
}

// Gauge returns the gauge for name and labels, creating it on first use.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	d := desc{name, help, labels}
	return register(&c.gauges, d.key(), func() *Gauge { return &Gauge{desc: d} })
}

// Histogram returns the histogram for name and labels. Buckets are only read
// on first use; +Inf is always implied.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	d := desc{name, help, labels}
	return register(&c.histograms, d.key(), func() *Histogram {
		bounds := make([]float64, 0, len(buckets))
		for _, b := range buckets {
			if !math.IsInf(b, 1) {
				bounds = append(bounds, b)
			}
		}
		sort.Float64s(bounds)
		return &Histogram{desc: d, bounds: bounds, counts: make([]int64, len(bounds))}
	})
}

// Handler serves Render as text/plain.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, c.Render())
	}
}

// Render writes every series in the Prometheus text exposition format,
// families sorted by name.
func (c *MetricsCollector) Render() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP ltlive_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE ltlive_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "ltlive_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

	renderFamily(&sb, &c.counters, "counter", func(ctr *Counter) {
		fmt.Fprintf(&sb, "%s %d\n", ctr.series(""), ctr.Value())
	})
	renderFamily(&sb, &c.gauges, "gauge", func(g *Gauge) {
		fmt.Fprintf(&sb, "%s %d\n", g.series(""), g.Value())
	})
	renderFamily(&sb, &c.histograms, "histogram", func(h *Histogram) {
		h.writeTo(&sb)
	})
	return sb.String()
}

type described interface{ descriptor() desc }

func (d desc) descriptor() desc { return d }

// renderFamily writes one HELP/TYPE header per metric name followed by
// each of its series.
func renderFamily[T any](sb *strings.Builder, m *sync.Map, kind string, line func(*T)) {
	keys := []string{}
	byKey := map[string]*T{}
	m.Range(func(k, v any) bool {
		keys = append(keys, k.(string))
		byKey[k.(string)] = v.(*T)
		return true
	})
	sort.Strings(keys)

	last := ""
	for _, k := range keys {
		metric := byKey[k]
		d := any(metric).(described).descriptor()
		if d.name != last {
			fmt.Fprintf(sb, "# HELP %s %s\n", d.name, d.help)
			fmt.Fprintf(sb, "# TYPE %s %s\n", d.name, kind)
			last = d.name
		}
		line(metric)
	}
}

func (h *Histogram) writeTo(sb *strings.Builder) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prefix := ""
	if h.labels != "" {
		prefix = h.labels + ","
	}
	for i, le := range h.bounds {
		fmt.Fprintf(sb, "%s_bucket{%sle=\"%g\"} %d\n", h.name, prefix, le, h.counts[i])
	}
	fmt.Fprintf(sb, "%s_bucket{%sle=\"+Inf\"} %d\n", h.name, prefix, h.count)
	fmt.Fprintf(sb, "%s %d\n", h.series("_count"), h.count)
	fmt.Fprintf(sb, "%s %f\n", h.series("_sum"), h.sum)
}

// --- Pre-defined metrics used across the application ---

var (
	CommandsDenied       = Collector.Counter("ltlive_commands_denied_total", "Total commands rejected by the authorizer", "")
	OverlayEventsDropped = Collector.Counter("ltlive_overlay_events_dropped_total", "Overlay events discarded because the queue was full", "")
	TweetsTotal          = Collector.Counter("ltlive_tweets_total", "Announcement posts published", "")
	TimelineMessages     = Collector.Counter("ltlive_timeline_messages_total", "Chat messages forwarded to the overlay timeline", "")
	SourceRestarts       = Collector.Counter("ltlive_source_restarts_total", "Listener restarts after a failure", "")
	QueueLength          = Collector.Gauge("ltlive_queue_length", "Presentations waiting in the queue", "")
	OverlayClients       = Collector.Gauge("ltlive_overlay_clients", "Connected overlay websocket clients", "")

	AnnounceLatency = Collector.Histogram("ltlive_announce_latency_seconds", "Announcement post latency in seconds", "",
		[]float64{0.25, 0.5, 1, 2, 5, 10})
)

// CommandsTotal returns the dispatch counter for one command name.
func CommandsTotal(command string) *Counter {
	return Collector.Counter("ltlive_commands_total", "Total staff commands dispatched", fmt.Sprintf("command=%q", command))
}
