// Package metrics provides Prometheus-compatible metrics for screenguard.
//
// Features:
//   - Counters and gauges with fixed label sets
//   - Histograms with cumulative bucket exposition
//   - Text exposition and JSON snapshots over HTTP
//   - Thread-safe operations
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType represents the type of metric.
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

// String returns the exposition name of the metric type.
func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	default:
		return "untyped"
	}
}

// Labels represents metric labels.
type Labels map[string]string

// String renders labels in exposition order, e.g. {a="1",b="2"}.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(l))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`%s=%q`, k, l[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// inner renders labels without the surrounding braces.
func (l Labels) inner() string {
	s := l.String()
	if s == "" {
		return ""
	}
	return s[1 : len(s)-1]
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels Labels
	value  atomic.Uint64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add adds v to the counter.
func (c *Counter) Add(v uint64) { c.value.Add(v) }

// Value returns the current value.
func (c *Counter) Value() uint64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels Labels
	value  atomic.Int64
}

// Set sets the gauge.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.value.Add(-1) }

// Value returns the current value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of values.
type Histogram struct {
	name    string
	help    string
	labels  Labels
	buckets []float64

	mu     sync.Mutex
	counts []uint64 // per bucket, last slot is +Inf
	sum    float64
	count  uint64
}

// DurationBuckets are buckets for touch durations, in seconds.
var DurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

func newHistogram(name, help string, labels Labels, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DurationBuckets
	}
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	return &Histogram{
		name:    name,
		help:    help,
		labels:  labels,
		buckets: sorted,
		counts:  make([]uint64, len(sorted)+1),
	}
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++
	// first bucket whose upper bound is >= v
	h.counts[sort.SearchFloat64s(h.buckets, v)]++
}

// ObserveDuration records a duration in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Sum returns the sum of observations.
func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// Registry holds all registered metrics.
type Registry struct {
	namespace string

	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// NewRegistry creates a registry whose metric names are prefixed with
// namespace.
func NewRegistry(namespace string) *Registry {
	return &Registry{
		namespace:  namespace,
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

func (r *Registry) fullName(name string) string {
	if r.namespace == "" {
		return name
	}
	return r.namespace + "_" + name
}

// Counter returns the counter with the given name and labels, registering
// it on first use.
func (r *Registry) Counter(name, help string, labels Labels) *Counter {
	full := r.fullName(name)
	key := full + labels.String()

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[key]; ok {
		return c
	}
	c := &Counter{name: full, help: help, labels: labels}
	r.counters[key] = c
	return c
}

// Gauge returns the gauge with the given name and labels, registering it on
// first use.
func (r *Registry) Gauge(name, help string, labels Labels) *Gauge {
	full := r.fullName(name)
	key := full + labels.String()

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[key]; ok {
		return g
	}
	g := &Gauge{name: full, help: help, labels: labels}
	r.gauges[key] = g
	return g
}

// Histogram returns the histogram with the given name and labels,
// registering it on first use. buckets is ignored after registration.
func (r *Registry) Histogram(name, help string, labels Labels, buckets []float64) *Histogram {
	full := r.fullName(name)
	key := full + labels.String()

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[key]; ok {
		return h
	}
	h := newHistogram(full, help, labels, buckets)
	r.histograms[key] = h
	return h
}

type family struct {
	name, help string
	typ        MetricType
	lines      []string
}

// WritePrometheus writes all metrics in the Prometheus text format, one
// HELP/TYPE header per metric name, sorted by name.
func (r *Registry) WritePrometheus(w io.Writer) error {
	r.mu.RLock()
	families := make(map[string]*family)
	get := func(name, help string, typ MetricType) *family {
		f, ok := families[name]
		if !ok {
			f = &family{name: name, help: help, typ: typ}
			families[name] = f
		}
		return f
	}

	for _, c := range r.counters {
		f := get(c.name, c.help, TypeCounter)
		f.lines = append(f.lines, fmt.Sprintf("%s%s %d", c.name, c.labels.String(), c.Value()))
	}
	for _, g := range r.gauges {
		f := get(g.name, g.help, TypeGauge)
		f.lines = append(f.lines, fmt.Sprintf("%s%s %d", g.name, g.labels.String(), g.Value()))
	}
	for _, h := range r.histograms {
		f := get(h.name, h.help, TypeHistogram)
		f.lines = append(f.lines, h.exposition()...)
	}
	r.mu.RUnlock()

	names := make([]string, 0, len(families))
	for n := range families {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		f := families[n]
		sort.Strings(f.lines)
		if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.typ); err != nil {
			return err
		}
		for _, line := range f.lines {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Histogram) exposition() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	prefix := h.labels.inner()
	if prefix != "" {
		prefix += ","
	}

	lines := make([]string, 0, len(h.buckets)+3)
	var cumulative uint64
	for i, b := range h.buckets {
		cumulative += h.counts[i]
		lines = append(lines, fmt.Sprintf(`%s_bucket{%sle="%g"} %d`, h.name, prefix, b, cumulative))
	}
	cumulative += h.counts[len(h.buckets)]
	lines = append(lines,
		fmt.Sprintf(`%s_bucket{%sle="+Inf"} %d`, h.name, prefix, cumulative),
		fmt.Sprintf("%s_sum%s %g", h.name, h.labels.String(), h.sum),
		fmt.Sprintf("%s_count%s %d", h.name, h.labels.String(), h.count),
	)
	return lines
}

// Snapshot returns current values keyed by name plus labels. Histograms
// contribute _count and _sum entries.
func (r *Registry) Snapshot() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := make(map[string]any, len(r.counters)+len(r.gauges)+2*len(r.histograms))
	for k, c := range r.counters {
		snap[k] = c.Value()
	}
	for k, g := range r.gauges {
		snap[k] = g.Value()
	}
	for _, h := range r.histograms {
		snap[h.name+"_count"+h.labels.String()] = h.Count()
		snap[h.name+"_sum"+h.labels.String()] = h.Sum()
	}
	return snap
}

// HTTPHandler serves the text format, or a JSON snapshot when the client
// asks for application/json.
func (r *Registry) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if strings.Contains(req.Header.Get("Accept"), "application/json") {
			w.Header().Set("Content-Type", "application/json")
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			enc.Encode(r.Snapshot())
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.WritePrometheus(w)
	})
}

// Server exposes a registry on /metrics.
type Server struct {
	srv    *http.Server
	mux    *http.ServeMux
	ln     net.Listener
	logger *slog.Logger
}

// Listen binds addr and returns a server ready to Serve.
func Listen(addr string, r *Registry, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", r.HTTPHandler())
	return &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		mux:    mux,
		ln:     ln,
		logger: logger,
	}, nil
}

// Handle mounts an extra handler, such as health probes. Call before Serve.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Serve blocks until Shutdown.
func (s *Server) Serve() error {
	s.logger.Info("metrics endpoint listening", "addr", s.Addr())
	if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
