// Package metrics provides simple metrics collection for dbcp pools.
// Supports Prometheus exposition format for monitoring integration.
//
// Each data source owns its own Registry, so several pools can live in one
// process without sharing counters. Registries carry constant labels (usually
// the pool name) that are attached to every exposed sample.
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

// DefaultLatencyBuckets are histogram buckets in seconds suited to
// connection acquisition and statement execution latencies.
var DefaultLatencyBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30}

// Counter is a monotonically increasing counter.
type Counter struct {
	value uint64
	name  string
	help  string
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	atomic.AddUint64(&c.value, 1)
}

// Add adds the given value to the counter.
func (c *Counter) Add(v uint64) {
	atomic.AddUint64(&c.value, v)
}

// Value returns the current counter value.
func (c *Counter) Value() uint64 {
	return atomic.LoadUint64(&c.value)
}

func (c *Counter) prometheus(labels string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# HELP %s %s\n", c.name, c.help))
	sb.WriteString(fmt.Sprintf("# TYPE %s counter\n", c.name))
	sb.WriteString(fmt.Sprintf("%s%s %d\n", c.name, wrapLabels(labels), c.Value()))
	return sb.String()
}

// CounterFunc is a counter whose value is read from a callback at exposition
// time. Use it for counters maintained elsewhere with atomics.
type CounterFunc struct {
	name string
	help string
	fn   func() uint64
}

// Value returns the current value reported by the callback.
func (c *CounterFunc) Value() uint64 {
	return c.fn()
}

func (c *CounterFunc) prometheus(labels string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# HELP %s %s\n", c.name, c.help))
	sb.WriteString(fmt.Sprintf("# TYPE %s counter\n", c.name))
	sb.WriteString(fmt.Sprintf("%s%s %d\n", c.name, wrapLabels(labels), c.Value()))
	return sb.String()
}

// Gauge is a metric that can go up and down.
type Gauge struct {
	value int64
	name  string
	help  string
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) {
	atomic.StoreInt64(&g.value, v)
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	atomic.AddInt64(&g.value, 1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	atomic.AddInt64(&g.value, -1)
}

// Add adds the given value to the gauge.
func (g *Gauge) Add(v int64) {
	atomic.AddInt64(&g.value, v)
}

// Value returns the current gauge value.
func (g *Gauge) Value() int64 {
	return atomic.LoadInt64(&g.value)
}

func (g *Gauge) prometheus(labels string) string {
	return gaugeText(g.name, g.help, labels, g.Value())
}

// GaugeFunc is a gauge whose value is computed at exposition time.
type GaugeFunc struct {
	name string
	help string
	fn   func() int64
}

// Value returns the current value reported by the callback.
func (g *GaugeFunc) Value() int64 {
	return g.fn()
}

func (g *GaugeFunc) prometheus(labels string) string {
	return gaugeText(g.name, g.help, labels, g.Value())
}

func gaugeText(name, help, labels string, v int64) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# HELP %s %s\n", name, help))
	sb.WriteString(fmt.Sprintf("# TYPE %s gauge\n", name))
	sb.WriteString(fmt.Sprintf("%s%s %d\n", name, wrapLabels(labels), v))
	return sb.String()
}

// Histogram tracks the distribution of values.
type Histogram struct {
	mu      sync.Mutex
	name    string
	help    string
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

// Observe records a value in the histogram.
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

// ObserveDuration records d in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Histogram) prometheus(labels string) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# HELP %s %s\n", h.name, h.help))
	sb.WriteString(fmt.Sprintf("# TYPE %s histogram\n", h.name))

	prefix := labels
	if prefix != "" {
		prefix += ","
	}
	for i, b := range h.buckets {
		sb.WriteString(fmt.Sprintf("%s_bucket{%sle=\"%g\"} %d\n", h.name, prefix, b, h.counts[i]))
	}
	sb.WriteString(fmt.Sprintf("%s_bucket{%sle=\"+Inf\"} %d\n", h.name, prefix, h.count))
	sb.WriteString(fmt.Sprintf("%s_sum%s %g\n", h.name, wrapLabels(labels), h.sum))
	sb.WriteString(fmt.Sprintf("%s_count%s %d\n", h.name, wrapLabels(labels), h.count))

	return sb.String()
}

// metric is the interface for all metric types.
type metric interface {
	prometheus(labels string) string
}

// Registry holds the metrics of one data source.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]metric
	labels  string
}

// NewRegistry creates an empty registry. labels are attached to every sample.
func NewRegistry(labels map[string]string) *Registry {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%q", k, labels[k]))
	}

	return &Registry{
		metrics: make(map[string]metric),
		labels:  strings.Join(pairs, ","),
	}
}

// NewCounter creates and registers a counter metric.
func (r *Registry) NewCounter(name, help string) *Counter {
	c := &Counter{name: name, help: help}
	r.register(name, c)
	return c
}

// NewGauge creates and registers a gauge metric.
func (r *Registry) NewGauge(name, help string) *Gauge {
	g := &Gauge{name: name, help: help}
	r.register(name, g)
	return g
}

// NewGaugeFunc registers a gauge read from fn on every exposition.
func (r *Registry) NewGaugeFunc(name, help string, fn func() int64) *GaugeFunc {
	g := &GaugeFunc{name: name, help: help, fn: fn}
	r.register(name, g)
	return g
}

// NewCounterFunc registers a counter read from fn on every exposition.
func (r *Registry) NewCounterFunc(name, help string, fn func() uint64) *CounterFunc {
	c := &CounterFunc{name: name, help: help, fn: fn}
	r.register(name, c)
	return c
}

// NewHistogram creates and registers a histogram metric.
func (r *Registry) NewHistogram(name, help string, buckets []float64) *Histogram {
	h := &Histogram{
		name:    name,
		help:    help,
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
	r.register(name, h)
	return h
}

func (r *Registry) register(name string, m metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[name] = m
}

// Unregister removes a metric by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.metrics, name)
}

// Len returns the number of registered metrics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.metrics)
}

// Expose returns all metrics in Prometheus exposition format.
func (r *Registry) Expose() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Sort names for consistent output
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		sb.WriteString(r.metrics[name].prometheus(r.labels))
		sb.WriteString("\n")
	}
	return sb.String()
}

// Handler returns an http.Handler that exposes the registry.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(r.Expose()))
	})
}

func wrapLabels(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}
