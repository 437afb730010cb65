// Copyright 2025 Joseph Cumines
//
// Tool call metrics

package server

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/joeycumines/apple-mcp/internal/guard"
)

// Metric names.
const (
	MetricToolCalls    = "apple_mcp_tool_calls_total"
	MetricToolDuration = "apple_mcp_tool_call_duration_seconds"
	MetricGuardFrames  = "apple_mcp_guard_frames"
)

// Metrics collects tool call counts and latencies, and output guard
// counters, and renders them in Prometheus text format. It is safe for
// concurrent use.
type Metrics struct {
	counters   map[string]*counter
	histograms map[string]*histogram
	gauges     map[string]*gauge
	mu         sync.RWMutex
}

// counter is monotonically increasing, keyed by rendered label set.
type counter struct {
	values map[string]uint64
}

type histogram struct {
	counts  map[string][]uint64
	sums    map[string]float64
	totals  map[string]uint64
	buckets []float64
}

type gauge struct {
	values map[string]float64
}

// toolLatencyBuckets are upper bounds in seconds.
var toolLatencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics returns a registry with every metric registered.
func NewMetrics() *Metrics {
	return &Metrics{
		counters: map[string]*counter{
			MetricToolCalls: {values: make(map[string]uint64)},
		},
		histograms: map[string]*histogram{
			MetricToolDuration: {
				buckets: toolLatencyBuckets,
				counts:  make(map[string][]uint64),
				sums:    make(map[string]float64),
				totals:  make(map[string]uint64),
			},
		},
		gauges: map[string]*gauge{
			MetricGuardFrames: {values: make(map[string]float64)},
		},
	}
}

// RecordToolCall records one tools/call outcome.
func (m *Metrics) RecordToolCall(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters[MetricToolCalls].values[labels("tool", tool, "status", status)]++

	h := m.histograms[MetricToolDuration]
	key := labels("tool", tool)
	if _, ok := h.counts[key]; !ok {
		h.counts[key] = make([]uint64, len(h.buckets)+1)
	}
	v := d.Seconds()
	h.sums[key] += v
	h.totals[key]++
	i := sort.SearchFloat64s(h.buckets, v)
	h.counts[key][i]++
}

// SetGuardStats records the output guard's frame counters.
func (m *Metrics) SetGuardStats(s guard.Stats) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.gauges[MetricGuardFrames]
	g.values[labels("outcome", "passed")] = float64(s.Passed)
	g.values[labels("outcome", "suppressed")] = float64(s.Suppressed)
	g.values[labels("outcome", "truncated")] = float64(s.Truncated)
	g.values[labels("outcome", "oversized")] = float64(s.Oversized)
}

// ToolCalls returns the call count for tool and status.
func (m *Metrics) ToolCalls(tool, status string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[MetricToolCalls].values[labels("tool", tool, "status", status)]
}

// WritePrometheus writes every metric in Prometheus text format.
func (m *Metrics) WritePrometheus(w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var b strings.Builder

	for _, name := range sortedKeys(m.counters) {
		c := m.counters[name]
		fmt.Fprintf(&b, "# TYPE %s counter\n", name)
		for _, l := range sortedKeys(c.values) {
			fmt.Fprintf(&b, "%s%s %d\n", name, braced(l), c.values[l])
		}
	}

	for _, name := range sortedKeys(m.gauges) {
		g := m.gauges[name]
		fmt.Fprintf(&b, "# TYPE %s gauge\n", name)
		for _, l := range sortedKeys(g.values) {
			fmt.Fprintf(&b, "%s%s %g\n", name, braced(l), g.values[l])
		}
	}

	for _, name := range sortedKeys(m.histograms) {
		h := m.histograms[name]
		fmt.Fprintf(&b, "# TYPE %s histogram\n", name)
		for _, l := range sortedKeys(h.counts) {
			prefix := ""
			if l != "" {
				prefix = l + ","
			}
			var cumulative uint64
			for i, bound := range h.buckets {
				cumulative += h.counts[l][i]
				fmt.Fprintf(&b, "%s_bucket{%sle=\"%g\"} %d\n", name, prefix, bound, cumulative)
			}
			fmt.Fprintf(&b, "%s_bucket{%sle=\"+Inf\"} %d\n", name, prefix, h.totals[l])
			fmt.Fprintf(&b, "%s_sum%s %g\n", name, braced(l), h.sums[l])
			fmt.Fprintf(&b, "%s_count%s %d\n", name, braced(l), h.totals[l])
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteFile replaces path with the current metrics.
func (m *Metrics) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := m.WritePrometheus(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// labels renders key/value pairs as a Prometheus label set body.
func labels(kv ...string) string {
	parts := make([]string, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		parts = append(parts, fmt.Sprintf("%s=%q", kv[i], kv[i+1]))
	}
	return strings.Join(parts, ",")
}

func braced(l string) string {
	if l == "" {
		return ""
	}
	return "{" + l + "}"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
