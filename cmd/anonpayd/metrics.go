// metrics.go - Metrics collection for the anonpay daemon
package main

import (
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"anonpay/internal/ledger"
	"anonpay/internal/witness"
)

const metricsNamespace = "anonpay"

// MetricType represents the type of metric
type MetricType string

const (
	Counter   MetricType = "counter"
	Gauge     MetricType = "gauge"
	Histogram MetricType = "histogram"
)

// durationBuckets covers proof times from milliseconds up to a minute.
var durationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}

// Metric represents a single metric. For histograms Value is the sum of observations.
type Metric struct {
	Name   string            `json:"name"`
	Type   MetricType        `json:"type"`
	Value  float64           `json:"value"`
	Labels map[string]string `json:"labels,omitempty"`
}

// HistogramSummary condenses one histogram.
type HistogramSummary struct {
	Count   int                `json:"count"`
	Sum     float64            `json:"sum"`
	Avg     float64            `json:"avg"`
	Buckets map[string]float64 `json:"buckets,omitempty"`
}

// Summary is a point-in-time view of every metric.
type Summary struct {
	Counters   map[string]int64            `json:"counters"`
	Gauges     map[string]float64          `json:"gauges"`
	Histograms map[string]HistogramSummary `json:"histograms"`
}

// MetricsCollector keeps the daemon's metrics in a private Prometheus registry.
// Vectors are created on first use, with the label names of that first use.
type MetricsCollector struct {
	mu         sync.Mutex
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{}
	mc.Reset()
	return mc
}

// Registry returns the registry backing the collector.
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.registry
}

// AddCounter adds delta to a counter metric. Counters only grow; negative deltas are ignored.
func (mc *MetricsCollector) AddCounter(name string, delta int64, labels map[string]string) {
	if delta < 0 {
		return
	}
	mc.mu.Lock()
	vec, ok := mc.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help(name),
		}, labelNames(labels))
		mc.registry.MustRegister(vec)
		mc.counters[name] = vec
	}
	mc.mu.Unlock()

	if c, err := vec.GetMetricWith(labels); err == nil {
		c.Add(float64(delta))
	}
}

// IncrementCounter increments a counter metric
func (mc *MetricsCollector) IncrementCounter(name string, labels map[string]string) {
	mc.AddCounter(name, 1, labels)
}

// SetGauge sets a gauge metric value
func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	vec, ok := mc.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help(name),
		}, labelNames(labels))
		mc.registry.MustRegister(vec)
		mc.gauges[name] = vec
	}
	mc.mu.Unlock()

	if g, err := vec.GetMetricWith(labels); err == nil {
		g.Set(value)
	}
}

// RecordHistogram records a value in a histogram
func (mc *MetricsCollector) RecordHistogram(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	vec, ok := mc.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help(name),
			Buckets:   durationBuckets,
		}, labelNames(labels))
		mc.registry.MustRegister(vec)
		mc.histograms[name] = vec
	}
	mc.mu.Unlock()

	if h, err := vec.GetMetricWith(labels); err == nil {
		h.Observe(value)
	}
}

// GetMetric retrieves a metric by name and labels
func (mc *MetricsCollector) GetMetric(name string, labels map[string]string) *Metric {
	key := makeKey(name, labels)
	for _, m := range mc.gather() {
		if makeKey(m.Name, m.Labels) == key {
			return m
		}
	}
	return nil
}

// GetAllMetrics returns all collected metrics, ordered by key
func (mc *MetricsCollector) GetAllMetrics() []*Metric {
	out := mc.gather()
	slices.SortFunc(out, func(a, b *Metric) int {
		return strings.Compare(makeKey(a.Name, a.Labels), makeKey(b.Name, b.Labels))
	})
	return out
}

// GetMetricsSummary returns a summary of all metrics, keyed by makeKey.
func (mc *MetricsCollector) GetMetricsSummary() Summary {
	s := Summary{
		Counters:   make(map[string]int64),
		Gauges:     make(map[string]float64),
		Histograms: make(map[string]HistogramSummary),
	}
	mc.walk(func(name string, labels map[string]string, typ dto.MetricType, m *dto.Metric) {
		key := makeKey(name, labels)
		switch typ {
		case dto.MetricType_COUNTER:
			s.Counters[key] = int64(m.GetCounter().GetValue())
		case dto.MetricType_GAUGE:
			s.Gauges[key] = m.GetGauge().GetValue()
		case dto.MetricType_HISTOGRAM:
			h := m.GetHistogram()
			hs := HistogramSummary{
				Count:   int(h.GetSampleCount()),
				Sum:     h.GetSampleSum(),
				Buckets: make(map[string]float64, len(h.GetBucket())),
			}
			if hs.Count > 0 {
				hs.Avg = hs.Sum / float64(hs.Count)
			}
			for _, b := range h.GetBucket() {
				hs.Buckets[formatBound(b.GetUpperBound())] = float64(b.GetCumulativeCount())
			}
			s.Histograms[key] = hs
		}
	})
	return s
}

// Reset drops every metric by starting a fresh registry.
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.registry = prometheus.NewRegistry()
	mc.counters = make(map[string]*prometheus.CounterVec)
	mc.gauges = make(map[string]*prometheus.GaugeVec)
	mc.histograms = make(map[string]*prometheus.HistogramVec)
}

func (mc *MetricsCollector) gather() []*Metric {
	var out []*Metric
	mc.walk(func(name string, labels map[string]string, typ dto.MetricType, m *dto.Metric) {
		metric := &Metric{Name: name, Labels: labels}
		switch typ {
		case dto.MetricType_COUNTER:
			metric.Type, metric.Value = Counter, m.GetCounter().GetValue()
		case dto.MetricType_GAUGE:
			metric.Type, metric.Value = Gauge, m.GetGauge().GetValue()
		case dto.MetricType_HISTOGRAM:
			metric.Type, metric.Value = Histogram, m.GetHistogram().GetSampleSum()
		default:
			return
		}
		out = append(out, metric)
	})
	return out
}

// walk visits every gathered sample with its namespace stripped from the name.
func (mc *MetricsCollector) walk(fn func(name string, labels map[string]string, typ dto.MetricType, m *dto.Metric)) {
	families, err := mc.Registry().Gather()
	if err != nil {
		return
	}
	for _, fam := range families {
		name := strings.TrimPrefix(fam.GetName(), metricsNamespace+"_")
		for _, m := range fam.GetMetric() {
			var labels map[string]string
			if len(m.GetLabel()) > 0 {
				labels = make(map[string]string, len(m.GetLabel()))
				for _, lp := range m.GetLabel() {
					labels[lp.GetName()] = lp.GetValue()
				}
			}
			fn(name, labels, fam.GetType(), m)
		}
	}
}

// makeKey creates a deterministic key for a metric name and labels.
func makeKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		b.WriteString("_" + k + "_" + labels[k])
	}
	return b.String()
}

func labelNames(labels map[string]string) []string {
	return slices.Sorted(maps.Keys(labels))
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func help(name string) string {
	if h, ok := metricHelp[name]; ok {
		return h
	}
	return strings.ReplaceAll(name, "_", " ")
}

// Predefined metric names
const (
	MetricProofGenerationTime   = "proof_generation_time"
	MetricProofVerificationTime = "proof_verification_time"
	MetricJoinSplitCount        = "joinsplit_count"
	MetricDoubleSpendCount      = "double_spend_count"
	MetricRejectedCount         = "rejected_count"
	MetricWitnessCacheHits      = "witness_cache_hits"
	MetricWitnessCacheMisses    = "witness_cache_misses"
	MetricWitnessCacheEntries   = "witness_cache_entries"
	MetricAccumulatorSize       = "accumulator_size"
	MetricAccumulatorEpoch      = "accumulator_epoch"
	MetricErrorCount            = "error_count"
)

var metricHelp = map[string]string{
	MetricProofGenerationTime:   "Time taken to construct one JoinSplit, in seconds",
	MetricProofVerificationTime: "Time taken to verify one JoinSplit, in seconds",
	MetricJoinSplitCount:        "Total number of JoinSplits recorded",
	MetricDoubleSpendCount:      "JoinSplits rejected for a spent serial",
	MetricRejectedCount:         "JoinSplits rejected for any reason",
	MetricWitnessCacheHits:      "Witness cache hits",
	MetricWitnessCacheMisses:    "Witness cache misses",
	MetricWitnessCacheEntries:   "Witnesses currently cached",
	MetricAccumulatorSize:       "Commitments in the accumulator",
	MetricAccumulatorEpoch:      "Current accumulator epoch",
	MetricErrorCount:            "Errors by type",
}

// RecordProofGeneration records the time spent constructing one JoinSplit.
func (mc *MetricsCollector) RecordProofGeneration(level string, duration time.Duration) {
	mc.RecordHistogram(MetricProofGenerationTime, duration.Seconds(), map[string]string{"level": level})
}

// RecordProofVerification records the time spent verifying one JoinSplit.
func (mc *MetricsCollector) RecordProofVerification(level string, duration time.Duration) {
	mc.RecordHistogram(MetricProofVerificationTime, duration.Seconds(), map[string]string{"level": level})
}

func (mc *MetricsCollector) RecordJoinSplit(inputs, outputs int) {
	mc.IncrementCounter(MetricJoinSplitCount, nil)
	mc.SetGauge("last_joinsplit_inputs", float64(inputs), nil)
	mc.SetGauge("last_joinsplit_outputs", float64(outputs), nil)
}

func (mc *MetricsCollector) RecordError(errorType string) {
	mc.IncrementCounter(MetricErrorCount, map[string]string{"type": errorType})
}

// ObserveWitnessCache copies the witness cache counters into gauges.
func (mc *MetricsCollector) ObserveWitnessCache(st witness.Stats) {
	mc.SetGauge(MetricWitnessCacheHits, float64(st.Hits), nil)
	mc.SetGauge(MetricWitnessCacheMisses, float64(st.Misses), nil)
	mc.SetGauge(MetricWitnessCacheEntries, float64(st.Entries), nil)
}

// ObserveLedger copies the ledger counters and accumulator shape into gauges.
func (mc *MetricsCollector) ObserveLedger(l *ledger.Ledger) {
	st := l.Stats()
	snap := l.Snapshot()
	mc.SetGauge(MetricDoubleSpendCount, float64(st.DoubleSpends), nil)
	mc.SetGauge(MetricRejectedCount, float64(st.Rejected), nil)
	mc.SetGauge(MetricAccumulatorSize, float64(snap.Size), nil)
	mc.SetGauge(MetricAccumulatorEpoch, float64(snap.Epoch), nil)
}
