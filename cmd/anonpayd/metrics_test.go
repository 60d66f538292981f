package main

import (
	"testing"
	"time"
)

func TestMetricKeysAreOrderIndependent(t *testing.T) {
	a := makeKey("m", map[string]string{"level": "standard", "kind": "proof"})
	b := makeKey("m", map[string]string{"kind": "proof", "level": "standard"})
	if a != b {
		t.Fatalf("keys differ: %q vs %q", a, b)
	}
	if got := makeKey("m", nil); got != "m" {
		t.Errorf("makeKey without labels = %q", got)
	}
}

func TestMetricsSummary(t *testing.T) {
	mc := NewMetricsCollector()
	mc.IncrementCounter(MetricJoinSplitCount, nil)
	mc.AddCounter(MetricJoinSplitCount, 2, nil)
	mc.AddCounter(MetricJoinSplitCount, -5, nil)
	mc.SetGauge(MetricAccumulatorSize, 42, nil)
	const n = 100
	for i := 1; i <= n; i++ {
		mc.RecordProofVerification("enhanced", time.Duration(i)*time.Second)
	}

	s := mc.GetMetricsSummary()
	if got := s.Counters[MetricJoinSplitCount]; got != 3 {
		t.Errorf("counter = %d, want 3", got)
	}
	if got := s.Gauges[MetricAccumulatorSize]; got != 42 {
		t.Errorf("gauge = %v, want 42", got)
	}

	h := s.Histograms[makeKey(MetricProofVerificationTime, map[string]string{"level": "enhanced"})]
	if h.Count != n {
		t.Errorf("histogram count %d, want %d", h.Count, n)
	}
	if h.Sum != n*(n+1)/2 || h.Avg != float64(n+1)/2 {
		t.Errorf("histogram sum %v avg %v", h.Sum, h.Avg)
	}
	if h.Buckets["10"] != 10 || h.Buckets["60"] != 60 {
		t.Errorf("cumulative buckets %v", h.Buckets)
	}

	m := mc.GetMetric(MetricAccumulatorSize, nil)
	if m == nil || m.Type != Gauge || m.Value != 42 {
		t.Errorf("GetMetric = %+v", m)
	}
	all := mc.GetAllMetrics()
	if len(all) != 3 {
		t.Fatalf("GetAllMetrics returned %d metrics, want 3", len(all))
	}
	if all[0].Name != MetricAccumulatorSize || all[2].Name != MetricProofVerificationTime {
		t.Errorf("metrics out of key order: %s, %s", all[0].Name, all[2].Name)
	}

	mc.Reset()
	if n := len(mc.GetAllMetrics()); n != 0 {
		t.Errorf("after Reset: %d metrics", n)
	}
}

func TestMetricsAreExportedUnderNamespace(t *testing.T) {
	mc := NewMetricsCollector()
	mc.RecordError("payment")
	families, err := mc.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(families) != 1 || families[0].GetName() != "anonpay_error_count" {
		t.Fatalf("gathered %v", families)
	}
	if got := mc.GetMetricsSummary().Counters[makeKey(MetricErrorCount, map[string]string{"type": "payment"})]; got != 1 {
		t.Errorf("error counter = %d", got)
	}
}
