package dispatch

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kilianp07/ebusdepot/core/model"
	"github.com/kilianp07/ebusdepot/infra/logger"
)

func TestMetricsRegistration(t *testing.T) {
	ResetMetrics(nil)
	t.Cleanup(func() { ResetMetrics(nil) })
	reg := prometheus.NewRegistry()
	MustRegisterMetrics(reg)
	matchCycles.Inc()
	matchLatency.Observe(0.001)
	decisionsTotal.WithLabelValues("assign").Inc()
	unmatchedChecks.Inc()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := map[string]bool{}
	for _, mf := range mfs {
		names[*mf.Name] = true
	}
	expected := []string{
		"depot_match_cycle_seconds",
		"depot_match_cycles_total",
		"depot_dispatch_decisions_total",
		"depot_match_no_candidate_total",
	}
	for _, n := range expected {
		if !names[n] {
			t.Errorf("metric %s not registered", n)
		}
	}
}

func TestMatchUpdatesMetrics(t *testing.T) {
	ResetMetrics(prometheus.NewRegistry())
	t.Cleanup(func() { ResetMetrics(nil) })

	m := NewMatcher(Config{}, nil, logger.NopLogger{})
	r := Round{
		Now: 0,
		Trips: []model.Trip{
			{ID: "t1", Departure: 100, VehicleTypes: []string{"EB"}, MinSoC: 0.5},
			{ID: "t2", Departure: 200, VehicleTypes: []string{"XL"}, MinSoC: 0.5},
		},
		Candidates: []Candidate{{VehicleID: "v1", Type: "EB"}},
	}
	decisions := m.Match(r, staticProjector{"v1": {SoC: 1}})
	if len(decisions) != 1 {
		t.Fatalf("expected one decision, got %d", len(decisions))
	}
	if v := testutil.ToFloat64(matchCycles); v != 1 {
		t.Errorf("cycles = %v", v)
	}
	if v := testutil.ToFloat64(decisionsTotal.WithLabelValues("assign")); v != 1 {
		t.Errorf("assign decisions = %v", v)
	}
	if v := testutil.ToFloat64(unmatchedChecks); v != 1 {
		t.Errorf("no candidate = %v", v)
	}
}
