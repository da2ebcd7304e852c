package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	matchLatency    prometheus.Histogram
	matchCycles     prometheus.Counter
	decisionsTotal  *prometheus.CounterVec
	unmatchedChecks prometheus.Counter
)

// newCollectors creates new metric collectors.
func newCollectors() (prometheus.Histogram, prometheus.Counter, *prometheus.CounterVec, prometheus.Counter) {
	lat := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "depot_match_cycle_seconds",
		Help:    "Wall-clock duration of one match cycle",
		Buckets: prometheus.ExponentialBuckets(1e-5, 4, 8),
	})
	cycles := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "depot_match_cycles_total",
		Help: "Number of match cycles run",
	})
	dec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "depot_dispatch_decisions_total",
		Help: "Trip assignments by kind",
	}, []string{"kind"})
	none := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "depot_match_no_candidate_total",
		Help: "Trips left without a candidate in a match cycle",
	})
	return lat, cycles, dec, none
}

func init() {
	matchLatency, matchCycles, decisionsTotal, unmatchedChecks = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers matcher metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(matchLatency, matchCycles, decisionsTotal, unmatchedChecks)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	matchLatency, matchCycles, decisionsTotal, unmatchedChecks = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}

func decisionKind(o option) string {
	switch {
	case o.steal:
		return "reassign"
	case o.partial:
		return "partial"
	default:
		return "assign"
	}
}
