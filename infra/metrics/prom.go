package metrics

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/ebusdepot/core/metrics"
)

// PromSink exposes depot simulation metrics to Prometheus.
type PromSink struct {
	gridPower   prometheus.Gauge
	gridLimit   prometheus.Gauge
	grants      *prometheus.GaugeVec
	occupancy   *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	unmet       *prometheus.CounterVec
	runs        *prometheus.GaugeVec
}

// NewPromSink registers depot metrics on the default Prometheus registerer.
// The HTTP endpoint is started separately with metrics.StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		gridPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "depot_grid_power_kw",
			Help: "Power drawn from the grid after the last allocation",
		}),
		gridLimit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "depot_grid_limit_kw",
			Help: "Current grid connection limit",
		}),
		grants: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "depot_vehicle_power_kw",
			Help: "Power granted per charging vehicle",
		}, []string{"vehicle_id"}),
		occupancy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "depot_area_occupancy",
			Help: "Occupied slots per area",
		}, []string{"area"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "depot_vehicle_transitions_total",
			Help: "Vehicle state transitions by target state",
		}, []string{"state"}),
		unmet: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "depot_trips_unmet_total",
			Help: "Trips that left without a vehicle",
		}, []string{"reason"}),
		runs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "depot_run_summary",
			Help: "Summary figures of the last finished run",
		}, []string{"run_id", "figure"}),
	}
	var err error
	if s.gridPower, err = register(reg, s.gridPower); err != nil {
		return nil, err
	}
	if s.gridLimit, err = register(reg, s.gridLimit); err != nil {
		return nil, err
	}
	if s.grants, err = register(reg, s.grants); err != nil {
		return nil, err
	}
	if s.occupancy, err = register(reg, s.occupancy); err != nil {
		return nil, err
	}
	if s.transitions, err = register(reg, s.transitions); err != nil {
		return nil, err
	}
	if s.unmet, err = register(reg, s.unmet); err != nil {
		return nil, err
	}
	if s.runs, err = register(reg, s.runs); err != nil {
		return nil, err
	}
	return s, nil
}

// register returns the collector already registered under the same name
// when there is one.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordPower sets the grid gauges and the per-vehicle grants. Vehicles
// that stopped charging are reset.
func (s *PromSink) RecordPower(p coremetrics.PowerSample) error {
	s.gridPower.Set(p.GridKW)
	s.gridLimit.Set(limitValue(p.LimitKW))
	s.grants.Reset()
	for id, kw := range p.Vehicles {
		s.grants.WithLabelValues(id).Set(kw)
	}
	return nil
}

// limitValue maps an unlimited grid to -1.
func limitValue(kw float64) float64 {
	if math.IsInf(kw, 1) {
		return -1
	}
	return kw
}

// RecordOccupancy sets the area gauge.
func (s *PromSink) RecordOccupancy(o coremetrics.OccupancySample) error {
	s.occupancy.WithLabelValues(o.Area).Set(float64(o.Occupancy))
	return nil
}

// RecordVehicleState counts transitions.
func (s *PromSink) RecordVehicleState(v coremetrics.VehicleStateSample) error {
	s.transitions.WithLabelValues(v.State).Inc()
	return nil
}

// RecordTripUnmet counts unmet trips.
func (s *PromSink) RecordTripUnmet(t coremetrics.TripUnmetSample) error {
	s.unmet.WithLabelValues(t.Reason).Inc()
	return nil
}

// RecordRunSummary publishes the run figures.
func (s *PromSink) RecordRunSummary(r coremetrics.RunSummary) error {
	figures := map[string]float64{
		"served":     float64(r.Served),
		"unmet":      float64(r.Unmet),
		"unresolved": float64(r.Unresolved),
		"idle":       float64(r.Idle),
		"energy_kwh": r.EnergyKWh,
		"peak_kw":    r.PeakKW,
		"cost":       r.Cost,
	}
	for k, v := range figures {
		s.runs.WithLabelValues(r.RunID, k).Set(v)
	}
	return nil
}
