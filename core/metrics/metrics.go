package metrics

import "github.com/kilianp07/ebusdepot/core/sim"

// RunSummary is recorded once per run.
type RunSummary struct {
	RunID      string   `json:"run_id"`
	Served     int      `json:"served"`
	Unmet      int      `json:"unmet"`
	Unresolved int      `json:"unresolved"`
	Idle       int      `json:"idle"`
	EnergyKWh  float64  `json:"energy_kwh"`
	PeakKW     float64  `json:"peak_kw"`
	Cost       float64  `json:"cost"`
	End        sim.Time `json:"end"`
}

// MetricsSink records run results for observability purposes.
type MetricsSink interface {
	RecordRunSummary(s RunSummary) error
}

// PowerSample is the depot power after an allocation.
type PowerSample struct {
	Time    sim.Time
	GridKW  float64
	LimitKW float64
	// Vehicles holds the grant per charging vehicle.
	Vehicles map[string]float64
}

// PowerRecorder records power samples.
type PowerRecorder interface {
	RecordPower(s PowerSample) error
}

// OccupancySample is an area occupancy change.
type OccupancySample struct {
	Time      sim.Time
	Area      string
	Occupancy int
	Capacity  int
}

// OccupancyRecorder records occupancy samples.
type OccupancyRecorder interface {
	RecordOccupancy(s OccupancySample) error
}

// VehicleStateSample is a vehicle transition.
type VehicleStateSample struct {
	Time    sim.Time
	Vehicle string
	State   string
	SoC     float64
}

// VehicleStateRecorder records vehicle transitions.
type VehicleStateRecorder interface {
	RecordVehicleState(s VehicleStateSample) error
}

// TripUnmetSample records a trip that left without a vehicle.
type TripUnmetSample struct {
	Time   sim.Time
	Trip   string
	Reason string
}

// TripRecorder records unmet trips.
type TripRecorder interface {
	RecordTripUnmet(s TripUnmetSample) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordRunSummary(RunSummary) error           { return nil }
func (NopSink) RecordPower(PowerSample) error               { return nil }
func (NopSink) RecordOccupancy(OccupancySample) error       { return nil }
func (NopSink) RecordVehicleState(VehicleStateSample) error { return nil }
func (NopSink) RecordTripUnmet(TripUnmetSample) error       { return nil }
