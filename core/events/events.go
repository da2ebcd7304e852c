package events

import "github.com/kilianp07/ebusdepot/core/sim"

// Event is implemented by every simulation event.
type Event interface {
	At() sim.Time
}

// StateChanged is published for each vehicle transition.
type StateChanged struct {
	Time    sim.Time
	Vehicle string
	From    string
	To      string
	Trigger string
	SoC     float64
}

func (e StateChanged) At() sim.Time { return e.Time }

// PowerAllocated is published when grants change.
type PowerAllocated struct {
	Time      sim.Time
	Grants    map[string]float64
	Total     float64
	GridLimit float64
}

func (e PowerAllocated) At() sim.Time { return e.Time }

// OccupancyChanged is published when a slot is taken or freed.
type OccupancyChanged struct {
	Time      sim.Time
	Area      string
	Occupancy int
	// Capacity is -1 for unbounded stores.
	Capacity int
}

func (e OccupancyChanged) At() sim.Time { return e.Time }

// TripUnmet is published when a trip departs without a vehicle.
type TripUnmet struct {
	Time   sim.Time
	Trip   string
	Reason string
}

func (e TripUnmet) At() sim.Time { return e.Time }

// RunFinished carries the run summary.
type RunFinished struct {
	Time       sim.Time
	RunID      string
	Served     int
	Unmet      int
	Unresolved int
	Idle       int
	EnergyKWh  float64
	PeakKW     float64
	Cost       float64
}

func (e RunFinished) At() sim.Time { return e.Time }
