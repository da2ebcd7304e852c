package dispatch

import (
	"github.com/kilianp07/ebusdepot/core/model"
	"github.com/kilianp07/ebusdepot/core/sim"
)

// Candidate is a parked vehicle the matcher may bind to a trip.
type Candidate struct {
	VehicleID string
	Type      string
	ArrivedAt sim.Time
	// Trip is the currently assigned trip, empty when free.
	Trip string
	// Blocked marks vehicles that cannot leave their line position.
	Blocked bool
	// AreaRank is the position of the vehicle's area in the depot.
	AreaRank int
}

// Projection estimates a vehicle's condition at a trip departure.
type Projection struct {
	// SoC is the state of charge expected at departure.
	SoC float64
	// ReadyAt is when the vehicle reaches the trip requirement. sim.Never
	// when it does not before departure.
	ReadyAt sim.Time
}

// Projector estimates candidates against a trip.
type Projector interface {
	Project(vehicleID string, trip model.Trip, need float64) Projection
}

// ProjectorFunc adapts a function to Projector.
type ProjectorFunc func(vehicleID string, trip model.Trip, need float64) Projection

// Project calls f.
func (f ProjectorFunc) Project(vehicleID string, trip model.Trip, need float64) Projection {
	return f(vehicleID, trip, need)
}

// Filter restricts candidates for a trip.
type Filter interface {
	Filter(cands []Candidate, trip model.Trip) []Candidate
}

// Round is the input of one match cycle.
type Round struct {
	Now sim.Time
	// Trips holds open and assigned trips that have not departed yet.
	Trips      []model.Trip
	Candidates []Candidate
}
