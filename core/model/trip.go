package model

import (
	"fmt"

	"github.com/kilianp07/ebusdepot/core/sim"
)

// Trip is a timetable entry served by one vehicle.
type Trip struct {
	ID        string
	Departure sim.Time
	// Arrival is the return time. Zero means the vehicle does not come back.
	Arrival sim.Time
	// VehicleTypes lists the requested types; substitutes are added through
	// SubstitutionGroups.
	VehicleTypes []string
	MinSoC       float64
	// Energy consumed on the trip in kWh.
	Energy float64
}

// Validate checks the timetable entry.
func (t Trip) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("trip id must be set")
	}
	if len(t.VehicleTypes) == 0 {
		return fmt.Errorf("trip %s: no vehicle type", t.ID)
	}
	if t.Departure < 0 {
		return fmt.Errorf("trip %s: negative departure", t.ID)
	}
	if t.Arrival != 0 && t.Arrival < t.Departure {
		return fmt.Errorf("trip %s: arrival before departure", t.ID)
	}
	if t.MinSoC < 0 || t.MinSoC > 1 {
		return fmt.Errorf("trip %s: min soc must be in [0,1]", t.ID)
	}
	if t.Energy < 0 {
		return fmt.Errorf("trip %s: negative energy", t.ID)
	}
	return nil
}

// Returns reports whether the vehicle comes back to the depot.
func (t Trip) Returns() bool { return t.Arrival > t.Departure }

// DispatchDecision binds a vehicle to a trip.
type DispatchDecision struct {
	TripID    string
	VehicleID string
	DecidedAt sim.Time
	// Previous is the trip the vehicle was taken from, if it was reassigned.
	Previous string
}
