package model

import (
	"fmt"

	"github.com/kilianp07/ebusdepot/core/charging"
	"github.com/kilianp07/ebusdepot/core/sim"
)

// VehicleType is the template shared by vehicles of the same model.
type VehicleType struct {
	ID      string
	Battery charging.Battery
	// TargetSoC is the charge target when no trip is assigned.
	TargetSoC float64
	// ServiceDuration is the time spent in service before charging, in seconds.
	ServiceDuration sim.Time
}

// Validate checks that the type configuration is sound.
func (t VehicleType) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("vehicle type id must be set")
	}
	if err := t.Battery.Validate(); err != nil {
		return fmt.Errorf("vehicle type %s: %w", t.ID, err)
	}
	if t.TargetSoC <= 0 || t.TargetSoC > 1 {
		return fmt.Errorf("vehicle type %s: target soc must be in (0,1], got %.3f", t.ID, t.TargetSoC)
	}
	if t.ServiceDuration < 0 {
		return fmt.Errorf("vehicle type %s: negative service duration", t.ID)
	}
	return nil
}

// Vehicle is a bus in the depot. Its area and slot are stored by identifier;
// the area keeps the reverse mapping.
type Vehicle struct {
	ID      string
	Type    *VehicleType
	Battery charging.Battery
	State   State

	// Area is empty while the vehicle holds no slot.
	Area string
	Slot int

	// Trip is the identifier of the assigned trip, if any.
	Trip string

	ArrivedAt sim.Time
	// InitStore marks vehicles that are part of the fleet at the start of the run.
	InitStore bool
}

// NewVehicle creates a vehicle with a copy of the type's battery.
func NewVehicle(id string, vt *VehicleType, soc float64) *Vehicle {
	b := vt.Battery
	b.SoC = soc
	return &Vehicle{ID: id, Type: vt, Battery: b, Slot: -1}
}

// Parked reports whether the vehicle currently holds a slot.
func (v *Vehicle) Parked() bool { return v.Area != "" }

// SubstitutionGroups lists vehicle types that may replace each other.
type SubstitutionGroups map[string][]string

// Allowed returns the set of types accepted for a
// trip requesting the given types, expanded with their substitutes.
func (g SubstitutionGroups) Allowed(requested []string) map[string]bool {
	out := make(map[string]bool, len(requested))
	for _, r := range requested {
		out[r] = true
		for _, s := range g[r] {
			out[s] = true
		}
	}
	return out
}
