package depot

import (
	"fmt"

	"github.com/kilianp07/ebusdepot/core/charging"
	"github.com/kilianp07/ebusdepot/core/sim"
)

// AreaKind selects the admission policy of an area.
type AreaKind int

const (
	// DirectArea allows parking and leaving in any order.
	DirectArea AreaKind = iota
	// LineArea only lets the front-most vehicle leave.
	LineArea
	// BackgroundStore is an unordered store, optionally unbounded.
	BackgroundStore
)

func (k AreaKind) String() string {
	switch k {
	case DirectArea:
		return "direct"
	case LineArea:
		return "line"
	case BackgroundStore:
		return "store"
	default:
		return "unknown"
	}
}

// ParseAreaKind maps a configuration value to an AreaKind.
func ParseAreaKind(s string) (AreaKind, error) {
	switch s {
	case "", "direct":
		return DirectArea, nil
	case "line":
		return LineArea, nil
	case "store", "background":
		return BackgroundStore, nil
	default:
		return DirectArea, fmt.Errorf("%w: unknown area kind %q", ErrInvalidDepot, s)
	}
}

// StationType distinguishes opportunity and depot charging.
type StationType int

const (
	Deps StationType = iota
	Opps
)

func (t StationType) String() string {
	if t == Opps {
		return "opps"
	}
	return "deps"
}

// ParseStationType maps a configuration value to a StationType.
func ParseStationType(s string) (StationType, error) {
	switch s {
	case "", "deps":
		return Deps, nil
	case "opps":
		return Opps, nil
	default:
		return Deps, fmt.Errorf("%w: unknown station type %q", ErrInvalidDepot, s)
	}
}

// StationSpec describes a charging station.
type StationSpec struct {
	ID   string
	Type StationType
	// ChargePoints is the number of vehicles that may charge at once.
	// Zero means unconstrained.
	ChargePoints int
	// CSPower is the station's maximum power in kW. Zero means none.
	CSPower float64
	// GCPower caps the station's grid connection in kW. Zero means none.
	GCPower      float64
	VoltageLevel string
	// Battery is set for battery-backed stations. Its charging curve at the
	// current SoC bounds the station power.
	Battery *charging.Battery
}

// AreaSpec describes a parking area.
type AreaSpec struct {
	ID   string
	Kind AreaKind
	// Capacity is the slot count. Zero on a BackgroundStore means unbounded.
	Capacity int
	// Station binds every slot to a charging station.
	Station string
	// SlotStations overrides the binding per slot index.
	SlotStations map[int]string
	// VehicleTypes restricts admission. Empty accepts all.
	VehicleTypes []string
	// Parking marks areas used when vehicles arrive.
	Parking bool
}

// GridSpec describes the depot's grid connection.
type GridSpec struct {
	// PowerLimit is the grid cap schedule in kW. Empty means unlimited.
	PowerLimit []sim.Step
	// DistanceToGrid adjusts connection cost, in meters.
	DistanceToGrid float64
}

// Spec is the depot template.
type Spec struct {
	ID       string
	Areas    []AreaSpec
	Stations []StationSpec
	Grid     GridSpec
	// Groups and Plan define the activity plan. An empty plan parks
	// vehicles in the parking areas.
	Groups []GroupSpec
	Plan   []PlanStep
	// ParkingStrategy applies to the groups of the default plan.
	ParkingStrategy ParkingStrategy
}

// Validate checks the template before the depot is built.
func (s Spec) Validate() error {
	if len(s.Areas) == 0 {
		return fmt.Errorf("%w: no areas", ErrInvalidDepot)
	}
	stations := make(map[string]bool, len(s.Stations))
	for _, st := range s.Stations {
		if st.ID == "" {
			return fmt.Errorf("%w: station without id", ErrInvalidDepot)
		}
		if stations[st.ID] {
			return fmt.Errorf("%w: duplicate station %s", ErrInvalidDepot, st.ID)
		}
		stations[st.ID] = true
		if st.ChargePoints < 0 {
			return fmt.Errorf("%w: station %s has negative charge points", ErrInvalidDepot, st.ID)
		}
		if st.CSPower < 0 || st.GCPower < 0 {
			return fmt.Errorf("%w: station %s has negative power", ErrInvalidDepot, st.ID)
		}
		if st.Battery != nil {
			if err := st.Battery.Validate(); err != nil {
				return fmt.Errorf("%w: station %s battery: %v", ErrInvalidDepot, st.ID, err)
			}
		}
	}
	areas := make(map[string]bool, len(s.Areas))
	parking := false
	for _, a := range s.Areas {
		if a.ID == "" {
			return fmt.Errorf("%w: area without id", ErrInvalidDepot)
		}
		if areas[a.ID] {
			return fmt.Errorf("%w: duplicate area %s", ErrInvalidDepot, a.ID)
		}
		areas[a.ID] = true
		if a.Capacity < 0 {
			return fmt.Errorf("%w: area %s has negative capacity", ErrInvalidDepot, a.ID)
		}
		if a.Capacity == 0 && a.Kind != BackgroundStore {
			return fmt.Errorf("%w: area %s needs a capacity", ErrInvalidDepot, a.ID)
		}
		if a.Station != "" && !stations[a.Station] {
			return fmt.Errorf("%w: area %s references unknown station %s", ErrInvalidDepot, a.ID, a.Station)
		}
		for idx, st := range a.SlotStations {
			if idx < 0 || (a.Capacity > 0 && idx >= a.Capacity) {
				return fmt.Errorf("%w: area %s slot %d out of range", ErrInvalidDepot, a.ID, idx)
			}
			if !stations[st] {
				return fmt.Errorf("%w: area %s slot %d references unknown station %s", ErrInvalidDepot, a.ID, idx, st)
			}
		}
		parking = parking || a.Parking
	}
	if !parking && len(s.Plan) == 0 {
		return fmt.Errorf("%w: no parking area", ErrInvalidDepot)
	}
	if err := s.validatePlan(areas); err != nil {
		return err
	}
	for _, st := range s.Grid.PowerLimit {
		if st.Value < 0 {
			return fmt.Errorf("%w: negative grid limit at %.0f", ErrInvalidDepot, st.From)
		}
	}
	if _, err := sim.NewStepFunction(s.Grid.PowerLimit); err != nil {
		return fmt.Errorf("%w: grid limit: %v", ErrInvalidDepot, err)
	}
	return nil
}
