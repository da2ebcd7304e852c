package depot

import (
	"fmt"
	"math"
)

// ParkingStrategy selects the area inside a group that receives a vehicle.
type ParkingStrategy int

const (
	// ParkFirst fills the group's areas one after another.
	ParkFirst ParkingStrategy = iota
	// ParkEven picks the area with the fewest vehicles.
	ParkEven
	// ParkMixed fills every area to 25%, then 50%, and so on.
	ParkMixed
	// ParkSmart prefers line areas holding only vehicles of the same type,
	// then direct areas as buffer.
	ParkSmart
)

func (p ParkingStrategy) String() string {
	switch p {
	case ParkEven:
		return "even"
	case ParkMixed:
		return "mixed"
	case ParkSmart:
		return "smart"
	default:
		return "first"
	}
}

// ParseParkingStrategy maps a configuration value to a ParkingStrategy.
func ParseParkingStrategy(s string) (ParkingStrategy, error) {
	switch s {
	case "", "first":
		return ParkFirst, nil
	case "even":
		return ParkEven, nil
	case "mixed":
		return ParkMixed, nil
	case "smart":
		return ParkSmart, nil
	default:
		return ParkFirst, fmt.Errorf("%w: unknown parking strategy %q", ErrInvalidDepot, s)
	}
}

// StepFilter decides whether a vehicle calls at a plan step. Vehicles that
// do not pass skip the step.
type StepFilter int

const (
	FilterAlways StepFilter = iota
	// FilterNeedsCharge admits vehicles below their charge target.
	FilterNeedsCharge
	// FilterNeedsService admits vehicles whose service has not run yet.
	// Service only runs at such steps when the plan has one.
	FilterNeedsService
)

func (f StepFilter) String() string {
	switch f {
	case FilterNeedsCharge:
		return "needs_charge"
	case FilterNeedsService:
		return "needs_service"
	default:
		return "always"
	}
}

// ParseStepFilter maps a configuration value to a StepFilter.
func ParseStepFilter(s string) (StepFilter, error) {
	switch s {
	case "", "always":
		return FilterAlways, nil
	case "needs_charge":
		return FilterNeedsCharge, nil
	case "needs_service":
		return FilterNeedsService, nil
	default:
		return FilterAlways, fmt.Errorf("%w: unknown step filter %q", ErrInvalidDepot, s)
	}
}

// GroupSpec is a set of areas used together by one plan step.
type GroupSpec struct {
	ID       string
	Areas    []string
	Strategy ParkingStrategy
}

// PlanStep is one location of the activity plan.
type PlanStep struct {
	Group  string
	Filter StepFilter
}

// Step is a resolved plan step.
type Step struct {
	Group  GroupSpec
	Filter StepFilter
}

// Has reports whether the step's group contains the area.
func (s Step) Has(areaID string) bool {
	for _, id := range s.Group.Areas {
		if id == areaID {
			return true
		}
	}
	return false
}

// buildPlan resolves the template plan. Without one, vehicles park in the
// parking areas and move on to a parking area with a station while they
// need charge.
func buildPlan(spec Spec) []Step {
	if len(spec.Plan) > 0 {
		groups := make(map[string]GroupSpec, len(spec.Groups))
		for _, g := range spec.Groups {
			groups[g.ID] = g
		}
		out := make([]Step, 0, len(spec.Plan))
		for _, p := range spec.Plan {
			out = append(out, Step{Group: groups[p.Group], Filter: p.Filter})
		}
		return out
	}
	park := GroupSpec{ID: "parking", Strategy: spec.ParkingStrategy}
	charge := GroupSpec{ID: "charging", Strategy: spec.ParkingStrategy}
	for _, a := range spec.Areas {
		if !a.Parking {
			continue
		}
		park.Areas = append(park.Areas, a.ID)
		if a.Station != "" || len(a.SlotStations) > 0 {
			charge.Areas = append(charge.Areas, a.ID)
		}
	}
	plan := []Step{{Group: park}}
	if len(charge.Areas) > 0 {
		plan = append(plan, Step{Group: charge, Filter: FilterNeedsCharge})
	}
	return plan
}

func (s Spec) validatePlan(areas map[string]bool) error {
	groups := make(map[string]bool, len(s.Groups))
	for _, g := range s.Groups {
		if g.ID == "" {
			return fmt.Errorf("%w: area group without id", ErrInvalidDepot)
		}
		if groups[g.ID] {
			return fmt.Errorf("%w: duplicate area group %s", ErrInvalidDepot, g.ID)
		}
		groups[g.ID] = true
		if len(g.Areas) == 0 {
			return fmt.Errorf("%w: area group %s is empty", ErrInvalidDepot, g.ID)
		}
		for _, a := range g.Areas {
			if !areas[a] {
				return fmt.Errorf("%w: area group %s references unknown area %s", ErrInvalidDepot, g.ID, a)
			}
		}
	}
	for i, p := range s.Plan {
		if !groups[p.Group] {
			return fmt.Errorf("%w: plan step %d references unknown group %s", ErrInvalidDepot, i, p.Group)
		}
	}
	if len(s.Plan) > 0 && s.Plan[0].Filter != FilterAlways {
		return fmt.Errorf("%w: the first plan step must admit every vehicle", ErrInvalidDepot)
	}
	return nil
}

// choose returns the area and slot a strategy assigns, or "" when no area
// of the list has room.
func (d *Depot) choose(areaIDs []string, opts AcquireOptions) (string, int) {
	var open []*Area
	for _, id := range areaIDs {
		if d.areas[id].freeSlot(opts) >= 0 {
			open = append(open, d.areas[id])
		}
	}
	if len(open) == 0 {
		return "", -1
	}
	pick := open[0]
	switch opts.Strategy {
	case ParkEven:
		for _, a := range open[1:] {
			if a.occupancy < pick.occupancy {
				pick = a
			}
		}
	case ParkMixed:
		pick = mixed(open)
	case ParkSmart:
		pick = d.smart(open, opts.VehicleType)
	}
	return pick.ID(), pick.freeSlot(opts)
}

// mixed fills bounded areas in quarter steps. Unbounded stores are used
// last.
func mixed(open []*Area) *Area {
	for pct := 25.0; pct <= 100; pct += 25 {
		for _, a := range open {
			if a.unbounded() {
				continue
			}
			if float64(a.occupancy)*100/float64(a.Spec.Capacity) < pct {
				return a
			}
		}
	}
	return open[0]
}

// smart rates each open area by how many parked vehicles of another type
// the newcomer would stand behind. A homogeneous area rates 0. When no
// area rates 0, a direct area with room is preferred.
func (d *Depot) smart(open []*Area, vehicleType string) *Area {
	var best *Area
	bestRate := math.MaxInt
	for _, a := range open {
		rate := 0
		for _, v := range a.Occupants() {
			if d.vtype[v] != vehicleType {
				rate = len(a.Occupants())
				break
			}
		}
		if rate < bestRate {
			best, bestRate = a, rate
		}
	}
	if bestRate > 0 {
		for _, a := range open {
			if a.Kind() == DirectArea {
				return a
			}
		}
	}
	return best
}
