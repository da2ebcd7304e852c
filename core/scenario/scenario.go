// Package scenario loads depot templates, fleets and timetables from YAML
// and turns them into simulation input.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/ebusdepot/core/charging"
	"github.com/kilianp07/ebusdepot/core/depot"
	"github.com/kilianp07/ebusdepot/core/model"
	"github.com/kilianp07/ebusdepot/core/sim"
	"github.com/kilianp07/ebusdepot/core/simulation"
)

// ErrInvalidScenario reports a malformed scenario file.
var ErrInvalidScenario = errors.New("invalid scenario")

type BatteryDef struct {
	Capacity         float64      `yaml:"capacity"`
	SoC              float64      `yaml:"soc"`
	ChargingCurve    [][2]float64 `yaml:"charging_curve"`
	DischargeCurve   [][2]float64 `yaml:"discharge_curve,omitempty"`
	Efficiency       float64      `yaml:"efficiency"`
	MinChargingPower float64      `yaml:"min_charging_power"`
}

// ToModel builds the battery. A missing efficiency means lossless.
func (b BatteryDef) ToModel() (charging.Battery, error) {
	curve, err := charging.NewCurve(b.ChargingCurve)
	if err != nil {
		return charging.Battery{}, err
	}
	out := charging.Battery{
		Capacity:         b.Capacity,
		SoC:              b.SoC,
		ChargingCurve:    curve,
		Efficiency:       b.Efficiency,
		MinChargingPower: b.MinChargingPower,
	}
	if out.Efficiency == 0 {
		out.Efficiency = 1
	}
	if len(b.DischargeCurve) > 0 {
		dc, err := charging.NewCurve(b.DischargeCurve)
		if err != nil {
			return charging.Battery{}, fmt.Errorf("discharge curve: %w", err)
		}
		out.DischargeCurve = &dc
	}
	return out, out.Validate()
}

type StationDef struct {
	ID           string      `yaml:"id"`
	Type         string      `yaml:"type"`
	ChargePoints int         `yaml:"n_charging_stations"`
	CSPower      float64     `yaml:"cs_power"`
	GCPower      float64     `yaml:"gc_power"`
	VoltageLevel string      `yaml:"voltage_level,omitempty"`
	Battery      *BatteryDef `yaml:"battery,omitempty"`
}

type AreaDef struct {
	ID           string         `yaml:"id"`
	Kind         string         `yaml:"kind"`
	Capacity     int            `yaml:"capacity"`
	Station      string         `yaml:"station,omitempty"`
	SlotStations map[int]string `yaml:"slot_stations,omitempty"`
	VehicleTypes []string       `yaml:"vehicle_types,omitempty"`
	Parking      bool           `yaml:"parking"`
}

type GridDef struct {
	PowerLimit     []sim.Step `yaml:"power_limit_grid"`
	DistanceToGrid float64    `yaml:"distance_to_grid"`
}

type GroupDef struct {
	ID              string   `yaml:"id"`
	Areas           []string `yaml:"areas"`
	ParkingStrategy string   `yaml:"parking_strategy,omitempty"`
}

type PlanStepDef struct {
	Group  string `yaml:"group"`
	Filter string `yaml:"filter,omitempty"`
}

type DepotDef struct {
	ID       string       `yaml:"id"`
	Grid     GridDef      `yaml:"grid"`
	Stations []StationDef `yaml:"stations"`
	Areas    []AreaDef    `yaml:"areas"`
	// Groups and Plan replace the default park-then-charge plan.
	Groups          []GroupDef    `yaml:"groups,omitempty"`
	Plan            []PlanStepDef `yaml:"plan,omitempty"`
	ParkingStrategy string        `yaml:"parking_strategy,omitempty"`
}

// ToModel converts the template. Areas keep their file order, which is
// the parking order.
func (d DepotDef) ToModel() (depot.Spec, error) {
	spec := depot.Spec{
		ID:   d.ID,
		Grid: depot.GridSpec{PowerLimit: d.Grid.PowerLimit, DistanceToGrid: d.Grid.DistanceToGrid},
	}
	for _, s := range d.Stations {
		typ, err := depot.ParseStationType(s.Type)
		if err != nil {
			return depot.Spec{}, err
		}
		st := depot.StationSpec{
			ID:           s.ID,
			Type:         typ,
			ChargePoints: s.ChargePoints,
			CSPower:      s.CSPower,
			GCPower:      s.GCPower,
			VoltageLevel: s.VoltageLevel,
		}
		if s.Battery != nil {
			b, err := s.Battery.ToModel()
			if err != nil {
				return depot.Spec{}, fmt.Errorf("station %s battery: %w", s.ID, err)
			}
			st.Battery = &b
		}
		spec.Stations = append(spec.Stations, st)
	}
	for _, a := range d.Areas {
		kind, err := depot.ParseAreaKind(a.Kind)
		if err != nil {
			return depot.Spec{}, err
		}
		spec.Areas = append(spec.Areas, depot.AreaSpec{
			ID:           a.ID,
			Kind:         kind,
			Capacity:     a.Capacity,
			Station:      a.Station,
			SlotStations: a.SlotStations,
			VehicleTypes: a.VehicleTypes,
			Parking:      a.Parking,
		})
	}
	strategy, err := depot.ParseParkingStrategy(d.ParkingStrategy)
	if err != nil {
		return depot.Spec{}, err
	}
	spec.ParkingStrategy = strategy
	for _, g := range d.Groups {
		strategy, err := depot.ParseParkingStrategy(g.ParkingStrategy)
		if err != nil {
			return depot.Spec{}, fmt.Errorf("group %s: %w", g.ID, err)
		}
		spec.Groups = append(spec.Groups, depot.GroupSpec{ID: g.ID, Areas: g.Areas, Strategy: strategy})
	}
	for _, p := range d.Plan {
		filter, err := depot.ParseStepFilter(p.Filter)
		if err != nil {
			return depot.Spec{}, fmt.Errorf("plan step %s: %w", p.Group, err)
		}
		spec.Plan = append(spec.Plan, depot.PlanStep{Group: p.Group, Filter: filter})
	}
	return spec, spec.Validate()
}

type VehicleTypeDef struct {
	ID              string     `yaml:"id"`
	Battery         BatteryDef `yaml:"battery"`
	TargetSoC       float64    `yaml:"target_soc"`
	ServiceDuration float64    `yaml:"service_duration"`
}

func (v VehicleTypeDef) ToModel() (model.VehicleType, error) {
	b, err := v.Battery.ToModel()
	if err != nil {
		return model.VehicleType{}, fmt.Errorf("vehicle type %s: %w", v.ID, err)
	}
	vt := model.VehicleType{
		ID:              v.ID,
		Battery:         b,
		TargetSoC:       v.TargetSoC,
		ServiceDuration: sim.Time(v.ServiceDuration),
	}
	if vt.TargetSoC == 0 {
		vt.TargetSoC = 1
	}
	return vt, vt.Validate()
}

// FleetDef creates Count vehicles of one type named <type>_<n>.
type FleetDef struct {
	Type     string  `yaml:"type"`
	Count    int     `yaml:"count"`
	SoC      float64 `yaml:"soc"`
	ArriveAt float64 `yaml:"arrive_at"`
	// Interval spaces the arrivals of the group.
	Interval float64 `yaml:"interval"`
}

type VehicleDef struct {
	ID       string  `yaml:"id"`
	Type     string  `yaml:"type"`
	SoC      float64 `yaml:"soc"`
	ArriveAt float64 `yaml:"arrive_at"`
	Initial  *bool   `yaml:"initial,omitempty"`
}

type TripDef struct {
	ID           string   `yaml:"id"`
	Departure    float64  `yaml:"departure"`
	Arrival      float64  `yaml:"arrival,omitempty"`
	VehicleTypes []string `yaml:"vehicle_types"`
	MinSoC       float64  `yaml:"min_soc"`
	Energy       float64  `yaml:"energy"`
}

func (t TripDef) ToModel() model.Trip {
	return model.Trip{
		ID:           t.ID,
		Departure:    sim.Time(t.Departure),
		Arrival:      sim.Time(t.Arrival),
		VehicleTypes: t.VehicleTypes,
		MinSoC:       t.MinSoC,
		Energy:       t.Energy,
	}
}

// Expected holds optional assertions checked by Verify.
type Expected struct {
	Served *int `yaml:"served,omitempty"`
	Unmet  *int `yaml:"unmet,omitempty"`
	Idle   *int `yaml:"idle,omitempty"`
}

// Scenario is one scenario file.
type Scenario struct {
	Name          string              `yaml:"name"`
	Description   string              `yaml:"description,omitempty"`
	Depot         DepotDef            `yaml:"depot"`
	VehicleTypes  []VehicleTypeDef    `yaml:"vehicle_types"`
	Substitutions map[string][]string `yaml:"substitutions,omitempty"`
	Fleet         []FleetDef          `yaml:"fleet,omitempty"`
	Vehicles      []VehicleDef        `yaml:"vehicles,omitempty"`
	Trips         []TripDef           `yaml:"trips"`
	Prices        []sim.Step          `yaml:"price_schedule,omitempty"`
	Expected      Expected            `yaml:"expected,omitempty"`
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a scenario. Unknown keys are rejected.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	return &sc, nil
}

// Input converts the scenario to simulation input. Fleet groups expand
// before explicit vehicles. Vehicles present at time zero are part of the
// initial fleet unless stated otherwise.
func (sc *Scenario) Input() (simulation.Input, error) {
	var in simulation.Input
	spec, err := sc.Depot.ToModel()
	if err != nil {
		return in, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	in.Depot = spec
	for _, vt := range sc.VehicleTypes {
		t, err := vt.ToModel()
		if err != nil {
			return in, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
		}
		in.Types = append(in.Types, t)
	}
	if len(sc.Substitutions) > 0 {
		in.Substitutions = model.SubstitutionGroups(sc.Substitutions)
	}
	for _, f := range sc.Fleet {
		if f.Count < 0 {
			return in, fmt.Errorf("%w: negative count for type %s", ErrInvalidScenario, f.Type)
		}
		for i := 0; i < f.Count; i++ {
			at := sim.Time(f.ArriveAt + float64(i)*f.Interval)
			in.Vehicles = append(in.Vehicles, simulation.VehicleSpec{
				ID:       fmt.Sprintf("%s_%d", f.Type, i+1),
				Type:     f.Type,
				SoC:      f.SoC,
				ArriveAt: at,
				Initial:  at == 0,
			})
		}
	}
	for _, v := range sc.Vehicles {
		initial := v.ArriveAt == 0
		if v.Initial != nil {
			initial = *v.Initial
		}
		in.Vehicles = append(in.Vehicles, simulation.VehicleSpec{
			ID:       v.ID,
			Type:     v.Type,
			SoC:      v.SoC,
			ArriveAt: sim.Time(v.ArriveAt),
			Initial:  initial,
		})
	}
	for _, t := range sc.Trips {
		in.Trips = append(in.Trips, t.ToModel())
	}
	sort.SliceStable(in.Trips, func(i, j int) bool { return in.Trips[i].Departure < in.Trips[j].Departure })
	in.Prices = sc.Prices
	return in, nil
}

// Verify compares a report with the scenario's expectations.
func (sc *Scenario) Verify(r *simulation.Report) error {
	var errs []error
	check := func(name string, want *int, got int) {
		if want != nil && *want != got {
			errs = append(errs, fmt.Errorf("%s: expected %d, got %d", name, *want, got))
		}
	}
	check("served", sc.Expected.Served, r.Stats.Served)
	check("unmet", sc.Expected.Unmet, r.Stats.Unmet)
	check("idle", sc.Expected.Idle, len(r.Idle))
	return errors.Join(errs...)
}
