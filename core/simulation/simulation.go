// Package simulation drives one depot run. It owns the event engine, the
// depot resources and the vehicle processes, and it calls the matcher and
// the power allocator when their inputs change.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/kilianp07/ebusdepot/core/charging"
	"github.com/kilianp07/ebusdepot/core/depot"
	"github.com/kilianp07/ebusdepot/core/dispatch"
	"github.com/kilianp07/ebusdepot/core/events"
	"github.com/kilianp07/ebusdepot/core/logger"
	"github.com/kilianp07/ebusdepot/core/model"
	"github.com/kilianp07/ebusdepot/core/sim"
	"github.com/kilianp07/ebusdepot/core/smartcharging"
	"github.com/kilianp07/ebusdepot/core/trace"
	"github.com/kilianp07/ebusdepot/internal/eventbus"
)

// socTolerance absorbs integration error when comparing SoC values.
const socTolerance = 1e-6

// VehicleSpec places one vehicle of the fleet.
type VehicleSpec struct {
	ID   string
	Type string
	SoC  float64
	// ArriveAt is the first arrival at the depot gate.
	ArriveAt sim.Time
	// Initial marks vehicles that belong to the depot at the start.
	Initial bool
}

// Input is everything a run needs besides the settings.
type Input struct {
	Depot         depot.Spec
	Types         []model.VehicleType
	Substitutions model.SubstitutionGroups
	Vehicles      []VehicleSpec
	Trips         []model.Trip
	// Prices is the energy price schedule per kWh. Empty means no cost.
	Prices []sim.Step
}

type tripStatus int

const (
	tripOpen tripStatus = iota
	tripAssigned
	tripDeparted
	tripUnmet
)

type trip struct {
	model.Trip
	status  tripStatus
	vehicle string
	// expiry fires when a delayed trip runs out of time.
	expiry *sim.Event
}

type vehicle struct {
	*model.Vehicle
	// serviced is set once the service ran since the last arrival.
	serviced bool
	// waiting is set between the gate arrival and the slot grant.
	waiting  bool
	charging bool
	// since is the time the battery was last brought up to date.
	since   sim.Time
	done    *sim.Event
	service *sim.Event
	// step is the plan step the vehicle stands at. next is the step a
	// pending relocation leads to.
	step, next int
	moving     bool
}

// Option configures a Simulation.
type Option func(*Simulation)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logger.Logger) Option {
	return func(s *Simulation) { s.log = l }
}

// WithRecorder adds a trace recorder next to the in-memory trace.
func WithRecorder(r trace.Recorder) Option {
	return func(s *Simulation) { s.extra = append(s.extra, r) }
}

// WithBus publishes simulation events on b.
func WithBus(b *eventbus.TypedBus[events.Event]) Option {
	return func(s *Simulation) { s.bus = b }
}

// WithAllocator overrides the allocator built from the settings.
func WithAllocator(a smartcharging.Allocator) Option {
	return func(s *Simulation) { s.allocator = a }
}

// WithRunID sets the run identifier. A random UUID is used otherwise.
func WithRunID(id string) Option {
	return func(s *Simulation) { s.runID = id }
}

// Simulation is the context of one run. It is not safe for concurrent use.
type Simulation struct {
	settings  Settings
	engine    *sim.Engine
	depot     *depot.Depot
	matcher   *dispatch.Matcher
	allocator smartcharging.Allocator
	policy    charging.FloorPolicy
	prices    sim.StepFunction

	log    logger.Logger
	memory *trace.MemoryRecorder
	extra  []trace.Recorder
	rec    trace.Recorder
	bus    *eventbus.TypedBus[events.Event]
	runID  string

	vehicles  map[string]*vehicle
	order     []string
	arrivals  []VehicleSpec
	trips     map[string]*trip
	tripOrder []string

	seq       uint64
	matchEv   *sim.Event
	reviewEv  *sim.Event
	areaRank  map[string]int
	grants    map[string]float64
	decisions []model.DispatchDecision
	issues    []Issue
	unmet     []UnmetTrip
	stats     Stats
	fault     error
	started   bool

	// serviceSteps is set when the plan names where service runs.
	serviceSteps bool
}

// New validates the input and builds a run.
func New(in Input, settings Settings, opts ...Option) (*Simulation, error) {
	settings.SetDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	s := &Simulation{
		settings: settings,
		log:      logger.Nop{},
		memory:   trace.NewMemoryRecorder(),
		vehicles: make(map[string]*vehicle, len(in.Vehicles)),
		trips:    make(map[string]*trip, len(in.Trips)),
		stats:    Stats{StationEnergy: map[string]float64{}},
	}
	for _, o := range opts {
		o(s)
	}
	s.rec = append(trace.MultiRecorder{s.memory}, s.extra...)
	if s.runID == "" {
		s.runID = uuid.NewString()
	}
	policy, err := charging.ParseFloorPolicy(settings.MinPowerPolicy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	s.policy = policy
	if s.allocator == nil {
		a, err := smartcharging.NewAllocator(settings.SmartCharging)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		s.allocator = a
	}
	if s.prices, err = sim.NewStepFunction(in.Prices); err != nil {
		return nil, fmt.Errorf("%w: price schedule: %v", ErrInvalidConfig, err)
	}

	types := make(map[string]*model.VehicleType, len(in.Types))
	for i := range in.Types {
		vt := in.Types[i]
		if err := vt.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if _, dup := types[vt.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate vehicle type %s", ErrInvalidConfig, vt.ID)
		}
		types[vt.ID] = &vt
	}
	for _, vs := range in.Vehicles {
		vt, ok := types[vs.Type]
		if !ok {
			return nil, fmt.Errorf("%w: vehicle %s has unknown type %s", ErrInvalidConfig, vs.ID, vs.Type)
		}
		if _, dup := s.vehicles[vs.ID]; dup || vs.ID == "" {
			return nil, fmt.Errorf("%w: vehicle id %q is empty or duplicated", ErrInvalidConfig, vs.ID)
		}
		if vs.SoC > 1 || (vs.SoC < 0 && !settings.AllowNegativeSoC) {
			return nil, fmt.Errorf("%w: vehicle %s: %w %.4f", ErrInvalidConfig, vs.ID, charging.ErrInvalidSoC, vs.SoC)
		}
		if vs.ArriveAt < 0 {
			return nil, fmt.Errorf("%w: vehicle %s arrives before the start", ErrInvalidConfig, vs.ID)
		}
		v := model.NewVehicle(vs.ID, vt, vs.SoC)
		v.InitStore = vs.Initial
		s.vehicles[vs.ID] = &vehicle{Vehicle: v}
		s.order = append(s.order, vs.ID)
		s.arrivals = append(s.arrivals, vs)
	}
	sort.Strings(s.order)
	for _, t := range in.Trips {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if _, dup := s.trips[t.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate trip %s", ErrInvalidConfig, t.ID)
		}
		s.trips[t.ID] = &trip{Trip: t}
		s.tripOrder = append(s.tripOrder, t.ID)
	}
	sort.SliceStable(s.tripOrder, func(i, j int) bool {
		a, b := s.trips[s.tripOrder[i]], s.trips[s.tripOrder[j]]
		if a.Departure != b.Departure {
			return a.Departure < b.Departure
		}
		return a.ID < b.ID
	})

	d, err := depot.New(in.Depot, s.log)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	s.engine = sim.NewEngine(sim.Time(settings.Horizon))
	d.SetClock(s.engine.Now)
	d.SetObserver(observer{s})
	s.depot = d
	s.areaRank = make(map[string]int)
	for i, a := range d.Areas() {
		s.areaRank[a.ID()] = i
	}
	for _, st := range d.Plan() {
		s.serviceSteps = s.serviceSteps || st.Filter == depot.FilterNeedsService
	}
	s.matcher = dispatch.NewMatcher(settings.matcherConfig(), dispatch.TypeFilter{Groups: in.Substitutions}, s.log)
	return s, nil
}

// RunID returns the run identifier.
func (s *Simulation) RunID() string { return s.runID }

// Depot exposes the resource model for inspection.
func (s *Simulation) Depot() *depot.Depot { return s.depot }

// Engine exposes the event engine, e.g. to observe dispatched events.
func (s *Simulation) Engine() *sim.Engine { return s.engine }

// Run executes the simulation up to the horizon. A run can only be
// started once.
func (s *Simulation) Run(ctx context.Context) (*Report, error) {
	if s.started {
		return nil, errors.New("simulation already ran")
	}
	s.started = true
	s.log.Infof("run %s: %d vehicles, %d trips, horizon %.0f s", s.runID, len(s.vehicles), len(s.trips), s.settings.Horizon)
	s.setup()
	if s.fault != nil {
		return nil, s.fault
	}
	if err := s.engine.Run(ctx); err != nil {
		var inv *depot.InvariantError
		if errors.As(err, &inv) {
			s.log.Errorf("run %s aborted at %.1f: %v", s.runID, s.engine.Now(), err)
		}
		return nil, fmt.Errorf("run %s: %w", s.runID, err)
	}
	return s.finish()
}

// setup queues the initial events. Grid steps go first so that a limit
// change is applied before anything else happening at the same time.
func (s *Simulation) setup() {
	for _, st := range s.depot.Grid().Schedule() {
		if st.From >= 0 {
			s.schedule(st.From, gridStep{})
		}
	}
	for _, st := range s.prices.Steps() {
		if st.From > 0 {
			s.schedule(st.From, priceStep{})
		}
	}
	for _, vs := range s.arrivals {
		s.schedule(vs.ArriveAt, arrival{vehicle: vs.ID})
	}
	for _, id := range s.tripOrder {
		t := s.trips[id]
		if lead := sim.Time(s.settings.LeadTimeMatch); lead > 0 && t.Departure-lead > 0 {
			s.schedule(t.Departure-lead, matchNow{})
		}
		s.schedule(t.Departure, tripDeparture{trip: id})
	}
	if iv := s.settings.DispatchRetriggerInterval; iv > 0 {
		s.schedule(sim.Time(iv), retrigger{})
	}
	if iv := s.settings.SmartCharging.Interval; iv > 0 {
		s.schedule(sim.Time(iv), smartTick{})
	}
}

// schedule queues payload at t, or now when t already passed.
func (s *Simulation) schedule(t sim.Time, payload any) *sim.Event {
	if now := s.engine.Now(); t < now {
		t = now
	}
	ev, err := s.engine.Schedule(t, s, payload)
	if err != nil && s.fault == nil {
		s.fault = err
	}
	return ev
}

func (s *Simulation) cancel(ev *sim.Event) {
	if ev != nil {
		s.engine.Cancel(ev)
	}
}

type (
	arrival       struct{ vehicle string }
	slotGranted   struct{ vehicle string }
	serviceDone   struct{ vehicle string }
	cpGranted     struct{ vehicle string }
	chargeDone    struct{ vehicle string }
	departNow     struct{ vehicle string }
	relocated     struct{ vehicle string }
	tripDeparture struct{ trip string }
	tripExpiry    struct{ trip string }
	matchNow      struct{}
	retrigger     struct{}
	smartTick     struct{}
	gridStep      struct{}
	priceStep     struct{}
	review        struct{}
)

// Handle implements sim.Handler.
func (s *Simulation) Handle(ev *sim.Event) error {
	var err error
	switch p := ev.Payload.(type) {
	case arrival:
		err = s.onArrival(s.vehicles[p.vehicle])
	case slotGranted:
		err = s.onSlotGranted(s.vehicles[p.vehicle])
	case serviceDone:
		err = s.onServiceDone(s.vehicles[p.vehicle])
	case cpGranted:
		err = s.onChargePointGranted(s.vehicles[p.vehicle])
	case chargeDone:
		err = s.onChargeDone(s.vehicles[p.vehicle])
	case departNow:
		err = s.onDepartNow(s.vehicles[p.vehicle])
	case relocated:
		err = s.onRelocated(s.vehicles[p.vehicle])
	case tripDeparture:
		err = s.onTripDeparture(s.trips[p.trip])
	case tripExpiry:
		err = s.onTripExpiry(s.trips[p.trip])
	case matchNow:
		s.matchEv = nil
		err = s.match()
	case retrigger:
		s.requestMatch()
		if s.active() {
			s.schedule(s.engine.Now()+sim.Time(s.settings.DispatchRetriggerInterval), retrigger{})
		}
	case smartTick:
		err = s.reallocate()
		if s.active() {
			s.schedule(s.engine.Now()+sim.Time(s.settings.SmartCharging.Interval), smartTick{})
		}
	case gridStep, priceStep:
		err = s.reallocate()
	case review:
		s.reviewEv = nil
		err = s.reallocate()
	default:
		err = fmt.Errorf("unexpected event payload %T", ev.Payload)
	}
	if err != nil {
		return err
	}
	return s.fault
}

// active reports whether periodic work can still change anything. With a
// finite horizon the engine stops on its own.
func (s *Simulation) active() bool {
	if s.engine.Horizon() != sim.Never {
		return true
	}
	for _, id := range s.tripOrder {
		if st := s.trips[id].status; st == tripOpen || st == tripAssigned {
			return true
		}
	}
	for _, id := range s.order {
		if s.vehicles[id].charging {
			return true
		}
	}
	return false
}
