package simulation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/ebusdepot/core/charging"
	"github.com/kilianp07/ebusdepot/core/depot"
	"github.com/kilianp07/ebusdepot/core/events"
	"github.com/kilianp07/ebusdepot/core/model"
	"github.com/kilianp07/ebusdepot/core/sim"
	"github.com/kilianp07/ebusdepot/core/trace"
	"github.com/kilianp07/ebusdepot/internal/eventbus"
)

func ebType(service sim.Time) model.VehicleType {
	return model.VehicleType{
		ID: "EB",
		Battery: charging.Battery{
			Capacity:      300,
			ChargingCurve: charging.ConstantCurve(150),
			Efficiency:    1,
		},
		TargetSoC:       1,
		ServiceDuration: service,
	}
}

func singleSlotDepot(capacity int) depot.Spec {
	return depot.Spec{
		ID:       "depot",
		Stations: []depot.StationSpec{{ID: "cs", ChargePoints: 1, CSPower: 150}},
		Areas:    []depot.AreaSpec{{ID: "A", Kind: depot.DirectArea, Capacity: capacity, Station: "cs", Parking: true}},
	}
}

// twoVehiclesOneSlot has one slot and one charge point for two buses.
func twoVehiclesOneSlot() Input {
	return Input{
		Depot: singleSlotDepot(1),
		Types: []model.VehicleType{ebType(0)},
		Vehicles: []VehicleSpec{
			{ID: "v1", Type: "EB", SoC: 0.5, ArriveAt: 0, Initial: true},
			{ID: "v2", Type: "EB", SoC: 0.5, ArriveAt: 1},
		},
		Trips: []model.Trip{{ID: "t1", Departure: 7200, VehicleTypes: []string{"EB"}, MinSoC: 0.8}},
	}
}

func run(t *testing.T, in Input, settings Settings, opts ...Option) *Report {
	t.Helper()
	s, err := New(in, settings, opts...)
	require.NoError(t, err)
	r, err := s.Run(context.Background())
	require.NoError(t, err)
	return r
}

func stateAt(recs []trace.Record, state model.State) (sim.Time, bool) {
	for _, r := range recs {
		if r.Kind == trace.KindState && r.State == state.String() {
			return r.Time, true
		}
	}
	return 0, false
}

func TestSingleSlotQueueing(t *testing.T) {
	r := run(t, twoVehiclesOneSlot(), Settings{Horizon: 20000}, WithRunID("a"))

	assert.Equal(t, 1, r.Stats.Served)
	assert.Equal(t, 0, r.Stats.Unmet)
	require.Len(t, r.Decisions, 1)
	assert.Equal(t, "v1", r.Decisions[0].VehicleID)
	assert.Equal(t, "t1", r.Decisions[0].TripID)

	v1 := r.VehicleTrace("v1")
	charged, ok := stateAt(v1, model.StateStandbyCharged)
	require.True(t, ok)
	assert.InDelta(t, 2160, float64(charged), 1e-6)
	left, ok := stateAt(v1, model.StateDeparted)
	require.True(t, ok)
	assert.InDelta(t, 7200, float64(left), 1e-9)

	v2 := r.VehicleTrace("v2")
	started, ok := stateAt(v2, model.StateCharging)
	require.True(t, ok)
	assert.GreaterOrEqual(t, float64(started), 7200.0)

	assert.Equal(t, []string{"v2"}, r.Idle)
	assert.Empty(t, r.Unresolved)
	assert.InDelta(t, 240, r.Stats.EnergyKWh, 1e-6)
	assert.InDelta(t, 150, r.Stats.PeakKW, 1e-9)
	assert.InDelta(t, 240, r.Stats.StationEnergy["cs"], 1e-6)
}

func TestOccupancyNeverExceedsCapacity(t *testing.T) {
	r := run(t, twoVehiclesOneSlot(), Settings{Horizon: 20000})
	for _, rec := range r.Trace {
		if rec.Kind == trace.KindOccupancy {
			assert.LessOrEqual(t, rec.Value, 1.0)
		}
	}
}

func TestTraceOrderedBySeq(t *testing.T) {
	r := run(t, twoVehiclesOneSlot(), Settings{Horizon: 20000})
	for i := 1; i < len(r.Trace); i++ {
		prev, cur := r.Trace[i-1], r.Trace[i]
		assert.LessOrEqual(t, prev.Time, cur.Time)
		assert.Less(t, prev.Seq, cur.Seq)
	}
}

func TestUnknownTypeTripIsUnmet(t *testing.T) {
	in := twoVehiclesOneSlot()
	in.Trips = append(in.Trips, model.Trip{ID: "xl", Departure: 3600, VehicleTypes: []string{"XL"}, MinSoC: 0.2})

	r := run(t, in, Settings{Horizon: 20000})
	assert.Equal(t, 1, r.Stats.Served)
	assert.Equal(t, 1, r.Stats.Unmet)
	require.Len(t, r.Unmet, 1)
	assert.Equal(t, "xl", r.Unmet[0].Trip)
	assert.Equal(t, "no eligible vehicle", r.Unmet[0].Reason)
	assert.Len(t, r.IssuesOf(IssueUnmetTrip), 1)
}

func TestGridLimitRespected(t *testing.T) {
	in := Input{
		Depot: depot.Spec{
			ID:       "depot",
			Stations: []depot.StationSpec{{ID: "cs", ChargePoints: 2, CSPower: 300}},
			Areas:    []depot.AreaSpec{{ID: "A", Kind: depot.DirectArea, Capacity: 2, Station: "cs", Parking: true}},
			Grid:     depot.GridSpec{PowerLimit: []sim.Step{{From: 0, Value: 200}, {From: 1800, Value: 100}}},
		},
		Types: []model.VehicleType{ebType(0)},
		Vehicles: []VehicleSpec{
			{ID: "v1", Type: "EB", SoC: 0.2},
			{ID: "v2", Type: "EB", SoC: 0.3},
		},
	}
	r := run(t, in, Settings{Horizon: 30000})
	grid := 0
	for _, rec := range r.Trace {
		if rec.Kind != trace.KindGrid {
			continue
		}
		grid++
		limit := 200.0
		if rec.Time >= 1800 {
			limit = 100
		}
		assert.LessOrEqual(t, rec.Value, limit+1e-6, "at %.0f", rec.Time)
	}
	assert.NotZero(t, grid)
	assert.LessOrEqual(t, r.Stats.PeakKW, 200+1e-6)
	assert.ElementsMatch(t, []string{"v1", "v2"}, r.Idle)
}

func TestDeterministicTrace(t *testing.T) {
	a := run(t, twoVehiclesOneSlot(), Settings{Horizon: 20000}, WithRunID("same"))
	b := run(t, twoVehiclesOneSlot(), Settings{Horizon: 20000}, WithRunID("same"))
	assert.Equal(t, a.Trace, b.Trace)
	assert.Equal(t, a.Decisions, b.Decisions)
	assert.Equal(t, a.Stats, b.Stats)
}

func partialInput() Input {
	return Input{
		Depot:    singleSlotDepot(1),
		Types:    []model.VehicleType{ebType(0)},
		Vehicles: []VehicleSpec{{ID: "v1", Type: "EB", SoC: 0.6}},
		Trips:    []model.Trip{{ID: "t1", Departure: 600, VehicleTypes: []string{"EB"}, MinSoC: 0.6}},
	}
}

func TestPartialDispatch(t *testing.T) {
	r := run(t, partialInput(), Settings{Horizon: 5000, EnergyReserve: 0.2, AllowPartialDispatch: true})
	assert.Equal(t, 1, r.Stats.Served)
	assert.Equal(t, 0, r.Stats.Unmet)

	var departed *trace.Record
	for i, rec := range r.Trace {
		if rec.Kind == trace.KindDispatch && rec.State == "departed" {
			departed = &r.Trace[i]
		}
	}
	require.NotNil(t, departed)
	assert.InDelta(t, 600, float64(departed.Time), 1e-9)
	assert.InDelta(t, 0.6+25.0/300, departed.SoC, 1e-6)
}

func TestNoPartialDispatchLeavesTripUnmet(t *testing.T) {
	r := run(t, partialInput(), Settings{Horizon: 5000, EnergyReserve: 0.2})
	assert.Equal(t, 0, r.Stats.Served)
	assert.Equal(t, 1, r.Stats.Unmet)
	assert.Empty(t, r.Decisions)
	assert.Equal(t, []string{"v1"}, r.Idle)
}

func TestChargeTargetFull(t *testing.T) {
	in := twoVehiclesOneSlot()
	in.Vehicles = in.Vehicles[:1]
	r := run(t, in, Settings{Horizon: 20000, ChargeTarget: TargetFull})
	require.Equal(t, 1, r.Stats.Served)
	for _, rec := range r.VehicleTrace("v1") {
		if rec.Kind == trace.KindDispatch && rec.State == "departed" {
			assert.InDelta(t, 1.0, rec.SoC, 1e-6)
		}
	}
	charged, ok := stateAt(r.VehicleTrace("v1"), model.StateStandbyCharged)
	require.True(t, ok)
	assert.InDelta(t, 3600, float64(charged), 1e-6)
}

func TestTripEnergyShortfall(t *testing.T) {
	in := twoVehiclesOneSlot()
	in.Vehicles = in.Vehicles[:1]
	in.Trips[0].Energy = 400
	r := run(t, in, Settings{Horizon: 20000})
	require.Equal(t, 1, r.Stats.Served)
	assert.Len(t, r.IssuesOf(IssueEnergyShortfall), 1)
}

func TestReturningVehicleServesSecondTrip(t *testing.T) {
	in := twoVehiclesOneSlot()
	in.Vehicles = in.Vehicles[:1]
	in.Trips = []model.Trip{
		{ID: "t1", Departure: 3600, Arrival: 5400, VehicleTypes: []string{"EB"}, MinSoC: 0.6, Energy: 60},
		{ID: "t2", Departure: 12000, VehicleTypes: []string{"EB"}, MinSoC: 0.6},
	}
	r := run(t, in, Settings{Horizon: 20000})
	assert.Equal(t, 2, r.Stats.Served)
	require.Len(t, r.Decisions, 2)
	assert.Equal(t, "t2", r.Decisions[1].TripID)
	assert.Equal(t, "v1", r.Decisions[1].VehicleID)
}

func TestNegativeSoCResetOnReturn(t *testing.T) {
	in := twoVehiclesOneSlot()
	in.Vehicles = in.Vehicles[:1]
	in.Trips = []model.Trip{
		{ID: "t1", Departure: 3600, Arrival: 5400, VehicleTypes: []string{"EB"}, Energy: 600},
	}
	reset := 0.2
	r := run(t, in, Settings{Horizon: 20000, AllowNegativeSoC: true, ResetNegativeSoC: &reset})
	require.Equal(t, 1, r.Stats.Served)
	assert.Empty(t, r.IssuesOf(IssueEnergyShortfall))

	found := false
	for _, rec := range r.VehicleTrace("v1") {
		if rec.Kind == trace.KindState && rec.Time == 5400 {
			assert.InDelta(t, 0.2, rec.SoC, 1e-9)
			found = true
			break
		}
	}
	assert.True(t, found, "no state record on return")
}

// A delayed trip takes the vehicle already held by a later trip once it
// is charged.
func TestReassignmentToDelayedTrip(t *testing.T) {
	in := Input{
		Depot:    singleSlotDepot(1),
		Types:    []model.VehicleType{ebType(4000)},
		Vehicles: []VehicleSpec{{ID: "v1", Type: "EB", SoC: 0.5}},
		Trips: []model.Trip{
			{ID: "early", Departure: 3000, VehicleTypes: []string{"EB"}, MinSoC: 0.8},
			{ID: "late", Departure: 20000, VehicleTypes: []string{"EB"}, MinSoC: 0.8},
		},
	}
	settings := Settings{
		Horizon:                   25000,
		MaxDepartureDelay:         5000,
		DispatchRetriggerInterval: 500,
	}
	r := run(t, in, settings)

	require.Len(t, r.Decisions, 2)
	assert.Equal(t, "late", r.Decisions[0].TripID)
	assert.Equal(t, "early", r.Decisions[1].TripID)
	assert.Equal(t, "late", r.Decisions[1].Previous)
	assert.InDelta(t, 6500, float64(r.Decisions[1].DecidedAt), 1e-9)

	assert.Equal(t, 1, r.Stats.Served)
	require.Len(t, r.Unmet, 1)
	assert.Equal(t, "late", r.Unmet[0].Trip)
}

func TestDelayedTripExpires(t *testing.T) {
	in := partialInput()
	in.Trips[0].MinSoC = 0.9
	in.Types[0].TargetSoC = 0.7
	in.Depot.Stations = nil
	in.Depot.Areas[0].Station = ""
	r := run(t, in, Settings{Horizon: 5000, MaxDepartureDelay: 1000})
	require.Len(t, r.Unmet, 1)
	assert.Equal(t, "departure delay exceeded", r.Unmet[0].Reason)
	assert.InDelta(t, 1600, float64(r.Unmet[0].At), 1e-9)
}

func TestEventsPublished(t *testing.T) {
	bus := eventbus.NewTyped[events.Event](eventbus.WithBuffer(4096))
	sub := bus.Subscribe()
	in := twoVehiclesOneSlot()
	in.Trips = append(in.Trips, model.Trip{ID: "xl", Departure: 3600, VehicleTypes: []string{"XL"}, MinSoC: 0.2})
	run(t, in, Settings{Horizon: 20000}, WithBus(bus), WithRunID("bus"))
	bus.Close()

	counts := map[string]int{}
	var finished events.RunFinished
	for e := range sub {
		switch ev := e.(type) {
		case events.StateChanged:
			counts["state"]++
		case events.PowerAllocated:
			counts["power"]++
		case events.OccupancyChanged:
			counts["occupancy"]++
		case events.TripUnmet:
			counts["unmet"]++
		case events.RunFinished:
			counts["finished"]++
			finished = ev
		}
	}
	assert.Zero(t, bus.Dropped())
	assert.NotZero(t, counts["state"])
	assert.NotZero(t, counts["power"])
	assert.NotZero(t, counts["occupancy"])
	assert.Equal(t, 1, counts["unmet"])
	assert.Equal(t, 1, counts["finished"])
	assert.Equal(t, "bus", finished.RunID)
	assert.Equal(t, 1, finished.Served)
}

func TestExtraRecorderSeesTrace(t *testing.T) {
	mem := trace.NewMemoryRecorder()
	r := run(t, twoVehiclesOneSlot(), Settings{Horizon: 20000}, WithRecorder(mem))
	assert.Equal(t, r.Trace, mem.Records())
}

func TestInvalidInput(t *testing.T) {
	base := twoVehiclesOneSlot()
	cases := map[string]struct {
		mutate   func(*Input)
		settings Settings
	}{
		"reserve above one":  {settings: Settings{EnergyReserve: 1.5}},
		"negative horizon":   {settings: Settings{Horizon: -1}},
		"bad charge target":  {settings: Settings{ChargeTarget: "half"}},
		"bad floor policy":   {settings: Settings{MinPowerPolicy: "maybe"}},
		"unknown type":       {mutate: func(in *Input) { in.Vehicles[0].Type = "XL" }},
		"duplicate vehicle":  {mutate: func(in *Input) { in.Vehicles[1].ID = "v1" }},
		"soc above one":      {mutate: func(in *Input) { in.Vehicles[0].SoC = 1.2 }},
		"trip without types": {mutate: func(in *Input) { in.Trips[0].VehicleTypes = nil }},
		"empty depot":        {mutate: func(in *Input) { in.Depot = depot.Spec{} }},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			in := base
			in.Vehicles = append([]VehicleSpec(nil), base.Vehicles...)
			in.Trips = append([]model.Trip(nil), base.Trips...)
			if tc.mutate != nil {
				tc.mutate(&in)
			}
			_, err := New(in, tc.settings)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestRunOnlyOnce(t *testing.T) {
	s, err := New(twoVehiclesOneSlot(), Settings{Horizon: 100})
	require.NoError(t, err)
	_, err = s.Run(context.Background())
	require.NoError(t, err)
	_, err = s.Run(context.Background())
	assert.Error(t, err)
}

func TestRunHonoursContext(t *testing.T) {
	s, err := New(twoVehiclesOneSlot(), Settings{Horizon: 20000})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
