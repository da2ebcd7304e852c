package simulation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/ebusdepot/core/model"
	"github.com/kilianp07/ebusdepot/core/sim"
	"github.com/kilianp07/ebusdepot/core/smartcharging"
)

// oneBusOneTrip charges 150 kWh for a trip leaving at 20000.
func oneBusOneTrip(prices ...sim.Step) Input {
	return Input{
		Depot:    singleSlotDepot(1),
		Types:    []model.VehicleType{ebType(0)},
		Vehicles: []VehicleSpec{{ID: "v1", Type: "EB", SoC: 0.5}},
		Trips:    []model.Trip{{ID: "t1", Departure: 20000, VehicleTypes: []string{"EB"}, MinSoC: 1}},
		Prices:   prices,
	}
}

func TestPriceModeWaitsForCheaperInterval(t *testing.T) {
	in := oneBusOneTrip(sim.Step{From: 0, Value: 0.30}, sim.Step{From: 7200, Value: 0.10})
	settings := Settings{Horizon: 25000, SmartCharging: smartcharging.Config{Mode: "price"}}
	r := run(t, in, settings)

	require.Equal(t, 1, r.Stats.Served)
	charged, ok := stateAt(r.VehicleTrace("v1"), model.StateStandbyCharged)
	require.True(t, ok)
	assert.InDelta(t, 7200+3600, float64(charged), 1e-6)
	assert.InDelta(t, 150, r.Stats.EnergyKWh, 1e-6)
	assert.InDelta(t, 150*0.10, r.Stats.Cost, 1e-6)

	// proportional sharing charges right away at the higher price
	settings.SmartCharging.Mode = "proportional"
	r = run(t, in, settings)
	charged, ok = stateAt(r.VehicleTrace("v1"), model.StateStandbyCharged)
	require.True(t, ok)
	assert.InDelta(t, 3600, float64(charged), 1e-6)
	assert.InDelta(t, 150*0.30, r.Stats.Cost, 1e-6)
}

func TestVoltageLevelScalesCost(t *testing.T) {
	in := oneBusOneTrip(sim.Step{From: 0, Value: 0.20})
	in.Depot.Stations[0].VoltageLevel = "MV"

	r := run(t, in, Settings{Horizon: 25000})
	assert.InDelta(t, 30, r.Stats.Cost, 1e-6)

	r = run(t, in, Settings{Horizon: 25000, VoltageLevelFactors: map[string]float64{"MV": 1.5, "LV": 3}})
	assert.InDelta(t, 45, r.Stats.Cost, 1e-6)

	_, err := New(in, Settings{VoltageLevelFactors: map[string]float64{"MV": -1}})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// reviewingAllocator asks to be called again at a fixed time.
type reviewingAllocator struct {
	inner smartcharging.Allocator
	at    sim.Time
	calls []sim.Time
}

func (a *reviewingAllocator) Allocate(req smartcharging.Request) (smartcharging.Allocation, error) {
	a.calls = append(a.calls, req.Now)
	alloc, err := a.inner.Allocate(req)
	alloc.Review = sim.Never
	if req.Now < a.at {
		alloc.Review = a.at
	}
	return alloc, err
}

func TestAllocationReviewTriggersReallocation(t *testing.T) {
	alloc := &reviewingAllocator{inner: smartcharging.NewGreedyAllocator(smartcharging.ModeProportional), at: 1000}
	r := run(t, oneBusOneTrip(), Settings{Horizon: 25000}, WithAllocator(alloc))

	assert.Contains(t, alloc.calls, sim.Time(1000))
	charged, ok := stateAt(r.VehicleTrace("v1"), model.StateStandbyCharged)
	require.True(t, ok)
	assert.InDelta(t, 3600, float64(charged), 1e-6)
}

func TestInvalidDispatchStrategy(t *testing.T) {
	_, err := New(twoVehiclesOneSlot(), Settings{DispatchStrategy: "random"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
